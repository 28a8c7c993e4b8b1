package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iabetor/voicehub/internal/catalog"
	"github.com/iabetor/voicehub/internal/database"
)

type HealthResponse struct {
	Status string       `json:"status"`
	Models HealthModels `json:"models"`
}

type HealthModels struct {
	TTS           []string `json:"tts"`
	STT           []string `json:"stt"`
	TotalMemoryMB float64  `json:"total_memory_mb"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.Catalog.Manager().Stats()

	models := HealthModels{
		TTS:           []string{},
		STT:           []string{},
		TotalMemoryMB: stats.MemoryMB,
	}

	for _, name := range stats.Models {
		if s.Catalog.Kind(name) == catalog.KindSTT {
			models.STT = append(models.STT, name)
		} else {
			models.TTS = append(models.TTS, name)
		}
	}

	writeJson(w, HealthResponse{
		Status: "ok",
		Models: models,
	})
}

type ResidentModel struct {
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	LoadTimeMs int64     `json:"load_time_ms"`
	LoadedAt   time.Time `json:"loaded_at"`
	LastAccess time.Time `json:"last_access"`
	Refs       int       `json:"refs"`
}

type ResidentResponse struct {
	Models   []ResidentModel `json:"models"`
	Count    int             `json:"count"`
	MemoryMB float64         `json:"memory_mb"`
	// IdleTimeout 秒，0 表示不做空闲卸载
	IdleTimeout int `json:"idle_timeout"`
}

func (s *Server) handleResidentModels(w http.ResponseWriter, r *http.Request) {
	manager := s.Catalog.Manager()

	entries := manager.Entries()
	result := make([]ResidentModel, 0, len(entries))

	for _, e := range entries {
		result = append(result, ResidentModel{
			Name:       e.Name,
			Kind:       string(s.Catalog.Kind(e.Name)),
			LoadTimeMs: e.LoadTime.Milliseconds(),
			LoadedAt:   e.LoadedAt,
			LastAccess: e.LastAccess,
			Refs:       e.Refs,
		})
	}

	idle := int(manager.IdleTimeout().Seconds())
	if idle < 0 {
		idle = 0
	}

	writeJson(w, ResidentResponse{
		Models:      result,
		Count:       len(result),
		MemoryMB:    manager.Stats().MemoryMB,
		IdleTimeout: idle,
	})
}

type EventsResponse struct {
	Events []database.ModelEvent `json:"events"`
}

func (s *Server) handleModelEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		writeJson(w, EventsResponse{Events: []database.ModelEvent{}})
		return
	}

	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}

	events, err := s.Events.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []database.ModelEvent{}
	}

	writeJson(w, EventsResponse{Events: events})
}

type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	entries := s.Catalog.Manager().Entries()
	result := make([]Model, 0, len(entries))

	for _, e := range entries {
		result = append(result, Model{
			ID:      e.Name,
			Object:  "model",
			Created: e.LoadedAt.Unix(),
		})
	}

	writeJson(w, ModelList{
		Object: "list",
		Data:   result,
	})
}

type ModelRequest struct {
	ModelName string `json:"model_name"`
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req ModelRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if strings.TrimSpace(req.ModelName) == "" {
		writeError(w, http.StatusBadRequest, errors.New("model_name 不能为空"))
		return
	}

	if err := s.Catalog.Load(r.Context(), req.ModelName); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJson(w, StatusResponse{
		Status:  "success",
		Message: fmt.Sprintf("Model %s loaded", req.ModelName),
	})
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")

	if !s.Catalog.Manager().Release(name) {
		writeError(w, http.StatusNotFound, fmt.Errorf("Model '%s' not found", name))
		return
	}

	writeJson(w, StatusResponse{Status: "success"})
}
