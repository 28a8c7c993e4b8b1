package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/mcp"
)

type OutputList struct {
	Outputs []audio.OutputEntry `json:"outputs"`
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	if s.Outputs == nil {
		writeJson(w, OutputList{Outputs: []audio.OutputEntry{}})
		return
	}

	outputs := s.Outputs.List()
	if outputs == nil {
		outputs = []audio.OutputEntry{}
	}

	writeJson(w, OutputList{Outputs: outputs})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.Outputs == nil {
		writeError(w, http.StatusNotFound, errors.New("output not found"))
		return
	}

	path, ok := s.Outputs.Get(id)

	if !ok {
		writeError(w, http.StatusNotFound, errors.New("output not found"))
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

func (s *Server) handleDeleteOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.Outputs == nil || !s.Outputs.Delete(id) {
		writeError(w, http.StatusNotFound, errors.New("output not found"))
		return
	}

	writeJson(w, StatusResponse{Status: "success"})
}

type ToolList struct {
	Tools []mcp.Definition `json:"tools"`
}

type ToolResult struct {
	Result string `json:"result"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJson(w, ToolList{Tools: s.Tools.List()})
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "tool")

	if _, ok := s.Tools.Get(name); !ok {
		writeError(w, http.StatusNotFound, errors.New("Tool '"+name+"' not found"))
		return
	}

	body, err := io.ReadAll(r.Body)

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if len(body) > 0 && !json.Valid(body) {
		writeError(w, http.StatusBadRequest, errors.New("参数必须是 JSON 对象"))
		return
	}

	result, err := s.Tools.Execute(r.Context(), name, body)

	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJson(w, ToolResult{Result: result})
}
