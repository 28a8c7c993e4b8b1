package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/iabetor/voicehub/internal/asr"
	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/catalog"
	"github.com/iabetor/voicehub/internal/logger"
	"github.com/iabetor/voicehub/internal/mcp"
	"github.com/iabetor/voicehub/internal/tasks"
	"github.com/iabetor/voicehub/internal/tts"
)

type ErrorResponse struct {
	Error Error `json:"error"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func writeJson(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	errorType := "invalid_request_error"

	switch {
	case code == http.StatusNotFound:
		errorType = "not_found_error"
	case code == http.StatusTooManyRequests:
		errorType = "rate_limit_error"
	case code >= 500:
		errorType = "internal_server_error"
	}

	resp := ErrorResponse{
		Error: Error{
			Type:    errorType,
			Message: err.Error(),
		},
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(resp)
}

// statusFor 将领域错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrUnknownModel),
		errors.Is(err, catalog.ErrWrongKind),
		errors.Is(err, tts.ErrEmptyText),
		errors.Is(err, asr.ErrEmptyAudio),
		errors.Is(err, asr.ErrUnknownFormat),
		errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, tasks.ErrTaskNotFound),
		errors.Is(err, mcp.ErrUnknownTool):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// requestLogger 使用 zap 记录每个请求。
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			logger.Z.Debug("[server] request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// limit 在推理接口上排队等待令牌，请求取消时返回 429。
func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			if err := s.limiter.Wait(r.Context()); err != nil {
				writeError(w, http.StatusTooManyRequests, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
