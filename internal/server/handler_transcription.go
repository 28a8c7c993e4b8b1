package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iabetor/voicehub/internal/asr"
	"github.com/iabetor/voicehub/internal/catalog"
	"github.com/iabetor/voicehub/internal/otel"
	"github.com/iabetor/voicehub/internal/tasks"
)

type transcriptionRequest struct {
	Model    string
	Language string
	Prompt   string
	Format   string

	Filename string
	Data     []byte
}

func (s *Server) parseTranscriptionRequest(w http.ResponseWriter, r *http.Request) (*transcriptionRequest, error) {
	limit := int64(s.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("file")

	if err != nil {
		return nil, err
	}

	defer file.Close()

	data, err := io.ReadAll(file)

	if err != nil {
		return nil, err
	}

	req := &transcriptionRequest{
		Model:    r.FormValue("model"),
		Language: strings.TrimSpace(r.FormValue("language")),
		Prompt:   r.FormValue("prompt"),
		Format:   strings.ToLower(r.FormValue("format")),

		Filename: header.Filename,
		Data:     data,
	}

	if req.Model == "" {
		req.Model = s.Models.DefaultSTT
	}
	if strings.EqualFold(req.Language, "detect") {
		req.Language = ""
	}
	if req.Format == "" {
		req.Format = "text"
	}

	return req, nil
}

// transcribe 解码上传音频并用 model 识别。
func (s *Server) transcribe(ctx context.Context, req *transcriptionRequest) (*asr.Result, error) {
	ctx, span := otel.StartSpan(ctx, "transcribe "+req.Model, otel.String("model", req.Model))
	defer span.End()

	model, lease, err := s.Catalog.Transcriber(ctx, req.Model)

	if err != nil {
		return nil, err
	}

	defer lease.Release()

	samples, err := s.Codec.Decode(ctx, req.Data, req.Filename, asr.SampleRate)

	if err != nil {
		return nil, err
	}

	return model.Transcribe(ctx, samples, asr.SampleRate, &asr.Options{
		Language: req.Language,
		Prompt:   req.Prompt,
	})
}

func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseTranscriptionRequest(w, r)

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !slices.Contains(asr.Formats, req.Format) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", asr.ErrUnknownFormat, req.Format))
		return
	}

	result, err := s.transcribe(r.Context(), req)

	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp, err := asr.Render(result, req.Format)

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJson(w, resp)
}

type TaskCreated struct {
	TaskID string `json:"task_id"`
}

type TaskResponse struct {
	Status tasks.Status `json:"status"`
	Result *string      `json:"result"`
	Error  *string      `json:"error"`
}

func (s *Server) handleTranscriptionAsync(w http.ResponseWriter, r *http.Request) {
	if s.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("异步任务未启用"))
		return
	}

	req, err := s.parseTranscriptionRequest(w, r)

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// 提交前校验模型，避免无效请求占用任务
	if kind := s.Catalog.Kind(req.Model); kind != catalog.KindSTT {
		err := fmt.Errorf("%w: %s", catalog.ErrUnknownModel, req.Model)
		if kind != "" {
			err = fmt.Errorf("%w: %s 是 %s 模型", catalog.ErrWrongKind, req.Model, kind)
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.Runner.Submit(req.Model, func(ctx context.Context) (string, error) {
		result, err := s.transcribe(ctx, req)
		if err != nil {
			return "", err
		}
		return result.Text, nil
	})

	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJson(w, TaskCreated{TaskID: id})
}

func (s *Server) handleTranscriptionTask(w http.ResponseWriter, r *http.Request) {
	if s.Runner == nil {
		writeError(w, http.StatusNotFound, tasks.ErrTaskNotFound)
		return
	}

	task, err := s.Runner.Get(chi.URLParam(r, "id"))

	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp := TaskResponse{
		Status: task.Status,
	}

	switch task.Status {
	case tasks.StatusCompleted:
		resp.Result = &task.Result
	case tasks.StatusFailed:
		resp.Error = &task.Error
	}

	writeJson(w, resp)
}
