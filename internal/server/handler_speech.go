package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/logger"
	"github.com/iabetor/voicehub/internal/otel"
	"github.com/iabetor/voicehub/internal/tts"
)

type SpeechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`

	Voice       string  `json:"voice"`
	Speed       float64 `json:"speed"`
	LangCode    string  `json:"lang_code"`
	Temperature float64 `json:"temperature"`

	ResponseFormat string `json:"response_format"`
}

var speechFormats = map[string]bool{
	"wav": true, "pcm": true, "mp3": true, "flac": true, "opus": true, "aac": true,
}

func (s *Server) decodeSpeechRequest(r *http.Request) (*SpeechRequest, error) {
	var req SpeechRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Input) == "" {
		return nil, tts.ErrEmptyText
	}

	if req.Model == "" {
		req.Model = s.Models.DefaultTTS
	}
	if req.Speed <= 0 {
		req.Speed = s.TTS.Speed
	}
	if req.LangCode == "" {
		req.LangCode = s.TTS.LangCode
	}
	if req.Temperature <= 0 {
		req.Temperature = s.TTS.Temperature
	}

	req.ResponseFormat = strings.ToLower(req.ResponseFormat)
	if req.ResponseFormat == "" {
		req.ResponseFormat = "wav"
	}

	return &req, nil
}

func (req *SpeechRequest) options(pattern string) *tts.Options {
	return &tts.Options{
		Voice:        req.Voice,
		Speed:        req.Speed,
		Language:     req.LangCode,
		Temperature:  req.Temperature,
		SplitPattern: pattern,
	}
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeSpeechRequest(r)

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !speechFormats[req.ResponseFormat] {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", audio.ErrUnsupportedFormat, req.ResponseFormat))
		return
	}

	ctx, span := otel.StartSpan(r.Context(), "speech "+req.Model, otel.String("model", req.Model))
	defer span.End()

	model, lease, err := s.Catalog.Speech(ctx, req.Model)

	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	defer lease.Release()

	samples, rate, err := tts.Collect(model.Synthesize(ctx, req.Input, req.options("")))

	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if rate == 0 {
		rate = model.SampleRate()
	}

	data, err := s.Codec.Encode(ctx, samples, rate, req.ResponseFormat)

	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", audio.ContentType(req.ResponseFormat))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+req.ResponseFormat)

	w.Write(data)
}

// handleSpeechStream 逐句输出 16 位单声道 PCM，分句比普通合成更细以降低首包延迟。
func (s *Server) handleSpeechStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeSpeechRequest(r)

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, span := otel.StartSpan(r.Context(), "speech.stream "+req.Model, otel.String("model", req.Model))
	defer span.End()

	model, lease, err := s.Catalog.Speech(ctx, req.Model)

	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	defer lease.Release()

	rate := model.SampleRate()
	rc := http.NewResponseController(w)

	started := false

	for seg, err := range model.Synthesize(ctx, req.Input, req.options(tts.StreamSplitPattern)) {
		if err != nil {
			if !started {
				writeError(w, statusFor(err), err)
				return
			}
			logger.Warnf("[server] 流式合成中断: %v", err)
			return
		}

		if !started {
			w.Header().Set("Content-Type", "audio/pcm")
			w.Header().Set("X-Sample-Rate", strconv.Itoa(rate))
			w.Header().Set("X-Channels", "1")
			w.Header().Set("X-Bit-Depth", "16")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}

		samples := seg.Samples
		if seg.SampleRate != 0 && seg.SampleRate != rate {
			samples = audio.Resample(samples, seg.SampleRate, rate)
		}

		if _, err := w.Write(audio.Float32ToBytes(samples)); err != nil {
			return
		}

		rc.Flush()
	}

	if !started {
		w.Header().Set("X-Sample-Rate", strconv.Itoa(rate))
		w.WriteHeader(http.StatusOK)
	}
}
