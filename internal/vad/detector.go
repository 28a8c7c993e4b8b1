package vad

import (
	"fmt"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/iabetor/voicehub/internal/logger"
)

// SampleRate 是 Silero VAD 要求的输入采样率。
const SampleRate = 16000

// windowSize 是每次送入 VAD 的样本数。
const windowSize = 512

// Span 是一段检测到的语音。
type Span struct {
	// Start 为该段首个样本在原始音频中的下标。
	Start   int
	Samples []float32
}

// Config 语音切分参数。
type Config struct {
	Model     string
	Threshold float32
	// MinSilence 最小静音时长（秒），超过则视为一句结束。
	MinSilence float32
	// MaxSpeech 单段最长时长（秒），超出后硬切。
	MaxSpeech  float32
	NumThreads int
	Provider   string
}

// Segmenter 封装 sherpa-onnx Silero VAD，将长音频切分为语音段。
type Segmenter struct {
	mu        sync.Mutex
	vad       *sherpa.VoiceActivityDetector
	maxLength int
}

// NewSegmenter 创建语音切分器。
func NewSegmenter(cfg Config) (*Segmenter, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.5
	}
	if cfg.MinSilence <= 0 {
		cfg.MinSilence = 0.5
	}
	if cfg.MaxSpeech <= 0 {
		cfg.MaxSpeech = 28
	}
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 1
	}
	if cfg.Provider == "" {
		cfg.Provider = "cpu"
	}

	config := sherpa.VadModelConfig{
		SileroVad: sherpa.SileroVadModelConfig{
			Model:              cfg.Model,
			Threshold:          cfg.Threshold,
			MinSilenceDuration: cfg.MinSilence,
			MinSpeechDuration:  0.25,
			MaxSpeechDuration:  cfg.MaxSpeech,
			WindowSize:         windowSize,
		},
		SampleRate: SampleRate,
		NumThreads: cfg.NumThreads,
		Provider:   cfg.Provider,
	}

	// 缓冲区需要容纳单段最长语音
	vad := sherpa.NewVoiceActivityDetector(&config, cfg.MaxSpeech+30)
	if vad == nil {
		return nil, fmt.Errorf("创建语音活动检测器失败，模型: %s", cfg.Model)
	}

	logger.Infof("[vad] 语音切分器已创建: model=%s threshold=%.2f max_speech=%.0fs",
		cfg.Model, cfg.Threshold, cfg.MaxSpeech)

	return &Segmenter{
		vad:       vad,
		maxLength: int(cfg.MaxSpeech * SampleRate),
	}, nil
}

// Split 将 16kHz 音频切分为语音段，超长段按 MaxSpeech 硬切。
// 未检测到语音时返回 nil。
func (s *Segmenter) Split(samples []float32) []Span {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vad == nil {
		return nil
	}
	s.vad.Clear()

	var spans []Span
	drain := func() {
		for !s.vad.IsEmpty() {
			seg := s.vad.Front()
			s.vad.Pop()
			data := make([]float32, len(seg.Samples))
			copy(data, seg.Samples)
			spans = append(spans, Span{Start: seg.Start, Samples: data})
		}
	}

	for i := 0; i < len(samples); i += windowSize {
		end := min(i+windowSize, len(samples))
		s.vad.AcceptWaveform(samples[i:end])
		drain()
	}
	s.vad.Flush()
	drain()

	logger.Debugf("[vad] %.1fs 音频切分为 %d 段", float64(len(samples))/SampleRate, len(spans))
	return HardSplit(spans, s.maxLength)
}

// Close 释放底层 sherpa-onnx VAD 资源。
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vad != nil {
		sherpa.DeleteVoiceActivityDetector(s.vad)
		s.vad = nil
		logger.Info("[vad] 语音切分器已关闭")
	}
}

// HardSplit 将超过 maxLength 个样本的段切为多段，maxLength <= 0 时原样返回。
func HardSplit(spans []Span, maxLength int) []Span {
	if maxLength <= 0 {
		return spans
	}
	out := make([]Span, 0, len(spans))
	for _, span := range spans {
		for off := 0; off < len(span.Samples); off += maxLength {
			end := min(off+maxLength, len(span.Samples))
			out = append(out, Span{Start: span.Start + off, Samples: span.Samples[off:end]})
		}
	}
	return out
}

// FixedWindows 将音频按固定长度切分，用于没有 VAD 模型的场景。
func FixedWindows(samples []float32, maxLength int) []Span {
	if len(samples) == 0 {
		return nil
	}
	return HardSplit([]Span{{Start: 0, Samples: samples}}, maxLength)
}
