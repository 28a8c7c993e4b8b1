package asr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/logger"
	"github.com/iabetor/voicehub/internal/vad"
)

// Splitter 将长音频切分为可单独解码的语音段。
type Splitter interface {
	Split(samples []float32) []vad.Span
}

// OfflineConfig 是 sherpa-onnx 离线识别模型的配置。
type OfflineConfig struct {
	Engine     EngineType
	Path       string
	NumThreads int
	Provider   string
	// Language 固定识别语言，为空时自动检测。
	Language string
	// MaxSegmentSeconds 无 VAD 时固定窗口的长度。
	MaxSegmentSeconds int
	// VAD 非空时用 Silero VAD 切分长音频。
	VAD *vad.Config
}

// SherpaOffline 封装 sherpa-onnx 离线识别器（whisper / sense-voice）。
// 每个语音段在独立的 OfflineStream 上解码，解码过程串行化。
type SherpaOffline struct {
	mu         sync.Mutex
	recognizer *sherpa.OfflineRecognizer
	splitter   Splitter
	segmenter  *vad.Segmenter
	engine     EngineType
	language   string
	maxLength  int
}

var _ Model = (*SherpaOffline)(nil)

// NewSherpaOffline 加载离线识别模型。
func NewSherpaOffline(cfg OfflineConfig) (*SherpaOffline, error) {
	config := sherpa.OfflineRecognizerConfig{}
	config.FeatConfig.SampleRate = SampleRate
	config.FeatConfig.FeatureDim = 80
	config.DecodingMethod = "greedy_search"
	config.ModelConfig.NumThreads = cfg.NumThreads
	config.ModelConfig.Provider = cfg.Provider
	config.ModelConfig.Debug = 0

	tokens, err := findModelFile(cfg.Path, "*tokens.txt")
	if err != nil {
		return nil, err
	}
	config.ModelConfig.Tokens = tokens

	language := normalizeLanguage(cfg.Language)

	switch cfg.Engine {
	case EngineWhisper:
		encoder, err := findModelFile(cfg.Path, "*encoder*.onnx")
		if err != nil {
			return nil, err
		}
		decoder, err := findModelFile(cfg.Path, "*decoder*.onnx")
		if err != nil {
			return nil, err
		}
		config.ModelConfig.Whisper.Encoder = encoder
		config.ModelConfig.Whisper.Decoder = decoder
		config.ModelConfig.Whisper.Language = language
		config.ModelConfig.Whisper.Task = "transcribe"
		config.ModelConfig.Whisper.TailPaddings = -1
	case EngineSenseVoice:
		model, err := findModelFile(cfg.Path, "model*.onnx")
		if err != nil {
			return nil, err
		}
		config.ModelConfig.SenseVoice.Model = model
		config.ModelConfig.SenseVoice.Language = language
		if language == "" {
			config.ModelConfig.SenseVoice.Language = "auto"
		}
		config.ModelConfig.SenseVoice.UseInverseTextNormalization = 1
	default:
		return nil, fmt.Errorf("不支持的离线识别引擎: %s", cfg.Engine)
	}

	recognizer := sherpa.NewOfflineRecognizer(&config)
	if recognizer == nil {
		return nil, fmt.Errorf("创建离线识别器失败，模型路径: %s", cfg.Path)
	}

	maxSeconds := cfg.MaxSegmentSeconds
	if maxSeconds <= 0 {
		maxSeconds = 28
	}

	s := &SherpaOffline{
		recognizer: recognizer,
		engine:     cfg.Engine,
		language:   language,
		maxLength:  maxSeconds * SampleRate,
	}

	if cfg.VAD != nil && cfg.VAD.Model != "" {
		vadCfg := *cfg.VAD
		vadCfg.MaxSpeech = float32(maxSeconds)
		segmenter, err := vad.NewSegmenter(vadCfg)
		if err != nil {
			logger.Warnf("[asr] VAD 加载失败，改用固定窗口切分: %v", err)
		} else {
			s.segmenter = segmenter
			s.splitter = segmenter
		}
	}

	logger.Infof("[asr] sherpa %s 模型已加载 (path=%s, language=%q, vad=%v)",
		cfg.Engine, cfg.Path, language, s.splitter != nil)

	return s, nil
}

// spans 返回待解码的语音段。
func (s *SherpaOffline) spans(samples []float32) []vad.Span {
	if s.splitter != nil {
		return s.splitter.Split(samples)
	}
	return vad.FixedWindows(samples, s.maxLength)
}

// Transcribe 实现 Model 接口。
// 识别语言在加载时确定，请求语言不同时忽略；Prompt 不受支持。
func (s *SherpaOffline) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts *Options) (*Result, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	if opts == nil {
		opts = &Options{}
	}
	if lang := normalizeLanguage(opts.Language); lang != "" && lang != s.language {
		logger.Debugf("[asr] sherpa %s 语言固定为 %q，忽略请求语言 %q", s.engine, s.language, lang)
	}
	if opts.Prompt != "" {
		logger.Debugf("[asr] sherpa %s 不支持初始提示词，已忽略", s.engine)
	}

	samples = audio.Resample(samples, sampleRate, SampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recognizer == nil {
		return nil, fmt.Errorf("sherpa %s 模型已关闭", s.engine)
	}

	var segments []Segment
	for _, span := range s.spans(samples) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := s.decode(span.Samples)
		if text == "" {
			continue
		}
		start := float64(span.Start) / SampleRate
		segments = append(segments, Segment{
			Start: start,
			End:   start + float64(len(span.Samples))/SampleRate,
			Text:  text,
		})
	}

	result := &Result{
		Text:     joinText(segments),
		Language: s.language,
		Duration: audio.Duration(samples, SampleRate),
		Segments: segments,
	}
	logger.Debugf("[asr] sherpa %s: %.1fs 音频识别为 %d 段", s.engine, result.Duration, len(segments))
	return result, nil
}

func (s *SherpaOffline) decode(samples []float32) string {
	stream := sherpa.NewOfflineStream(s.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(SampleRate, samples)
	s.recognizer.Decode(stream)
	return strings.TrimSpace(stream.GetResult().Text)
}

// Close 释放底层 sherpa-onnx 资源。
func (s *SherpaOffline) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(s.recognizer)
		s.recognizer = nil
		logger.Infof("[asr] sherpa %s 模型已释放", s.engine)
	}
	if s.segmenter != nil {
		s.segmenter.Close()
		s.segmenter = nil
	}
}

// findModelFile 在目录中按 pattern 查找模型文件，有 int8 量化版本时优先使用。
func findModelFile(dir, pattern string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("模型路径不存在: %w", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, pattern))
	if len(matches) == 0 {
		return "", fmt.Errorf("%s 中未找到 %s", dir, pattern)
	}
	sort.Slice(matches, func(i, j int) bool {
		qi := strings.Contains(filepath.Base(matches[i]), ".int8.")
		qj := strings.Contains(filepath.Base(matches[j]), ".int8.")
		if qi != qj {
			return qi
		}
		return matches[i] < matches[j]
	})
	return matches[0], nil
}
