package tts

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/iabetor/voicehub/internal/logger"
)

// SherpaConfig 是 sherpa-onnx 离线合成模型的配置。
type SherpaConfig struct {
	// Path 模型目录；vits 也可直接指向 .onnx 文件。
	Path       string
	NumThreads int
	Provider   string
	Voices     map[string]int
	LangVoices map[string]string
	Voice      string
}

// SherpaEngine 封装 sherpa-onnx OfflineTts（kokoro / vits）。
// 底层 Generate 非并发安全，调用串行化。
type SherpaEngine struct {
	mu     sync.Mutex
	tts    *sherpa.OfflineTts
	voices *VoiceTable
	name   string
}

var _ Model = (*SherpaEngine)(nil)

// NewKokoroEngine 加载 kokoro 多语言模型目录。
// 目录需包含 model.onnx、voices.bin、tokens.txt、espeak-ng-data，
// 中文还需要 dict、lexicon-zh.txt。
func NewKokoroEngine(cfg SherpaConfig) (*SherpaEngine, error) {
	dir := cfg.Path
	if err := requireFiles(dir, "model.onnx", "voices.bin", "tokens.txt"); err != nil {
		return nil, err
	}

	config := sherpa.OfflineTtsConfig{}
	config.Model.Kokoro.Model = filepath.Join(dir, "model.onnx")
	config.Model.Kokoro.Voices = filepath.Join(dir, "voices.bin")
	config.Model.Kokoro.Tokens = filepath.Join(dir, "tokens.txt")
	config.Model.Kokoro.DataDir = existing(filepath.Join(dir, "espeak-ng-data"))
	config.Model.Kokoro.DictDir = existing(filepath.Join(dir, "dict"))
	config.Model.Kokoro.Lexicon = joinExisting(dir, "lexicon-us-en.txt", "lexicon-zh.txt")
	config.Model.Kokoro.LengthScale = 1.0
	config.RuleFsts = joinExisting(dir, "phone-zh.fst", "date-zh.fst", "number-zh.fst")

	return newSherpaEngine("kokoro", &config, cfg, NewVoiceTable(cfg.Voices, true, cfg.LangVoices, cfg.Voice))
}

// NewVitsEngine 加载 vits 模型（piper、aishell3、melo 等 sherpa 转换模型）。
func NewVitsEngine(cfg SherpaConfig) (*SherpaEngine, error) {
	modelFile, dir, err := locateOnnx(cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := requireFiles(dir, "tokens.txt"); err != nil {
		return nil, err
	}

	config := sherpa.OfflineTtsConfig{}
	config.Model.Vits.Model = modelFile
	config.Model.Vits.Tokens = filepath.Join(dir, "tokens.txt")
	config.Model.Vits.Lexicon = joinExisting(dir, "lexicon.txt")
	config.Model.Vits.DataDir = existing(filepath.Join(dir, "espeak-ng-data"))
	config.Model.Vits.DictDir = existing(filepath.Join(dir, "dict"))
	config.Model.Vits.NoiseScale = 0.667
	config.Model.Vits.NoiseScaleW = 0.8
	config.Model.Vits.LengthScale = 1.0
	config.RuleFsts = joinExisting(dir, "phone.fst", "date.fst", "number.fst")

	// vits 音色为数字 speaker id，没有语言默认音色
	return newSherpaEngine("vits", &config, cfg, NewVoiceTable(cfg.Voices, false, nil, cfg.Voice))
}

func newSherpaEngine(name string, config *sherpa.OfflineTtsConfig, cfg SherpaConfig, voices *VoiceTable) (*SherpaEngine, error) {
	config.Model.NumThreads = cfg.NumThreads
	config.Model.Provider = cfg.Provider
	config.Model.Debug = 0
	config.MaxNumSentences = 1

	tts := sherpa.NewOfflineTts(config)
	if tts == nil {
		return nil, fmt.Errorf("创建 %s 合成器失败，模型路径: %s", name, cfg.Path)
	}

	logger.Infof("[tts] sherpa %s 模型已加载 (path=%s, speakers=%d, sample_rate=%d)",
		name, cfg.Path, tts.NumSpeakers(), tts.SampleRate())

	return &SherpaEngine{tts: tts, voices: voices, name: name}, nil
}

// SampleRate 返回模型输出采样率。
func (e *SherpaEngine) SampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tts == nil {
		return 0
	}
	return e.tts.SampleRate()
}

// Synthesize 实现 Model 接口。Temperature 对 sherpa 模型无效。
func (e *SherpaEngine) Synthesize(ctx context.Context, text string, opts *Options) iter.Seq2[*Segment, error] {
	return generate(ctx, text, opts, e.synthesizeSentence)
}

func (e *SherpaEngine) synthesizeSentence(_ context.Context, sentence string, opts *Options) ([]float32, int, error) {
	voice, sid := e.voices.Resolve(opts.Voice, opts.Language)
	speed := float32(speedOr(opts, 1.0))

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tts == nil {
		return nil, 0, fmt.Errorf("sherpa %s 模型已关闭", e.name)
	}
	if n := e.tts.NumSpeakers(); n > 0 && sid >= n {
		return nil, 0, fmt.Errorf("音色 %s (sid=%d) 超出范围，模型共 %d 个音色", voice, sid, n)
	}

	logger.Debugf("[tts] sherpa %s: 合成 %d 个字符 (voice=%s sid=%d speed=%.2f)",
		e.name, len([]rune(sentence)), voice, sid, speed)

	generated := e.tts.Generate(sentence, sid, speed)
	if generated == nil {
		return nil, 0, fmt.Errorf("sherpa %s 合成失败", e.name)
	}
	return generated.Samples, generated.SampleRate, nil
}

// Close 释放底层 sherpa-onnx 资源。
func (e *SherpaEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tts != nil {
		sherpa.DeleteOfflineTts(e.tts)
		e.tts = nil
		logger.Infof("[tts] sherpa %s 模型已释放", e.name)
	}
}

func requireFiles(dir string, names ...string) error {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("模型文件缺失: %s: %w", path, err)
		}
	}
	return nil
}

// existing 返回存在的路径，不存在时返回空串。
func existing(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// joinExisting 返回 dir 下存在的文件，以逗号分隔。
func joinExisting(dir string, names ...string) string {
	var paths []string
	for _, name := range names {
		if p := existing(filepath.Join(dir, name)); p != "" {
			paths = append(paths, p)
		}
	}
	return strings.Join(paths, ",")
}

// locateOnnx 解析 .onnx 模型文件及其所在目录。
// path 为目录时优先 model.onnx，否则取目录中唯一的 .onnx 文件。
func locateOnnx(path string) (string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", fmt.Errorf("模型路径不存在: %w", err)
	}
	if !info.IsDir() {
		return path, filepath.Dir(path), nil
	}

	if p := existing(filepath.Join(path, "model.onnx")); p != "" {
		return p, path, nil
	}
	matches, _ := filepath.Glob(filepath.Join(path, "*.onnx"))
	if len(matches) == 1 {
		return matches[0], path, nil
	}
	return "", "", fmt.Errorf("无法确定 %s 中的模型文件（找到 %d 个 .onnx）", path, len(matches))
}
