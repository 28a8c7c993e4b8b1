// Package catalog 将模型名解析为模型描述，并通过驻留缓存按需加载。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/iabetor/voicehub/internal/asr"
	"github.com/iabetor/voicehub/internal/config"
	"github.com/iabetor/voicehub/internal/logger"
	"github.com/iabetor/voicehub/internal/models"
	"github.com/iabetor/voicehub/internal/tts"
)

var (
	// ErrUnknownModel 表示模型名既不在目录中，也无法从模型目录中发现。
	ErrUnknownModel = errors.New("未知模型")
	// ErrWrongKind 表示模型类型与请求不符，例如用识别模型合成语音。
	ErrWrongKind = errors.New("模型类型不匹配")
)

// Kind 模型类型。
type Kind string

const (
	KindTTS Kind = "tts"
	KindSTT Kind = "stt"
)

// Factory 根据模型描述构造模型。
type Factory func(spec config.ModelSpec) (models.Model, error)

// Catalog 管理模型描述与工厂，并持有驻留缓存。
type Catalog struct {
	cfg     *config.Config
	manager *models.Manager

	mu        sync.RWMutex
	specs     map[string]config.ModelSpec
	factories map[string]Factory
}

// New 创建模型目录并注册默认工厂。
func New(cfg *config.Config, manager *models.Manager) *Catalog {
	c := &Catalog{
		cfg:       cfg,
		manager:   manager,
		specs:     make(map[string]config.ModelSpec),
		factories: make(map[string]Factory),
	}

	for _, spec := range builtinSpecs(cfg) {
		c.specs[spec.Name] = spec
	}
	for _, spec := range cfg.Models.Catalog {
		c.specs[spec.Name] = spec
	}

	c.registerDefaults()
	return c
}

// builtinSpecs 返回无需本地文件的在线模型。
func builtinSpecs(cfg *config.Config) []config.ModelSpec {
	specs := []config.ModelSpec{
		{Name: "edge-tts", Kind: string(KindTTS), Engine: "edge", Voice: "zh-CN-XiaoxiaoNeural"},
	}
	if cfg.Tencent.SecretID != "" && cfg.Tencent.SecretKey != "" {
		specs = append(specs,
			config.ModelSpec{Name: "tencent-tts", Kind: string(KindTTS), Engine: "tencent"},
			config.ModelSpec{Name: "tencent-asr", Kind: string(KindSTT), Engine: "tencent"},
		)
		if cfg.Tencent.AppID != "" {
			specs = append(specs, config.ModelSpec{Name: "tencent-asr-rt", Kind: string(KindSTT), Engine: "tencent-rt"})
		}
	}
	return specs
}

// Register 注册或替换 kind/engine 的工厂。
func (c *Catalog) Register(kind Kind, engine string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[factoryKey(string(kind), engine)] = f
}

func factoryKey(kind, engine string) string {
	return strings.ToLower(kind) + "/" + strings.ToLower(engine)
}

// Manager 返回驻留缓存。
func (c *Catalog) Manager() *models.Manager {
	return c.manager
}

// Resolve 解析模型名：先查目录，再在 model_dir 下自动发现。
func (c *Catalog) Resolve(name string) (config.ModelSpec, error) {
	c.mu.RLock()
	spec, ok := c.specs[name]
	c.mu.RUnlock()
	if ok {
		spec.Path = c.modelPath(spec)
		return spec, nil
	}

	if spec, ok := c.discover(name); ok {
		return spec, nil
	}
	return config.ModelSpec{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
}

// modelPath 返回模型文件的绝对路径，相对路径基于 model_dir。
func (c *Catalog) modelPath(spec config.ModelSpec) string {
	switch {
	case spec.Path == "":
		return filepath.Join(c.cfg.Models.ModelDir, spec.Name)
	case filepath.IsAbs(spec.Path):
		return spec.Path
	default:
		return filepath.Join(c.cfg.Models.ModelDir, spec.Path)
	}
}

// discover 根据 model_dir/<name> 中的文件推断模型类型。
func (c *Catalog) discover(name string) (config.ModelSpec, bool) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return config.ModelSpec{}, false
	}
	dir := filepath.Join(c.cfg.Models.ModelDir, name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return config.ModelSpec{}, false
	}

	kind, engine := classify(dir, name)
	if engine == "" {
		return config.ModelSpec{}, false
	}
	return config.ModelSpec{
		Name:       name,
		Kind:       kind,
		Engine:     engine,
		Path:       dir,
		NumThreads: 2,
		Provider:   "cpu",
	}, true
}

// classify 按目录内容判断模型类型，无法识别时 engine 为空。
func classify(dir, name string) (kind, engine string) {
	has := func(pattern string) bool {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		return len(matches) > 0
	}

	switch {
	case has("voices.bin"):
		return string(KindTTS), "kokoro"
	case has("*encoder*.onnx") && has("*decoder*.onnx"):
		return string(KindSTT), "whisper"
	case has("model*.onnx") && has("tokens.txt") && strings.Contains(strings.ToLower(name), "sense"):
		return string(KindSTT), "sensevoice"
	case has("*.onnx") && has("tokens.txt"):
		return string(KindTTS), "vits"
	}
	return "", ""
}

// Kind 返回模型类型，无法解析时返回空串。
func (c *Catalog) Kind(name string) Kind {
	spec, err := c.Resolve(name)
	if err != nil {
		return ""
	}
	return Kind(spec.Kind)
}

// Specs 返回所有可用模型：目录条目与 model_dir 中可识别的目录。
func (c *Catalog) Specs() []config.ModelSpec {
	seen := make(map[string]bool)
	var specs []config.ModelSpec

	c.mu.RLock()
	for _, spec := range c.specs {
		spec.Path = c.modelPath(spec)
		specs = append(specs, spec)
		seen[spec.Name] = true
	}
	c.mu.RUnlock()

	entries, _ := os.ReadDir(c.cfg.Models.ModelDir)
	for _, e := range entries {
		if !e.IsDir() || seen[e.Name()] {
			continue
		}
		if spec, ok := c.discover(e.Name()); ok {
			specs = append(specs, spec)
		}
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// loader 返回驻留缓存使用的加载函数。
func (c *Catalog) loader(spec config.ModelSpec) (models.LoadFunc, error) {
	c.mu.RLock()
	f, ok := c.factories[factoryKey(spec.Kind, spec.Engine)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: 不支持的引擎 %s/%s", ErrUnknownModel, spec.Kind, spec.Engine)
	}

	return func() (models.Model, error) {
		logger.Infof("[catalog] 正在加载模型 %s (%s/%s, path=%s)", spec.Name, spec.Kind, spec.Engine, spec.Path)
		return f(spec)
	}, nil
}

// Load 加载任意类型的模型，已驻留时直接返回。
func (c *Catalog) Load(ctx context.Context, name string) error {
	spec, err := c.Resolve(name)
	if err != nil {
		return err
	}
	load, err := c.loader(spec)
	if err != nil {
		return err
	}
	_, err = c.manager.GetAsync(ctx, name, load)
	return err
}

// Preload 加载 models.preload 中的模型，失败只记录警告。
func (c *Catalog) Preload(ctx context.Context) {
	for _, name := range c.cfg.Models.Preload {
		if err := c.Load(ctx, name); err != nil {
			logger.Warnf("[catalog] 预加载模型 %s 失败: %v", name, err)
			continue
		}
		logger.Infof("[catalog] 已预加载模型 %s", name)
	}
}

// acquire 解析并租用指定类型的模型。
func (c *Catalog) acquire(ctx context.Context, name string, kind Kind) (*models.Lease, error) {
	spec, err := c.Resolve(name)
	if err != nil {
		return nil, err
	}
	if Kind(spec.Kind) != kind {
		return nil, fmt.Errorf("%w: %s 是 %s 模型", ErrWrongKind, name, spec.Kind)
	}
	load, err := c.loader(spec)
	if err != nil {
		return nil, err
	}
	return c.manager.Acquire(ctx, name, load)
}

// Speech 租用语音合成模型，用完后需调用 lease.Release。
func (c *Catalog) Speech(ctx context.Context, name string) (tts.Model, *models.Lease, error) {
	lease, err := c.acquire(ctx, name, KindTTS)
	if err != nil {
		return nil, nil, err
	}
	m, ok := lease.Model().(tts.Model)
	if !ok {
		lease.Release()
		return nil, nil, fmt.Errorf("%w: %s 不是语音合成模型", ErrWrongKind, name)
	}
	return m, lease, nil
}

// Transcriber 租用语音识别模型，用完后需调用 lease.Release。
func (c *Catalog) Transcriber(ctx context.Context, name string) (asr.Model, *models.Lease, error) {
	lease, err := c.acquire(ctx, name, KindSTT)
	if err != nil {
		return nil, nil, err
	}
	m, ok := lease.Model().(asr.Model)
	if !ok {
		lease.Release()
		return nil, nil, fmt.Errorf("%w: %s 不是语音识别模型", ErrWrongKind, name)
	}
	return m, lease, nil
}
