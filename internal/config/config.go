package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是 voicehub 的顶层配置结构。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Models    ModelsConfig    `yaml:"models"`
	TTS       TTSConfig       `yaml:"tts"`
	STT       STTConfig       `yaml:"stt"`
	Tencent   TencentConfig   `yaml:"tencent"`
	Database  DatabaseConfig  `yaml:"database"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	StaticDir   string   `yaml:"static_dir"`
	// RateLimit 推理接口每秒请求数，0 表示不限流。
	RateLimit   int `yaml:"rate_limit"`
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelsConfig 模型驻留与目录配置。
type ModelsConfig struct {
	DefaultTTS string `yaml:"default_tts"`
	DefaultSTT string `yaml:"default_stt"`
	ModelDir   string `yaml:"model_dir"`
	OutputDir  string `yaml:"output_dir"`
	// OutputMaxMB 生成音频目录的最大容量（MB），超出后按最久未访问淘汰。
	OutputMaxMB int64 `yaml:"output_max_mb"`
	// IdleTimeout 模型空闲多少秒后卸载，负数表示永不卸载，0 使用默认值。
	IdleTimeout int `yaml:"idle_timeout"`
	// CleanupInterval 空闲检查间隔（秒）。
	CleanupInterval int         `yaml:"cleanup_interval"`
	Preload         []string    `yaml:"preload"`
	Catalog         []ModelSpec `yaml:"catalog"`
}

// IdleTimeoutDuration 返回空闲超时。
func (m ModelsConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(m.IdleTimeout) * time.Second
}

// CleanupIntervalDuration 返回空闲检查间隔。
func (m ModelsConfig) CleanupIntervalDuration() time.Duration {
	return time.Duration(m.CleanupInterval) * time.Second
}

// ModelSpec 描述一个可加载的模型。
type ModelSpec struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`   // tts 或 stt
	Engine string `yaml:"engine"` // kokoro, vits, edge, tencent, piper, whisper, sensevoice, tencent-rt
	// Path 模型目录或文件，相对路径基于 models.model_dir。
	Path       string         `yaml:"path"`
	NumThreads int            `yaml:"num_threads"`
	Provider   string         `yaml:"provider"`
	Language   string         `yaml:"language"`
	Voice      string         `yaml:"voice"`
	Voices     map[string]int `yaml:"voices"`
	SampleRate int            `yaml:"sample_rate"`
}

// TTSConfig 语音合成默认参数。
type TTSConfig struct {
	Voice       string            `yaml:"voice"`
	Speed       float64           `yaml:"speed"`
	LangCode    string            `yaml:"lang_code"`
	Temperature float64           `yaml:"temperature"`
	SampleRate  int               `yaml:"sample_rate"`
	LangVoices  map[string]string `yaml:"lang_voices"`
}

// STTConfig 语音识别参数。
type STTConfig struct {
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	// MaxSegmentSeconds 单次解码的最长音频，超出后切分。
	MaxSegmentSeconds int `yaml:"max_segment_seconds"`
	// VADModel Silero VAD 模型路径，为空时按固定窗口切分长音频。
	VADModel     string  `yaml:"vad_model"`
	VADThreshold float32 `yaml:"vad_threshold"`
	FFmpegPath   string  `yaml:"ffmpeg_path"`
}

// TencentConfig 腾讯云凭据，TTS 与 ASR 共用。
type TencentConfig struct {
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	VoiceType int64  `yaml:"voice_type"`
	// AppID 实时语音识别（tencent-rt）所需。
	AppID string `yaml:"app_id"`
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TasksConfig 异步转写任务配置。
type TasksConfig struct {
	Workers        int `yaml:"workers"`
	RetentionHours int `yaml:"retention_hours"`
	// NatsURL 非空时任务结束事件发布到 NATS。
	NatsURL     string `yaml:"nats_url"`
	NatsSubject string `yaml:"nats_subject"`
}

// Retention 返回任务保留时长。
func (t TasksConfig) Retention() time.Duration {
	return time.Duration(t.RetentionHours) * time.Hour
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// TelemetryConfig OpenTelemetry 配置。
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析配置内容，未知字段视为错误。
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	applyEnv(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回仅包含默认值的配置（未提供配置文件时使用）。
func Default() *Config {
	cfg := &Config{}
	applyEnv(cfg)
	setDefaults(cfg)
	return cfg
}

// applyEnv 使用 VOICEHUB_HOST / VOICEHUB_PORT 覆盖监听地址。
func applyEnv(cfg *Config) {
	if host := os.Getenv("VOICEHUB_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("VOICEHUB_PORT")); err == nil && port > 0 {
		cfg.Server.Port = port
	}
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*", "tauri://localhost"}
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 100
	}

	if cfg.Models.DefaultTTS == "" {
		cfg.Models.DefaultTTS = "kokoro-multi-lang-v1_0"
	}
	if cfg.Models.DefaultSTT == "" {
		cfg.Models.DefaultSTT = "sherpa-onnx-whisper-turbo"
	}
	if cfg.Models.ModelDir == "" {
		cfg.Models.ModelDir = "~/.cache/voicehub"
	}
	if cfg.Models.OutputDir == "" {
		cfg.Models.OutputDir = "~/.voicehub/outputs"
	}
	if cfg.Models.OutputMaxMB == 0 {
		cfg.Models.OutputMaxMB = 512
	}
	if cfg.Models.IdleTimeout == 0 {
		cfg.Models.IdleTimeout = 300
	}
	if cfg.Models.CleanupInterval <= 0 {
		cfg.Models.CleanupInterval = 60
	}
	for i := range cfg.Models.Catalog {
		spec := &cfg.Models.Catalog[i]
		if spec.NumThreads <= 0 {
			spec.NumThreads = 2
		}
		if spec.Provider == "" {
			spec.Provider = "cpu"
		}
		spec.Kind = strings.ToLower(spec.Kind)
		spec.Engine = strings.ToLower(spec.Engine)
	}

	if cfg.TTS.Voice == "" {
		cfg.TTS.Voice = "af_heart"
	}
	if cfg.TTS.Speed == 0 {
		cfg.TTS.Speed = 1.0
	}
	if cfg.TTS.LangCode == "" {
		cfg.TTS.LangCode = "a"
	}
	if cfg.TTS.Temperature == 0 {
		cfg.TTS.Temperature = 0.7
	}
	if cfg.TTS.SampleRate == 0 {
		cfg.TTS.SampleRate = 24000
	}
	if len(cfg.TTS.LangVoices) == 0 {
		cfg.TTS.LangVoices = map[string]string{
			"a": "af_heart",
			"b": "bf_emma",
			"z": "zf_xiaobei",
			"j": "jf_alpha",
		}
	}

	if cfg.STT.SampleRate == 0 {
		cfg.STT.SampleRate = 16000
	}
	if cfg.STT.MaxSegmentSeconds <= 0 {
		cfg.STT.MaxSegmentSeconds = 28
	}
	if cfg.STT.VADThreshold == 0 {
		cfg.STT.VADThreshold = 0.5
	}
	if cfg.STT.FFmpegPath == "" {
		cfg.STT.FFmpegPath = "ffmpeg"
	}

	if cfg.Tencent.Region == "" {
		cfg.Tencent.Region = "ap-guangzhou"
	}
	if cfg.Tencent.VoiceType == 0 {
		cfg.Tencent.VoiceType = 1001
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "~/.voicehub/voicehub.db"
	}

	if cfg.Tasks.Workers <= 0 {
		cfg.Tasks.Workers = 2
	}
	if cfg.Tasks.RetentionHours <= 0 {
		cfg.Tasks.RetentionHours = 24
	}
	if cfg.Tasks.NatsSubject == "" {
		cfg.Tasks.NatsSubject = "voicehub.tasks.finished"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "voicehub"
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		cfg.Telemetry.Enabled = true
	}

	// 去除凭据两端可能的空白（环境变量展开后常见）
	cfg.Tencent.SecretID = strings.TrimSpace(cfg.Tencent.SecretID)
	cfg.Tencent.SecretKey = strings.TrimSpace(cfg.Tencent.SecretKey)
	cfg.Tencent.AppID = strings.TrimSpace(cfg.Tencent.AppID)

	cfg.Models.ModelDir = ExpandHome(cfg.Models.ModelDir)
	cfg.Models.OutputDir = ExpandHome(cfg.Models.OutputDir)
	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Log.File = ExpandHome(cfg.Log.File)
	cfg.STT.VADModel = ExpandHome(cfg.STT.VADModel)
}

func (cfg *Config) validate() error {
	seen := make(map[string]bool, len(cfg.Models.Catalog))
	for _, spec := range cfg.Models.Catalog {
		if spec.Name == "" {
			return fmt.Errorf("models.catalog: 模型名称不能为空")
		}
		if seen[spec.Name] {
			return fmt.Errorf("models.catalog: 模型 %s 重复定义", spec.Name)
		}
		seen[spec.Name] = true

		if spec.Kind != "tts" && spec.Kind != "stt" {
			return fmt.Errorf("models.catalog: 模型 %s 的 kind 必须是 tts 或 stt", spec.Name)
		}
		if spec.Engine == "" {
			return fmt.Errorf("models.catalog: 模型 %s 未指定 engine", spec.Name)
		}
	}
	return nil
}

// ExpandHome 将 ~/ 前缀替换为用户主目录。
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}
