package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/iabetor/voicehub/internal/asr"
	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/catalog"
	"github.com/iabetor/voicehub/internal/config"
	"github.com/iabetor/voicehub/internal/models"
	"github.com/iabetor/voicehub/internal/tts"
)

// NewDefaultRegistry 注册 tts、stt、list_models、unload_model 四个工具。
func NewDefaultRegistry(cfg *config.Config, cat *catalog.Catalog, codec *audio.Codec, outputs *audio.OutputStore) *Registry {
	r := NewRegistry()
	r.Register(NewTTSTool(cfg, cat, outputs))
	r.Register(NewSTTTool(cfg, cat, codec))
	r.Register(NewListModelsTool(cat.Manager()))
	r.Register(NewUnloadModelTool(cat.Manager()))
	return r
}

// ---- TTSTool ----

// TTSTool 合成语音并保存为 WAV 文件。
type TTSTool struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	outputs *audio.OutputStore
}

func NewTTSTool(cfg *config.Config, cat *catalog.Catalog, outputs *audio.OutputStore) *TTSTool {
	return &TTSTool{cfg: cfg, catalog: cat, outputs: outputs}
}

func (t *TTSTool) Name() string { return "tts" }
func (t *TTSTool) Description() string {
	return "文本转语音，生成音频文件并返回路径"
}

func (t *TTSTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {
				"type": "string",
				"description": "要合成的文本"
			},
			"model": {
				"type": "string",
				"description": "语音合成模型，缺省使用默认模型"
			},
			"voice": {
				"type": "string",
				"description": "音色"
			},
			"speed": {
				"type": "number",
				"description": "语速，1.0 为正常"
			},
			"lang_code": {
				"type": "string",
				"description": "语言代码：a 美式英语、b 英式英语、z 中文、j 日语"
			}
		},
		"required": ["text"]
	}`)
}

type ttsArgs struct {
	Text     string  `json:"text"`
	Model    string  `json:"model"`
	Voice    string  `json:"voice"`
	Speed    float64 `json:"speed"`
	LangCode string  `json:"lang_code"`
}

func (t *TTSTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a ttsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("解析参数失败: %w", err)
	}
	if strings.TrimSpace(a.Text) == "" {
		return "", tts.ErrEmptyText
	}
	if a.Model == "" {
		a.Model = t.cfg.Models.DefaultTTS
	}
	if a.Speed <= 0 {
		a.Speed = t.cfg.TTS.Speed
	}
	if a.LangCode == "" {
		a.LangCode = t.cfg.TTS.LangCode
	}

	model, lease, err := t.catalog.Speech(ctx, a.Model)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	samples, rate, err := tts.Collect(model.Synthesize(ctx, a.Text, &tts.Options{
		Voice:    a.Voice,
		Speed:    a.Speed,
		Language: a.LangCode,
	}))
	if err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "Error: No audio generated", nil
	}

	entry, err := t.outputs.Save(a.Model, a.Text, samples, rate)
	if err != nil {
		return "", err
	}
	path, _ := t.outputs.Get(entry.ID)
	return "Audio saved: " + path, nil
}

// ---- STTTool ----

// STTTool 转写本地音频文件。
type STTTool struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	codec   *audio.Codec
}

func NewSTTTool(cfg *config.Config, cat *catalog.Catalog, codec *audio.Codec) *STTTool {
	return &STTTool{cfg: cfg, catalog: cat, codec: codec}
}

func (t *STTTool) Name() string { return "stt" }
func (t *STTTool) Description() string {
	return "语音转文字，转录本地音频文件"
}

func (t *STTTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"audio_path": {
				"type": "string",
				"description": "音频文件路径（WAV、MP3，安装 ffmpeg 时支持更多格式）"
			},
			"model": {
				"type": "string",
				"description": "语音识别模型，缺省使用默认模型"
			},
			"language": {
				"type": "string",
				"description": "语言，如 zh、en，缺省自动检测"
			}
		},
		"required": ["audio_path"]
	}`)
}

type sttArgs struct {
	AudioPath string `json:"audio_path"`
	Model     string `json:"model"`
	Language  string `json:"language"`
}

func (t *STTTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a sttArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("解析参数失败: %w", err)
	}

	data, err := os.ReadFile(config.ExpandHome(a.AudioPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "Error: File not found: " + a.AudioPath, nil
		}
		return "", fmt.Errorf("读取音频失败: %w", err)
	}

	if a.Model == "" {
		a.Model = t.cfg.Models.DefaultSTT
	}
	if strings.EqualFold(a.Language, "detect") {
		a.Language = ""
	}

	model, lease, err := t.catalog.Transcriber(ctx, a.Model)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	samples, err := t.codec.Decode(ctx, data, a.AudioPath, asr.SampleRate)
	if err != nil {
		return "", err
	}

	result, err := model.Transcribe(ctx, samples, asr.SampleRate, &asr.Options{Language: a.Language})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// ---- ListModelsTool ----

// ListModelsTool 列出已驻留的模型。
type ListModelsTool struct {
	manager *models.Manager
}

func NewListModelsTool(manager *models.Manager) *ListModelsTool {
	return &ListModelsTool{manager: manager}
}

func (t *ListModelsTool) Name() string        { return "list_models" }
func (t *ListModelsTool) Description() string { return "列出已加载的模型" }
func (t *ListModelsTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"required":[]}`)
}

func (t *ListModelsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	stats := t.manager.Stats()
	names, _ := json.Marshal(stats.Models)
	return fmt.Sprintf("Loaded: %s, Count: %d", names, stats.Count), nil
}

// ---- UnloadModelTool ----

// UnloadModelTool 卸载指定模型释放内存。
type UnloadModelTool struct {
	manager *models.Manager
}

func NewUnloadModelTool(manager *models.Manager) *UnloadModelTool {
	return &UnloadModelTool{manager: manager}
}

func (t *UnloadModelTool) Name() string        { return "unload_model" }
func (t *UnloadModelTool) Description() string { return "卸载指定模型释放内存" }
func (t *UnloadModelTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"model_name": {
				"type": "string",
				"description": "模型名称"
			}
		},
		"required": ["model_name"]
	}`)
}

type unloadArgs struct {
	ModelName string `json:"model_name"`
}

func (t *UnloadModelTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a unloadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("解析参数失败: %w", err)
	}
	if t.manager.Release(a.ModelName) {
		return fmt.Sprintf("Model %s unloaded", a.ModelName), nil
	}
	return fmt.Sprintf("Model %s not found", a.ModelName), nil
}
