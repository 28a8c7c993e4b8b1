package catalog

import (
	"strconv"

	"github.com/iabetor/voicehub/internal/asr"
	"github.com/iabetor/voicehub/internal/config"
	"github.com/iabetor/voicehub/internal/models"
	"github.com/iabetor/voicehub/internal/tts"
	"github.com/iabetor/voicehub/internal/vad"
)

// registerDefaults 注册内置引擎的工厂。
func (c *Catalog) registerDefaults() {
	c.Register(KindTTS, "kokoro", c.newKokoro)
	c.Register(KindTTS, "vits", c.newVits)
	c.Register(KindTTS, "edge", c.newEdge)
	c.Register(KindTTS, "tencent", c.newTencentTTS)
	c.Register(KindTTS, "piper", c.newPiper)
	c.Register(KindSTT, string(asr.EngineWhisper), c.newOffline)
	c.Register(KindSTT, string(asr.EngineSenseVoice), c.newOffline)
	c.Register(KindSTT, string(asr.EngineTencentFlash), c.newTencentFlash)
	c.Register(KindSTT, string(asr.EngineTencentRT), c.newTencentRT)
}

func (c *Catalog) sherpaConfig(spec config.ModelSpec) tts.SherpaConfig {
	voice := spec.Voice
	if voice == "" {
		voice = c.cfg.TTS.Voice
	}
	return tts.SherpaConfig{
		Path:       spec.Path,
		NumThreads: spec.NumThreads,
		Provider:   spec.Provider,
		Voices:     spec.Voices,
		LangVoices: c.cfg.TTS.LangVoices,
		Voice:      voice,
	}
}

func (c *Catalog) newKokoro(spec config.ModelSpec) (models.Model, error) {
	return tts.NewKokoroEngine(c.sherpaConfig(spec))
}

func (c *Catalog) newVits(spec config.ModelSpec) (models.Model, error) {
	cfg := c.sherpaConfig(spec)
	cfg.LangVoices = nil
	cfg.Voice = spec.Voice
	return tts.NewVitsEngine(cfg)
}

func (c *Catalog) newEdge(spec config.ModelSpec) (models.Model, error) {
	return tts.NewEdgeEngine(spec.Voice), nil
}

func (c *Catalog) newTencentTTS(spec config.ModelSpec) (models.Model, error) {
	voiceType := c.cfg.Tencent.VoiceType
	if v, err := strconv.ParseInt(spec.Voice, 10, 64); err == nil && v > 0 {
		voiceType = v
	}
	return tts.NewTencentEngine(tts.TencentConfig{
		SecretID:  c.cfg.Tencent.SecretID,
		SecretKey: c.cfg.Tencent.SecretKey,
		Region:    c.cfg.Tencent.Region,
		VoiceType: voiceType,
	})
}

func (c *Catalog) newPiper(spec config.ModelSpec) (models.Model, error) {
	// piper 引擎的 provider 字段为可执行文件路径
	binary := ""
	if spec.Provider != "" && spec.Provider != "cpu" {
		binary = spec.Provider
	}
	return tts.NewPiperEngine(binary, spec.Path, spec.Voices)
}

func (c *Catalog) newOffline(spec config.ModelSpec) (models.Model, error) {
	language := spec.Language
	if language == "" {
		language = c.cfg.STT.Language
	}

	cfg := asr.OfflineConfig{
		Engine:            asr.EngineType(spec.Engine),
		Path:              spec.Path,
		NumThreads:        spec.NumThreads,
		Provider:          spec.Provider,
		Language:          language,
		MaxSegmentSeconds: c.cfg.STT.MaxSegmentSeconds,
	}
	if c.cfg.STT.VADModel != "" {
		cfg.VAD = &vad.Config{
			Model:     c.cfg.STT.VADModel,
			Threshold: c.cfg.STT.VADThreshold,
			Provider:  spec.Provider,
		}
	}
	return asr.NewSherpaOffline(cfg)
}

func (c *Catalog) tencentASRConfig() asr.TencentConfig {
	return asr.TencentConfig{
		SecretID:  c.cfg.Tencent.SecretID,
		SecretKey: c.cfg.Tencent.SecretKey,
		Region:    c.cfg.Tencent.Region,
		AppID:     c.cfg.Tencent.AppID,
	}
}

func (c *Catalog) newTencentFlash(config.ModelSpec) (models.Model, error) {
	return asr.NewTencentFlash(c.tencentASRConfig())
}

func (c *Catalog) newTencentRT(config.ModelSpec) (models.Model, error) {
	return asr.NewTencentRT(c.tencentASRConfig())
}
