package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strconv"

	"github.com/google/uuid"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	tctts "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tts/v20190823"

	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/logger"
)

// tencentSampleRate 为请求的 MP3 采样率。
const tencentSampleRate = 16000

// TencentEngine 使用腾讯云 TTS 实现语音合成。
type TencentEngine struct {
	client    *tctts.Client
	voiceType int64
}

var _ Model = (*TencentEngine)(nil)

// TencentConfig 腾讯云 TTS 配置。
type TencentConfig struct {
	SecretID  string
	SecretKey string
	VoiceType int64
	Region    string
}

// NewTencentEngine 创建腾讯云 TTS 引擎。
func NewTencentEngine(cfg TencentConfig) (*TencentEngine, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("腾讯云 TTS 需要 SecretID 和 SecretKey")
	}
	if cfg.VoiceType == 0 {
		cfg.VoiceType = 1001
	}
	if cfg.Region == "" {
		cfg.Region = "ap-guangzhou"
	}

	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "tts.tencentcloudapi.com"

	client, err := tctts.NewClient(credential, cfg.Region, cpf)
	if err != nil {
		return nil, fmt.Errorf("创建腾讯云 TTS 客户端失败: %w", err)
	}

	logger.Infof("[tts] 腾讯云 TTS 引擎已初始化 (voice=%d, region=%s)", cfg.VoiceType, cfg.Region)

	return &TencentEngine{client: client, voiceType: cfg.VoiceType}, nil
}

// SampleRate 实现 Model 接口。
func (e *TencentEngine) SampleRate() int {
	return tencentSampleRate
}

// Synthesize 实现 Model 接口。Voice 为数字音色 ID。
func (e *TencentEngine) Synthesize(ctx context.Context, text string, opts *Options) iter.Seq2[*Segment, error] {
	return generate(ctx, text, opts, e.synthesizeSentence)
}

func (e *TencentEngine) synthesizeSentence(ctx context.Context, sentence string, opts *Options) ([]float32, int, error) {
	voiceType := e.voiceType
	if v, err := strconv.ParseInt(opts.Voice, 10, 64); err == nil && v > 0 {
		voiceType = v
	}

	request := tctts.NewTextToVoiceRequest()
	request.Text = common.StringPtr(sentence)
	request.SessionId = common.StringPtr(uuid.NewString())
	request.VoiceType = common.Int64Ptr(voiceType)
	request.Codec = common.StringPtr("mp3")
	request.SampleRate = common.Uint64Ptr(tencentSampleRate)
	request.Speed = common.Float64Ptr(tencentSpeed(speedOr(opts, 1.0)))
	request.Volume = common.Float64Ptr(5.0)

	response, err := e.client.TextToVoiceWithContext(ctx, request)
	if err != nil {
		return nil, 0, fmt.Errorf("腾讯云 TTS 合成失败: %w", err)
	}
	if response.Response == nil || response.Response.Audio == nil {
		return nil, 0, fmt.Errorf("腾讯云 TTS: 未返回音频数据")
	}

	mp3Data, err := base64.StdEncoding.DecodeString(*response.Response.Audio)
	if err != nil {
		return nil, 0, fmt.Errorf("Base64 解码失败: %w", err)
	}

	logger.Debugf("[tts] 腾讯云 TTS: 收到 %d 字节 MP3 数据 (voice=%d)", len(mp3Data), voiceType)

	return audio.DecodeMP3(ctx, mp3Data)
}

// tencentSpeedPoints 为腾讯云语速档位与倍速的对应关系。
var tencentSpeedPoints = []struct{ rate, level float64 }{
	{0.6, -2}, {0.8, -1}, {1.0, 0}, {1.2, 1}, {1.5, 2}, {2.5, 6},
}

// tencentSpeed 将倍速线性插值为腾讯云语速参数，范围 [-2, 6]。
func tencentSpeed(rate float64) float64 {
	points := tencentSpeedPoints
	if rate <= points[0].rate {
		return points[0].level
	}
	for i := 1; i < len(points); i++ {
		if rate <= points[i].rate {
			lo, hi := points[i-1], points[i]
			return lo.level + (rate-lo.rate)/(hi.rate-lo.rate)*(hi.level-lo.level)
		}
	}
	return points[len(points)-1].level
}

// Close 实现 Model 接口，在线引擎无本地资源。
func (e *TencentEngine) Close() {}
