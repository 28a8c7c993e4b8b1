package asr

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	tcasr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/asr/v20190614"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"

	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/logger"
	"github.com/iabetor/voicehub/internal/vad"
)

// flashMaxSeconds 是一句话识别单次请求的音频上限（接口限制 60 秒）。
const flashMaxSeconds = 55

// sentenceClient 是一句话识别客户端，测试中可替换。
type sentenceClient interface {
	SentenceRecognitionWithContext(ctx context.Context, request *tcasr.SentenceRecognitionRequest) (*tcasr.SentenceRecognitionResponse, error)
}

// TencentFlash 腾讯云一句话识别。
// 长音频按固定窗口切分后逐段请求。
// 文档：https://cloud.tencent.com/document/product/1093/35646
type TencentFlash struct {
	client sentenceClient
}

var _ Model = (*TencentFlash)(nil)

// TencentConfig 腾讯云识别配置。
type TencentConfig struct {
	SecretID  string
	SecretKey string
	Region    string // 默认 ap-guangzhou
	AppID     string // 仅实时识别需要
}

// NewTencentFlash 创建腾讯云一句话识别模型。
func NewTencentFlash(cfg TencentConfig) (*TencentFlash, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("腾讯云 SecretID 和 SecretKey 不能为空")
	}
	region := cfg.Region
	if region == "" {
		region = "ap-guangzhou"
	}

	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "asr.tencentcloudapi.com"

	client, err := tcasr.NewClient(credential, region, cpf)
	if err != nil {
		return nil, fmt.Errorf("创建腾讯云 ASR 客户端失败: %w", err)
	}

	logger.Infof("[asr] 腾讯云一句话识别已初始化 (region=%s)", region)
	return &TencentFlash{client: client}, nil
}

// engineServiceType 将语言映射为腾讯云引擎类型，未知语言按中文处理。
func engineServiceType(lang string) string {
	switch normalizeLanguage(lang) {
	case "en", "english":
		return "16k_en"
	case "ja", "japanese":
		return "16k_ja"
	case "yue", "cantonese":
		return "16k_yue"
	default:
		return "16k_zh"
	}
}

// Transcribe 实现 Model 接口。
func (e *TencentFlash) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts *Options) (*Result, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	if opts == nil {
		opts = &Options{}
	}

	samples = audio.Resample(samples, sampleRate, SampleRate)
	serviceType := engineServiceType(opts.Language)

	var segments []Segment
	for _, span := range vad.FixedWindows(samples, flashMaxSeconds*SampleRate) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pcm := trimTrailingSilencePCM(audio.Float32ToBytes(span.Samples), SampleRate)
		text, err := e.recognize(ctx, pcm, serviceType)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		start := float64(span.Start) / SampleRate
		segments = append(segments, Segment{
			Start: start,
			End:   start + audio.Duration(span.Samples, SampleRate),
			Text:  text,
		})
	}

	return &Result{
		Text:     joinText(segments),
		Language: normalizeLanguage(opts.Language),
		Duration: audio.Duration(samples, SampleRate),
		Segments: segments,
	}, nil
}

// recognize 调用腾讯云一句话识别 API。
func (e *TencentFlash) recognize(ctx context.Context, pcm []byte, serviceType string) (string, error) {
	req := tcasr.NewSentenceRecognitionRequest()
	req.EngSerViceType = common.StringPtr(serviceType)
	req.SourceType = common.Uint64Ptr(1) // 语音数据随请求上传
	req.VoiceFormat = common.StringPtr("pcm")
	req.Data = common.StringPtr(base64.StdEncoding.EncodeToString(pcm))
	req.DataLen = common.Int64Ptr(int64(len(pcm)))

	resp, err := e.client.SentenceRecognitionWithContext(ctx, req)
	if err != nil {
		if IsQuotaExhaustedError(err) {
			logger.Warnf("[asr] 腾讯云一句话识别额度不足")
		}
		return "", fmt.Errorf("调用腾讯云一句话识别 API 失败: %w", err)
	}
	if resp == nil || resp.Response == nil || resp.Response.Result == nil {
		return "", fmt.Errorf("腾讯云返回空结果")
	}

	result := strings.TrimSpace(*resp.Response.Result)
	logger.Debugf("[asr] 腾讯云一句话识别成功: %s (%.2fs)", result, float64(len(pcm)/2)/SampleRate)
	return result, nil
}

// Close 实现 Model 接口，在线引擎无本地资源。
func (e *TencentFlash) Close() {}
