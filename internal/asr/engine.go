// Package asr 定义语音识别模型接口及各后端实现。
package asr

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/iabetor/voicehub/internal/logger"
)

// SampleRate 是各识别后端统一的输入采样率。
const SampleRate = 16000

// ErrEmptyAudio 表示输入音频为空。
var ErrEmptyAudio = errors.New("音频为空")

// Options 是单次识别的参数。
type Options struct {
	// Language 为空或 "auto" 表示自动检测。
	Language string
	// Prompt 为初始提示词，仅部分后端支持。
	Prompt string
}

// Segment 是带时间戳的一段识别结果，时间单位为秒。
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result 是一次识别的完整结果。
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// Model 是驻留缓存中的语音识别模型。
type Model interface {
	// Transcribe 识别一段单声道音频。
	Transcribe(ctx context.Context, samples []float32, sampleRate int, opts *Options) (*Result, error)
	Close()
}

// EngineType 识别后端类型。
type EngineType string

const (
	EngineWhisper      EngineType = "whisper"
	EngineSenseVoice   EngineType = "sensevoice"
	EngineTencentFlash EngineType = "tencent"
	EngineTencentRT    EngineType = "tencent-rt"
)

// IsOnline 返回是否为在线引擎。
func (t EngineType) IsOnline() bool {
	return t == EngineTencentFlash || t == EngineTencentRT
}

// normalizeLanguage 将 "Detect"、"auto" 等统一为空串。
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch lang {
	case "", "auto", "detect":
		return ""
	}
	return lang
}

// joinText 拼接分段文本，拉丁文字之间插入空格，中日文直接相连。
func joinText(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			last, _ := utf8.DecodeLastRuneInString(b.String())
			first, _ := utf8.DecodeRuneInString(text)
			if last < utf8.RuneSelf && isWordRune(first) {
				b.WriteByte(' ')
			}
		}
		b.WriteString(text)
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// trimTrailingSilencePCM 裁剪 PCM 音频数据（16bit LE）的尾部静音。
// 从尾部向前扫描，找到最后一个超过阈值的采样点，保留其后 200ms 的数据。
func trimTrailingSilencePCM(audioData []byte, sampleRate int) []byte {
	if len(audioData) < 2 {
		return audioData
	}

	// 最少保留 500ms 的音频
	minBytes := sampleRate / 2 * 2
	if len(audioData) <= minBytes {
		return audioData
	}

	// 静音阈值：约 -40dB
	const silenceThreshold = 300
	trailingSamples := sampleRate / 5

	numSamples := len(audioData) / 2

	lastNonSilent := -1
	for i := numSamples - 1; i >= 0; i-- {
		sample := int16(binary.LittleEndian.Uint16(audioData[i*2 : i*2+2]))
		if math.Abs(float64(sample)) > silenceThreshold {
			lastNonSilent = i
			break
		}
	}

	if lastNonSilent < 0 {
		// 全是静音，交给 API 处理
		return audioData
	}

	endSample := lastNonSilent + trailingSamples
	if endSample >= numSamples {
		return audioData
	}

	trimmed := (endSample + 1) * 2
	logger.Debugf("[asr] 裁剪尾部静音: %.1fs → %.1fs",
		float64(numSamples)/float64(sampleRate), float64(endSample+1)/float64(sampleRate))

	return audioData[:trimmed]
}

// IsQuotaExhaustedError 判断是否为腾讯云额度耗尽错误。
func IsQuotaExhaustedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, code := range []string{"ResourceInsufficient", "QuotaExhausted", "InvalidParameter.Resource"} {
		if strings.Contains(errStr, code) {
			return true
		}
	}
	return false
}
