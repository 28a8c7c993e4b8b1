package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iabetor/voicehub/internal/logger"
)

// Codec 负责上传音频的解码与合成结果的编码。
// WAV 与 MP3 原生处理，其余格式交给 ffmpeg。
type Codec struct {
	ffmpeg *Transcoder
}

// NewCodec 创建编解码器，ffmpeg 为 nil 时只支持原生格式。
func NewCodec(ffmpeg *Transcoder) *Codec {
	return &Codec{ffmpeg: ffmpeg}
}

// Decode 将音频数据解码为 sampleRate Hz 单声道样本。
// 原生解码失败时回退到 ffmpeg。
func (c *Codec) Decode(ctx context.Context, data []byte, filename string, sampleRate int) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("音频数据为空: %w", ErrUnsupportedFormat)
	}

	samples, rate, err := decodeNative(ctx, data, filename)
	if err == nil {
		return Resample(samples, rate, sampleRate), nil
	}

	if c.ffmpeg == nil {
		return nil, err
	}

	logger.Debugf("[audio] 原生解码 %s 失败，改用 ffmpeg: %v", filename, err)
	samples, ffErr := c.ffmpeg.Decode(ctx, data, sampleRate)
	if ffErr != nil {
		return nil, fmt.Errorf("解码音频 %s 失败: %w", filename, errors.Join(err, ffErr))
	}
	return samples, nil
}

func decodeNative(ctx context.Context, data []byte, filename string) ([]float32, int, error) {
	switch {
	case IsWAV(data):
		return DecodeWAV(data)
	case IsMP3(data) || strings.HasSuffix(strings.ToLower(filename), ".mp3"):
		return DecodeMP3(ctx, data)
	}
	return nil, 0, fmt.Errorf("%s: %w", filename, ErrUnsupportedFormat)
}

// ContentType 返回响应格式对应的 MIME 类型。
func ContentType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/pcm"
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	}
	return "application/octet-stream"
}

// Encode 将单声道样本编码为 format（wav、pcm、mp3、flac、opus、aac）。
func (c *Codec) Encode(ctx context.Context, samples []float32, sampleRate int, format string) ([]byte, error) {
	switch format {
	case "", "wav":
		return EncodeWAV(samples, sampleRate), nil
	case "pcm":
		return Float32ToBytes(samples), nil
	}

	if _, ok := ffmpegFormats[format]; !ok {
		return nil, fmt.Errorf("%s: %w", format, ErrUnsupportedFormat)
	}
	if c.ffmpeg == nil {
		return nil, fmt.Errorf("%s 需要 ffmpeg: %w", format, ErrUnsupportedFormat)
	}
	return c.ffmpeg.Encode(ctx, samples, sampleRate, format)
}
