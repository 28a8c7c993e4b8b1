package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/iabetor/voicehub/internal/logger"
)

// Transcoder 通过 ffmpeg 子进程处理原生不支持的容器与编码。
type Transcoder struct {
	Binary string
}

// NewTranscoder 创建 ffmpeg 转码器，binary 为空时使用 PATH 中的 ffmpeg。
func NewTranscoder(binary string) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Transcoder{Binary: binary}
}

// Available 返回 ffmpeg 是否可执行。
func (t *Transcoder) Available() bool {
	_, err := exec.LookPath(t.Binary)
	return err == nil
}

// Decode 将任意 ffmpeg 可识别的音频解码为 sampleRate Hz 单声道样本。
func (t *Transcoder) Decode(ctx context.Context, data []byte, sampleRate int) ([]float32, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-f", "s16le",
		"pipe:1",
	}
	out, err := t.run(ctx, data, args)
	if err != nil {
		return nil, err
	}
	return BytesToFloat32(out), nil
}

// ffmpegFormats 响应格式到 ffmpeg 输出参数。
var ffmpegFormats = map[string][]string{
	"mp3":  {"-f", "mp3", "-codec:a", "libmp3lame", "-q:a", "2"},
	"flac": {"-f", "flac"},
	"opus": {"-f", "ogg", "-codec:a", "libopus"},
	"aac":  {"-f", "adts", "-codec:a", "aac"},
}

// Encode 将单声道样本编码为 format 指定的格式。
func (t *Transcoder) Encode(ctx context.Context, samples []float32, sampleRate int, format string) ([]byte, error) {
	outArgs, ok := ffmpegFormats[format]
	if !ok {
		return nil, fmt.Errorf("%s: %w", format, ErrUnsupportedFormat)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	}
	args = append(args, outArgs...)
	args = append(args, "pipe:1")

	return t.run(ctx, Float32ToBytes(samples), args)
}

func (t *Transcoder) run(ctx context.Context, input []byte, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.Binary, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := stderr.String(); msg != "" {
			logger.Warnf("[audio] ffmpeg stderr: %s", msg)
		}
		return nil, fmt.Errorf("ffmpeg 执行失败: %w", err)
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg 未输出数据")
	}
	return stdout.Bytes(), nil
}
