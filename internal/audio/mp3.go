package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// IsMP3 根据 ID3 标签或 MPEG 帧同步字判断数据是否为 MP3。
func IsMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// DecodeMP3 将 MP3 数据解码为单声道 float32 样本。
// go-mp3 始终输出 16-bit 立体声 PCM。
func DecodeMP3(ctx context.Context, data []byte) ([]float32, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("MP3 解码失败: %w", err)
	}

	var pcm bytes.Buffer
	buf := make([]byte, 16*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		n, err := decoder.Read(buf)
		pcm.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("读取 PCM 数据失败: %w", err)
		}
	}

	return StereoBytesToMono(pcm.Bytes()), decoder.SampleRate(), nil
}
