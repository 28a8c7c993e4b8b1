package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedFormat 表示无法识别或不支持的音频格式。
var ErrUnsupportedFormat = errors.New("不支持的音频格式")

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
	wavExtensible  = 0xFFFE
)

// EncodeWAV 将单声道 float32 样本编码为 16-bit PCM WAV。
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := Float32ToBytes(samples)

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(1))          // 声道数
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate)) // 采样率
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(buf, binary.LittleEndian, uint16(16)) // 位深

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// IsWAV 判断数据是否以 RIFF/WAVE 头开始。
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV 解析 WAV 数据，返回单声道 float32 样本与采样率。
// 支持 8/16/24/32-bit PCM 与 32-bit float，多声道取平均。
func DecodeWAV(data []byte) ([]float32, int, error) {
	if !IsWAV(data) {
		return nil, 0, fmt.Errorf("缺少 RIFF/WAVE 头: %w", ErrUnsupportedFormat)
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bits       int
		haveFmt    bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			// 流式写出的 WAV 常见 data 长度未回填，按实际长度截断
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, 0, fmt.Errorf("fmt 块过短: %w", ErrUnsupportedFormat)
			}
			chunk := data[body:end]
			format = binary.LittleEndian.Uint16(chunk[0:2])
			channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits = int(binary.LittleEndian.Uint16(chunk[14:16]))
			if format == wavExtensible && len(chunk) >= 26 {
				format = binary.LittleEndian.Uint16(chunk[24:26])
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("data 块出现在 fmt 之前: %w", ErrUnsupportedFormat)
			}
			samples, err := decodePCM(data[body:end], format, bits)
			if err != nil {
				return nil, 0, err
			}
			return DownmixFloat32(samples, channels), sampleRate, nil
		}

		// 块按偶数字节对齐
		pos = end + size%2
	}

	return nil, 0, fmt.Errorf("未找到 data 块: %w", ErrUnsupportedFormat)
}

func decodePCM(raw []byte, format uint16, bits int) ([]float32, error) {
	switch {
	case format == wavFormatPCM && bits == 16:
		return BytesToFloat32(raw), nil

	case format == wavFormatPCM && bits == 8:
		out := make([]float32, len(raw))
		for i, b := range raw {
			out[i] = (float32(b) - 128) / 128
		}
		return out, nil

	case format == wavFormatPCM && bits == 24:
		n := len(raw) / 3
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int32(raw[i*3]) | int32(raw[i*3+1])<<8 | int32(int8(raw[i*3+2]))<<16
			out[i] = float32(v) / (1 << 23)
		}
		return out, nil

	case format == wavFormatPCM && bits == 32:
		n := len(raw) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(raw[i*4:]))
			out[i] = float32(float64(v) / (1 << 31))
		}
		return out, nil

	case format == wavFormatFloat && bits == 32:
		n := len(raw) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	}

	return nil, fmt.Errorf("WAV 编码 %d / %d bit: %w", format, bits, ErrUnsupportedFormat)
}
