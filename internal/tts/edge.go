package tts

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/pp-group/edge-tts-go/biz/service/tts/edge"

	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/logger"
)

// edgeSampleRate 是 Edge TTS 默认 MP3 输出的采样率。
const edgeSampleRate = 24000

// EdgeEngine 使用微软 Edge TTS 在线合成，
// 通过 edge-tts-go 获取 MP3 音频，再解码为 PCM。
type EdgeEngine struct {
	voice string
}

var _ Model = (*EdgeEngine)(nil)

// NewEdgeEngine 创建指定默认语音的 Edge TTS 引擎。
func NewEdgeEngine(voice string) *EdgeEngine {
	if voice == "" {
		voice = "zh-CN-XiaoxiaoNeural"
	}
	return &EdgeEngine{voice: voice}
}

// SampleRate 实现 Model 接口。
func (e *EdgeEngine) SampleRate() int {
	return edgeSampleRate
}

// Synthesize 实现 Model 接口。Edge 语速固定，Speed 与 Temperature 被忽略。
func (e *EdgeEngine) Synthesize(ctx context.Context, text string, opts *Options) iter.Seq2[*Segment, error] {
	return generate(ctx, text, opts, e.synthesizeSentence)
}

// resolveVoice 只接受 Edge 形式的音色名（如 zh-CN-YunxiNeural），其余回退到默认音色。
func (e *EdgeEngine) resolveVoice(voice string) string {
	if strings.HasSuffix(voice, "Neural") {
		return voice
	}
	return e.voice
}

func (e *EdgeEngine) synthesizeSentence(ctx context.Context, sentence string, opts *Options) ([]float32, int, error) {
	voice := e.resolveVoice(opts.Voice)
	logger.Debugf("[tts] edge-tts: 正在合成 %d 个字符，语音=%s", len([]rune(sentence)), voice)

	comm, err := edge.NewCommunicate(sentence, edge.WithVoice(voice))
	if err != nil {
		return nil, 0, fmt.Errorf("edge-tts 创建实例失败: %w", err)
	}

	ch, err := comm.Stream()
	if err != nil {
		return nil, 0, fmt.Errorf("edge-tts 开始流式合成失败: %w", err)
	}

	var mp3Buf bytes.Buffer
	for msg := range ch {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if msgType, ok := msg["type"].(string); ok && msgType == "audio" {
			if data, ok := msg["data"].([]byte); ok {
				mp3Buf.Write(data)
			}
		}
	}

	if mp3Buf.Len() == 0 {
		return nil, 0, fmt.Errorf("edge-tts: 未收到音频数据")
	}

	samples, rate, err := audio.DecodeMP3(ctx, mp3Buf.Bytes())
	if err != nil {
		return nil, 0, err
	}
	return samples, rate, nil
}

// Close 实现 Model 接口，在线引擎无本地资源。
func (e *EdgeEngine) Close() {}
