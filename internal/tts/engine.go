// Package tts 定义语音合成模型接口及各后端实现。
package tts

import (
	"context"
	"errors"
	"iter"
	"regexp"
	"strings"

	"github.com/iabetor/voicehub/internal/logger"
)

// ErrEmptyText 表示待合成文本为空。
var ErrEmptyText = errors.New("待合成文本为空")

// Segment 是一句文本的合成结果。
type Segment struct {
	Text       string
	Samples    []float32
	SampleRate int
}

// Options 是单次合成的参数，零值字段使用模型默认值。
type Options struct {
	Voice string
	Speed float64
	// Language 为 kokoro 语言代码（a 美式英语、b 英式英语、z 中文、j 日语）。
	Language    string
	Temperature float64
	// SplitPattern 分句正则，为空时使用 DefaultSplitPattern。
	SplitPattern string
}

// Model 是驻留缓存中的语音合成模型。
type Model interface {
	// Synthesize 按句惰性合成，每次迭代产出一句的音频。
	// 序列有限，每次调用重新开始。
	Synthesize(ctx context.Context, text string, opts *Options) iter.Seq2[*Segment, error]
	// SampleRate 返回输出采样率。
	SampleRate() int
	Close()
}

const (
	// DefaultSplitPattern 按句末标点与换行分句。
	DefaultSplitPattern = `[.!?。！？\n]+`
	// StreamSplitPattern 更细的分句，流式输出时降低首包延迟。
	StreamSplitPattern = `[.!?。！？,，;；:：]+`
)

// SplitSentences 按 pattern 切分文本，标点保留在句尾，空白句被丢弃。
func SplitSentences(text, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultSplitPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	var sentences []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}

	start := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		add(text[start:loc[1]])
		start = loc[1]
	}
	add(text[start:])

	return sentences, nil
}

// sentenceFunc 合成一句文本，返回样本与采样率。
type sentenceFunc func(ctx context.Context, sentence string, opts *Options) ([]float32, int, error)

// generate 分句后逐句调用 fn，消费方停止迭代或 ctx 结束时提前退出。
func generate(ctx context.Context, text string, opts *Options, fn sentenceFunc) iter.Seq2[*Segment, error] {
	return func(yield func(*Segment, error) bool) {
		if opts == nil {
			opts = &Options{}
		}
		if strings.TrimSpace(text) == "" {
			yield(nil, ErrEmptyText)
			return
		}

		sentences, err := SplitSentences(text, opts.SplitPattern)
		if err != nil {
			yield(nil, err)
			return
		}

		for _, sentence := range sentences {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			samples, rate, err := fn(ctx, sentence, opts)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(samples) == 0 {
				logger.Debugf("[tts] 句子未生成音频，跳过: %q", sentence)
				continue
			}

			if !yield(&Segment{Text: sentence, Samples: samples, SampleRate: rate}, nil) {
				return
			}
		}
	}
}

// Collect 消费整个序列，拼接为一段音频。
func Collect(seq iter.Seq2[*Segment, error]) ([]float32, int, error) {
	var (
		samples []float32
		rate    int
	)
	for seg, err := range seq {
		if err != nil {
			return nil, 0, err
		}
		samples = append(samples, seg.Samples...)
		rate = seg.SampleRate
	}
	return samples, rate, nil
}

func speedOr(opts *Options, def float64) float64 {
	if opts == nil || opts.Speed <= 0 {
		return def
	}
	return opts.Speed
}
