package asr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFormat 表示不支持的输出格式。
var ErrUnknownFormat = errors.New("不支持的输出格式")

// Formats 是支持的识别输出格式。
var Formats = []string{"text", "json", "srt", "vtt"}

// TextResponse 是 text、srt、vtt 格式的响应体。
type TextResponse struct {
	Text string `json:"text"`
}

// JSONResponse 是 json 格式的响应体。
type JSONResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// Render 将识别结果转换为指定格式的响应体，format 为空时按 json 处理。
func Render(r *Result, format string) (any, error) {
	switch strings.ToLower(format) {
	case "text":
		return TextResponse{Text: r.Text}, nil
	case "", "json":
		return JSONResponse{Text: r.Text, Language: r.Language, Duration: r.Duration}, nil
	case "srt":
		return TextResponse{Text: SRT(r)}, nil
	case "vtt":
		return TextResponse{Text: VTT(r)}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// subtitles 返回用于字幕的分段，无分段时整段文本覆盖全部时长。
func subtitles(r *Result) []Segment {
	if len(r.Segments) > 0 {
		return r.Segments
	}
	if r.Text == "" {
		return nil
	}
	return []Segment{{Start: 0, End: r.Duration, Text: r.Text}}
}

// SRT 生成 SubRip 字幕。
func SRT(r *Result) string {
	var b strings.Builder
	for i, seg := range subtitles(r) {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1,
			timestamp(seg.Start, ","), timestamp(seg.End, ","), seg.Text)
	}
	return b.String()
}

// VTT 生成 WebVTT 字幕。
func VTT(r *Result) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, seg := range subtitles(r) {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			timestamp(seg.Start, "."), timestamp(seg.End, "."), seg.Text)
	}
	return b.String()
}

// timestamp 格式化为 HH:MM:SS<sep>mmm。
func timestamp(seconds float64, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms%1000)
}
