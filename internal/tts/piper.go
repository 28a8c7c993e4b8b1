package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"os/exec"
	"strconv"

	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/logger"
)

// piperDefaultSampleRate 是 piper 模型未声明采样率时的默认值。
const piperDefaultSampleRate = 22050

// PiperEngine 使用 piper CLI 子进程实现语音合成。
type PiperEngine struct {
	binary     string
	modelPath  string
	sampleRate int
	voices     *VoiceTable
}

var _ Model = (*PiperEngine)(nil)

// NewPiperEngine 创建 piper 引擎，采样率读取自 <model>.onnx.json。
// modelPath 可以是 .onnx 文件或包含它的目录。
func NewPiperEngine(binary, modelPath string, voices map[string]int) (*PiperEngine, error) {
	if binary == "" {
		binary = "piper"
	}
	modelPath, _, err := locateOnnx(modelPath)
	if err != nil {
		return nil, fmt.Errorf("piper 模型不存在: %w", err)
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("未找到 piper 可执行文件: %w", err)
	}

	rate := readPiperSampleRate(modelPath + ".json")
	logger.Infof("[tts] piper 引擎已初始化 (model=%s, sample_rate=%d)", modelPath, rate)

	return &PiperEngine{
		binary:     binary,
		modelPath:  modelPath,
		sampleRate: rate,
		voices:     NewVoiceTable(voices, false, nil, ""),
	}, nil
}

// readPiperSampleRate 从 piper 模型配置读取 audio.sample_rate。
func readPiperSampleRate(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return piperDefaultSampleRate
	}
	var meta struct {
		Audio struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio"`
	}
	if err := json.Unmarshal(data, &meta); err != nil || meta.Audio.SampleRate <= 0 {
		return piperDefaultSampleRate
	}
	return meta.Audio.SampleRate
}

// SampleRate 实现 Model 接口。
func (p *PiperEngine) SampleRate() int {
	return p.sampleRate
}

// Synthesize 实现 Model 接口。
func (p *PiperEngine) Synthesize(ctx context.Context, text string, opts *Options) iter.Seq2[*Segment, error] {
	return generate(ctx, text, opts, p.synthesizeSentence)
}

func (p *PiperEngine) args(opts *Options) []string {
	args := []string{"--model", p.modelPath, "--output-raw"}
	if speed := speedOr(opts, 1.0); speed != 1.0 {
		args = append(args, "--length_scale", strconv.FormatFloat(1/speed, 'f', 3, 64))
	}
	if opts.Voice != "" {
		_, sid := p.voices.Resolve(opts.Voice, "")
		args = append(args, "--speaker", strconv.Itoa(sid))
	}
	return args
}

// synthesizeSentence 输出为 signed 16-bit LE 单声道 PCM。
func (p *PiperEngine) synthesizeSentence(ctx context.Context, sentence string, opts *Options) ([]float32, int, error) {
	cmd := exec.CommandContext(ctx, p.binary, p.args(opts)...)
	cmd.Stdin = bytes.NewReader([]byte(sentence))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := stderr.String(); msg != "" {
			logger.Warnf("[tts] piper stderr: %s", msg)
		}
		return nil, 0, fmt.Errorf("piper 执行失败: %w", err)
	}

	if stdout.Len() == 0 {
		return nil, 0, fmt.Errorf("piper: 未收到音频数据")
	}
	return audio.BytesToFloat32(stdout.Bytes()), p.sampleRate, nil
}

// Close 实现 Model 接口。
func (p *PiperEngine) Close() {}
