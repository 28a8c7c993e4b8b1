package mcp

import (
	"context"
	"encoding/json"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iabetor/voicehub/internal/asr"
	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/catalog"
	"github.com/iabetor/voicehub/internal/config"
	"github.com/iabetor/voicehub/internal/models"
	"github.com/iabetor/voicehub/internal/tts"
)

type toneModel struct{}

func (toneModel) Synthesize(ctx context.Context, text string, opts *tts.Options) iter.Seq2[*tts.Segment, error] {
	return func(yield func(*tts.Segment, error) bool) {
		yield(&tts.Segment{Text: text, Samples: make([]float32, 2400), SampleRate: 24000}, nil)
	}
}
func (toneModel) SampleRate() int { return 24000 }
func (toneModel) Close()          {}

type echoModel struct{}

func (echoModel) Transcribe(ctx context.Context, samples []float32, rate int, opts *asr.Options) (*asr.Result, error) {
	return &asr.Result{Text: "hello " + opts.Language, Duration: audio.Duration(samples, rate)}, nil
}
func (echoModel) Close() {}

func newTestRegistry(t *testing.T) (*Registry, *catalog.Catalog) {
	t.Helper()

	cfg := config.Default()
	cfg.Models.ModelDir = t.TempDir()
	cfg.Models.DefaultTTS = "voice"
	cfg.Models.DefaultSTT = "ears"
	cfg.Models.Catalog = []config.ModelSpec{
		{Name: "voice", Kind: "tts", Engine: "fake"},
		{Name: "ears", Kind: "stt", Engine: "fake"},
	}

	cat := catalog.New(cfg, models.New())
	cat.Register(catalog.KindTTS, "fake", func(config.ModelSpec) (models.Model, error) { return toneModel{}, nil })
	cat.Register(catalog.KindSTT, "fake", func(config.ModelSpec) (models.Model, error) { return echoModel{}, nil })

	outputs, err := audio.NewOutputStore(filepath.Join(t.TempDir(), "outputs"), 0)
	require.NoError(t, err)

	return NewDefaultRegistry(cfg, cat, audio.NewCodec(nil), outputs), cat
}

func TestRegistry(t *testing.T) {
	reg, _ := newTestRegistry(t)

	assert.Equal(t, 4, reg.Count())

	var names []string
	for _, d := range reg.List() {
		names = append(names, d.Name)
		assert.True(t, json.Valid(d.Parameters), d.Name)
	}
	assert.Equal(t, []string{"list_models", "stt", "tts", "unload_model"}, names)

	_, ok := reg.Get("tts")
	assert.True(t, ok)

	_, err := reg.Execute(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestTTSTool_SavesAudio(t *testing.T) {
	reg, cat := newTestRegistry(t)

	out, err := reg.Execute(context.Background(), "tts", json.RawMessage(`{"text":"你好"}`))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Audio saved: "), out)

	path := strings.TrimPrefix(out, "Audio saved: ")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	samples, rate, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)
	assert.Len(t, samples, 2400)

	assert.Equal(t, []string{"voice"}, cat.Manager().List())

	_, err = reg.Execute(context.Background(), "tts", json.RawMessage(`{"text":"  "}`))
	assert.ErrorIs(t, err, tts.ErrEmptyText)

	_, err = reg.Execute(context.Background(), "tts", json.RawMessage(`{"text":"hi","model":"ears"}`))
	assert.ErrorIs(t, err, catalog.ErrWrongKind)
}

func TestSTTTool(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	missing := filepath.Join(t.TempDir(), "missing.wav")
	out, err := reg.Execute(ctx, "stt", json.RawMessage(`{"audio_path":"`+missing+`"}`))
	require.NoError(t, err)
	assert.Equal(t, "Error: File not found: "+missing, out)

	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, audio.EncodeWAV(make([]float32, 16000), 16000), 0644))

	out, err = reg.Execute(ctx, "stt", json.RawMessage(`{"audio_path":"`+path+`","language":"en"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello en", out)

	out, err = reg.Execute(ctx, "stt", json.RawMessage(`{"audio_path":"`+path+`","language":"Detect"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello ", out)
}

func TestListAndUnloadTools(t *testing.T) {
	reg, cat := newTestRegistry(t)
	ctx := context.Background()

	out, err := reg.Execute(ctx, "list_models", nil)
	require.NoError(t, err)
	assert.Equal(t, "Loaded: [], Count: 0", out)

	require.NoError(t, cat.Load(ctx, "voice"))

	out, err = reg.Execute(ctx, "list_models", nil)
	require.NoError(t, err)
	assert.Equal(t, `Loaded: ["voice"], Count: 1`, out)

	out, err = reg.Execute(ctx, "unload_model", json.RawMessage(`{"model_name":"voice"}`))
	require.NoError(t, err)
	assert.Equal(t, "Model voice unloaded", out)

	out, err = reg.Execute(ctx, "unload_model", json.RawMessage(`{"model_name":"voice"}`))
	require.NoError(t, err)
	assert.Equal(t, "Model voice not found", out)
}

func TestServer_InMemorySession(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	server, err := NewServer(reg)
	require.NoError(t, err)

	clientTransport, serverTransport := sdk.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := sdk.NewClient(&sdk.Implementation{Name: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, tools.Tools, 4)

	res, err := session.CallTool(ctx, &sdk.CallToolParams{
		Name:      "unload_model",
		Arguments: map[string]any{"model_name": "ghost"},
	})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "Model ghost not found", res.Content[0].(*sdk.TextContent).Text)

	res, err = session.CallTool(ctx, &sdk.CallToolParams{
		Name:      "tts",
		Arguments: map[string]any{"text": "hi", "model": "missing"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
