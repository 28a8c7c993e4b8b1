package catalog

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/iabetor/voicehub/internal/asr"
	"github.com/iabetor/voicehub/internal/config"
	"github.com/iabetor/voicehub/internal/models"
	"github.com/iabetor/voicehub/internal/tts"
)

type fakeSpeech struct{ closed atomic.Int32 }

func (f *fakeSpeech) Synthesize(ctx context.Context, text string, opts *tts.Options) iter.Seq2[*tts.Segment, error] {
	return func(yield func(*tts.Segment, error) bool) {
		yield(&tts.Segment{Text: text, Samples: []float32{0}, SampleRate: 24000}, nil)
	}
}
func (f *fakeSpeech) SampleRate() int { return 24000 }
func (f *fakeSpeech) Close()          { f.closed.Add(1) }

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(context.Context, []float32, int, *asr.Options) (*asr.Result, error) {
	return &asr.Result{Text: "ok"}, nil
}
func (fakeTranscriber) Close() {}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestCatalog(t *testing.T, specs ...config.ModelSpec) (*Catalog, *atomic.Int32) {
	t.Helper()

	cfg := config.Default()
	cfg.Models.ModelDir = t.TempDir()
	cfg.Models.Catalog = specs

	c := New(cfg, models.New())
	loads := &atomic.Int32{}
	speech := func(config.ModelSpec) (models.Model, error) {
		loads.Add(1)
		return &fakeSpeech{}, nil
	}
	for _, engine := range []string{"kokoro", "vits", "edge"} {
		c.Register(KindTTS, engine, speech)
	}
	c.Register(KindSTT, "whisper", func(config.ModelSpec) (models.Model, error) {
		loads.Add(1)
		return fakeTranscriber{}, nil
	})
	return c, loads
}

func TestResolve_CatalogEntry(t *testing.T) {
	c, _ := newTestCatalog(t,
		config.ModelSpec{Name: "zh", Kind: "tts", Engine: "vits", Path: "vits-zh"},
		config.ModelSpec{Name: "abs", Kind: "stt", Engine: "whisper", Path: "/opt/whisper"},
	)

	spec, err := c.Resolve("zh")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Path != filepath.Join(c.cfg.Models.ModelDir, "vits-zh") {
		t.Errorf("relative path = %s", spec.Path)
	}

	spec, _ = c.Resolve("abs")
	if spec.Path != "/opt/whisper" {
		t.Errorf("absolute path = %s", spec.Path)
	}

	if spec, err := c.Resolve("edge-tts"); err != nil || spec.Engine != "edge" {
		t.Errorf("builtin edge-tts: %+v %v", spec, err)
	}
}

func TestResolve_Discovery(t *testing.T) {
	c, _ := newTestCatalog(t)
	root := c.cfg.Models.ModelDir

	touch(t, filepath.Join(root, "kokoro-multi-lang-v1_0"), "model.onnx", "voices.bin", "tokens.txt")
	touch(t, filepath.Join(root, "sherpa-onnx-whisper-turbo"), "turbo-encoder.onnx", "turbo-decoder.onnx", "turbo-tokens.txt")
	touch(t, filepath.Join(root, "sherpa-onnx-sense-voice-zh-en"), "model.int8.onnx", "tokens.txt")
	touch(t, filepath.Join(root, "vits-melo-tts-zh_en"), "model.onnx", "tokens.txt")
	touch(t, filepath.Join(root, "empty"))

	cases := map[string]string{
		"kokoro-multi-lang-v1_0":        "tts/kokoro",
		"sherpa-onnx-whisper-turbo":     "stt/whisper",
		"sherpa-onnx-sense-voice-zh-en": "stt/sensevoice",
		"vits-melo-tts-zh_en":           "tts/vits",
	}
	for name, want := range cases {
		spec, err := c.Resolve(name)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if got := spec.Kind + "/" + spec.Engine; got != want {
			t.Errorf("%s: got %s, want %s", name, got, want)
		}
	}

	for _, name := range []string{"empty", "missing", "../etc", ".hidden", ""} {
		if _, err := c.Resolve(name); !errors.Is(err, ErrUnknownModel) {
			t.Errorf("Resolve(%q) err = %v, want ErrUnknownModel", name, err)
		}
	}

	if c.Kind("sherpa-onnx-whisper-turbo") != KindSTT || c.Kind("missing") != "" {
		t.Error("Kind classification mismatch")
	}

	specs := c.Specs()
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	want := []string{"edge-tts", "kokoro-multi-lang-v1_0", "sherpa-onnx-sense-voice-zh-en", "sherpa-onnx-whisper-turbo", "vits-melo-tts-zh_en"}
	if len(names) != len(want) {
		t.Fatalf("Specs = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Specs = %v, want %v", names, want)
		}
	}
}

func TestSpeechAndTranscriber(t *testing.T) {
	c, loads := newTestCatalog(t,
		config.ModelSpec{Name: "voice", Kind: "tts", Engine: "kokoro"},
		config.ModelSpec{Name: "ears", Kind: "stt", Engine: "whisper"},
	)
	ctx := context.Background()

	m, lease, err := c.Speech(ctx, "voice")
	if err != nil {
		t.Fatal(err)
	}
	if m.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d", m.SampleRate())
	}
	lease.Release()

	_, lease, err = c.Speech(ctx, "voice")
	if err != nil {
		t.Fatal(err)
	}
	lease.Release()
	if loads.Load() != 1 {
		t.Errorf("model should load once, loads=%d", loads.Load())
	}

	if _, _, err := c.Speech(ctx, "ears"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("Speech(stt) err = %v, want ErrWrongKind", err)
	}
	if _, _, err := c.Transcriber(ctx, "voice"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("Transcriber(tts) err = %v, want ErrWrongKind", err)
	}

	stt, lease, err := c.Transcriber(ctx, "ears")
	if err != nil {
		t.Fatal(err)
	}
	res, _ := stt.Transcribe(ctx, nil, 16000, nil)
	if res.Text != "ok" {
		t.Errorf("Transcribe = %+v", res)
	}
	lease.Release()

	if _, _, err := c.Speech(ctx, "nope"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("unknown err = %v", err)
	}
}

func TestSpeech_FactoryReturnsWrongType(t *testing.T) {
	c, _ := newTestCatalog(t, config.ModelSpec{Name: "odd", Kind: "tts", Engine: "odd"})
	c.Register(KindTTS, "odd", func(config.ModelSpec) (models.Model, error) {
		return fakeTranscriber{}, nil
	})

	if _, _, err := c.Speech(context.Background(), "odd"); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("err = %v, want ErrWrongKind", err)
	}
	// 租约已归还，空闲清理可以卸载
	if e := c.Manager().Entries(); len(e) != 1 || e[0].Refs != 0 {
		t.Fatalf("entries = %+v", e)
	}
}

func TestLoadAndPreload(t *testing.T) {
	c, loads := newTestCatalog(t,
		config.ModelSpec{Name: "voice", Kind: "tts", Engine: "kokoro"},
		config.ModelSpec{Name: "broken", Kind: "tts", Engine: "unregistered"},
	)
	c.cfg.Models.Preload = []string{"voice", "broken", "missing"}

	c.Preload(context.Background())

	if loads.Load() != 1 || !c.Manager().Has("voice") {
		t.Fatalf("preload should load voice only, loads=%d list=%v", loads.Load(), c.Manager().List())
	}

	if err := c.Load(context.Background(), "voice"); err != nil {
		t.Fatal(err)
	}
	if loads.Load() != 1 {
		t.Error("Load of resident model should not reload")
	}
	if err := c.Load(context.Background(), "broken"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("unregistered engine err = %v", err)
	}
}

func TestLoad_FactoryError(t *testing.T) {
	c, _ := newTestCatalog(t, config.ModelSpec{Name: "bad", Kind: "tts", Engine: "bad"})
	boom := errors.New("missing model.onnx")
	c.Register(KindTTS, "bad", func(config.ModelSpec) (models.Model, error) { return nil, boom })

	if err := c.Load(context.Background(), "bad"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if c.Manager().Has("bad") {
		t.Error("failed load must not be resident")
	}
}

func TestBuiltinSpecs(t *testing.T) {
	cfg := config.Default()
	if got := len(builtinSpecs(cfg)); got != 1 {
		t.Errorf("without credentials got %d builtin specs", got)
	}
	cfg.Tencent.SecretID, cfg.Tencent.SecretKey, cfg.Tencent.AppID = "id", "key", "app"
	if got := len(builtinSpecs(cfg)); got != 4 {
		t.Errorf("with credentials got %d builtin specs", got)
	}
}
