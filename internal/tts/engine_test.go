package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		pattern string
		want    []string
	}{
		{"english", "Hello world. How are you? Fine!", "", []string{"Hello world.", "How are you?", "Fine!"}},
		{"chinese", "你好。今天天气很好！", "", []string{"你好。", "今天天气很好！"}},
		{"trailing text", "First. second part", "", []string{"First.", "second part"}},
		{"no punctuation", "just one line", "", []string{"just one line"}},
		{"punctuation run", "Wait... what?!", "", []string{"Wait...", "what?!"}},
		{"newlines", "line one\n\nline two", "", []string{"line one", "line two"}},
		{"stream pattern", "你好，世界；再见。", StreamSplitPattern, []string{"你好，", "世界；", "再见。"}},
		{"blank", "   ", "", nil},
	}

	for _, c := range cases {
		got, err := SplitSentences(c.text, c.pattern)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestSplitSentences_BadPattern(t *testing.T) {
	if _, err := SplitSentences("x", "[unclosed"); err == nil {
		t.Fatal("expected regexp error")
	}
}

func fakeSentence(calls *[]string) sentenceFunc {
	return func(_ context.Context, sentence string, _ *Options) ([]float32, int, error) {
		*calls = append(*calls, sentence)
		return []float32{0.1, 0.2}, 24000, nil
	}
}

func TestGenerate_Lazy(t *testing.T) {
	var calls []string
	seq := generate(context.Background(), "One. Two. Three.", nil, fakeSentence(&calls))

	if len(calls) != 0 {
		t.Fatal("sequence must not synthesize before iteration")
	}

	for seg, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		if seg.Text != "One." || seg.SampleRate != 24000 {
			t.Fatalf("unexpected first segment %+v", seg)
		}
		break
	}
	if !reflect.DeepEqual(calls, []string{"One."}) {
		t.Fatalf("early stop should skip remaining sentences, calls=%v", calls)
	}

	// 再次迭代从头开始
	calls = nil
	samples, rate, err := Collect(seq)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 6 || rate != 24000 || len(calls) != 3 {
		t.Fatalf("Collect: samples=%d rate=%d calls=%v", len(samples), rate, calls)
	}
}

func TestGenerate_EmptyText(t *testing.T) {
	var calls []string
	_, _, err := Collect(generate(context.Background(), "  ", nil, fakeSentence(&calls)))
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestGenerate_StopsOnError(t *testing.T) {
	boom := errors.New("backend down")
	n := 0
	fn := func(context.Context, string, *Options) ([]float32, int, error) {
		n++
		return nil, 0, boom
	}
	_, _, err := Collect(generate(context.Background(), "A. B. C.", nil, fn))
	if !errors.Is(err, boom) || n != 1 {
		t.Fatalf("err=%v calls=%d", err, n)
	}
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls []string
	_, _, err := Collect(generate(ctx, "A. B.", nil, fakeSentence(&calls)))
	if !errors.Is(err, context.Canceled) || len(calls) != 0 {
		t.Fatalf("err=%v calls=%v", err, calls)
	}
}

func TestGenerate_SkipsSilentSentences(t *testing.T) {
	fn := func(_ context.Context, s string, _ *Options) ([]float32, int, error) {
		if s == "B." {
			return nil, 24000, nil
		}
		return []float32{1}, 24000, nil
	}
	var texts []string
	for seg, err := range generate(context.Background(), "A. B. C.", nil, fn) {
		if err != nil {
			t.Fatal(err)
		}
		texts = append(texts, seg.Text)
	}
	if !reflect.DeepEqual(texts, []string{"A.", "C."}) {
		t.Fatalf("texts = %v", texts)
	}
}

func TestVoiceTable_Resolve(t *testing.T) {
	langs := map[string]string{"a": "af_heart", "z": "zf_xiaobei"}
	table := NewVoiceTable(nil, true, langs, "af_heart")

	cases := []struct {
		voice, lang string
		wantName    string
		wantSID     int
	}{
		{"", "", "af_heart", 3},
		{"", "z", "zf_xiaobei", 45},
		{"bf_emma", "z", "bf_emma", 21},
		{"BF_EMMA", "", "BF_EMMA", 21},
		{"7", "", "7", 7},
		{"unknown", "", "unknown", 0},
	}
	for _, c := range cases {
		name, sid := table.Resolve(c.voice, c.lang)
		if name != c.wantName || sid != c.wantSID {
			t.Errorf("Resolve(%q,%q) = %q,%d want %q,%d", c.voice, c.lang, name, sid, c.wantName, c.wantSID)
		}
	}

	custom := NewVoiceTable(map[string]int{"alice": 4}, true, nil, "")
	if _, sid := custom.Resolve("alice", ""); sid != 4 {
		t.Errorf("custom table should take precedence, got sid %d", sid)
	}
	if custom.Known("af_heart") {
		t.Error("custom table replaces the builtin one")
	}
}

func TestTencentSpeed(t *testing.T) {
	cases := map[float64]float64{0.5: -2, 0.6: -2, 0.8: -1, 1.0: 0, 1.1: 0.5, 1.5: 2, 2.0: 4, 3.0: 6}
	for rate, want := range cases {
		got := tencentSpeed(rate)
		if diff := got - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("tencentSpeed(%v) = %v, want %v", rate, got, want)
		}
	}
}

func TestEdgeEngine_ResolveVoice(t *testing.T) {
	e := NewEdgeEngine("")
	if got := e.resolveVoice("af_heart"); got != "zh-CN-XiaoxiaoNeural" {
		t.Errorf("non-edge voice should fall back, got %s", got)
	}
	if got := e.resolveVoice("en-US-AriaNeural"); got != "en-US-AriaNeural" {
		t.Errorf("edge voice should be kept, got %s", got)
	}
	if e.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d", e.SampleRate())
	}
}

func TestReadPiperSampleRate(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "voice.onnx.json")
	os.WriteFile(cfg, []byte(`{"audio":{"sample_rate":16000}}`), 0644)

	if got := readPiperSampleRate(cfg); got != 16000 {
		t.Errorf("got %d, want 16000", got)
	}
	if got := readPiperSampleRate(filepath.Join(dir, "missing.json")); got != piperDefaultSampleRate {
		t.Errorf("missing config: got %d", got)
	}
}

func TestPiperArgs(t *testing.T) {
	p := &PiperEngine{modelPath: "/m/voice.onnx", voices: NewVoiceTable(nil, false, nil, "")}

	got := p.args(&Options{Speed: 2, Voice: "3"})
	want := []string{"--model", "/m/voice.onnx", "--output-raw", "--length_scale", "0.500", "--speaker", "3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}

	if got := p.args(&Options{}); len(got) != 3 {
		t.Errorf("default args = %v", got)
	}
}

func TestLocateOnnx(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "zh_CN-huayan.onnx"), []byte("x"), 0644)

	file, base, err := locateOnnx(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(file) != "zh_CN-huayan.onnx" || base != dir {
		t.Errorf("locateOnnx = %s, %s", file, base)
	}

	os.WriteFile(filepath.Join(dir, "other.onnx"), []byte("x"), 0644)
	if _, _, err := locateOnnx(dir); err == nil {
		t.Error("ambiguous directory should fail")
	}

	os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("x"), 0644)
	if file, _, err := locateOnnx(dir); err != nil || filepath.Base(file) != "model.onnx" {
		t.Errorf("model.onnx should win: %s %v", file, err)
	}
}

func TestJoinExisting(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "c.txt"), nil, 0644)

	got := joinExisting(dir, "a.txt", "b.txt", "c.txt")
	want := filepath.Join(dir, "a.txt") + "," + filepath.Join(dir, "c.txt")
	if got != want {
		t.Errorf("joinExisting = %q, want %q", got, want)
	}
}

func TestNewKokoroEngine_MissingFiles(t *testing.T) {
	if _, err := NewKokoroEngine(SherpaConfig{Path: t.TempDir()}); err == nil {
		t.Fatal("expected error for empty model directory")
	}
}
