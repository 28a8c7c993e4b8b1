package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/iabetor/voicehub/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Models.ModelDir = filepath.Join(dir, "models")
	cfg.Models.OutputDir = filepath.Join(dir, "outputs")
	cfg.Models.Preload = []string{"missing-model"}
	cfg.Database.Path = filepath.Join(dir, "data", "voicehub.db")
	cfg.STT.FFmpegPath = filepath.Join(dir, "no-ffmpeg")
	cfg.Telemetry.Enabled = false
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), Options{Tasks: true, Preload: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.Runner == nil || a.Tools == nil || a.Outputs == nil {
		t.Fatal("components not wired")
	}
	if a.Tools.Count() != 4 {
		t.Errorf("tools = %d, want 4", a.Tools.Count())
	}
	// 预加载失败只记录警告
	if n := len(a.Manager.List()); n != 0 {
		t.Errorf("resident = %d, want 0", n)
	}

	srv, err := a.Server()
	if err != nil {
		t.Fatal(err)
	}
	handler, err := srv.Handler()
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Status != "ok" {
		t.Fatalf("health body = %s", rec.Body.String())
	}
}

func TestNew_WithoutTasks(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.Runner != nil {
		t.Error("runner should not start without Options.Tasks")
	}
}
