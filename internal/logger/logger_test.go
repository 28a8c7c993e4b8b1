package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestInit_UnknownFormat(t *testing.T) {
	if err := Init(Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestInit_FileOutput(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "voicehub.log")
	if err := Init(Config{Level: "debug", File: file}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		rotator = nil
		Init(Config{})
	})

	Infof("[test] hello %s", "world")
	Sync()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "[test] hello world") {
		t.Errorf("log file missing message: %q", string(data))
	}
}
