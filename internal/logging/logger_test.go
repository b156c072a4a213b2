package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go-signal/internal/config"
)

func TestBuildWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "signal.log")
	log, err := Build(config.AppConfig{
		Env:      "prod",
		LogLevel: "info",
		Log:      config.LogConfig{File: path, MaxSizeMB: 1},
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	log.Debug("hidden")
	log.Info("cycle_complete")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"msg":"cycle_complete"`)) || !bytes.Contains(data, []byte(`"ts":`)) {
		t.Fatalf("unexpected log content %q", data)
	}
	if bytes.Contains(data, []byte("hidden")) {
		t.Fatalf("debug entry written at info level")
	}
}

func TestBuildRejectsUnknownLevel(t *testing.T) {
	if _, err := Build(config.AppConfig{LogLevel: "loud"}); err == nil {
		t.Fatalf("expected an error for an unknown level")
	}
}
