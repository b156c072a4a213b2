package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-signal/internal/config"
)

func demoConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Exchange.Source = "demo"
	cfg.App.Log.File = ""
	cfg.API.Enabled = false
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "events.jsonl")
	return cfg
}

func TestEvaluateOnceWithDemoFeed(t *testing.T) {
	cfg := demoConfig(t)
	var out bytes.Buffer
	a := New(cfg, &out)

	results, err := a.EvaluateOnce(context.Background(), nil)
	if err != nil {
		t.Fatalf("EvaluateOnce error: %v", err)
	}
	if len(results) != len(cfg.Engine.Symbols) {
		t.Fatalf("got %d results want %d", len(results), len(cfg.Engine.Symbols))
	}
	for _, res := range results {
		if _, ok := res.Primary(); !ok {
			t.Fatalf("%s: no primary event", res.Symbol)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	lines := strings.Count(out.String(), "\n")
	journal, err := os.ReadFile(cfg.Journal.Path)
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}
	if lines == 0 || strings.Count(string(journal), "\n") != lines {
		t.Fatalf("console has %d lines, journal has %d", lines, strings.Count(string(journal), "\n"))
	}
}

func TestEvaluateOnceUnknownSymbol(t *testing.T) {
	a := New(demoConfig(t), nil)
	defer a.Close()

	results, err := a.EvaluateOnce(context.Background(), []string{"MOODENGUSDT", "NOPEUSDT"})
	if err == nil || !strings.Contains(err.Error(), "NOPEUSDT") {
		t.Fatalf("got %v want an unknown symbol error", err)
	}
	if len(results) != 2 || len(results[0].Events) == 0 {
		t.Fatalf("known symbol should still be evaluated: %+v", results)
	}
}

func TestSetupRejectsUnknownSource(t *testing.T) {
	cfg := demoConfig(t)
	cfg.Exchange.Source = "carrier-pigeon"
	if err := New(cfg, nil).Setup(); err == nil {
		t.Fatalf("expected an error for an unknown source")
	}
}
