package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"go-signal/internal/config"
	"go-signal/internal/model"
)

// Journal appends every event as one JSON line to a size-rotated file.
type Journal struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewJournal opens the journal described by cfg.
func NewJournal(cfg config.JournalConfig) (*Journal, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	return newJournal(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}), nil
}

func newJournal(w io.WriteCloser) *Journal {
	return &Journal{w: w}
}

// Publish implements Sink.
func (j *Journal) Publish(_ context.Context, ev model.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.ID, err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(line); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Close()
}
