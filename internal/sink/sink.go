// Package sink delivers evaluation events to their consumers: the console,
// an append-only journal and chat webhooks.
package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go-signal/internal/model"
)

// Sink receives events in emission order.
type Sink interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Multi fans an event out to every sink. A failing sink does not stop the
// others; their errors are combined.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, ev model.Event) error {
	var err error
	for _, s := range m {
		if s == nil {
			continue
		}
		err = multierr.Append(err, s.Publish(ctx, ev))
	}
	return err
}

// Console writes one human-readable line per event and mirrors it to the
// structured log.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	logger *zap.Logger
}

// NewConsole creates a console sink. Either w or logger may be nil.
func NewConsole(w io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{w: w, logger: logger}
}

// Publish implements Sink.
func (c *Console) Publish(_ context.Context, ev model.Event) error {
	msg := ev.Message()
	c.logger.Info("event",
		zap.String("id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("symbol", ev.Symbol),
		zap.Float64("price", ev.Price),
		zap.String("message", msg),
	)
	if c.w == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.w, msg); err != nil {
		return fmt.Errorf("writing console event: %w", err)
	}
	return nil
}
