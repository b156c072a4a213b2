package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go-signal/internal/model"
)

// DefaultAlertKinds are forwarded when no kinds are configured.
var DefaultAlertKinds = []model.EventKind{
	model.EventStrongBuy,
	model.EventStrongSell,
	model.EventOpened,
	model.EventClosed,
	model.EventExitTargetHit,
}

// Discord posts event messages to a Discord webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
	kinds      map[model.EventKind]bool
}

// NewDiscord creates a webhook sink. Only events whose kind is in kinds are
// posted; an empty list selects DefaultAlertKinds.
func NewDiscord(webhookURL string, timeout time.Duration, kinds []string) *Discord {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	allowed := make(map[model.EventKind]bool)
	for _, k := range kinds {
		allowed[model.EventKind(k)] = true
	}
	if len(allowed) == 0 {
		for _, k := range DefaultAlertKinds {
			allowed[k] = true
		}
	}
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		kinds:      allowed,
	}
}

type discordMessage struct {
	Content string `json:"content"`
}

// Publish implements Sink.
func (d *Discord) Publish(ctx context.Context, ev model.Event) error {
	if !d.kinds[ev.Kind] {
		return nil
	}

	body, err := json.Marshal(discordMessage{Content: ev.Message()})
	if err != nil {
		return fmt.Errorf("encoding discord message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting discord alert: %w", err)
	}
	defer resp.Body.Close()

	// Discord answers 204 on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
