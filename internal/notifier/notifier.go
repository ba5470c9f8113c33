// Package notifier publishes operational events, currently broker
// rejections and terminal job states, to external sinks.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event kinds.
const (
	KindTradeRejected = "trade_rejected"
	KindTradeOpened   = "trade_opened"
	KindTradeClosed   = "trade_closed"
	KindJobFinished   = "job_finished"
)

// Event is one notification payload.
type Event struct {
	Kind       string    `json:"kind"`
	StrategyID string    `json:"strategy_id,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}

// Notifier delivers events. Failures are the caller's to log; delivery is
// best effort and never blocks trading decisions.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}

// Webhook posts events as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Notify(ctx context.Context, e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// Multi fans an event out to several notifiers, returning the first error
// after attempting all of them.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, e Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", n.Name(), err)
		}
	}
	return first
}

// Nop discards events.
type Nop struct{}

func (Nop) Name() string                       { return "nop" }
func (Nop) Notify(context.Context, Event) error { return nil }
