package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
)

// WebhookSink POSTs events as JSON to an HTTP endpoint. Transient failures
// are retried with backoff; a persistently failing endpoint trips a circuit
// breaker so the gateway stops hammering it.
type WebhookSink struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

// NewWebhookSink builds a sink for the given endpoint URL.
func NewWebhookSink(url string) *WebhookSink {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notify-webhook",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		cb:     cb,
	}
}

func (s *WebhookSink) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(map[string]any{
		"request_id": ev.RequestID,
		"operation":  ev.Operation,
		"success":    ev.Success,
		"status":     ev.Status,
		"summary":    ev.Summary,
		"elapsed_ms": ev.ElapsedMs,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	_, err = s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(retry.BackOffDelay),
		)
		return nil, r.Do(func() error {
			return s.post(ctx, payload)
		})
	})
	if err != nil {
		return fmt.Errorf("notify: webhook %s: %w", s.url, err)
	}
	return nil
}

func (s *WebhookSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
