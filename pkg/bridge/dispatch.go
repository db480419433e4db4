// Copyright 2024-2026 Aiku AI

package bridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Dispatcher delivers normalized payloads to their destination. The webhook
// implementation is the production one; tests substitute a recorder.
type Dispatcher interface {
	Deliver(ctx context.Context, p *Payload) error
}

// WebhookDispatcher POSTs payloads as JSON to a single webhook URL.
// Delivery is best-effort: an error means this payload was not accepted,
// and the caller logs and moves on. There is no retry and no queue.
type WebhookDispatcher struct {
	url  string
	http *http.Client
}

var _ Dispatcher = (*WebhookDispatcher)(nil)

// NewWebhookDispatcher creates a dispatcher for cfg.WebhookURL. Setting
// cfg.InsecureSkipVerify disables TLS certificate verification of the
// webhook endpoint; the default is to verify.
func NewWebhookDispatcher(cfg *N8NConfig) *WebhookDispatcher {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30
	}
	client := &http.Client{Timeout: time.Duration(timeout) * time.Second}
	if cfg.InsecureSkipVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &WebhookDispatcher{url: cfg.WebhookURL, http: client}
}

// Deliver POSTs p to the webhook. Any response outside the 2xx range is an
// error. Each request carries a fresh X-Delivery-ID header so individual
// deliveries can be traced in the receiver's logs.
func (d *WebhookDispatcher) Deliver(ctx context.Context, p *Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", uuid.NewString())

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
