// Package webhook delivers notifications to an arbitrary HTTP endpoint as
// JSON or plain text.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/notifirc"
)

// Options configure a webhook sink.
type Options struct {
	URL     string
	Method  string // default POST
	Format  string // "json" (default) or "text"
	Headers map[string]string
}

// Sink sends rendered notifications to the configured endpoint.
type Sink struct {
	opts   Options
	client *http.Client
	log    notifirc.Logger
}

// New builds a webhook sink.
func New(opts Options, client *http.Client, log notifirc.Logger) *Sink {
	if opts.Method == "" {
		opts.Method = http.MethodPost
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = notifirc.NopLogger{}
	}
	return &Sink{opts: opts, client: client, log: log}
}

func (s *Sink) Initialize(ctx context.Context) error { return nil }
func (s *Sink) Destroy() error                       { return nil }

// Send delivers the notification. JSON format posts a structured record
// with the event identity and a context snapshot, merged with any mapping
// at the event's metadata.webhook.fields; text format posts the rendered
// body. Extra headers come from metadata.webhook.headers. Non-2xx is an
// error; no retry.
func (s *Sink) Send(ctx context.Context, n *notifirc.Notification) error {
	var body io.Reader
	contentType := "text/plain"
	if s.opts.Format != "text" {
		payload := s.jsonPayload(n)
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("webhook payload: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	} else {
		body = strings.NewReader(n.Body)
	}

	req, err := http.NewRequestWithContext(ctx, s.opts.Method, s.opts.URL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range s.opts.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range webhookMeta(n, "headers") {
		if sv, ok := v.(string); ok {
			req.Header.Set(k, sv)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", s.opts.Method, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

func (s *Sink) jsonPayload(n *notifirc.Notification) map[string]any {
	r := n.Record
	payload := map[string]any{
		"title": n.Title,
		"body":  n.Body,
		"event": map[string]any{
			"id":        n.Event.ID,
			"name":      n.Event.Name,
			"baseEvent": n.Event.BaseEvent,
		},
		"client":    r.Client,
		"server":    r.Server,
		"timestamp": r.Timestamp.Format(time.RFC3339),
	}
	if r.Sender != nil {
		payload["sender"] = r.Sender
	}
	if r.Target != nil {
		payload["target"] = r.Target
	}
	if r.Message != nil {
		payload["message"] = r.Message
	}
	// metadata.webhook.fields merges in at the top level, overriding the
	// structured fields on collision.
	for k, v := range webhookMeta(n, "fields") {
		payload[k] = v
	}
	return payload
}

func webhookMeta(n *notifirc.Notification, key string) map[string]any {
	wh, ok := n.EventMetadata["webhook"].(map[string]any)
	if !ok {
		return nil
	}
	m, _ := wh[key].(map[string]any)
	return m
}
