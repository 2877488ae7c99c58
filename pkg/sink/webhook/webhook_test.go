package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/notifirc"
	"github.com/user/notifirc/pkg/record"
)

func notification() *notifirc.Notification {
	return &notifirc.Notification{
		SinkID: "hook",
		Title:  "Mention",
		Body:   "hey bob",
		Event:  notifirc.EventInfo{ID: "mentions", Name: "Mention", BaseEvent: "message"},
		Record: &record.Record{
			Message:   &record.Message{Content: "hey bob", Type: "privmsg"},
			Sender:    &record.Sender{Nickname: "alice"},
			Client:    record.Client{ID: "weechat"},
			Server:    record.Server{ID: "libera", DisplayName: "Libera.Chat"},
			Timestamp: time.Date(2026, 8, 24, 10, 15, 0, 0, time.UTC),
		},
	}
}

func TestSendJSON(t *testing.T) {
	var got map[string]any
	var header http.Header
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &got)
		header = r.Header.Clone()
		method = r.Method
	}))
	defer srv.Close()

	s := New(Options{URL: srv.URL, Headers: map[string]string{"X-Static": "yes"}}, srv.Client(), nil)
	n := notification()
	n.EventMetadata = map[string]any{
		"webhook": map[string]any{
			"fields":  map[string]any{"channel": "#alerts"},
			"headers": map[string]any{"X-Event": "mentions"},
		},
	}
	if err := s.Send(context.Background(), n); err != nil {
		t.Fatal(err)
	}

	if method != http.MethodPost {
		t.Errorf("method = %s", method)
	}
	if header.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", header.Get("Content-Type"))
	}
	if header.Get("X-Static") != "yes" || header.Get("X-Event") != "mentions" {
		t.Errorf("headers = %v", header)
	}
	if got["title"] != "Mention" || got["body"] != "hey bob" {
		t.Errorf("payload = %v", got)
	}
	event, _ := got["event"].(map[string]any)
	if event["id"] != "mentions" || event["baseEvent"] != "message" {
		t.Errorf("event = %v", event)
	}
	if got["timestamp"] != "2026-08-24T10:15:00Z" {
		t.Errorf("timestamp = %v", got["timestamp"])
	}
	// metadata.webhook.fields merged at the top level.
	if got["channel"] != "#alerts" {
		t.Errorf("merged field missing: %v", got)
	}
}

func TestSendText(t *testing.T) {
	var body string
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		contentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	s := New(Options{URL: srv.URL, Method: http.MethodPut, Format: "text"}, srv.Client(), nil)
	if err := s.Send(context.Background(), notification()); err != nil {
		t.Fatal(err)
	}
	if body != "hey bob" || contentType != "text/plain" {
		t.Errorf("body = %q, content type = %q", body, contentType)
	}
}

func TestSendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(Options{URL: srv.URL}, srv.Client(), nil)
	if err := s.Send(context.Background(), notification()); err == nil {
		t.Fatal("expected error on 502")
	}
}
