// Package console prints notifications to a writer, either as JSON objects
// or as human-readable blocks.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/user/notifirc"
)

// Sink writes notifications to out. Writes are serialized so concurrent
// deliveries do not interleave.
type Sink struct {
	format string
	out    io.Writer
	log    notifirc.Logger
	mu     sync.Mutex
}

// New builds a console sink. format "json" prints one JSON object per
// notification; anything else prints a readable block.
func New(format string, out io.Writer, log notifirc.Logger) *Sink {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	return &Sink{format: format, out: out, log: log}
}

func (s *Sink) Initialize(ctx context.Context) error { return nil }
func (s *Sink) Destroy() error                       { return nil }

func (s *Sink) Send(ctx context.Context, n *notifirc.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format == "json" {
		return s.writeJSON(n)
	}
	return s.writeBlock(n)
}

func (s *Sink) writeJSON(n *notifirc.Notification) error {
	payload := map[string]any{
		"sink":      n.SinkID,
		"event":     n.Event.Name,
		"title":     n.Title,
		"body":      n.Body,
		"context":   n.Record.Context(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	enc := json.NewEncoder(s.out)
	return enc.Encode(payload)
}

func (s *Sink) writeBlock(n *notifirc.Notification) error {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", n.Title)
	fmt.Fprintf(&b, "%s\n", n.Body)
	if !n.Record.Timestamp.IsZero() {
		fmt.Fprintf(&b, "  time:   %s\n", n.Record.Timestamp.Format(time.RFC3339))
	}
	if sender := n.Record.Sender; sender != nil && sender.Nickname != "" {
		fmt.Fprintf(&b, "  from:   %s\n", sender.Nickname)
	}
	if target := n.Record.Target; target != nil && target.Name != "" {
		fmt.Fprintf(&b, "  target: %s\n", target.Name)
	}
	if dn := n.Record.Server.DisplayName; dn != "" {
		fmt.Fprintf(&b, "  server: %s\n", dn)
	}
	_, err := io.WriteString(s.out, b.String())
	return err
}
