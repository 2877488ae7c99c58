// Package file writes notifications to a local file, as JSON lines or as
// timestamped text blocks.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/notifirc"
)

// Sink appends (or overwrites) one entry per notification.
type Sink struct {
	path       string
	appendMode bool
	format     string // "json" or text
	log        notifirc.Logger
	mu         sync.Mutex
}

// New builds a file sink.
func New(path string, appendMode bool, format string, log notifirc.Logger) *Sink {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	return &Sink{path: path, appendMode: appendMode, format: format, log: log}
}

// Initialize ensures the parent directory exists.
func (s *Sink) Initialize(ctx context.Context) error {
	return os.MkdirAll(filepath.Dir(s.path), 0o755)
}

func (s *Sink) Destroy() error { return nil }

func (s *Sink) Send(ctx context.Context, n *notifirc.Notification) error {
	var entry []byte
	if s.format == "json" {
		payload := map[string]any{
			"title":     n.Title,
			"body":      n.Body,
			"event":     n.Event.Name,
			"timestamp": time.Now().Format(time.RFC3339),
			"context":   n.Record.Context(),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("file sink payload: %w", err)
		}
		entry = append(raw, '\n')
	} else {
		entry = []byte(fmt.Sprintf("[%s] %s\n%s\n",
			time.Now().Format(time.RFC3339), n.Title, n.Body))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	flags := os.O_CREATE | os.O_WRONLY
	if s.appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("file sink open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(entry); err != nil {
		return fmt.Errorf("file sink write: %w", err)
	}
	return nil
}
