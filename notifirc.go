package notifirc

import (
	"context"

	"github.com/user/notifirc/pkg/record"
)

// EventInfo identifies the event rule that matched a record. It is exposed
// to sink templates under the "event" context key.
type EventInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BaseEvent string `json:"baseEvent"`
}

// Notification is the fully rendered unit of delivery handed to a sink.
type Notification struct {
	SinkID string
	Title  string
	Body   string
	Format string

	Event  EventInfo
	Record *record.Record

	// Options carries the per-sink overrides from the matched event's
	// metadata.sink[sinkId] mapping (priority, tags, headers, ...).
	Options map[string]any

	// EventMetadata is the matched event's full metadata after template
	// expansion (used by the webhook sink for fields/headers injection).
	EventMetadata map[string]any
}

// Sink is a notification destination. Implementations are registered by kind
// and constructed from sink configs by the dispatcher's factory.
type Sink interface {
	Initialize(ctx context.Context) error
	Send(ctx context.Context, n *Notification) error
	Destroy() error
}

// Adapter turns log-file paths and raw lines into structured records for one
// configured IRC client.
type Adapter interface {
	Initialize(ctx context.Context) error
	ListLogPaths() ([]string, error)
	ExtractContextFromPath(path string) *record.Record
	ParseLine(line string, partial *record.Record) *record.Record
	Destroy() error
}

// Logger defines the interface for logging in notifirc.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
