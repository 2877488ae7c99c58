// Package record defines the message record threaded through the pipeline:
// one parsed log line plus the client, server, sender and target context
// attached to it along the way.
package record

import (
	"time"
)

// Target types.
const (
	TargetChannel = "channel"
	TargetQuery   = "query"
	TargetConsole = "console"
)

// Raw holds the untouched input line and the timestamp string captured by
// the parser rule, if any.
type Raw struct {
	Line      string `json:"line"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Message is the parsed message payload of a line.
type Message struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Sender describes the IRC user a line originated from.
type Sender struct {
	Nickname string   `json:"nickname,omitempty"`
	Username string   `json:"username,omitempty"`
	Hostname string   `json:"hostname,omitempty"`
	Realname string   `json:"realname,omitempty"`
	Modes    []string `json:"modes,omitempty"`
}

// Target is the IRC-side recipient context of a line: a channel, a query or
// the console pseudo-target.
type Target struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Client identifies the client config a record was produced by.
type Client struct {
	ID       string         `json:"id"`
	Type     string         `json:"type,omitempty"`
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Server carries the matched server config's display fields.
type Server struct {
	ID             string         `json:"id,omitempty"`
	Hostname       string         `json:"hostname,omitempty"`
	DisplayName    string         `json:"displayName,omitempty"`
	ClientNickname string         `json:"clientNickname,omitempty"`
	Network        string         `json:"network,omitempty"`
	Port           int            `json:"port,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Record is one parsed, enriched log line as it flows through the pipeline.
type Record struct {
	Raw       Raw            `json:"raw"`
	Message   *Message       `json:"message,omitempty"`
	Sender    *Sender        `json:"sender,omitempty"`
	Target    *Target        `json:"target,omitempty"`
	Client    Client         `json:"client"`
	Server    Server         `json:"server"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy for per-sink context scoping: the top
// level and every map are copied, pointer sub-structs are duplicated.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Message != nil {
		m := *r.Message
		out.Message = &m
	}
	if r.Sender != nil {
		s := *r.Sender
		s.Modes = append([]string(nil), r.Sender.Modes...)
		out.Sender = &s
	}
	if r.Target != nil {
		t := *r.Target
		out.Target = &t
	}
	out.Client.Metadata = cloneMap(r.Client.Metadata)
	out.Server.Metadata = cloneMap(r.Server.Metadata)
	out.Metadata = cloneMap(r.Metadata)
	return &out
}

// SetMeta writes a metadata key, allocating the map on first use.
func (r *Record) SetMeta(key string, val any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = val
}

// MetaString returns a metadata value as a string, or "" when absent or not
// a string.
func (r *Record) MetaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	s, _ := r.Metadata[key].(string)
	return s
}

// Context converts the record into the nested map used for template
// expansion and filter evaluation. The top-level members match the template
// language surface: raw, message, sender, target, client, server, timestamp,
// metadata.
func (r *Record) Context() map[string]any {
	ctx := map[string]any{
		"raw": map[string]any{
			"line":      r.Raw.Line,
			"timestamp": r.Raw.Timestamp,
		},
		"client": map[string]any{
			"id":       r.Client.ID,
			"type":     r.Client.Type,
			"name":     r.Client.Name,
			"metadata": r.Client.Metadata,
		},
		"server": map[string]any{
			"id":             r.Server.ID,
			"hostname":       r.Server.Hostname,
			"displayName":    r.Server.DisplayName,
			"clientNickname": r.Server.ClientNickname,
			"network":        r.Server.Network,
			"port":           r.Server.Port,
			"metadata":       r.Server.Metadata,
		},
		"metadata": r.Metadata,
	}
	if !r.Timestamp.IsZero() {
		ctx["timestamp"] = r.Timestamp.Format(time.RFC3339)
	}
	if r.Message != nil {
		ctx["message"] = map[string]any{
			"content": r.Message.Content,
			"type":    r.Message.Type,
		}
	}
	if r.Sender != nil {
		sender := map[string]any{
			"nickname": r.Sender.Nickname,
			"username": r.Sender.Username,
			"hostname": r.Sender.Hostname,
			"realname": r.Sender.Realname,
		}
		if len(r.Sender.Modes) > 0 {
			sender["modes"] = r.Sender.Modes
		}
		ctx["sender"] = sender
	}
	if r.Target != nil {
		ctx["target"] = map[string]any{
			"name": r.Target.Name,
			"type": r.Target.Type,
		}
	}
	return ctx
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
