// Package ntfy delivers notifications to an ntfy topic over HTTP POST.
package ntfy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/user/notifirc"
)

// Options configure an ntfy sink.
type Options struct {
	Endpoint string // server base URL
	Topic    string
	Token    string // optional bearer token
	Priority string // default priority header value
	Tags     []string
	Headers  map[string]string // extra static headers
}

// Sink posts rendered notifications to endpoint/topic.
type Sink struct {
	opts   Options
	client *http.Client
	log    notifirc.Logger
}

// New builds an ntfy sink.
func New(opts Options, client *http.Client, log notifirc.Logger) *Sink {
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

// Send posts the notification. Title, priority, tags and extra headers may
// be overridden per event via the notification's options. Non-2xx responses
// are errors; no retry.
func (s *Sink) Send(ctx context.Context, n *notifirc.Notification) error {
	url := strings.TrimSuffix(s.opts.Endpoint, "/") + "/" + s.opts.Topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(n.Body))
	if err != nil {
		return err
	}

	priority := s.opts.Priority
	if p := optString(n.Options, "priority"); p != "" {
		priority = p
	}
	tags := s.opts.Tags
	if t := optStrings(n.Options, "tags"); t != nil {
		tags = t
	}

	setHeader(req, "Title", n.Title)
	if priority != "" {
		setHeader(req, "Priority", priority)
	}
	if len(tags) > 0 {
		setHeader(req, "Tags", strings.Join(tags, ","))
	}
	for k, v := range s.opts.Headers {
		setHeader(req, k, v)
	}
	if extra, ok := n.Options["headers"].(map[string]any); ok {
		for k, v := range extra {
			if sv, ok := v.(string); ok {
				setHeader(req, k, sv)
			}
		}
	}
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy responded %d", resp.StatusCode)
	}
	return nil
}

// setHeader strips non-ASCII from the value first: ntfy rejects raw Unicode
// in headers, so anything beyond ASCII belongs in the body.
func setHeader(req *http.Request, key, val string) {
	req.Header.Set(key, stripNonASCII(val))
}

func stripNonASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 127 || r < 32 {
			return -1
		}
		return r
	}, s)
}

func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStrings reads a per-event tags override: a scalar coerces to a
// single-element list.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			out = append(out, fmt.Sprintf("%v", elem))
		}
		return out
	case string:
		return []string{v}
	case nil:
		return nil
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}
