package dispatch

import (
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/user/notifirc"
	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/pkg/sink/console"
	"github.com/user/notifirc/pkg/sink/file"
	"github.com/user/notifirc/pkg/sink/ntfy"
	"github.com/user/notifirc/pkg/sink/webhook"
)

// CustomConstructor builds a sink for a registered custom kind.
type CustomConstructor func(cfg config.Sink, log notifirc.Logger) (notifirc.Sink, error)

var (
	customMu sync.RWMutex
	customs  = map[string]CustomConstructor{}
)

// RegisterCustom makes a constructor available to sinks of kind "custom"
// whose config names it. Tests use this to capture deliveries in memory.
func RegisterCustom(name string, ctor CustomConstructor) {
	customMu.Lock()
	defer customMu.Unlock()
	customs[name] = ctor
}

// NewSink constructs an uninitialized sink instance from its config.
func NewSink(cfg config.Sink, log notifirc.Logger) (notifirc.Sink, error) {
	switch cfg.Kind {
	case config.SinkKindConsole:
		return console.New(templateFormat(cfg), os.Stdout, log), nil

	case config.SinkKindNtfy:
		opts := ntfy.Options{
			Endpoint: cfgString(cfg, "endpoint"),
			Topic:    cfgString(cfg, "topic"),
			Token:    cfgString(cfg, "token"),
			Priority: cfgString(cfg, "priority"),
			Tags:     cfgStrings(cfg, "tags"),
			Headers:  cfgStringMap(cfg, "headers"),
		}
		if opts.Endpoint == "" || opts.Topic == "" {
			return nil, fmt.Errorf("sink %s: ntfy needs endpoint and topic", cfg.ID)
		}
		return ntfy.New(opts, http.DefaultClient, log), nil

	case config.SinkKindWebhook:
		opts := webhook.Options{
			URL:     cfgString(cfg, "url"),
			Method:  cfgString(cfg, "method"),
			Format:  cfgString(cfg, "format"),
			Headers: cfgStringMap(cfg, "headers"),
		}
		if opts.URL == "" {
			return nil, fmt.Errorf("sink %s: webhook needs a url", cfg.ID)
		}
		return webhook.New(opts, http.DefaultClient, log), nil

	case config.SinkKindFile:
		path := cfgString(cfg, "path")
		if path == "" {
			return nil, fmt.Errorf("sink %s: file sink needs a path", cfg.ID)
		}
		appendMode := true
		if v, ok := cfg.Config["append"].(bool); ok {
			appendMode = v
		}
		return file.New(path, appendMode, cfgString(cfg, "format"), log), nil

	case config.SinkKindCustom:
		name := cfgString(cfg, "name")
		if name == "" {
			name = cfg.ID
		}
		customMu.RLock()
		ctor, ok := customs[name]
		customMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("sink %s: no custom kind registered as %q", cfg.ID, name)
		}
		return ctor(cfg, log)

	default:
		return nil, fmt.Errorf("sink %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
}

func templateFormat(cfg config.Sink) string {
	if cfg.Template != nil {
		return cfg.Template.Format
	}
	return ""
}

func cfgString(cfg config.Sink, key string) string {
	s, _ := cfg.Config[key].(string)
	return s
}

func cfgStrings(cfg config.Sink, key string) []string {
	switch v := cfg.Config[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			if s, ok := elem.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

func cfgStringMap(cfg config.Sink, key string) map[string]string {
	m, ok := cfg.Config[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
