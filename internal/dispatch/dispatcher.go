// Package dispatch fans matched events out to their sinks: per-sink rate
// limiting, template resolution and delivery, plus the sink factory and the
// custom-kind registry.
package dispatch

import (
	"context"
	"sort"
	"time"

	"github.com/user/notifirc"
	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/internal/metrics"
	"github.com/user/notifirc/pkg/record"
	"github.com/user/notifirc/pkg/template"
)

// Default templates when neither the event nor the sink declares one.
const (
	defaultTitleTemplate = "{{event.name}}"
	defaultBodyTemplate  = "{{message.content}}"
)

// DeliveryTimeout bounds a single sink delivery.
const DeliveryTimeout = 30 * time.Second

// entry pairs a sink instance with its config and rate-limit history.
type entry struct {
	cfg      config.Sink
	instance notifirc.Sink
	limit    *limiter
}

// Delivered is an optional observer invoked after every successful
// delivery (metrics, live stream).
type Delivered func(n *notifirc.Notification)

// Dispatcher routes (record, matched event) pairs to sink instances. The
// sink set is fixed at construction; reloads build a new dispatcher,
// carrying surviving instances over via the factory.
type Dispatcher struct {
	log       notifirc.Logger
	sinks     map[string]*entry
	delivered Delivered
}

// NewDispatcher wraps initialized sink instances keyed by sink id.
func NewDispatcher(sinks map[string]SinkInstance, log notifirc.Logger, delivered Delivered) *Dispatcher {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	d := &Dispatcher{log: log, sinks: map[string]*entry{}, delivered: delivered}
	for id, si := range sinks {
		d.sinks[id] = &entry{cfg: si.Config, instance: si.Sink, limit: newLimiter()}
	}
	return d
}

// SinkInstance couples an initialized sink with the config it was built
// from.
type SinkInstance struct {
	Config config.Sink
	Sink   notifirc.Sink
}

// SinkIDs returns the dispatcher's sink ids, sorted.
func (d *Dispatcher) SinkIDs() []string {
	ids := make([]string, 0, len(d.sinks))
	for id := range d.sinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispatch delivers one matched event: walk its sinkIds in order, skip
// missing or disabled sinks silently, rate-limit, render, send. A failed
// delivery is logged and does not stop the remaining sinks.
func (d *Dispatcher) Dispatch(ctx context.Context, r *record.Record, ev config.Event) {
	for _, sinkID := range ev.SinkIDs {
		e, ok := d.sinks[sinkID]
		if !ok || !e.cfg.IsEnabled() {
			continue
		}
		if !e.limit.allow(e.cfg.RateLimit) {
			d.log.Debug("rate limit reached, dropping notification",
				"sink", sinkID, "event", ev.ID)
			metrics.NotificationsDropped.WithLabelValues(sinkID, "rate_limit").Inc()
			continue
		}

		n := d.render(r, ev, e)
		sctx, cancel := context.WithTimeout(ctx, DeliveryTimeout)
		err := e.instance.Send(sctx, n)
		cancel()
		if err != nil {
			d.log.Error("sink delivery failed",
				"sink", sinkID, "event", ev.ID, "error", err)
			metrics.NotificationsDropped.WithLabelValues(sinkID, "error").Inc()
			continue
		}
		e.limit.record()
		metrics.NotificationsDelivered.WithLabelValues(sinkID).Inc()
		d.log.Debug("notification delivered", "sink", sinkID, "event", ev.ID)
		if d.delivered != nil {
			d.delivered(n)
		}
	}
}

// render resolves the title/body templates for one sink call. Precedence:
// the event's per-sink override, then the sink's template record, then the
// defaults. The event's host override is merged onto a copy of the record
// so later sinks see unmodified context.
func (d *Dispatcher) render(r *record.Record, ev config.Event, e *entry) *notifirc.Notification {
	options := sinkOptions(ev, e.cfg.ID)

	scoped := r
	if host, ok := ev.Metadata["host"].(map[string]any); ok && len(host) > 0 {
		scoped = r.Clone()
		applyHostOverride(scoped, host)
	}

	ctx := scoped.Context()
	info := notifirc.EventInfo{ID: ev.ID, Name: ev.Name, BaseEvent: ev.BaseEvent}
	ctx["event"] = map[string]any{
		"id":        info.ID,
		"name":      info.Name,
		"baseEvent": info.BaseEvent,
	}

	titleTmpl := stringOption(options, "title")
	if titleTmpl == "" && e.cfg.Template != nil {
		titleTmpl = e.cfg.Template.Title
	}
	if titleTmpl == "" {
		titleTmpl = defaultTitleTemplate
	}
	bodyTmpl := stringOption(options, "body")
	if bodyTmpl == "" && e.cfg.Template != nil {
		bodyTmpl = e.cfg.Template.Body
	}
	if bodyTmpl == "" {
		bodyTmpl = defaultBodyTemplate
	}

	format := ""
	if e.cfg.Template != nil {
		format = e.cfg.Template.Format
	}
	return &notifirc.Notification{
		SinkID:        e.cfg.ID,
		Title:         template.Expand(titleTmpl, ctx),
		Body:          template.Expand(bodyTmpl, ctx),
		Format:        format,
		Event:         info,
		Record:        scoped,
		Options:       options,
		EventMetadata: ev.Metadata,
	}
}

// sinkOptions extracts the event's metadata.sink[sinkId] mapping.
func sinkOptions(ev config.Event, sinkID string) map[string]any {
	sinks, ok := ev.Metadata["sink"].(map[string]any)
	if !ok {
		return nil
	}
	opts, _ := sinks[sinkID].(map[string]any)
	return opts
}

func stringOption(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// applyHostOverride writes the event's host mapping onto the record's
// server fields; unknown keys go to server metadata.
func applyHostOverride(r *record.Record, host map[string]any) {
	for k, v := range host {
		s, isStr := v.(string)
		switch k {
		case "id":
			if isStr {
				r.Server.ID = s
			}
		case "hostname":
			if isStr {
				r.Server.Hostname = s
			}
		case "displayName":
			if isStr {
				r.Server.DisplayName = s
			}
		case "clientNickname":
			if isStr {
				r.Server.ClientNickname = s
			}
		case "network":
			if isStr {
				r.Server.Network = s
			}
		case "port":
			switch p := v.(type) {
			case float64:
				r.Server.Port = int(p)
			case int:
				r.Server.Port = p
			}
		default:
			if r.Server.Metadata == nil {
				r.Server.Metadata = map[string]any{}
			}
			r.Server.Metadata[k] = v
		}
	}
}
