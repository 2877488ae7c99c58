// Package processor enriches parsed records with server and user context
// and matches them against the configured event rules.
package processor

import (
	"sort"
	"strings"

	"github.com/user/notifirc"
	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/pkg/filter"
	"github.com/user/notifirc/pkg/record"
	"github.com/user/notifirc/pkg/template"
)

// Reserved identifiers for the development traffic generator: records from
// the dev client are rerouted to the capture sink regardless of what the
// matched events configure.
const (
	DevClientID = "dev-generator"
	DevSinkID   = "dev-capture"
)

// BaseEventMessageTypes maps a base-event tag to the message types it
// admits. "any" is absent: it matches everything.
var BaseEventMessageTypes = map[string][]string{
	"message":    {"privmsg", "notice"},
	"join":       {"join"},
	"part":       {"part"},
	"quit":       {"quit"},
	"nick":       {"nick"},
	"kick":       {"kick"},
	"mode":       {"mode"},
	"topic":      {"topic"},
	"connect":    {"system"},
	"disconnect": {"system"},
}

// Processor matches enriched records against event rules. It is immutable
// after construction; reloads build a new one.
type Processor struct {
	log     notifirc.Logger
	events  []config.Event
	servers []config.Server
	eval    *filter.Evaluator
}

// New builds a processor from the current config state. Events are filtered
// to enabled and sorted by descending priority (stable, so config order
// breaks ties). The server list keeps disabled entries so their records can
// be rejected cleanly.
func New(events []config.Event, servers []config.Server, log notifirc.Logger) *Processor {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	active := make([]config.Event, 0, len(events))
	for _, ev := range events {
		if ev.IsEnabled() {
			active = append(active, ev)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})
	return &Processor{
		log:     log,
		events:  active,
		servers: servers,
		eval:    filter.NewEvaluator(log),
	}
}

// ProcessMessage enriches the record in place and returns every matching
// event, in priority order, each with its metadata template-expanded
// against the enriched record. A record bound to a disabled server matches
// nothing.
func (p *Processor) ProcessMessage(r *record.Record) []config.Event {
	server := p.enrich(r)
	if server != nil && !server.IsEnabled() {
		p.log.Debug("dropping record for disabled server",
			"server", server.ID, "client", r.Client.ID)
		return nil
	}

	var matched []config.Event
	var ctx map[string]any
	for i := range p.events {
		ev := p.events[i]
		if !p.baseEventMatches(ev.BaseEvent, r) {
			continue
		}
		if !serverIDMatches(ev.ServerIDs, r.Server.ID) {
			continue
		}
		if ev.Filters != nil {
			if ctx == nil {
				ctx = r.Context()
			}
			if !p.eval.Evaluate(ev.Filters, ctx) {
				continue
			}
		}
		if len(ev.Metadata) > 0 {
			if ctx == nil {
				ctx = r.Context()
			}
			expanded, _ := template.ExpandDeep(ev.Metadata, ctx).(map[string]any)
			ev.Metadata = expanded
		}
		if r.Client.ID == DevClientID {
			ev.SinkIDs = []string{DevSinkID}
		}
		matched = append(matched, ev)
	}
	return matched
}

// enrich locates the record's server and copies the config's display fields
// and metadata onto it. Returns the matched server config, or nil.
func (p *Processor) enrich(r *record.Record) *config.Server {
	server := p.findServer(r)
	if server == nil {
		return nil
	}

	r.Server = record.Server{
		ID:             server.ID,
		Hostname:       server.Hostname,
		DisplayName:    server.DisplayName,
		ClientNickname: server.ClientNickname,
		Network:        server.Network,
		Port:           server.Port,
		Metadata:       server.Metadata,
	}
	for k, v := range server.Metadata {
		r.SetMeta(k, v)
	}
	if r.Sender != nil && r.Sender.Nickname != "" {
		if user, ok := server.Users[r.Sender.Nickname]; ok {
			if r.Sender.Realname == "" {
				r.Sender.Realname = user.Realname
			}
			if len(r.Sender.Modes) == 0 {
				r.Sender.Modes = user.Modes
			}
			// User metadata wins over server metadata on key conflicts.
			for k, v := range user.Metadata {
				r.SetMeta(k, v)
			}
		}
	}
	return server
}

func (p *Processor) findServer(r *record.Record) *config.Server {
	return MatchServer(r.MetaString("serverHostname"), r.MetaString("serverIdentifier"), p.servers)
}

// MatchServer resolves a client-emitted hostname/identifier pair to a
// server config. Strategies are tried in order — exact hostname, uuid (full
// then partial), display name equality, id equality, display name prefix,
// id substring — and within a strategy servers are scanned in config order;
// the first hit wins.
func MatchServer(hostname, ident string, servers []config.Server) *config.Server {
	if hostname != "" {
		for i := range servers {
			if servers[i].Hostname == hostname {
				return &servers[i]
			}
		}
	}
	if ident == "" {
		return nil
	}

	for i := range servers {
		uuid := serverUUID(&servers[i])
		if uuid == "" {
			continue
		}
		if uuid == ident || partialUUID(uuid) == ident {
			return &servers[i]
		}
	}
	for i := range servers {
		if strings.EqualFold(servers[i].DisplayName, ident) {
			return &servers[i]
		}
	}
	for i := range servers {
		if strings.EqualFold(servers[i].ID, ident) {
			return &servers[i]
		}
	}
	lower := strings.ToLower(ident)
	for i := range servers {
		dn := strings.ToLower(servers[i].DisplayName)
		if dn != "" && strings.HasPrefix(dn, lower) {
			return &servers[i]
		}
	}
	for i := range servers {
		if strings.Contains(strings.ToLower(servers[i].ID), lower) {
			return &servers[i]
		}
	}
	return nil
}

func serverUUID(s *config.Server) string {
	v, _ := s.Metadata["uuid"].(string)
	return v
}

// partialUUID returns the last three hyphen-separated segments of a uuid, a
// shortened form some client families emit as the server identifier.
func partialUUID(uuid string) string {
	parts := strings.Split(uuid, "-")
	if len(parts) <= 3 {
		return uuid
	}
	return strings.Join(parts[len(parts)-3:], "-")
}

func (p *Processor) baseEventMatches(base string, r *record.Record) bool {
	if base == "any" {
		return true
	}
	if r.Message == nil {
		return false
	}
	for _, mt := range BaseEventMessageTypes[base] {
		if r.Message.Type == mt {
			return true
		}
	}
	return false
}

func serverIDMatches(ids []string, serverID string) bool {
	if len(ids) == 0 {
		return true
	}
	for _, id := range ids {
		if id == "*" || id == serverID {
			return true
		}
	}
	return false
}
