package api

import (
	"net/http"
	"sort"

	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/internal/processor"
	"github.com/user/notifirc/pkg/filter"
	"github.com/user/notifirc/pkg/template"
)

type categorySummary struct {
	Total   int              `json:"total"`
	Enabled int              `json:"enabled"`
	List    []map[string]any `json:"list"`
}

// status reports the runtime and per-category config summary.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	sn := s.orch.Store().Snapshot()

	clients := categorySummary{}
	for _, c := range sn.Clients {
		clients.Total++
		if c.IsEnabled() {
			clients.Enabled++
		}
		clients.List = append(clients.List, map[string]any{
			"id": c.ID, "enabled": c.IsEnabled(), "type": c.Type, "name": c.Name,
		})
	}
	servers := categorySummary{}
	for _, sv := range sn.Servers {
		servers.Total++
		if sv.IsEnabled() {
			servers.Enabled++
		}
		servers.List = append(servers.List, map[string]any{
			"id": sv.ID, "enabled": sv.IsEnabled(), "hostname": sv.Hostname, "displayName": sv.DisplayName,
		})
	}
	events := categorySummary{}
	for _, ev := range sn.Events {
		events.Total++
		if ev.IsEnabled() {
			events.Enabled++
		}
		events.List = append(events.List, map[string]any{
			"id": ev.ID, "enabled": ev.IsEnabled(), "baseEvent": ev.BaseEvent, "priority": ev.Priority,
		})
	}
	sinks := categorySummary{}
	for _, sk := range sn.Sinks {
		sinks.Total++
		if sk.IsEnabled() {
			sinks.Enabled++
		}
		sinks.List = append(sinks.List, map[string]any{
			"id": sk.ID, "enabled": sk.IsEnabled(), "kind": sk.Kind, "name": sk.Name,
		})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"running":         s.orch.Running(),
		"reloading":       s.orch.Reloading(),
		"clients":         clients,
		"servers":         servers,
		"events":          events,
		"sinks":           sinks,
		"watchers":        s.orch.WatcherCount(),
		"configPath":      s.orch.Store().Path(),
		"configDirectory": s.orch.Store().Dir(),
	})
}

// dataFlow renders the full routing graph: analyzed components plus the
// client × server × event × sinks cross-product.
func (s *Server) dataFlow(w http.ResponseWriter, r *http.Request) {
	sn := s.orch.Store().Snapshot()

	clients := make([]map[string]any, 0, len(sn.Clients))
	for _, c := range sn.Clients {
		rules := make([]map[string]any, 0, len(c.ParserRules))
		for _, rule := range c.ParserRules {
			rules = append(rules, map[string]any{
				"name":        rule.Name,
				"priority":    rule.Priority,
				"skip":        rule.Skip,
				"messageType": rule.MessageType,
				"fields":      capturedFields(rule),
			})
		}
		clients = append(clients, map[string]any{
			"id": c.ID, "name": c.Name, "type": c.Type, "enabled": c.IsEnabled(),
			"logDirectory": c.LogDirectory, "parserRules": rules,
		})
	}

	servers := make([]map[string]any, 0, len(sn.Servers))
	for _, sv := range sn.Servers {
		servers = append(servers, map[string]any{
			"id": sv.ID, "hostname": sv.Hostname, "displayName": sv.DisplayName,
			"network": sv.Network, "enabled": sv.IsEnabled(),
		})
	}

	sinks := make([]map[string]any, 0, len(sn.Sinks))
	for _, sk := range sn.Sinks {
		entry := map[string]any{
			"id": sk.ID, "kind": sk.Kind, "name": sk.Name, "enabled": sk.IsEnabled(),
			"rateLimited":    sk.RateLimit != nil,
			"templateFields": sinkTemplateFields(sk),
		}
		sinks = append(sinks, entry)
	}

	events := make([]map[string]any, 0, len(sn.Events))
	for _, ev := range sn.Events {
		depth, leaves := filterComplexity(ev.Filters)
		events = append(events, map[string]any{
			"id": ev.ID, "name": ev.Name, "baseEvent": ev.BaseEvent,
			"enabled": ev.IsEnabled(), "priority": ev.Priority,
			"filterComplexity":     depth + leaves,
			"metadataUsesTemplate": valueUsesTemplate(ev.Metadata),
		})
	}

	paths := buildPaths(sn)

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"statistics": map[string]any{
			"clients": len(sn.Clients), "servers": len(sn.Servers),
			"events": len(sn.Events), "sinks": len(sn.Sinks),
			"paths": len(paths), "watchers": s.orch.WatcherCount(),
		},
		"clients":    clients,
		"servers":    servers,
		"sinks":      sinks,
		"events":     events,
		"paths":      paths,
		"baseEvents": processor.BaseEventMessageTypes,
	})
}

// buildPaths expands the routing cross-product. Disabled components stay in
// the listing with enabled=false. Sorted by event priority descending, then
// event name ascending.
func buildPaths(sn *config.Snapshot) []map[string]any {
	sinkByID := map[string]config.Sink{}
	for _, sk := range sn.Sinks {
		sinkByID[sk.ID] = sk
	}

	var paths []map[string]any
	for _, ev := range sn.Events {
		anySinkEnabled := false
		for _, id := range ev.SinkIDs {
			if sk, ok := sinkByID[id]; ok && sk.IsEnabled() {
				anySinkEnabled = true
				break
			}
		}
		for _, c := range sn.Clients {
			for _, sv := range sn.Servers {
				if !eventAppliesToServer(ev, sv.ID) {
					continue
				}
				paths = append(paths, map[string]any{
					"client":        c.ID,
					"server":        sv.ID,
					"event":         ev.ID,
					"eventName":     ev.Name,
					"eventPriority": ev.Priority,
					"sinks":         ev.SinkIDs,
					"enabled": c.IsEnabled() && sv.IsEnabled() &&
						ev.IsEnabled() && anySinkEnabled,
				})
			}
		}
	}
	sort.SliceStable(paths, func(i, j int) bool {
		pi, pj := paths[i]["eventPriority"].(int), paths[j]["eventPriority"].(int)
		if pi != pj {
			return pi > pj
		}
		return paths[i]["eventName"].(string) < paths[j]["eventName"].(string)
	})
	return paths
}

func eventAppliesToServer(ev config.Event, serverID string) bool {
	if len(ev.ServerIDs) == 0 {
		return true
	}
	for _, id := range ev.ServerIDs {
		if id == "*" || id == serverID {
			return true
		}
	}
	return false
}

// capturedFields analyzes one parser rule: named capture groups and the
// semantic fields they bind to.
func capturedFields(rule config.ParserRule) []map[string]string {
	re, err := filter.CompilePattern(rule.Pattern, rule.Flags)
	if err != nil {
		return nil
	}
	var out []map[string]string
	for _, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		field := name
		if mapped, ok := rule.Fields[name]; ok {
			field = mapped
		}
		out = append(out, map[string]string{"capture": name, "field": field})
	}
	return out
}

func sinkTemplateFields(sk config.Sink) []string {
	if sk.Template == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, tmpl := range []string{sk.Template.Title, sk.Template.Body} {
		for _, ref := range template.ExtractRefs(tmpl) {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	return out
}

// filterComplexity scores a filter tree by depth and leaf count.
func filterComplexity(n *filter.Node) (depth, leaves int) {
	if n == nil {
		return 0, 0
	}
	if !n.IsGroup() {
		return 1, 1
	}
	maxChild := 0
	for i := range n.Filters {
		d, l := filterComplexity(&n.Filters[i])
		if d > maxChild {
			maxChild = d
		}
		leaves += l
	}
	return maxChild + 1, leaves
}

// valueUsesTemplate walks a metadata value looking for {{...}} references.
func valueUsesTemplate(v any) bool {
	switch val := v.(type) {
	case string:
		return template.HasRefs(val)
	case map[string]any:
		for _, elem := range val {
			if valueUsesTemplate(elem) {
				return true
			}
		}
	case []any:
		for _, elem := range val {
			if valueUsesTemplate(elem) {
				return true
			}
		}
	}
	return false
}
