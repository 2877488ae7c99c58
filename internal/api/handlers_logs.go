package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/user/notifirc/internal/processor"
	"github.com/user/notifirc/pkg/record"
)

// logTarget is one browsable log file with its extracted IRC context.
type logTarget struct {
	Client       string    `json:"client"`
	Path         string    `json:"path"`
	Target       string    `json:"target"`
	TargetType   string    `json:"targetType"`
	Server       string    `json:"server,omitempty"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// collectTargets enumerates every watched client's log files with target and
// server context resolved from the path.
func (s *Server) collectTargets(clientID, serverID string) []logTarget {
	sn := s.orch.Store().Snapshot()
	var out []logTarget
	for id, a := range s.orch.Adapters() {
		if clientID != "" && !strings.EqualFold(id, clientID) {
			continue
		}
		paths, err := a.ListLogPaths()
		if err != nil {
			s.log.Warn("listing log paths failed", "client", id, "error", err)
			continue
		}
		for _, p := range paths {
			info, err := os.Stat(p)
			if err != nil {
				continue
			}
			ctx := a.ExtractContextFromPath(p)
			tgt := logTarget{
				Client:       id,
				Path:         p,
				Size:         info.Size(),
				LastModified: info.ModTime(),
			}
			if ctx.Target != nil {
				tgt.Target = ctx.Target.Name
				tgt.TargetType = ctx.Target.Type
			}
			if sv := processor.MatchServer(ctx.MetaString("serverHostname"),
				ctx.MetaString("serverIdentifier"), sn.Servers); sv != nil {
				tgt.Server = sv.ID
			}
			if serverID != "" && !strings.EqualFold(tgt.Server, serverID) {
				continue
			}
			out = append(out, tgt)
		}
	}
	sortTargets(out)
	return out
}

// sortTargets orders console targets first, then channels, then queries,
// alphabetically within each group.
func sortTargets(targets []logTarget) {
	rank := func(t string) int {
		switch t {
		case record.TargetConsole:
			return 0
		case record.TargetChannel:
			return 1
		case record.TargetQuery:
			return 2
		}
		return 3
	}
	sort.SliceStable(targets, func(i, j int) bool {
		ri, rj := rank(targets[i].TargetType), rank(targets[j].TargetType)
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(targets[i].Target) < strings.ToLower(targets[j].Target)
	})
}

func (s *Server) logTargets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targets := s.collectTargets(q.Get("clientId"), q.Get("serverId"))
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"total":   len(targets),
		"targets": targets,
	})
}

// matchTargetFilters applies the discover/messages query filters, all
// case-insensitive.
func matchTargetFilters(t logTarget, q map[string]string) bool {
	if v := q["type"]; v != "" && !strings.EqualFold(t.TargetType, v) {
		return false
	}
	if v := q["server"]; v != "" && !strings.EqualFold(t.Server, v) {
		return false
	}
	if v := q["channel"]; v != "" &&
		!(t.TargetType == record.TargetChannel && strings.EqualFold(t.Target, v)) {
		return false
	}
	if v := q["query"]; v != "" &&
		!(t.TargetType == record.TargetQuery && strings.EqualFold(t.Target, v)) {
		return false
	}
	return true
}

func targetFilters(r *http.Request) map[string]string {
	q := r.URL.Query()
	return map[string]string{
		"type":    q.Get("type"),
		"server":  q.Get("server"),
		"channel": q.Get("channel"),
		"query":   q.Get("query"),
	}
}

// logDiscover groups every known log file by client.
func (s *Server) logDiscover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := targetFilters(r)

	grouped := map[string][]logTarget{}
	for _, t := range s.collectTargets(q.Get("clientId"), q.Get("serverId")) {
		if !matchTargetFilters(t, filters) {
			continue
		}
		grouped[t.Client] = append(grouped[t.Client], t)
	}
	clients := make([]map[string]any, 0, len(grouped))
	for id, a := range s.orch.Adapters() {
		if cid := q.Get("clientId"); cid != "" && !strings.EqualFold(id, cid) {
			continue
		}
		clients = append(clients, map[string]any{
			"client":       id,
			"logDirectory": a.LogDirectory(),
			"files":        grouped[id],
		})
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i]["client"].(string) < clients[j]["client"].(string)
	})
	s.writeJSON(w, r, http.StatusOK, map[string]any{"clients": clients})
}

// logMessages pages through the most recently modified log file matching a
// target name.
func (s *Server) logMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("target")
	if name == "" {
		s.jsonError(w, http.StatusBadRequest, "target is required")
		return
	}
	offset := intParam(q.Get("offset"), 0)
	limit := intParam(q.Get("limit"), 100)
	filters := targetFilters(r)

	var pick *logTarget
	for _, t := range s.collectTargets(q.Get("clientId"), q.Get("serverId")) {
		if !strings.EqualFold(t.Target, name) || !matchTargetFilters(t, filters) {
			continue
		}
		t := t
		if pick == nil || t.LastModified.After(pick.LastModified) {
			pick = &t
		}
	}
	if pick == nil {
		s.jsonError(w, http.StatusNotFound, "no log file for target %q", name)
		return
	}

	total, window, hasMore, info, err := s.readWindow(pick.Path, offset, limit)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"target":        pick.Target,
		"path":          pick.Path,
		"totalLines":    total,
		"offset":        offset,
		"limit":         limit,
		"returnedLines": len(window),
		"hasMore":       hasMore,
		"fileSize":      info.Size(),
		"lastModified":  info.ModTime(),
		"lines":         window,
	})
}

// logRead returns a window of an arbitrary log file by path.
func (s *Server) logRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path, ok := s.resolveLogPath(q.Get("path"))
	if !ok {
		s.jsonError(w, http.StatusForbidden, "path is outside the configured log directories")
		return
	}
	offset := intParam(q.Get("offset"), 0)
	limit := intParam(q.Get("limit"), 10000)

	total, window, hasMore, info, err := s.readWindow(path, offset, limit)
	if err != nil {
		s.jsonError(w, http.StatusNotFound, "%v", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"path":          path,
		"totalLines":    total,
		"offset":        offset,
		"limit":         limit,
		"returnedLines": len(window),
		"hasMore":       hasMore,
		"fileSize":      info.Size(),
		"modified":      info.ModTime(),
		"lines":         window,
	})
}

// logTail returns the last N lines of a log file.
func (s *Server) logTail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path, ok := s.resolveLogPath(q.Get("path"))
	if !ok {
		s.jsonError(w, http.StatusForbidden, "path is outside the configured log directories")
		return
	}
	requested := intParam(q.Get("lines"), 100)
	if requested < 0 {
		requested = 0
	}

	total, all, _, info, err := s.readWindow(path, 0, 0)
	if err != nil {
		s.jsonError(w, http.StatusNotFound, "%v", err)
		return
	}
	start := total - requested
	if start < 0 {
		start = 0
	}
	window := all[start:]
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"path":           path,
		"totalLines":     total,
		"requestedLines": requested,
		"returnedLines":  len(window),
		"fileSize":       info.Size(),
		"modified":       info.ModTime(),
		"lines":          window,
	})
}

// readWindow reads the file and slices [offset, offset+limit) out of its
// lines. A limit of 0 means "to the end".
func (s *Server) readWindow(path string, offset, limit int) (total int, window []string, hasMore bool, info os.FileInfo, err error) {
	info, err = os.Stat(path)
	if err != nil {
		return 0, nil, false, nil, fmt.Errorf("log file not found")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, false, nil, fmt.Errorf("read log file: %w", err)
	}
	lines := splitLines(raw)
	total = len(lines)

	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return total, lines[offset:end], end < total, info, nil
}

// resolveLogPath cleans the requested path and verifies it sits inside one
// of the enabled clients' log directories.
func (s *Server) resolveLogPath(p string) (string, bool) {
	if p == "" {
		return "", false
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", false
	}
	for _, a := range s.orch.Adapters() {
		dir, err := filepath.Abs(a.LogDirectory())
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(dir, abs)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return abs, true
	}
	return "", false
}

func splitLines(raw []byte) []string {
	text := strings.TrimSuffix(string(raw), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
