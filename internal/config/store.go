package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/user/notifirc"
)

// ErrNotFound is returned when a named config file does not exist.
var ErrNotFound = errors.New("config not found")

// RootFileName is the root config file name searched for when no explicit
// path is given.
const RootFileName = "config.json"

// Store owns the on-disk configuration set and its in-memory mirror.
// Pipeline readers take immutable snapshots; writers go through the
// atomic-write helpers and keep the mirror in sync.
type Store struct {
	mu   sync.RWMutex
	log  notifirc.Logger
	path string // root config file
	dir  string // directory holding the category sub-directories

	root    Root
	clients map[string]Client
	servers map[string]Server
	events  map[string]Event
	sinks   map[string]Sink
}

// Snapshot is a consistent, caller-owned copy of the loaded state. Entries
// are sorted by id.
type Snapshot struct {
	Root    Root
	Clients []Client
	Servers []Server
	Events  []Event
	Sinks   []Sink
}

// SinkByID looks a sink up in the snapshot.
func (sn *Snapshot) SinkByID(id string) (Sink, bool) {
	for _, s := range sn.Sinks {
		if s.ID == id {
			return s, true
		}
	}
	return Sink{}, false
}

// ServerByID looks a server up in the snapshot.
func (sn *Snapshot) ServerByID(id string) (Server, bool) {
	for _, s := range sn.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// FindRootConfig resolves the root config path: the explicit path when
// given, otherwise config.json in the working directory, otherwise
// config/config.json.
func FindRootConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, cand := range []string{RootFileName, filepath.Join("config", RootFileName)} {
		if _, err := os.Stat(cand); err == nil {
			return cand, nil
		}
	}
	return "", fmt.Errorf("no %s found in . or ./config", RootFileName)
}

// NewStore creates a store rooted at the given config file. The file may not
// exist yet; Load creates the surrounding directory layout.
func NewStore(path string, log notifirc.Logger) *Store {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	return &Store{
		path:    path,
		dir:     filepath.Dir(path),
		log:     log,
		clients: map[string]Client{},
		servers: map[string]Server{},
		events:  map[string]Event{},
		sinks:   map[string]Sink{},
	}
}

// Path returns the root config file path.
func (s *Store) Path() string { return s.path }

// Dir returns the config directory holding the category sub-directories.
func (s *Store) Dir() string { return s.dir }

// Load reads the whole configuration set from disk and swaps it in. A file
// that fails validation is skipped (keeping any previous in-memory version);
// the load itself only fails when the root config is unreadable.
func (s *Store) Load() error {
	root, err := s.loadRoot()
	if err != nil {
		return err
	}

	dir := s.dir
	if root.ConfigDirectory != "" {
		dir = root.ConfigDirectory
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(s.path), dir)
		}
	}
	for _, cat := range Categories {
		if err := os.MkdirAll(filepath.Join(dir, cat), 0o755); err != nil {
			return fmt.Errorf("create %s directory: %w", cat, err)
		}
	}

	clients := map[string]Client{}
	servers := map[string]Server{}
	events := map[string]Event{}
	sinks := map[string]Sink{}
	rawEvents := map[string][]byte{}

	s.loadCategory(dir, CategoryClients, func(name string, raw []byte) error {
		var c Client
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		if err := ValidateClient(&c); err != nil {
			return err
		}
		clients[c.ID] = c
		return nil
	}, func(id string) bool {
		s.mu.RLock()
		old, ok := s.clients[id]
		s.mu.RUnlock()
		if ok {
			clients[id] = old
		}
		return ok
	})

	s.loadCategory(dir, CategoryServers, func(name string, raw []byte) error {
		var sv Server
		if err := json.Unmarshal(raw, &sv); err != nil {
			return err
		}
		servers[sv.ID] = sv
		return nil
	}, func(id string) bool {
		s.mu.RLock()
		old, ok := s.servers[id]
		s.mu.RUnlock()
		if ok {
			servers[id] = old
		}
		return ok
	})

	s.loadCategory(dir, CategorySinks, func(name string, raw []byte) error {
		var sk Sink
		if err := json.Unmarshal(raw, &sk); err != nil {
			return err
		}
		sinks[sk.ID] = sk
		return nil
	}, func(id string) bool {
		s.mu.RLock()
		old, ok := s.sinks[id]
		s.mu.RUnlock()
		if ok {
			sinks[id] = old
		}
		return ok
	})

	s.loadCategory(dir, CategoryEvents, func(name string, raw []byte) error {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if err := ValidateEvent(&ev); err != nil {
			return err
		}
		events[ev.ID] = ev
		rawEvents[ev.ID] = raw
		return nil
	}, func(id string) bool {
		s.mu.RLock()
		old, ok := s.events[id]
		s.mu.RUnlock()
		if ok {
			events[id] = old
		}
		return ok
	})

	// Cross-reference auto-pruning (events → sinks/servers). Pruned events
	// are persisted in their sanitized form.
	for id, ev := range events {
		sanitized, changed := pruneEvent(ev, sinks, servers)
		if !changed {
			continue
		}
		s.log.Warn("pruned stale references from event",
			"event", id,
			"sinkIds", ev.SinkIDs, "sinkIdsAfter", sanitized.SinkIDs,
			"serverIds", ev.ServerIDs, "serverIdsAfter", sanitized.ServerIDs)
		events[id] = sanitized
		if raw, ok := rawEvents[id]; ok {
			if err := s.persistPrunedEvent(dir, id, raw, sanitized); err != nil {
				s.log.Error("failed to persist pruned event", "event", id, "error", err)
			}
		}
	}

	s.mu.Lock()
	s.root = root
	s.dir = dir
	s.clients = clients
	s.servers = servers
	s.events = events
	s.sinks = sinks
	s.mu.Unlock()

	s.log.Info("configuration loaded",
		"clients", len(clients), "servers", len(servers),
		"events", len(events), "sinks", len(sinks))
	return nil
}

func (s *Store) loadRoot() (Root, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		// A fresh install starts with an empty root config.
		return Root{}, nil
	}
	if err != nil {
		return Root{}, fmt.Errorf("read root config: %w", err)
	}
	if err := ValidateRaw("root", raw); err != nil {
		return Root{}, fmt.Errorf("root config: %w", err)
	}
	var root Root
	if err := json.Unmarshal(raw, &root); err != nil {
		return Root{}, fmt.Errorf("root config: %w", err)
	}
	return root, nil
}

// loadCategory enumerates <dir>/<category>/*.json, validates each file and
// hands it to add. On failure it logs, then calls keepOld with the config's
// declared id so a previous version can be carried over; the filename is the
// fallback only when the file itself is unreadable. The in-memory maps key
// by id, so a drifted filename must not break the carry-over.
func (s *Store) loadCategory(dir, category string, add func(name string, raw []byte) error, keepOld func(id string) bool) {
	pattern := filepath.Join(dir, category, "*.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		s.log.Error("failed to list category", "category", category, "error", err)
		return
	}
	sort.Strings(paths)
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".json")
		raw, err := os.ReadFile(p)
		if err != nil {
			s.log.Error("failed to read config file", "file", p, "error", err)
			keepOld(name)
			continue
		}
		id := gjson.GetBytes(raw, "id").String()
		if id == "" {
			id = name
		}
		if err := ValidateRaw(category, raw); err != nil {
			s.log.Error("invalid config file", "file", p, "error", err)
			keepOld(id)
			continue
		}
		if id != name {
			s.log.Warn("config file name does not match its id", "file", p, "id", id)
		}
		if err := add(name, raw); err != nil {
			s.log.Error("invalid config file", "file", p, "error", err)
			keepOld(id)
			continue
		}
	}
}

// pruneEvent drops sink ids that do not exist and server ids that are
// neither "*" nor a known server, de-duplicating while preserving order.
func pruneEvent(ev Event, sinks map[string]Sink, servers map[string]Server) (Event, bool) {
	changed := false

	keepSinks := make([]string, 0, len(ev.SinkIDs))
	seen := map[string]bool{}
	for _, id := range ev.SinkIDs {
		if seen[id] {
			changed = true
			continue
		}
		seen[id] = true
		if _, ok := sinks[id]; !ok {
			changed = true
			continue
		}
		keepSinks = append(keepSinks, id)
	}

	keepServers := make([]string, 0, len(ev.ServerIDs))
	seen = map[string]bool{}
	for _, id := range ev.ServerIDs {
		if seen[id] {
			changed = true
			continue
		}
		seen[id] = true
		if id != "*" {
			if _, ok := servers[id]; !ok {
				changed = true
				continue
			}
		}
		keepServers = append(keepServers, id)
	}

	if !changed {
		return ev, false
	}
	ev.SinkIDs = keepSinks
	ev.ServerIDs = keepServers
	return ev, true
}

// persistPrunedEvent rewrites the stored file's sinkIds/serverIds in place
// via sjson, preserving any fields outside the struct surface.
func (s *Store) persistPrunedEvent(dir, id string, raw []byte, ev Event) error {
	out, err := sjson.SetBytes(raw, "sinkIds", ev.SinkIDs)
	if err != nil {
		return err
	}
	out, err = sjson.SetBytes(out, "serverIds", ev.ServerIDs)
	if err != nil {
		return err
	}
	return WriteFileAtomic(filepath.Join(dir, CategoryEvents, id+".json"), out, 0o644)
}

// Root returns a copy of the root config.
func (s *Store) Root() Root {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// SaveRoot persists a new root config and updates the mirror.
func (s *Store) SaveRoot(root Root) error {
	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	if err := ValidateRaw("root", data); err != nil {
		return err
	}
	if err := WriteFileAtomic(s.path, data, 0o644); err != nil {
		return err
	}
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
	return nil
}

// Snapshot returns a consistent copy of the loaded state, entries sorted by
// id.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sn := &Snapshot{Root: s.root}
	for _, c := range s.clients {
		sn.Clients = append(sn.Clients, c)
	}
	for _, sv := range s.servers {
		sn.Servers = append(sn.Servers, sv)
	}
	for _, ev := range s.events {
		sn.Events = append(sn.Events, ev)
	}
	for _, sk := range s.sinks {
		sn.Sinks = append(sn.Sinks, sk)
	}
	sort.Slice(sn.Clients, func(i, j int) bool { return sn.Clients[i].ID < sn.Clients[j].ID })
	sort.Slice(sn.Servers, func(i, j int) bool { return sn.Servers[i].ID < sn.Servers[j].ID })
	sort.Slice(sn.Events, func(i, j int) bool { return sn.Events[i].ID < sn.Events[j].ID })
	sort.Slice(sn.Sinks, func(i, j int) bool { return sn.Sinks[i].ID < sn.Sinks[j].ID })
	return sn
}

// ListFiles returns the category → file-name mapping found on disk.
func (s *Store) ListFiles() map[string][]string {
	out := map[string][]string{}
	for _, cat := range Categories {
		names := []string{}
		paths, _ := filepath.Glob(filepath.Join(s.Dir(), cat, "*.json"))
		sort.Strings(paths)
		for _, p := range paths {
			names = append(names, strings.TrimSuffix(filepath.Base(p), ".json"))
		}
		out[cat] = names
	}
	return out
}

// ReadFile returns the stored JSON for a category config.
func (s *Store) ReadFile(category, name string) ([]byte, error) {
	if !validCategory(category) {
		return nil, fmt.Errorf("unknown config category: %s", category)
	}
	raw, err := os.ReadFile(filepath.Join(s.Dir(), category, name+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return raw, err
}

// WriteResult describes the outcome of a config file write.
type WriteResult struct {
	ID           string `json:"id"`
	File         string `json:"file"`
	PreviousFile string `json:"previousFile,omitempty"`
	Renamed      bool   `json:"renamed"`
	UpdatedFiles int    `json:"updatedFiles,omitempty"`
	TotalFiles   int    `json:"totalFiles,omitempty"`
}

// WriteFile validates and persists a category config. The body's id is
// authoritative: when it differs from urlName the file is written under
// <id>.json, <urlName>.json is removed, and for sinks/servers the rename is
// cascaded through every event's reference lists.
func (s *Store) WriteFile(category, urlName string, raw []byte) (*WriteResult, error) {
	if !validCategory(category) {
		return nil, fmt.Errorf("unknown config category: %s", category)
	}
	urlName = strings.TrimSuffix(urlName, ".json")
	if err := ValidateRaw(category, raw); err != nil {
		return nil, err
	}
	id := gjson.GetBytes(raw, "id").String()

	// Decode (and semantically validate) before anything touches disk.
	var decoded any
	switch category {
	case CategoryClients:
		var c Client
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		if err := ValidateClient(&c); err != nil {
			return nil, err
		}
		decoded = c
	case CategoryServers:
		var sv Server
		if err := json.Unmarshal(raw, &sv); err != nil {
			return nil, err
		}
		decoded = sv
	case CategoryEvents:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if err := ValidateEvent(&ev); err != nil {
			return nil, err
		}
		decoded = ev
	case CategorySinks:
		var sk Sink
		if err := json.Unmarshal(raw, &sk); err != nil {
			return nil, err
		}
		decoded = sk
	}

	path := filepath.Join(s.Dir(), category, id+".json")
	if err := WriteFileAtomic(path, raw, 0o644); err != nil {
		return nil, err
	}

	res := &WriteResult{ID: id, File: id + ".json"}
	renamed := urlName != "" && urlName != id
	if renamed {
		res.Renamed = true
		res.PreviousFile = urlName + ".json"
		old := filepath.Join(s.Dir(), category, urlName+".json")
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Error("failed to remove renamed config file", "file", old, "error", err)
		}
	}

	s.mu.Lock()
	switch v := decoded.(type) {
	case Client:
		if renamed {
			delete(s.clients, urlName)
		}
		s.clients[id] = v
	case Server:
		if renamed {
			delete(s.servers, urlName)
		}
		s.servers[id] = v
	case Event:
		if renamed {
			delete(s.events, urlName)
		}
		s.events[id] = v
	case Sink:
		if renamed {
			delete(s.sinks, urlName)
		}
		s.sinks[id] = v
	}
	s.mu.Unlock()

	if renamed {
		switch category {
		case CategorySinks:
			res.UpdatedFiles, res.TotalFiles = s.cascadeEvents("sinkIds", urlName, &id)
		case CategoryServers:
			res.UpdatedFiles, res.TotalFiles = s.cascadeEvents("serverIds", urlName, &id)
		}
	}
	return res, nil
}

// CascadeResult reports how many event files a cascade touched.
type CascadeResult struct {
	UpdatedFiles int `json:"updatedFiles"`
	TotalFiles   int `json:"totalFiles"`
}

// DeleteResult describes the outcome of a config file delete.
type DeleteResult struct {
	Deleted bool           `json:"deleted"`
	Cascade *CascadeResult `json:"cascade,omitempty"`
}

// DeleteFile removes a category config (plus any legacy non-JSON sibling)
// and, for sinks and servers, rewrites every event referencing the id. The
// file is addressed by name, but the in-memory maps and event references key
// by the config's declared id, which a drifted filename need not match — so
// the id is read from the file before it goes away.
func (s *Store) DeleteFile(category, name string) (*DeleteResult, error) {
	if !validCategory(category) {
		return nil, fmt.Errorf("unknown config category: %s", category)
	}
	name = strings.TrimSuffix(name, ".json")
	path := filepath.Join(s.Dir(), category, name+".json")

	id := name
	if raw, err := os.ReadFile(path); err == nil {
		if v := gjson.GetBytes(raw, "id").String(); v != "" {
			id = v
		}
	}

	res := &DeleteResult{}
	err := os.Remove(path)
	switch {
	case err == nil:
		res.Deleted = true
	case errors.Is(err, os.ErrNotExist):
		res.Deleted = false
	default:
		return nil, fmt.Errorf("delete %s: %w", path, err)
	}

	// Older installations kept sidecar files next to the JSON config.
	siblings, _ := filepath.Glob(filepath.Join(s.Dir(), category, name+".*"))
	for _, sib := range siblings {
		if strings.HasSuffix(sib, ".json") {
			continue
		}
		_ = os.Remove(sib)
	}

	s.mu.Lock()
	switch category {
	case CategoryClients:
		delete(s.clients, id)
	case CategoryServers:
		delete(s.servers, id)
	case CategoryEvents:
		delete(s.events, id)
	case CategorySinks:
		delete(s.sinks, id)
	}
	s.mu.Unlock()

	switch category {
	case CategorySinks:
		updated, total := s.cascadeEvents("sinkIds", id, nil)
		res.Cascade = &CascadeResult{UpdatedFiles: updated, TotalFiles: total}
	case CategoryServers:
		updated, total := s.cascadeEvents("serverIds", id, nil)
		res.Cascade = &CascadeResult{UpdatedFiles: updated, TotalFiles: total}
	}
	return res, nil
}

// cascadeEvents rewrites the given reference list in every stored event:
// with newID nil the old id is removed, otherwise it is replaced. The
// wildcard "*" in serverIds is never touched. Returns (updated, total)
// event file counts.
func (s *Store) cascadeEvents(field, oldID string, newID *string) (int, int) {
	paths, _ := filepath.Glob(filepath.Join(s.Dir(), CategoryEvents, "*.json"))
	sort.Strings(paths)
	updated := 0
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			s.log.Error("cascade: failed to read event", "file", p, "error", err)
			continue
		}
		list := gjson.GetBytes(raw, field)
		if !list.IsArray() {
			continue
		}
		out := []string{}
		changed := false
		for _, elem := range list.Array() {
			v := elem.String()
			if v == oldID && v != "*" {
				changed = true
				if newID != nil {
					out = append(out, *newID)
				}
				continue
			}
			out = append(out, v)
		}
		if !changed {
			continue
		}
		edited, err := sjson.SetBytes(raw, field, out)
		if err != nil {
			s.log.Error("cascade: failed to edit event", "file", p, "error", err)
			continue
		}
		if err := WriteFileAtomic(p, edited, 0o644); err != nil {
			s.log.Error("cascade: failed to write event", "file", p, "error", err)
			continue
		}
		updated++

		var ev Event
		if err := json.Unmarshal(edited, &ev); err == nil {
			s.mu.Lock()
			s.events[ev.ID] = ev
			s.mu.Unlock()
		}
		s.log.Info("cascaded reference update", "file", filepath.Base(p), "field", field, "removed", oldID)
	}
	return updated, len(paths)
}

func validCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// WriteFileAtomic writes data to a sibling temp file and renames it into
// place. The temp file is removed on any failure.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// DeleteQuiet unlinks a file and reports whether it existed.
func DeleteQuiet(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
