package adapter

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"

	"github.com/user/notifirc/internal/config"
)

// DiscoverServers enumerates the servers this client knows about, per the
// configured discovery mode. A client without a serverDiscovery record
// discovers nothing.
func (a *Adapter) DiscoverServers() ([]config.Server, error) {
	sd := a.cfg.ServerDiscovery
	if sd == nil {
		return nil, nil
	}
	switch sd.Mode {
	case config.DiscoverStatic:
		return sd.Servers, nil
	case config.DiscoverFilesystem:
		return a.discoverFilesystem(sd)
	case config.DiscoverJSON:
		return a.discoverJSON(sd)
	case config.DiscoverSQLite:
		return a.discoverSQLite(sd)
	default:
		return nil, fmt.Errorf("client %s: unknown server discovery mode %q", a.cfg.ID, sd.Mode)
	}
}

// discoverFilesystem globs under the log directory, reads each match as text
// and collects every hostname the declared pattern captures.
func (a *Adapter) discoverFilesystem(sd *config.ServerDiscovery) ([]config.Server, error) {
	re, err := regexp.Compile(sd.HostnamePattern)
	if err != nil {
		return nil, fmt.Errorf("client %s: hostnamePattern: %w", a.cfg.ID, err)
	}
	paths, err := filepath.Glob(filepath.Join(a.logDir, translateGlob(sd.Glob)))
	if err != nil {
		return nil, fmt.Errorf("client %s: discovery glob %q: %w", a.cfg.ID, sd.Glob, err)
	}

	var out []config.Server
	seen := map[string]bool{}
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			a.log.Warn("server discovery: unreadable file", "client", a.cfg.ID, "file", p, "error", err)
			continue
		}
		for _, m := range re.FindAllStringSubmatch(string(raw), -1) {
			hostname := m[0]
			if len(m) > 1 {
				hostname = m[1]
			}
			if hostname == "" || seen[hostname] {
				continue
			}
			seen[hostname] = true
			out = append(out, config.Server{ID: hostname, Hostname: hostname})
		}
	}
	return out, nil
}

// discoverJSON reads a JSON document (array or single object) relative to
// the log directory and extracts the nominated hostname field from each
// entry by dotted path.
func (a *Adapter) discoverJSON(sd *config.ServerDiscovery) ([]config.Server, error) {
	path := sd.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.logDir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("client %s: discovery file: %w", a.cfg.ID, err)
	}
	field := sd.HostnameField
	if field == "" {
		field = "hostname"
	}

	doc := gjson.ParseBytes(raw)
	entries := []gjson.Result{doc}
	if doc.IsArray() {
		entries = doc.Array()
	}

	var out []config.Server
	seen := map[string]bool{}
	for _, entry := range entries {
		hostname := entry.Get(field).String()
		if hostname == "" || seen[hostname] {
			continue
		}
		seen[hostname] = true
		srv := config.Server{ID: hostname, Hostname: hostname}
		if name := entry.Get("name").String(); name != "" {
			srv.DisplayName = name
		}
		out = append(out, srv)
	}
	return out, nil
}

// discoverSQLite runs the declared query against a sqlite database; the
// first column of each row is taken as a hostname.
func (a *Adapter) discoverSQLite(sd *config.ServerDiscovery) ([]config.Server, error) {
	path := sd.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.logDir, path)
	}
	if sd.Query == "" {
		return nil, fmt.Errorf("client %s: sqlite discovery needs a query", a.cfg.ID)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("client %s: open sqlite: %w", a.cfg.ID, err)
	}
	defer db.Close()

	rows, err := db.Query(sd.Query)
	if err != nil {
		return nil, fmt.Errorf("client %s: sqlite discovery query: %w", a.cfg.ID, err)
	}
	defer rows.Close()

	var out []config.Server
	seen := map[string]bool{}
	for rows.Next() {
		var hostname string
		if err := rows.Scan(&hostname); err != nil {
			return nil, err
		}
		if hostname == "" || seen[hostname] {
			continue
		}
		seen[hostname] = true
		out = append(out, config.Server{ID: hostname, Hostname: hostname})
	}
	return out, rows.Err()
}
