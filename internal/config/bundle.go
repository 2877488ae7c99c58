package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/sjson"
)

// BackupDirName is the optional directory holding bundles to auto-import on
// a fresh installation.
const BackupDirName = "backups"

// Import modes.
const (
	ImportReplace = "replace"
	ImportMerge   = "merge"
)

// BundleMetadata identifies a bundle's origin.
type BundleMetadata struct {
	Timestamp       time.Time `json:"timestamp"`
	ConfigDirectory string    `json:"configDirectory"`
}

// Bundle is the portable form of a complete configuration set. Entries are
// kept as raw JSON so fields outside the struct surface survive a round
// trip. The auth token file is never part of a bundle.
type Bundle struct {
	Root     json.RawMessage            `json:"root,omitempty"`
	Clients  map[string]json.RawMessage `json:"clients"`
	Servers  map[string]json.RawMessage `json:"servers"`
	Events   map[string]json.RawMessage `json:"events"`
	Sinks    map[string]json.RawMessage `json:"sinks"`
	Metadata BundleMetadata             `json:"metadata"`
}

func (b *Bundle) category(name string) map[string]json.RawMessage {
	switch name {
	case CategoryClients:
		return b.Clients
	case CategoryServers:
		return b.Servers
	case CategoryEvents:
		return b.Events
	case CategorySinks:
		return b.Sinks
	}
	return nil
}

// Export collects the current on-disk configuration set into a gzipped
// bundle stream.
func (s *Store) Export(w io.Writer) error {
	b := Bundle{
		Clients: map[string]json.RawMessage{},
		Servers: map[string]json.RawMessage{},
		Events:  map[string]json.RawMessage{},
		Sinks:   map[string]json.RawMessage{},
		Metadata: BundleMetadata{
			Timestamp:       time.Now().UTC(),
			ConfigDirectory: s.Dir(),
		},
	}
	if raw, err := os.ReadFile(s.path); err == nil {
		b.Root = json.RawMessage(raw)
	}
	for _, cat := range Categories {
		paths, err := filepath.Glob(filepath.Join(s.Dir(), cat, "*.json"))
		if err != nil {
			return err
		}
		dst := b.category(cat)
		for _, p := range paths {
			raw, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("bundle %s: %w", p, err)
			}
			name := strings.TrimSuffix(filepath.Base(p), ".json")
			dst[name] = json.RawMessage(raw)
		}
	}

	gw := gzip.NewWriter(w)
	if err := json.NewEncoder(gw).Encode(&b); err != nil {
		gw.Close()
		return fmt.Errorf("encode bundle: %w", err)
	}
	return gw.Close()
}

// ReadBundle decompresses and decodes a bundle stream.
func ReadBundle(r io.Reader) (*Bundle, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("bundle is not gzip: %w", err)
	}
	defer gr.Close()
	var b Bundle
	if err := json.NewDecoder(gr).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.Clients == nil {
		b.Clients = map[string]json.RawMessage{}
	}
	if b.Servers == nil {
		b.Servers = map[string]json.RawMessage{}
	}
	if b.Events == nil {
		b.Events = map[string]json.RawMessage{}
	}
	if b.Sinks == nil {
		b.Sinks = map[string]json.RawMessage{}
	}
	return &b, nil
}

// ImportOptions control how a bundle is applied.
type ImportOptions struct {
	// Mode is ImportReplace or ImportMerge.
	Mode string
	// PreferIncoming makes merge mode overwrite entries that already exist.
	PreferIncoming bool
	// AdjustConfigDirectory rewrites the imported root's configDirectory to
	// the current installation's. On by default via DefaultImportOptions.
	AdjustConfigDirectory bool
}

// DefaultImportOptions returns the options used by the control plane when
// the request does not say otherwise.
func DefaultImportOptions(mode string) ImportOptions {
	return ImportOptions{Mode: mode, AdjustConfigDirectory: true}
}

// ImportResult summarizes what an import wrote.
type ImportResult struct {
	Mode    string         `json:"mode"`
	Written map[string]int `json:"written"`
	Skipped map[string]int `json:"skipped"`
	Root    bool           `json:"root"`
}

// Import applies a bundle to disk per the options and reloads. Replace mode
// removes every category *.json plus the root config first; non-JSON files
// (the auth token among them) are untouched. An empty bundle under replace
// therefore yields an empty config set.
func (s *Store) Import(b *Bundle, opts ImportOptions) (*ImportResult, error) {
	if opts.Mode != ImportReplace && opts.Mode != ImportMerge {
		return nil, fmt.Errorf("unknown import mode: %q", opts.Mode)
	}
	res := &ImportResult{
		Mode:    opts.Mode,
		Written: map[string]int{},
		Skipped: map[string]int{},
	}

	if opts.Mode == ImportReplace {
		for _, cat := range Categories {
			paths, _ := filepath.Glob(filepath.Join(s.Dir(), cat, "*.json"))
			for _, p := range paths {
				if err := os.Remove(p); err != nil {
					return nil, fmt.Errorf("clear %s: %w", p, err)
				}
			}
		}
		if _, err := DeleteQuiet(s.path); err != nil {
			return nil, fmt.Errorf("clear root config: %w", err)
		}
	}

	if len(b.Root) > 0 {
		root := b.Root
		if opts.AdjustConfigDirectory {
			adjusted, err := sjson.SetBytes(root, "configDirectory", s.Dir())
			if err != nil {
				return nil, fmt.Errorf("adjust configDirectory: %w", err)
			}
			root = adjusted
		}
		writeRoot := opts.Mode == ImportReplace
		if !writeRoot {
			_, err := os.Stat(s.path)
			writeRoot = errors.Is(err, os.ErrNotExist) || opts.PreferIncoming
		}
		if writeRoot {
			if err := ValidateRaw("root", root); err != nil {
				return nil, fmt.Errorf("bundle root config: %w", err)
			}
			if err := WriteFileAtomic(s.path, root, 0o644); err != nil {
				return nil, err
			}
			res.Root = true
		}
	}

	for _, cat := range Categories {
		dir := filepath.Join(s.Dir(), cat)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		entries := b.category(cat)
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(dir, name+".json")
			if opts.Mode == ImportMerge && !opts.PreferIncoming {
				if _, err := os.Stat(path); err == nil {
					res.Skipped[cat]++
					continue
				}
			}
			if err := ValidateRaw(cat, entries[name]); err != nil {
				s.log.Error("skipping invalid bundle entry", "category", cat, "name", name, "error", err)
				res.Skipped[cat]++
				continue
			}
			if err := WriteFileAtomic(path, entries[name], 0o644); err != nil {
				return nil, err
			}
			res.Written[cat]++
		}
	}

	if err := s.Load(); err != nil {
		return res, err
	}
	return res, nil
}

// AutoImport looks for bundles under <dir>/backups when the config set is
// empty and applies the one with the most recent embedded timestamp in
// replace mode. A populated config set disables it.
func (s *Store) AutoImport() error {
	for _, cat := range Categories {
		paths, _ := filepath.Glob(filepath.Join(s.Dir(), cat, "*.json"))
		if len(paths) > 0 {
			return nil
		}
	}

	paths, err := filepath.Glob(filepath.Join(s.Dir(), BackupDirName, "*"))
	if err != nil || len(paths) == 0 {
		return nil
	}
	sort.Strings(paths)

	var best *Bundle
	var bestPath string
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		b, err := ReadBundle(bytes.NewReader(raw))
		if err != nil {
			s.log.Warn("skipping unreadable backup bundle", "file", p, "error", err)
			continue
		}
		if best == nil || b.Metadata.Timestamp.After(best.Metadata.Timestamp) {
			best, bestPath = b, p
		}
	}
	if best == nil {
		return nil
	}

	s.log.Info("importing backup bundle into empty configuration",
		"file", bestPath, "timestamp", best.Metadata.Timestamp)
	_, err = s.Import(best, DefaultImportOptions(ImportReplace))
	return err
}
