// Package adapter turns one client config into a log-file adapter: glob
// discovery of log paths, path-context extraction and prioritized regex
// parsing of raw lines into records.
package adapter

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/user/notifirc"
	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/pkg/envsubst"
	"github.com/user/notifirc/pkg/filter"
	"github.com/user/notifirc/pkg/record"
)

// Semantic fields a named capture can bind to. Anything else lands in the
// record's metadata under its own key.
const (
	FieldTimestamp = "timestamp"
	FieldNickname  = "nickname"
	FieldUsername  = "username"
	FieldHostname  = "hostname"
	FieldContent   = "content"
	FieldTarget    = "target"
)

type compiledRule struct {
	rule config.ParserRule
	re   *regexp.Regexp
}

type pathPattern struct {
	re    *regexp.Regexp
	group int
}

func compilePathPattern(pp *config.PathPattern) (*pathPattern, error) {
	if pp == nil {
		return nil, nil
	}
	re, err := regexp.Compile(pp.Pattern)
	if err != nil {
		return nil, err
	}
	group := pp.Group
	if group == 0 {
		group = 1
	}
	return &pathPattern{re: re, group: group}, nil
}

func (pp *pathPattern) extract(path string) (string, bool) {
	if pp == nil {
		return "", false
	}
	m := pp.re.FindStringSubmatch(path)
	if m == nil || pp.group >= len(m) {
		return "", false
	}
	return m[pp.group], true
}

// Adapter implements notifirc.Adapter for one client config.
type Adapter struct {
	cfg config.Client
	log notifirc.Logger

	logDir string
	rules  []compiledRule

	consolePat *pathPattern
	channelPat *pathPattern
	queryPat   *pathPattern
	serverPat  *pathPattern
}

// New builds an adapter for the client config. Initialize must run before
// any other method.
func New(cfg config.Client, log notifirc.Logger) *Adapter {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	return &Adapter{cfg: cfg, log: log}
}

// LogDirectory returns the env-expanded log directory. Valid after
// Initialize.
func (a *Adapter) LogDirectory() string { return a.logDir }

// ClientConfig returns the adapter's client config.
func (a *Adapter) ClientConfig() config.Client { return a.cfg }

// Initialize expands the log directory, compiles every parser rule and
// discovery pattern, and sorts the rules by descending priority (stable, so
// declaration order breaks ties).
func (a *Adapter) Initialize(ctx context.Context) error {
	a.logDir = envsubst.Expand(a.cfg.LogDirectory)

	a.rules = make([]compiledRule, 0, len(a.cfg.ParserRules))
	for _, rule := range a.cfg.ParserRules {
		re, err := filter.CompilePattern(rule.Pattern, rule.Flags)
		if err != nil {
			return fmt.Errorf("client %s: parser rule %q: %w", a.cfg.ID, rule.Name, err)
		}
		a.rules = append(a.rules, compiledRule{rule: rule, re: re})
	}
	sort.SliceStable(a.rules, func(i, j int) bool {
		return a.rules[i].rule.Priority > a.rules[j].rule.Priority
	})

	var err error
	for _, p := range []struct {
		name string
		src  *config.PathPattern
		dst  **pathPattern
	}{
		{"consolePattern", a.cfg.Discovery.ConsolePattern, &a.consolePat},
		{"channelPattern", a.cfg.Discovery.ChannelPattern, &a.channelPat},
		{"queryPattern", a.cfg.Discovery.QueryPattern, &a.queryPat},
		{"serverPattern", a.cfg.Discovery.ServerPattern, &a.serverPat},
	} {
		if *p.dst, err = compilePathPattern(p.src); err != nil {
			return fmt.Errorf("client %s: discovery %s: %w", a.cfg.ID, p.name, err)
		}
	}

	a.log.Debug("adapter initialized",
		"client", a.cfg.ID, "logDirectory", a.logDir, "rules", len(a.rules))
	return nil
}

// ListLogPaths evaluates every discovery glob under the log directory and
// returns the deduplicated union, sorted.
func (a *Adapter) ListLogPaths() ([]string, error) {
	seen := map[string]bool{}
	var out []string
	globs := make([]string, 0,
		len(a.cfg.Discovery.ConsoleGlobs)+len(a.cfg.Discovery.ChannelGlobs)+len(a.cfg.Discovery.QueryGlobs))
	globs = append(globs, a.cfg.Discovery.ConsoleGlobs...)
	globs = append(globs, a.cfg.Discovery.ChannelGlobs...)
	globs = append(globs, a.cfg.Discovery.QueryGlobs...)
	for _, g := range globs {
		matches, err := filepath.Glob(filepath.Join(a.logDir, translateGlob(g)))
		if err != nil {
			return nil, fmt.Errorf("client %s: glob %q: %w", a.cfg.ID, g, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// translateGlob rewrites shell-style class negation [!...] to the [^...]
// form filepath.Glob understands. Escaped brackets pass through untouched.
func translateGlob(g string) string {
	var b strings.Builder
	b.Grow(len(g))
	for i := 0; i < len(g); i++ {
		c := g[i]
		b.WriteByte(c)
		if c == '\\' && i+1 < len(g) {
			i++
			b.WriteByte(g[i])
			continue
		}
		if c == '[' && i+1 < len(g) && g[i+1] == '!' {
			b.WriteByte('^')
			i++
		}
	}
	return b.String()
}

// ExtractContextFromPath builds the partial record for a log path: client
// identity, the target from the first matching console/channel/query
// pattern, and metadata.serverIdentifier from the server pattern.
func (a *Adapter) ExtractContextFromPath(path string) *record.Record {
	r := &record.Record{
		Client: record.Client{
			ID:       a.cfg.ID,
			Type:     a.cfg.Type,
			Name:     a.cfg.Name,
			Metadata: a.cfg.Metadata,
		},
	}
	for _, cand := range []struct {
		pat  *pathPattern
		kind string
	}{
		{a.consolePat, record.TargetConsole},
		{a.channelPat, record.TargetChannel},
		{a.queryPat, record.TargetQuery},
	} {
		if name, ok := cand.pat.extract(path); ok {
			r.Target = &record.Target{Name: name, Type: cand.kind}
			break
		}
	}
	if ident, ok := a.serverPat.extract(path); ok {
		r.SetMeta("serverIdentifier", ident)
	}
	return r
}

// ParseLine runs the line through the rule list in priority order. The first
// match wins: a skip rule discards the line, any other rule produces a
// record layered onto a copy of the partial path context. No match returns
// nil.
func (a *Adapter) ParseLine(line string, partial *record.Record) *record.Record {
	for i := range a.rules {
		cr := &a.rules[i]
		m := cr.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if cr.rule.Skip {
			return nil
		}
		return a.buildRecord(line, cr, m, partial)
	}
	return nil
}

func (a *Adapter) buildRecord(line string, cr *compiledRule, m []string, partial *record.Record) *record.Record {
	r := partial.Clone()
	if r == nil {
		r = &record.Record{}
	}
	r.Raw.Line = line

	var content string
	hasContent := false
	for i, name := range cr.re.SubexpNames() {
		if name == "" || i >= len(m) || m[i] == "" {
			continue
		}
		field := name
		if mapped, ok := cr.rule.Fields[name]; ok {
			field = mapped
		}
		val := m[i]
		switch field {
		case FieldTimestamp:
			r.Raw.Timestamp = val
			if ts, ok := parseTimestamp(val); ok {
				r.Timestamp = ts
			}
		case FieldNickname:
			r.Sender = ensureSender(r.Sender)
			r.Sender.Nickname = val
		case FieldUsername:
			r.Sender = ensureSender(r.Sender)
			r.Sender.Username = val
		case FieldHostname:
			r.Sender = ensureSender(r.Sender)
			r.Sender.Hostname = val
		case FieldContent:
			content = val
			hasContent = true
		case FieldTarget:
			r.Target = &record.Target{Name: val, Type: targetType(val)}
		default:
			r.SetMeta(field, val)
		}
	}

	switch {
	case hasContent:
		r.Message = &record.Message{Content: content, Type: messageType(cr.rule)}
	case cr.rule.MessageType != "":
		r.Message = &record.Message{Content: line, Type: cr.rule.MessageType}
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	r.SetMeta("parserRule", cr.rule.Name)
	return r
}

func ensureSender(s *record.Sender) *record.Sender {
	if s == nil {
		return &record.Sender{}
	}
	return s
}

func messageType(rule config.ParserRule) string {
	if rule.MessageType != "" {
		return rule.MessageType
	}
	return "privmsg"
}

func targetType(name string) string {
	if strings.HasPrefix(name, "#") || strings.HasPrefix(name, "&") {
		return record.TargetChannel
	}
	return record.TargetQuery
}

// timestampLayouts are tried in order against a captured timestamp string.
// Time-only layouts are combined with today's date.
var timestampLayouts = []struct {
	layout   string
	timeOnly bool
}{
	{time.RFC3339, false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02T15:04:05", false},
	{"02/01/2006 15:04:05", false},
	{"Jan 02 15:04:05", false},
	{"15:04:05", true},
	{"15:04", true},
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, cand := range timestampLayouts {
		ts, err := time.Parse(cand.layout, s)
		if err != nil {
			continue
		}
		now := time.Now()
		if cand.timeOnly {
			ts = time.Date(now.Year(), now.Month(), now.Day(),
				ts.Hour(), ts.Minute(), ts.Second(), 0, time.Local)
		} else if ts.Year() == 0 {
			ts = time.Date(now.Year(), ts.Month(), ts.Day(),
				ts.Hour(), ts.Minute(), ts.Second(), 0, time.Local)
		}
		return ts, true
	}
	return time.Time{}, false
}

// Destroy releases adapter resources. Compiled state is dropped so a reused
// adapter must be re-initialized.
func (a *Adapter) Destroy() error {
	a.rules = nil
	a.consolePat, a.channelPat, a.queryPat, a.serverPat = nil, nil, nil, nil
	return nil
}
