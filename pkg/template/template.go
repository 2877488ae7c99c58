// Package template implements {{dotted.path}} substitution against a record
// context. Unresolved references are deliberately left in place so a broken
// template is visible in the delivered notification.
package template

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// HasRefs reports whether s contains at least one {{...}} reference.
func HasRefs(s string) bool {
	start := strings.Index(s, "{{")
	return start >= 0 && strings.Index(s[start:], "}}") > 0
}

// ExtractRefs returns the dotted paths referenced by s, without delimiters,
// in order of appearance.
func ExtractRefs(s string) []string {
	var refs []string
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			break
		}
		refs = append(refs, strings.TrimSpace(s[start+2:start+end]))
		s = s[start+end+2:]
	}
	return refs
}

// Resolver resolves dotted paths against a context map. The context is
// serialized once; lookups go through gjson.
type Resolver struct {
	data []byte
}

// NewResolver builds a Resolver for the given context map.
func NewResolver(ctx map[string]any) *Resolver {
	data, err := json.Marshal(ctx)
	if err != nil {
		data = []byte("{}")
	}
	return &Resolver{data: data}
}

// Lookup resolves a dotted path. The second return is false when the path is
// missing at any depth or terminates in null.
func (r *Resolver) Lookup(path string) (any, bool) {
	res := r.get(path)
	if !res.Exists() || res.Type == gjson.Null {
		return nil, false
	}
	return res.Value(), true
}

// get resolves a path with gjson's wildcard and query syntax neutralized:
// the template language is plain dot-separated keys, so a key containing
// `*`, `?` or `#` must match literally, not as path syntax.
func (r *Resolver) get(path string) gjson.Result {
	return gjson.GetBytes(r.data, escapePath(path))
}

func escapePath(path string) string {
	if !strings.ContainsAny(path, `*?#|@\`) {
		return path
	}
	var b strings.Builder
	b.Grow(len(path) + 4)
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '*', '?', '#', '|', '@', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Expand substitutes every {{path}} in tmpl. References that do not resolve
// keep their literal {{path}} text.
func (r *Resolver) Expand(tmpl string) string {
	if !HasRefs(tmpl) {
		return tmpl
	}
	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		full := rest[start : start+end+2]
		path := strings.TrimSpace(rest[start+2 : start+end])

		res := r.get(path)
		if !res.Exists() || res.Type == gjson.Null {
			b.WriteString(full)
		} else {
			b.WriteString(stringify(res))
		}
		rest = rest[start+end+2:]
	}
	return b.String()
}

// ExpandDeep walks mappings and sequences, expanding every string in place.
// Non-string scalars pass through untouched. The input is never mutated.
func (r *Resolver) ExpandDeep(v any) any {
	switch val := v.(type) {
	case string:
		return r.Expand(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = r.ExpandDeep(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = r.ExpandDeep(elem)
		}
		return out
	default:
		return v
	}
}

// Expand is a convenience wrapper for a one-off expansion.
func Expand(tmpl string, ctx map[string]any) string {
	return NewResolver(ctx).Expand(tmpl)
}

// ExpandDeep is a convenience wrapper for a one-off deep expansion.
func ExpandDeep(v any, ctx map[string]any) any {
	return NewResolver(ctx).ExpandDeep(v)
}

// Lookup is a convenience wrapper for a one-off path lookup.
func Lookup(ctx map[string]any, path string) (any, bool) {
	return NewResolver(ctx).Lookup(path)
}

func stringify(res gjson.Result) string {
	switch res.Type {
	case gjson.String:
		return res.Str
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	case gjson.Number:
		return res.Raw
	default:
		// Objects and arrays render as compact JSON.
		return res.Raw
	}
}
