// Package envsubst expands shell-style environment references
// (${VAR}, ${VAR:-default}, $VAR) in string values.
package envsubst

import (
	"os"
	"regexp"
)

var (
	bracedRe = regexp.MustCompile(`\$\{(\w+)(:-([^}]*))?\}`)
	bareRe   = regexp.MustCompile(`\$(\w+)`)
)

// Expand substitutes environment references in s. An absent variable without
// a default leaves the reference literal; ${VAR:-default} yields the default
// when VAR is absent or empty.
func Expand(s string) string {
	out := bracedRe.ReplaceAllStringFunc(s, func(m string) string {
		groups := bracedRe.FindStringSubmatch(m)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		val, ok := os.LookupEnv(name)
		if val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		if ok {
			return val
		}
		return m
	})
	return bareRe.ReplaceAllStringFunc(out, func(m string) string {
		name := bareRe.FindStringSubmatch(m)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return m
	})
}

// ExpandValue applies Expand recursively to the string leaves of an
// arbitrary structure of maps, slices and scalars. The input is not mutated.
func ExpandValue(v any) any {
	switch val := v.(type) {
	case string:
		return Expand(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ExpandValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ExpandValue(elem)
		}
		return out
	default:
		return v
	}
}
