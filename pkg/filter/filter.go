// Package filter evaluates AND/OR trees of predicate leaves against a record
// context. Leaf values and patterns may themselves contain {{...}} template
// references, expanded against the same context before comparison.
package filter

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/user/notifirc"
	"github.com/user/notifirc/pkg/template"
)

// Leaf operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "notEquals"
	OpContains    = "contains"
	OpNotContains = "notContains"
	OpMatches     = "matches"
	OpNotMatches  = "notMatches"
	OpExists      = "exists"
	OpNotExists   = "notExists"
	OpIn          = "in"
	OpNotIn       = "notIn"
)

// Group operators.
const (
	GroupAnd = "AND"
	GroupOr  = "OR"
)

// Node is either a group ({operator, filters}) or a leaf
// ({field, operator, value/pattern/flags}). A node with a filters list —
// even an empty one — is a group, as is a field-less node whose operator is
// AND or OR; everything else is a leaf.
type Node struct {
	Operator string `json:"operator,omitempty"`
	Filters  []Node `json:"filters,omitempty"`

	Field   string `json:"field,omitempty"`
	Value   any    `json:"value,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Flags   string `json:"flags,omitempty"`
}

// IsGroup reports whether the node is an AND/OR group. An empty AND group
// evaluates to true, an empty OR group to false.
func (n *Node) IsGroup() bool {
	if len(n.Filters) > 0 {
		return true
	}
	if n.Field != "" {
		return false
	}
	if n.Filters != nil {
		return true
	}
	op := strings.ToUpper(n.Operator)
	return op == GroupAnd || op == GroupOr
}

// Evaluator evaluates filter trees. Unknown-operator warnings are emitted
// once per operator.
type Evaluator struct {
	Log    notifirc.Logger
	warned sync.Map
}

// NewEvaluator creates an Evaluator logging through log. A nil log discards
// warnings.
func NewEvaluator(log notifirc.Logger) *Evaluator {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	return &Evaluator{Log: log}
}

// Evaluate runs the tree against the context. A nil tree matches everything.
func (e *Evaluator) Evaluate(n *Node, ctx map[string]any) bool {
	if n == nil {
		return true
	}
	return e.eval(n, template.NewResolver(ctx))
}

func (e *Evaluator) eval(n *Node, r *template.Resolver) bool {
	if n.IsGroup() {
		switch strings.ToUpper(n.Operator) {
		case GroupOr:
			for i := range n.Filters {
				if e.eval(&n.Filters[i], r) {
					return true
				}
			}
			return false
		default: // AND
			for i := range n.Filters {
				if !e.eval(&n.Filters[i], r) {
					return false
				}
			}
			return true
		}
	}
	return e.evalLeaf(n, r)
}

func (e *Evaluator) evalLeaf(n *Node, r *template.Resolver) bool {
	fieldVal, fieldOK := r.Lookup(n.Field)
	leafVal := expandValue(n.Value, r)

	switch n.Operator {
	case OpEquals:
		return fieldOK && equalValues(fieldVal, leafVal)
	case OpNotEquals:
		return !fieldOK || !equalValues(fieldVal, leafVal)
	case OpContains:
		return containsValue(fieldVal, leafVal)
	case OpNotContains:
		return !containsValue(fieldVal, leafVal)
	case OpMatches:
		return e.matchPattern(n, r, fieldVal, fieldOK)
	case OpNotMatches:
		s, isStr := fieldVal.(string)
		if !fieldOK || !isStr {
			return false
		}
		re, err := CompilePattern(r.Expand(n.Pattern), n.Flags)
		if err != nil {
			return false
		}
		return !re.MatchString(s)
	case OpExists:
		return fieldOK
	case OpNotExists:
		return !fieldOK
	case OpIn:
		seq, ok := leafVal.([]any)
		if !ok {
			return false
		}
		return memberOf(fieldVal, seq)
	case OpNotIn:
		seq, ok := leafVal.([]any)
		if !ok {
			return true
		}
		return !memberOf(fieldVal, seq)
	default:
		if _, seen := e.warned.LoadOrStore(n.Operator, true); !seen {
			e.Log.Warn("unknown filter operator", "operator", n.Operator, "field", n.Field)
		}
		return false
	}
}

func (e *Evaluator) matchPattern(n *Node, r *template.Resolver, fieldVal any, fieldOK bool) bool {
	s, isStr := fieldVal.(string)
	if !fieldOK || !isStr {
		return false
	}
	re, err := CompilePattern(r.Expand(n.Pattern), n.Flags)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// expandValue runs template expansion on a leaf value: strings expand
// directly, sequences expand element-wise, everything else passes through.
func expandValue(v any, r *template.Resolver) any {
	switch val := v.(type) {
	case string:
		return r.Expand(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			if s, ok := elem.(string); ok {
				out[i] = r.Expand(s)
			} else {
				out[i] = elem
			}
		}
		return out
	default:
		return v
	}
}

// CompilePattern compiles a regex with the config-declared flag string
// ("i", "m", "s" in any combination) translated to Go inline modifiers.
// Shared by filter leaves, parser rules and discovery patterns.
func CompilePattern(pattern, flags string) (*regexp.Regexp, error) {
	var mods strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			mods.WriteRune(f)
		}
	}
	if mods.Len() > 0 {
		pattern = "(?" + mods.String() + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func equalValues(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func containsValue(field, val any) bool {
	switch f := field.(type) {
	case string:
		return strings.Contains(f, stringOf(val))
	case []any:
		return memberOf(val, f)
	default:
		return false
	}
}

func memberOf(needle any, seq []any) bool {
	for _, elem := range seq {
		if equalValues(elem, needle) {
			return true
		}
		// JSON decoding yields float64 on one side and a stringified
		// template value on the other often enough that a string-form
		// fallback is needed for membership.
		if stringOf(elem) == stringOf(needle) {
			return true
		}
	}
	return false
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
