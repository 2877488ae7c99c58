package envsubst

import (
	"reflect"
	"testing"
)

func TestExpand(t *testing.T) {
	t.Setenv("IRC_HOME", "/home/irc")
	t.Setenv("EMPTY_VAR", "")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"braced", "${IRC_HOME}/logs", "/home/irc/logs"},
		{"bare", "$IRC_HOME/logs", "/home/irc/logs"},
		{"default unused", "${IRC_HOME:-/fallback}", "/home/irc"},
		{"default on absent", "${NO_SUCH_VAR:-/fallback}", "/fallback"},
		{"default on empty", "${EMPTY_VAR:-/fallback}", "/fallback"},
		{"absent braced literal", "${NO_SUCH_VAR}/logs", "${NO_SUCH_VAR}/logs"},
		{"absent bare literal", "$NO_SUCH_VAR/logs", "$NO_SUCH_VAR/logs"},
		{"empty no default", "x${EMPTY_VAR}y", "xy"},
		{"no refs", "/var/log/irc", "/var/log/irc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expand(tt.in); got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandValue(t *testing.T) {
	t.Setenv("LOG_BASE", "/logs")

	in := map[string]any{
		"logDirectory": "${LOG_BASE}/weechat",
		"nested": map[string]any{
			"paths": []any{"$LOG_BASE/a", 42},
		},
		"count": 3,
	}
	want := map[string]any{
		"logDirectory": "/logs/weechat",
		"nested": map[string]any{
			"paths": []any{"/logs/a", 42},
		},
		"count": 3,
	}
	if got := ExpandValue(in); !reflect.DeepEqual(got, want) {
		t.Errorf("ExpandValue = %#v, want %#v", got, want)
	}
	if in["logDirectory"] != "${LOG_BASE}/weechat" {
		t.Error("ExpandValue mutated its input")
	}
}
