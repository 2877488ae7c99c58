package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/notifirc"
	"github.com/user/notifirc/pkg/record"
)

func notification(title string) *notifirc.Notification {
	return &notifirc.Notification{
		SinkID: "archive",
		Title:  title,
		Body:   "hey bob",
		Event:  notifirc.EventInfo{ID: "mentions", Name: "Mention", BaseEvent: "message"},
		Record: &record.Record{},
	}
}

func TestSendAppendJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.jsonl")
	s := New(path, true, "json", nil)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, title := range []string{"first", "second"} {
		if err := s.Send(context.Background(), notification(title)); err != nil {
			t.Fatal(err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("line not JSON: %v", err)
	}
	if entry["title"] != "second" || entry["event"] != "Mention" {
		t.Errorf("entry = %v", entry)
	}
}

func TestSendOverwriteText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	s := New(path, false, "", nil)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, title := range []string{"first", "second"} {
		if err := s.Send(context.Background(), notification(title)); err != nil {
			t.Fatal(err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(raw)
	if strings.Contains(out, "first") {
		t.Errorf("overwrite mode kept old entry:\n%s", out)
	}
	if !strings.Contains(out, "second") || !strings.Contains(out, "hey bob") {
		t.Errorf("output = %q", out)
	}
}
