package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/notifirc"
	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/internal/dispatch"
)

type capture struct {
	mu   sync.Mutex
	sent []*notifirc.Notification
}

func (c *capture) Initialize(context.Context) error { return nil }
func (c *capture) Destroy() error                   { return nil }

func (c *capture) Send(ctx context.Context, n *notifirc.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *capture) got() []*notifirc.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*notifirc.Notification(nil), c.sent...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// seedPipeline builds a complete config tree: one client tailing logDir, a
// static server, a mention event and a capture sink.
func seedPipeline(t *testing.T, sink *capture) (*config.Store, string) {
	t.Helper()
	dispatch.RegisterCustom("test-capture", func(cfg config.Sink, log notifirc.Logger) (notifirc.Sink, error) {
		return sink, nil
	})

	cfgDir := t.TempDir()
	logDir := t.TempDir()

	writeFile(t, filepath.Join(cfgDir, "config.json"), `{"pollingInterval": 50}`)
	writeFile(t, filepath.Join(cfgDir, "clients", "irssi.json"), `{
		"id": "irssi", "type": "irssi",
		"logDirectory": "`+logDir+`",
		"discovery": {
			"channelGlobs": ["*/#*.log"],
			"serverPattern": {"pattern": "([^/]+)/[^/]+\\.log$"},
			"channelPattern": {"pattern": "(#[^/]+)\\.log$"}
		},
		"parserRules": [
			{"name": "privmsg", "pattern": "^(?P<timestamp>[0-9:]+) <(?P<nickname>[^>]+)> (?P<content>.*)$", "messageType": "privmsg"}
		]
	}`)
	writeFile(t, filepath.Join(cfgDir, "servers", "libera.json"),
		`{"id": "libera", "hostname": "irc.libera.chat", "displayName": "Libera", "clientNickname": "bob"}`)
	writeFile(t, filepath.Join(cfgDir, "events", "mentions.json"), `{
		"id": "mentions", "name": "Mention", "baseEvent": "message",
		"serverIds": ["*"],
		"filters": {"field": "message.content", "operator": "contains", "value": "{{server.clientNickname}}"},
		"sinkIds": ["cap"]
	}`)
	writeFile(t, filepath.Join(cfgDir, "sinks", "cap.json"),
		`{"id": "cap", "kind": "custom", "config": {"name": "test-capture"}}`)

	store := config.NewStore(filepath.Join(cfgDir, "config.json"), nil)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	return store, logDir
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestPipelineEndToEnd(t *testing.T) {
	sink := &capture{}
	store, logDir := seedPipeline(t, sink)

	// The log file exists before start, so discovery picks it up.
	logPath := filepath.Join(logDir, "libera", "#go-nuts.log")
	writeFile(t, logPath, "")

	o := New(store, nil)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	if o.WatcherCount() != 1 {
		t.Fatalf("watchers = %d, want 1", o.WatcherCount())
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("10:15:00 <alice> bob: lunch?\n")
	f.WriteString("10:15:05 <carol> nothing relevant\n")
	f.Close()

	if !waitFor(t, 3*time.Second, func() bool { return len(sink.got()) >= 1 }) {
		t.Fatal("no notification delivered")
	}
	got := sink.got()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1 (filter should drop the second line)", len(got))
	}
	n := got[0]
	if n.Title != "Mention" || n.Body != "bob: lunch?" {
		t.Errorf("notification = %q / %q", n.Title, n.Body)
	}
	if n.Record.Server.ID != "libera" {
		t.Errorf("server enrichment missing: %+v", n.Record.Server)
	}
	if n.Record.Target == nil || n.Record.Target.Name != "#go-nuts" {
		t.Errorf("target = %+v", n.Record.Target)
	}
}

func TestRefreshPicksUpNewFiles(t *testing.T) {
	sink := &capture{}
	store, logDir := seedPipeline(t, sink)

	o := New(store, nil)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()
	if o.WatcherCount() != 0 {
		t.Fatalf("watchers = %d, want 0", o.WatcherCount())
	}

	writeFile(t, filepath.Join(logDir, "libera", "#new.log"), "")
	o.Refresh()
	if o.WatcherCount() != 1 {
		t.Fatalf("watchers after refresh = %d, want 1", o.WatcherCount())
	}

	// Vanished paths are reconciled away.
	if err := os.Remove(filepath.Join(logDir, "libera", "#new.log")); err != nil {
		t.Fatal(err)
	}
	o.Refresh()
	if o.WatcherCount() != 0 {
		t.Fatalf("watchers after removal = %d, want 0", o.WatcherCount())
	}
}

func TestReloadRebindsWatchersToNewAdapter(t *testing.T) {
	sink := &capture{}
	store, logDir := seedPipeline(t, sink)

	logPath := filepath.Join(logDir, "libera", "#go-nuts.log")
	writeFile(t, logPath, "")

	o := New(store, nil)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	// Editing the client config rebuilds its adapter on reload. The watcher
	// for the already-discovered file must follow to the new instance; lines
	// parsed through the destroyed one would all be dropped.
	writeFile(t, filepath.Join(store.Dir(), "clients", "irssi.json"), `{
		"id": "irssi", "type": "irssi",
		"logDirectory": "`+logDir+`",
		"discovery": {
			"channelGlobs": ["*/#*.log"],
			"serverPattern": {"pattern": "([^/]+)/[^/]+\\.log$"},
			"channelPattern": {"pattern": "(#[^/]+)\\.log$"}
		},
		"parserRules": [
			{"name": "action", "pattern": "^(?P<timestamp>[0-9:]+) \\* (?P<nickname>\\S+) (?P<content>.*)$", "messageType": "privmsg", "priority": 5},
			{"name": "privmsg", "pattern": "^(?P<timestamp>[0-9:]+) <(?P<nickname>[^>]+)> (?P<content>.*)$", "messageType": "privmsg"}
		]
	}`)
	if err := o.ReloadFull(context.Background()); err != nil {
		t.Fatal(err)
	}
	if o.WatcherCount() != 1 {
		t.Fatalf("watchers after reload = %d, want 1", o.WatcherCount())
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("10:20:00 <alice> bob: still there?\n")
	f.Close()

	if !waitFor(t, 3*time.Second, func() bool { return len(sink.got()) >= 1 }) {
		t.Fatal("no notification delivered after client reload")
	}
}

func TestReloadFullReconciles(t *testing.T) {
	sink := &capture{}
	store, _ := seedPipeline(t, sink)

	o := New(store, nil)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	// Disable the only sink on disk and reload: the instance goes away.
	writeFile(t, filepath.Join(store.Dir(), "sinks", "cap.json"),
		`{"id": "cap", "kind": "custom", "enabled": false, "config": {"name": "test-capture"}}`)
	if err := o.ReloadFull(context.Background()); err != nil {
		t.Fatal(err)
	}

	o.mu.RLock()
	_, ok := o.sinks["cap"]
	o.mu.RUnlock()
	if ok {
		t.Error("disabled sink still instantiated after reload")
	}
}

// slowSink delays every delivery, keeping a watcher goroutine busy inside
// handleRecord for long enough to race it against Stop.
type slowSink struct {
	inner *capture
	delay time.Duration
}

func (s *slowSink) Initialize(context.Context) error { return nil }
func (s *slowSink) Destroy() error                   { return nil }

func (s *slowSink) Send(ctx context.Context, n *notifirc.Notification) error {
	time.Sleep(s.delay)
	return s.inner.Send(ctx, n)
}

func TestStopReturnsWhileDeliveryInFlight(t *testing.T) {
	sink := &capture{}
	store, logDir := seedPipeline(t, sink)
	slow := &slowSink{inner: sink, delay: 50 * time.Millisecond}
	dispatch.RegisterCustom("test-capture", func(cfg config.Sink, log notifirc.Logger) (notifirc.Sink, error) {
		return slow, nil
	})

	// Rescan streams the whole backlog through the pipeline on start, so
	// the watcher is mid-delivery for several seconds.
	writeFile(t, filepath.Join(store.Dir(), "config.json"),
		`{"pollingInterval": 50, "rescanLogsOnStartup": true}`)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}

	var backlog strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&backlog, "10:00:%02d <alice> bob: ping %d\n", i%60, i)
	}
	writeFile(t, filepath.Join(logDir, "libera", "#go-nuts.log"), backlog.String())

	o := New(store, nil)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return len(sink.got()) >= 1 }) {
		t.Fatal("no delivery started")
	}

	done := make(chan struct{})
	go func() {
		o.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked while a watcher was delivering records")
	}
}
