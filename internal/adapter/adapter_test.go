package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/pkg/record"
)

func weechatClient(logDir string) config.Client {
	return config.Client{
		ID:           "weechat",
		Type:         "weechat",
		LogDirectory: logDir,
		Discovery: config.Discovery{
			ConsoleGlobs: []string{"irc.server.*.weechatlog"},
			ChannelGlobs: []string{"irc.*.#*.weechatlog"},
			QueryGlobs:   []string{"irc.*.[!#]*.weechatlog"},
			ServerPattern: &config.PathPattern{
				Pattern: `irc\.(?:server\.)?([^.#][^.]*)\.`,
			},
			ConsolePattern: &config.PathPattern{
				Pattern: `irc\.server\.([^.]+)\.weechatlog$`,
			},
			ChannelPattern: &config.PathPattern{
				Pattern: `irc\.[^.]+\.(#[^.]+)\.weechatlog$`,
			},
			QueryPattern: &config.PathPattern{
				Pattern: `irc\.[^.]+\.([^#.][^.]*)\.weechatlog$`,
			},
		},
		ParserRules: []config.ParserRule{
			{
				Name:    "join",
				Pattern: `^(?P<timestamp>\S+ \S+)\t-->\t(?P<nickname>\S+) \((?P<userhost>[^)]+)\) has joined (?P<target>\S+)$`,
				Fields:  map[string]string{"userhost": "userhost"},

				MessageType: "join",
				Priority:    10,
			},
			{
				Name:     "ignore server notices",
				Pattern:  `^\S+ \S+\t--\t`,
				Skip:     true,
				Priority: 5,
			},
			{
				Name:        "privmsg",
				Pattern:     `^(?P<timestamp>\S+ \S+)\t(?P<nickname>\S+)\t(?P<content>.*)$`,
				MessageType: "privmsg",
				Priority:    1,
			},
		},
	}
}

func initAdapter(t *testing.T, cfg config.Client) *Adapter {
	t.Helper()
	a := New(cfg, nil)
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestListLogPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"irc.server.libera.weechatlog",
		"irc.libera.#go-nuts.weechatlog",
		"irc.libera.somenick.weechatlog",
		"core.weechat.weechatlog",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	a := initAdapter(t, weechatClient(dir))
	paths, err := a.ListLogPaths()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 3 {
		t.Fatalf("paths = %v, want 3 entries", paths)
	}
	for _, p := range paths {
		if filepath.Base(p) == "core.weechat.weechatlog" {
			t.Errorf("non-matching file enumerated: %s", p)
		}
	}
}

func TestTranslateGlob(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"irc.*.[!#]*.log", "irc.*.[^#]*.log"},
		{"*/#*.log", "*/#*.log"},
		{"[!a][!b].log", "[^a][^b].log"},
		{`\[!x].log`, `\[!x].log`},
		{"trailing[!", "trailing[^"},
	}
	for _, tt := range tests {
		if got := translateGlob(tt.in); got != tt.want {
			t.Errorf("translateGlob(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestListLogPathsExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_LOG_HOME", dir)
	cfg := weechatClient("${TEST_LOG_HOME}")
	a := initAdapter(t, cfg)
	if a.LogDirectory() != dir {
		t.Errorf("LogDirectory = %q, want %q", a.LogDirectory(), dir)
	}
}

func TestExtractContextFromPath(t *testing.T) {
	a := initAdapter(t, weechatClient("/logs"))

	tests := []struct {
		name       string
		path       string
		targetName string
		targetType string
		serverID   string
	}{
		{"console", "/logs/irc.server.libera.weechatlog", "libera", record.TargetConsole, "libera"},
		{"channel", "/logs/irc.libera.#go-nuts.weechatlog", "#go-nuts", record.TargetChannel, "libera"},
		{"query", "/logs/irc.libera.somenick.weechatlog", "somenick", record.TargetQuery, "libera"},
		{"no match", "/logs/core.weechat.weechatlog", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := a.ExtractContextFromPath(tt.path)
			if r.Client.ID != "weechat" {
				t.Errorf("client id = %q", r.Client.ID)
			}
			if tt.targetName == "" {
				if r.Target != nil {
					t.Errorf("unexpected target %+v", r.Target)
				}
				return
			}
			if r.Target == nil || r.Target.Name != tt.targetName || r.Target.Type != tt.targetType {
				t.Errorf("target = %+v, want %s/%s", r.Target, tt.targetName, tt.targetType)
			}
			if got := r.MetaString("serverIdentifier"); got != tt.serverID {
				t.Errorf("serverIdentifier = %q, want %q", got, tt.serverID)
			}
		})
	}
}

func TestParseLine(t *testing.T) {
	a := initAdapter(t, weechatClient("/logs"))
	partial := &record.Record{
		Client: record.Client{ID: "weechat"},
		Target: &record.Target{Name: "#go-nuts", Type: record.TargetChannel},
	}

	t.Run("privmsg", func(t *testing.T) {
		r := a.ParseLine("2026-08-24 10:15:00\talice\thello there", partial)
		if r == nil {
			t.Fatal("no record")
		}
		if r.Message == nil || r.Message.Content != "hello there" || r.Message.Type != "privmsg" {
			t.Errorf("message = %+v", r.Message)
		}
		if r.Sender == nil || r.Sender.Nickname != "alice" {
			t.Errorf("sender = %+v", r.Sender)
		}
		if r.Raw.Timestamp != "2026-08-24 10:15:00" {
			t.Errorf("raw timestamp = %q", r.Raw.Timestamp)
		}
		if r.Timestamp.Hour() != 10 || r.Timestamp.Minute() != 15 {
			t.Errorf("parsed timestamp = %v", r.Timestamp)
		}
		if r.Target == nil || r.Target.Name != "#go-nuts" {
			t.Errorf("partial context lost: %+v", r.Target)
		}
	})

	t.Run("higher priority rule wins", func(t *testing.T) {
		r := a.ParseLine("2026-08-24 10:15:00\t-->\tbob (b@host) has joined #go-nuts", partial)
		if r == nil {
			t.Fatal("no record")
		}
		// No content capture, so the whole line with the rule's type.
		if r.Message == nil || r.Message.Type != "join" {
			t.Errorf("message = %+v", r.Message)
		}
		if r.Sender == nil || r.Sender.Nickname != "bob" {
			t.Errorf("sender = %+v", r.Sender)
		}
		if r.Target == nil || r.Target.Name != "#go-nuts" || r.Target.Type != record.TargetChannel {
			t.Errorf("target = %+v", r.Target)
		}
		if r.MetaString("userhost") != "b@host" {
			t.Errorf("extra capture not routed to metadata: %v", r.Metadata)
		}
	})

	t.Run("skip rule discards", func(t *testing.T) {
		if r := a.ParseLine("2026-08-24 10:15:00\t--\tirc: connected", partial); r != nil {
			t.Errorf("skip rule produced record: %+v", r)
		}
	})

	t.Run("no rule matches", func(t *testing.T) {
		if r := a.ParseLine("", partial); r != nil {
			t.Errorf("empty line produced record: %+v", r)
		}
	})

	t.Run("partial not mutated", func(t *testing.T) {
		a.ParseLine("2026-08-24 10:15:00\talice\thi", partial)
		if partial.Message != nil || partial.Sender != nil {
			t.Errorf("partial context mutated: %+v", partial)
		}
	})
}

func TestDiscoverServers(t *testing.T) {
	t.Run("static", func(t *testing.T) {
		cfg := weechatClient("/logs")
		cfg.ServerDiscovery = &config.ServerDiscovery{
			Mode:    config.DiscoverStatic,
			Servers: []config.Server{{ID: "libera", Hostname: "irc.libera.chat"}},
		}
		a := initAdapter(t, cfg)
		servers, err := a.DiscoverServers()
		if err != nil {
			t.Fatal(err)
		}
		if len(servers) != 1 || servers[0].ID != "libera" {
			t.Errorf("servers = %+v", servers)
		}
	})

	t.Run("filesystem", func(t *testing.T) {
		dir := t.TempDir()
		conf := "server = irc.libera.chat\nserver = irc.oftc.net\nserver = irc.libera.chat\n"
		if err := os.WriteFile(filepath.Join(dir, "servers.conf"), []byte(conf), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg := weechatClient(dir)
		cfg.ServerDiscovery = &config.ServerDiscovery{
			Mode:            config.DiscoverFilesystem,
			Glob:            "servers.conf",
			HostnamePattern: `server = (\S+)`,
		}
		a := initAdapter(t, cfg)
		servers, err := a.DiscoverServers()
		if err != nil {
			t.Fatal(err)
		}
		if len(servers) != 2 {
			t.Fatalf("servers = %+v, want 2 deduplicated", servers)
		}
		if servers[0].Hostname != "irc.libera.chat" || servers[1].Hostname != "irc.oftc.net" {
			t.Errorf("servers = %+v", servers)
		}
	})

	t.Run("json array", func(t *testing.T) {
		dir := t.TempDir()
		doc := `[{"address": "irc.libera.chat", "name": "Libera"}, {"address": "irc.oftc.net"}]`
		if err := os.WriteFile(filepath.Join(dir, "networks.json"), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg := weechatClient(dir)
		cfg.ServerDiscovery = &config.ServerDiscovery{
			Mode:          config.DiscoverJSON,
			Path:          "networks.json",
			HostnameField: "address",
		}
		a := initAdapter(t, cfg)
		servers, err := a.DiscoverServers()
		if err != nil {
			t.Fatal(err)
		}
		if len(servers) != 2 || servers[0].DisplayName != "Libera" {
			t.Errorf("servers = %+v", servers)
		}
	})

	t.Run("none configured", func(t *testing.T) {
		a := initAdapter(t, weechatClient("/logs"))
		servers, err := a.DiscoverServers()
		if err != nil || servers != nil {
			t.Errorf("servers = %+v, err = %v", servers, err)
		}
	})
}
