package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/internal/orchestrator"
)

const testToken = "test-token"

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newTestServer seeds a config tree, starts an orchestrator on it and
// exposes the control plane over httptest.
func newTestServer(t *testing.T, fileOps bool) (*httptest.Server, *orchestrator.Orchestrator, string) {
	t.Helper()
	cfgDir := t.TempDir()
	logDir := t.TempDir()

	writeTestFile(t, filepath.Join(cfgDir, "config.json"), `{"pollingInterval": 200}`)
	writeTestFile(t, filepath.Join(cfgDir, "clients", "irssi.json"), `{
		"id": "irssi", "type": "irssi",
		"logDirectory": "`+logDir+`",
		"discovery": {
			"channelGlobs": ["*/#*.log"],
			"serverPattern": {"pattern": "([^/]+)/[^/]+\\.log$"},
			"channelPattern": {"pattern": "(#[^/]+)\\.log$"}
		},
		"parserRules": [
			{"name": "privmsg", "pattern": "^<(?P<nickname>[^>]+)> (?P<content>.*)$", "messageType": "privmsg"}
		]
	}`)
	writeTestFile(t, filepath.Join(cfgDir, "servers", "libera.json"),
		`{"id": "libera", "hostname": "irc.libera.chat", "displayName": "Libera"}`)
	writeTestFile(t, filepath.Join(cfgDir, "events", "mentions.json"),
		`{"id": "mentions", "name": "Mention", "baseEvent": "message", "sinkIds": ["out"]}`)
	writeTestFile(t, filepath.Join(cfgDir, "sinks", "out.json"),
		`{"id": "out", "kind": "file", "config": {"path": "`+filepath.Join(t.TempDir(), "out.log")+`"}}`)

	store := config.NewStore(filepath.Join(cfgDir, "config.json"), nil)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	orch := orchestrator.New(store, nil)
	if err := orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(orch.Stop)

	srv := NewServer(orch, Options{Token: testToken, EnableFileOps: fileOps}, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, orch, logDir
}

func doRequest(t *testing.T, method, url, token string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAuthRequired(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	for _, tc := range []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "nope", http.StatusUnauthorized},
		{"valid token", testToken, http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodGet, ts.URL+"/api/status", tc.token, nil)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/status", testToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Running bool `json:"running"`
		Clients struct {
			Total   int `json:"total"`
			Enabled int `json:"enabled"`
		} `json:"clients"`
		Sinks struct {
			Total int `json:"total"`
		} `json:"sinks"`
	}
	decodeBody(t, resp, &body)
	if !body.Running {
		t.Error("running = false, want true")
	}
	if body.Clients.Total != 1 || body.Clients.Enabled != 1 {
		t.Errorf("clients = %+v", body.Clients)
	}
	if body.Sinks.Total != 1 {
		t.Errorf("sinks.total = %d, want 1", body.Sinks.Total)
	}
}

func TestDataFlowPaths(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/data-flow", testToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Paths []struct {
			Client  string `json:"client"`
			Server  string `json:"server"`
			Event   string `json:"event"`
			Enabled bool   `json:"enabled"`
		} `json:"paths"`
		BaseEvents map[string][]string `json:"baseEvents"`
	}
	decodeBody(t, resp, &body)
	if len(body.Paths) != 1 {
		t.Fatalf("paths = %d, want 1", len(body.Paths))
	}
	p := body.Paths[0]
	if p.Client != "irssi" || p.Server != "libera" || p.Event != "mentions" || !p.Enabled {
		t.Errorf("path = %+v", p)
	}
	if got := body.BaseEvents["message"]; len(got) != 2 {
		t.Errorf("baseEvents[message] = %v", got)
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	payload := `{"id": "oftc", "hostname": "irc.oftc.net", "displayName": "OFTC"}`
	resp := doRequest(t, http.MethodPut, ts.URL+"/api/config/file/servers/oftc",
		testToken, bytes.NewReader([]byte(payload)))
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("put status = %d: %s", resp.StatusCode, raw)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/config/file/servers/oftc", testToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got map[string]any
	decodeBody(t, resp, &got)
	if got["id"] != "oftc" || got["hostname"] != "irc.oftc.net" {
		t.Errorf("round trip = %v", got)
	}
}

func TestConfigFileRenameReadableUnderID(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	// The body's id wins over the URL name: the file lands under the id and
	// the URL-named file disappears.
	payload := `{"id": "efnet", "hostname": "irc.efnet.org"}`
	resp := doRequest(t, http.MethodPut, ts.URL+"/api/config/file/servers/oldname",
		testToken, bytes.NewReader([]byte(payload)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}
	var res struct {
		ID      string `json:"id"`
		Renamed bool   `json:"renamed"`
	}
	decodeBody(t, resp, &res)
	if res.ID != "efnet" || !res.Renamed {
		t.Errorf("write result = %+v", res)
	}

	if resp := doRequest(t, http.MethodGet, ts.URL+"/api/config/file/servers/efnet", testToken, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("get by id = %d, want 200", resp.StatusCode)
	}
	if resp := doRequest(t, http.MethodGet, ts.URL+"/api/config/file/servers/oldname", testToken, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get by old name = %d, want 404", resp.StatusCode)
	}
}

func TestFileOpsDisabled(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	payload := bytes.NewReader([]byte(`{"id": "x", "hostname": "irc.example.org"}`))
	if resp := doRequest(t, http.MethodPut, ts.URL+"/api/config/file/servers/x", testToken, payload); resp.StatusCode != http.StatusForbidden {
		t.Errorf("put = %d, want 403", resp.StatusCode)
	}
	if resp := doRequest(t, http.MethodDelete, ts.URL+"/api/config/file/servers/libera", testToken, nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("delete = %d, want 403", resp.StatusCode)
	}
	if resp := doRequest(t, http.MethodPost, ts.URL+"/api/config/upload", testToken, bytes.NewReader(nil)); resp.StatusCode != http.StatusForbidden {
		t.Errorf("upload = %d, want 403", resp.StatusCode)
	}
	// Reads stay available.
	if resp := doRequest(t, http.MethodGet, ts.URL+"/api/config/files", testToken, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("list = %d, want 200", resp.StatusCode)
	}
}

func TestLogReadPathSafety(t *testing.T) {
	ts, _, logDir := newTestServer(t, false)

	inside := filepath.Join(logDir, "libera", "#go-nuts.log")
	writeTestFile(t, inside, "<alice> one\n<bob> two\n")

	for _, tc := range []struct {
		name string
		path string
		want int
	}{
		{"inside log dir", inside, http.StatusOK},
		{"outside log dir", "/etc/passwd", http.StatusForbidden},
		{"traversal", filepath.Join(logDir, "..", "..", "etc", "passwd"), http.StatusForbidden},
		{"empty", "", http.StatusForbidden},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodGet,
				ts.URL+"/api/logs/read?path="+url.QueryEscape(tc.path), testToken, nil)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestLogTargetsAndMessages(t *testing.T) {
	ts, orch, logDir := newTestServer(t, false)

	writeTestFile(t, filepath.Join(logDir, "libera", "#go-nuts.log"),
		"<alice> one\n<bob> two\n<carol> three\n")
	orch.Refresh()

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/logs/targets", testToken, nil)
	var targets struct {
		Total   int `json:"total"`
		Targets []struct {
			Target string `json:"target"`
			Server string `json:"server"`
		} `json:"targets"`
	}
	decodeBody(t, resp, &targets)
	if targets.Total != 1 || targets.Targets[0].Target != "#go-nuts" {
		t.Fatalf("targets = %+v", targets)
	}
	if targets.Targets[0].Server != "libera" {
		t.Errorf("server = %q, want libera", targets.Targets[0].Server)
	}

	resp = doRequest(t, http.MethodGet,
		ts.URL+"/api/logs/messages?target=%23go-nuts&offset=1&limit=1", testToken, nil)
	var msgs struct {
		TotalLines    int      `json:"totalLines"`
		ReturnedLines int      `json:"returnedLines"`
		HasMore       bool     `json:"hasMore"`
		Lines         []string `json:"lines"`
	}
	decodeBody(t, resp, &msgs)
	if msgs.TotalLines != 3 || msgs.ReturnedLines != 1 || !msgs.HasMore {
		t.Errorf("paging = %+v", msgs)
	}
	if len(msgs.Lines) != 1 || msgs.Lines[0] != "<bob> two" {
		t.Errorf("lines = %v", msgs.Lines)
	}
}

func TestLogTail(t *testing.T) {
	ts, _, logDir := newTestServer(t, false)

	path := filepath.Join(logDir, "libera", "#go-nuts.log")
	var content string
	for i := 1; i <= 10; i++ {
		content += fmt.Sprintf("<alice> line %d\n", i)
	}
	writeTestFile(t, path, content)

	resp := doRequest(t, http.MethodGet,
		ts.URL+"/api/logs/tail?lines=3&path="+url.QueryEscape(path), testToken, nil)
	var body struct {
		ReturnedLines int      `json:"returnedLines"`
		Lines         []string `json:"lines"`
	}
	decodeBody(t, resp, &body)
	if body.ReturnedLines != 3 {
		t.Fatalf("returnedLines = %d, want 3", body.ReturnedLines)
	}
	if body.Lines[2] != "<alice> line 10" {
		t.Errorf("last line = %q", body.Lines[2])
	}

	// A negative count is treated as zero, not a slice panic.
	resp = doRequest(t, http.MethodGet,
		ts.URL+"/api/logs/tail?lines=-1&path="+url.QueryEscape(path), testToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with lines=-1 = %d, want 200", resp.StatusCode)
	}
	decodeBody(t, resp, &body)
	if body.ReturnedLines != 0 || len(body.Lines) != 0 {
		t.Errorf("lines=-1 returned %d lines: %v", body.ReturnedLines, body.Lines)
	}
}
