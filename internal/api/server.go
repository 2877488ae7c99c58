// Package api is the HTTP control plane: status and data-flow inspection,
// config CRUD, bundle import/export, log browsing and the live event
// stream.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/notifirc"
	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/internal/orchestrator"
)

// Options resolve to the control plane's listen and auth settings.
type Options struct {
	Enabled       bool
	Host          string
	Port          int
	Token         string
	EnableFileOps bool
}

// ResolveOptions layers the environment over the root config: ENABLE_API,
// API_HOST, API_PORT, API_TOKEN and API_ENABLE_FILE_OPS override their
// config counterparts. The token falls back to the generated token file.
func ResolveOptions(root config.Root, configDir string) (Options, error) {
	opts := Options{Port: 8765, Host: "127.0.0.1"}
	if api := root.API; api != nil {
		opts.Enabled = api.Enabled
		opts.EnableFileOps = api.EnableFileOps
		opts.Token = api.AuthToken
		if api.Host != "" {
			opts.Host = api.Host
		}
		if api.Port != 0 {
			opts.Port = api.Port
		}
	}
	if v := os.Getenv("ENABLE_API"); v != "" {
		opts.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("API_HOST"); v != "" {
		opts.Host = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("API_PORT: %w", err)
		}
		opts.Port = p
	}
	if v := os.Getenv("API_ENABLE_FILE_OPS"); v != "" {
		opts.EnableFileOps = v == "true" || v == "1"
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		opts.Token = v
	}
	if opts.Token == "" {
		token, err := config.LoadOrCreateToken(configDir)
		if err != nil {
			return opts, err
		}
		opts.Token = token
	}
	return opts, nil
}

// Server is the control plane over one orchestrator.
type Server struct {
	log  notifirc.Logger
	orch *orchestrator.Orchestrator
	opts Options

	httpSrv *http.Server
}

// NewServer builds the control plane. The orchestrator supplies the config
// store, the adapters and the live stream.
func NewServer(orch *orchestrator.Orchestrator, opts Options, log notifirc.Logger) *Server {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	return &Server{log: log, orch: orch, opts: opts}
}

// Routes assembles the handler tree with bearer-token auth on every /api
// route.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.health)
	mux.HandleFunc("GET /api/status", s.status)
	mux.HandleFunc("GET /api/data-flow", s.dataFlow)

	mux.HandleFunc("GET /api/config", s.getRootConfig)
	mux.HandleFunc("PUT /api/config", s.putRootConfig)
	mux.HandleFunc("POST /api/config/reload", s.reload)
	mux.HandleFunc("GET /api/config/export", s.exportBundle)
	mux.HandleFunc("POST /api/config/upload", s.uploadBundle)
	mux.HandleFunc("GET /api/config/files", s.listConfigFiles)
	mux.HandleFunc("GET /api/config/file/{category}/{name}", s.getConfigFile)
	mux.HandleFunc("PUT /api/config/file/{category}/{name}", s.putConfigFile)
	mux.HandleFunc("POST /api/config/file/{category}/{name}", s.putConfigFile)
	mux.HandleFunc("DELETE /api/config/file/{category}/{name}", s.deleteConfigFile)

	mux.HandleFunc("GET /api/logs/targets", s.logTargets)
	mux.HandleFunc("GET /api/logs/messages", s.logMessages)
	mux.HandleFunc("GET /api/logs/discover", s.logDiscover)
	mux.HandleFunc("GET /api/logs/read", s.logRead)
	mux.HandleFunc("GET /api/logs/tail", s.logTail)

	mux.HandleFunc("GET /api/events/ws", s.eventsWS)

	mux.Handle("GET /metrics", promhttp.Handler())

	return s.auth(mux)
}

// auth enforces Authorization: Bearer on every /api route. The websocket
// endpoint also accepts ?token= since browsers cannot set headers on an
// upgrade request.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		token := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		} else if r.URL.Path == "/api/events/ws" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) != 1 {
			s.jsonError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("control plane listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("control plane stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) jsonError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf(format, args...)})
}

// writeJSON responds with JSON, gzip-compressed when the client accepts it
// and the payload is large enough to be worth it.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "encode response: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if len(raw) > 1024 && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(status)
		gw := gzip.NewWriter(w)
		gw.Write(raw)
		gw.Close()
		return
	}
	w.WriteHeader(status)
	w.Write(raw)
}
