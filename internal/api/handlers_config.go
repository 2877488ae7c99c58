package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/user/notifirc/internal/config"
)

func (s *Server) getRootConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.orch.Store().Root())
}

// putRootConfig replaces the root config and applies it immediately.
func (s *Server) putRootConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "read body: %v", err)
		return
	}
	var root config.Root
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&root); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid root config: %v", err)
		return
	}
	if err := s.orch.Store().SaveRoot(root); err != nil {
		s.jsonError(w, http.StatusInternalServerError, "save root config: %v", err)
		return
	}
	if err := s.orch.ReloadFull(r.Context()); err != nil {
		s.jsonError(w, http.StatusInternalServerError, "reload: %v", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, root)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.ReloadFull(r.Context()); err != nil {
		s.jsonError(w, http.StatusInternalServerError, "reload: %v", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"reloaded": true})
}

func (s *Server) exportBundle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="notifirc-config.json.gz"`)
	if err := s.orch.Store().Export(w); err != nil {
		s.log.Error("bundle export failed", "error", err)
	}
}

// uploadBundle imports a gzipped bundle. ?mode=replace|merge (default
// merge), ?preferIncoming=true makes merge overwrite existing entries.
func (s *Server) uploadBundle(w http.ResponseWriter, r *http.Request) {
	if !s.opts.EnableFileOps {
		s.jsonError(w, http.StatusForbidden, "file operations are disabled")
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = config.ImportMerge
	}
	opts := config.DefaultImportOptions(mode)
	opts.PreferIncoming = r.URL.Query().Get("preferIncoming") == "true"

	bundle, err := config.ReadBundle(r.Body)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid bundle: %v", err)
		return
	}
	res, err := s.orch.Store().Import(bundle, opts)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "import: %v", err)
		return
	}
	if err := s.orch.ReloadFull(r.Context()); err != nil {
		s.jsonError(w, http.StatusInternalServerError, "reload after import: %v", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) listConfigFiles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.orch.Store().ListFiles())
}

func (s *Server) getConfigFile(w http.ResponseWriter, r *http.Request) {
	category, name := r.PathValue("category"), r.PathValue("name")
	raw, err := s.orch.Store().ReadFile(category, name)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			s.jsonError(w, http.StatusNotFound, "%s/%s not found", category, name)
			return
		}
		s.jsonError(w, http.StatusBadRequest, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func (s *Server) putConfigFile(w http.ResponseWriter, r *http.Request) {
	if !s.opts.EnableFileOps {
		s.jsonError(w, http.StatusForbidden, "file operations are disabled")
		return
	}
	category, name := r.PathValue("category"), r.PathValue("name")
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "read body: %v", err)
		return
	}
	res, err := s.orch.Store().WriteFile(category, name, raw)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := s.orch.ReloadFull(r.Context()); err != nil {
		s.jsonError(w, http.StatusInternalServerError, "reload after write: %v", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) deleteConfigFile(w http.ResponseWriter, r *http.Request) {
	if !s.opts.EnableFileOps {
		s.jsonError(w, http.StatusForbidden, "file operations are disabled")
		return
	}
	category, name := r.PathValue("category"), r.PathValue("name")
	res, err := s.orch.Store().DeleteFile(category, name)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if !res.Deleted {
		s.jsonError(w, http.StatusNotFound, "%s/%s not found", category, name)
		return
	}
	if err := s.orch.ReloadFull(r.Context()); err != nil {
		s.jsonError(w, http.StatusInternalServerError, "reload after delete: %v", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}
