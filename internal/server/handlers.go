package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/semcode/semcode/internal/coordinator"
	cerr "github.com/semcode/semcode/internal/errors"
	"github.com/semcode/semcode/internal/watcher"
)

type errorBody struct {
	Error string   `json:"error"`
	Kind  string   `json:"kind"`
	Hints []string `json:"hints,omitempty"`
}

// writeError is the taxonomy-to-HTTP boundary.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := cerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case cerr.KindNotFound:
		status = http.StatusNotFound
	case cerr.KindInvalidPath, cerr.KindConfiguration:
		status = http.StatusBadRequest
	case cerr.KindAlreadyIndexing:
		status = http.StatusConflict
	case cerr.KindProviderUnavailable, cerr.KindTransient:
		status = http.StatusServiceUnavailable
	case cerr.KindBatchLimit:
		status = http.StatusUnprocessableEntity
	}
	if status >= 500 {
		s.logger.Error("request failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
	s.writeJSON(w, status, errorBody{
		Error: err.Error(),
		Kind:  string(kind),
		Hints: cerr.HintsOf(err),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, cerr.Wrap(cerr.KindInvalidPath, "invalid request body", err))
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListEmbedders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pool.ProbeAll(r.Context()))
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.List())
}

type createProjectRequest struct {
	Path         string `json:"path"`
	Provider     string `json:"provider,omitempty"`
	AllowReindex bool   `json:"allowReindex,omitempty"`
}

type createProjectResponse struct {
	ProjectID string `json:"projectId"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.writeError(w, cerr.New(cerr.KindInvalidPath, "path is required"))
		return
	}
	id, err := s.coord.StartIndexing(r.Context(), req.Path, coordinator.Options{
		Provider:     req.Provider,
		AllowReindex: req.AllowReindex,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, createProjectResponse{ProjectID: id})
}

func (s *Server) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRemoveProject(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.RemoveProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startIndexingRequest struct {
	Provider     string `json:"provider,omitempty"`
	AllowReindex bool   `json:"allowReindex,omitempty"`
	VectorsOnly  bool   `json:"vectorsOnly,omitempty"`
	GraphOnly    bool   `json:"graphOnly,omitempty"`
}

func (s *Server) handleStartIndexing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req startIndexingRequest
	if r.ContentLength > 0 && !s.decode(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.VectorsOnly && req.GraphOnly:
		s.writeError(w, cerr.New(cerr.KindInvalidPath, "vectorsOnly and graphOnly are mutually exclusive"))
		return
	case req.VectorsOnly:
		err = s.coord.IndexVectorsOnly(r.Context(), id)
	case req.GraphOnly:
		err = s.coord.IndexGraphOnly(r.Context(), id)
	default:
		p, gerr := s.registry.Get(id)
		if gerr != nil {
			s.writeError(w, gerr)
			return
		}
		_, err = s.coord.StartIndexing(r.Context(), p.Root, coordinator.Options{
			Provider:     req.Provider,
			AllowReindex: req.AllowReindex,
		})
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStopIndexing(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.StopIndexing(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type fileChangeRequest struct {
	Events []fileChangeEvent `json:"events"`
}

type fileChangeEvent struct {
	Op      string `json:"op"`
	RelPath string `json:"relPath"`
}

func (s *Server) handleFileChanges(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req fileChangeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := s.registry.Get(id); err != nil {
		s.writeError(w, err)
		return
	}

	events := make([]watcher.Event, 0, len(req.Events))
	now := time.Now()
	for _, ev := range req.Events {
		var op watcher.Op
		switch ev.Op {
		case "create":
			op = watcher.OpCreate
		case "modify":
			op = watcher.OpModify
		case "delete":
			op = watcher.OpDelete
		case "resync":
			op = watcher.OpResync
		default:
			s.writeError(w, cerr.Newf(cerr.KindInvalidPath, "unknown change op %q", ev.Op))
			return
		}
		events = append(events, watcher.Event{Op: op, RelPath: ev.RelPath, Time: now})
	}
	s.coord.OnFileChange(id, events)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVectorInfo(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.vectors.Info(p.Collection())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGraphInfo(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.graphs.Info(r.Context(), p.Space())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

type searchRequest struct {
	ProjectID string  `json:"projectId"`
	Query     string  `json:"query"`
	Limit     int     `json:"limit,omitempty"`
	MinScore  float32 `json:"minScore,omitempty"`
	Provider  string  `json:"provider,omitempty"`
}

type searchHit struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	Similarity float32           `json:"similarity"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ProjectID == "" || req.Query == "" {
		s.writeError(w, cerr.New(cerr.KindInvalidPath, "projectId and query are required"))
		return
	}
	p, err := s.registry.Get(req.ProjectID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	provider := req.Provider
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	vecs, err := s.pool.Embed(r.Context(), provider, []string{req.Query})
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	// The project filter is enforced here, never trusted to the client.
	where := map[string]string{"project_id": p.ID}
	results, err := s.vectors.Search(r.Context(), p.Collection(), vecs[0], limit, req.MinScore, where)
	if err != nil {
		s.writeError(w, err)
		return
	}

	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{
			ID:         res.ID,
			Content:    res.Content,
			Metadata:   res.Metadata,
			Similarity: res.Similarity,
		})
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Results: hits})
}
