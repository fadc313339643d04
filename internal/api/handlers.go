// Package api serves the built documents read-only over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/transitdocs/schedule-builder/internal/docstore"
	"github.com/transitdocs/schedule-builder/internal/natural"
)

// DocumentRepository defines the read operations the handlers need
type DocumentRepository interface {
	List(ctx context.Context, coll docstore.Collection) ([]docstore.Document, error)
	Raw(ctx context.Context, coll docstore.Collection, key string) ([]byte, error)
	LastRun(ctx context.Context) (*docstore.Run, error)
}

var _ DocumentRepository = (*docstore.Store)(nil)

// Handler handles HTTP requests for line, stop and shape documents
type Handler struct {
	repo DocumentRepository
	log  logrus.FieldLogger
}

// NewHandler creates a new handler with the given repository
func NewHandler(repo DocumentRepository, log logrus.FieldLogger) *Handler {
	return &Handler{repo: repo, log: log}
}

var (
	emptyList   = []byte("[]")
	emptyObject = []byte("{}")
)

// List returns a handler for GET /<collection>. Documents are sorted by key
// in natural order ("2" before "10"). An empty collection is a 404.
func (h *Handler) List(coll docstore.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.log.WithField("path", r.URL.Path)

		docs, err := h.repo.List(r.Context(), coll)
		if err != nil {
			log.WithError(err).Error("request failed")
			writeJSON(w, http.StatusInternalServerError, emptyList)
			return
		}
		if len(docs) == 0 {
			log.Info("not found")
			writeJSON(w, http.StatusNotFound, emptyList)
			return
		}

		natural.SortStableBy(natural.New(), docs, func(d docstore.Document) string { return d.Key })

		bodies := make([]json.RawMessage, len(docs))
		for i, d := range docs {
			bodies[i] = d.Body
		}
		body, err := json.Marshal(bodies)
		if err != nil {
			log.WithError(err).Error("failed to encode documents")
			writeJSON(w, http.StatusInternalServerError, emptyList)
			return
		}

		log.WithField("count", len(docs)).Debug("found")
		w.Header().Set("Cache-Control", "public, max-age=60")
		writeJSON(w, http.StatusOK, body)
	}
}

// Get returns a handler for GET /<collection>/{code}
func (h *Handler) Get(coll docstore.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		log := h.log.WithField("path", r.URL.Path)

		body, err := h.repo.Raw(r.Context(), coll, code)
		if errors.Is(err, docstore.ErrNotFound) {
			log.Info("not found")
			writeJSON(w, http.StatusNotFound, emptyObject)
			return
		}
		if err != nil {
			log.WithError(err).Error("request failed")
			writeJSON(w, http.StatusInternalServerError, emptyObject)
			return
		}

		log.Debug("found")
		w.Header().Set("Cache-Control", "public, max-age=60")
		writeJSON(w, http.StatusOK, body)
	}
}

// HealthResponse is the JSON response for GET /health
type HealthResponse struct {
	Status    string     `json:"status"`
	Database  string     `json:"database"`
	Timestamp time.Time  `json:"timestamp"`
	LastBuild *BuildInfo `json:"last_build,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// BuildInfo summarizes the most recent build run
type BuildInfo struct {
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stages     []string   `json:"stages"`
}

// Health handles GET /health with a document store check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Timestamp: time.Now().UTC()}

	run, err := h.repo.LastRun(ctx)
	if err != nil {
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Error = err.Error()
		writeValue(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = "ok"
	resp.Database = "connected"
	if run != nil {
		info := &BuildInfo{
			RunID:     run.ID,
			Status:    string(run.Status),
			StartedAt: run.StartedAt,
			Stages:    run.Stages,
		}
		if !run.FinishedAt.IsZero() {
			finished := run.FinishedAt
			info.FinishedAt = &finished
		}
		resp.LastBuild = info
	}
	writeValue(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeValue(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
