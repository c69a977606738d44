package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/impactsweep/internal/model"
	"github.com/seantiz/impactsweep/internal/results"
	"github.com/seantiz/impactsweep/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listSweepsResponse wraps the sweep list.
type listSweepsResponse struct {
	Sweeps []*model.Sweep `json:"sweeps"`
	Limit  int            `json:"limit"`
}

// listJobsResponse is the JSON response for GET /v1/sweeps/{id}/jobs.
type listJobsResponse struct {
	SweepID string             `json:"sweep_id"`
	Jobs    []*model.JobRecord `json:"jobs"`
}

// statsResponse is the JSON response for GET /v1/sweeps/{id}/stats.
type statsResponse struct {
	SweepID       string         `json:"sweep_id"`
	Total         int            `json:"total"`
	ByOutcome     map[string]int `json:"by_outcome"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// listResultsResponse is the JSON response for GET /v1/results.
type listResultsResponse struct {
	Path string        `json:"path"`
	Rows []results.Row `json:"rows"`
}

func (s *Server) handleListSweeps(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	sweeps, err := s.store.ListSweeps(r.Context(), limit)
	if err != nil {
		s.logger.Error("list sweeps", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list sweeps")
		return
	}
	if sweeps == nil {
		sweeps = []*model.Sweep{}
	}

	s.writeJSON(w, http.StatusOK, listSweepsResponse{Sweeps: sweeps, Limit: limit})
}

func (s *Server) handleGetSweep(w http.ResponseWriter, r *http.Request) {
	sw, ok := s.lookupSweep(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, sw)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	sw, ok := s.lookupSweep(w, r)
	if !ok {
		return
	}

	jobs, err := s.store.ListJobs(r.Context(), sw.ID)
	if err != nil {
		s.logger.Error("list jobs", "sweep_id", sw.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*model.JobRecord{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{SweepID: sw.ID, Jobs: jobs})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	sw, ok := s.lookupSweep(w, r)
	if !ok {
		return
	}

	stats, err := s.store.GetSweepStats(r.Context(), sw.ID)
	if err != nil {
		s.logger.Error("get sweep stats", "sweep_id", sw.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		SweepID:       sw.ID,
		Total:         stats.Total,
		ByOutcome:     stats.CountByOutcome,
		AvgDurationMS: stats.AvgDurationMS,
	})
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	rows, err := s.table.Rows()
	if err != nil {
		s.logger.Error("read results", "path", s.table.Path(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read results")
		return
	}
	if rows == nil {
		rows = []results.Row{}
	}

	s.writeJSON(w, http.StatusOK, listResultsResponse{Path: s.table.Path(), Rows: rows})
}

// lookupSweep resolves the {id} parameter, writing the error response itself
// when it fails.
func (s *Server) lookupSweep(w http.ResponseWriter, r *http.Request) (*model.Sweep, bool) {
	id := chi.URLParam(r, "id")

	sw, err := s.store.GetSweep(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "sweep not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get sweep", "sweep_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get sweep")
		return nil, false
	}
	return sw, true
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
