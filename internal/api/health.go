package api

import (
	"net/http"
)

// healthResponse reports liveness along with the most recent sweep, so a
// probe can tell an idle server from one watching a running sweep.
type healthResponse struct {
	Status      string `json:"status"`
	LastSweep   string `json:"last_sweep,omitempty"`
	SweepStatus string `json:"sweep_status,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	sweeps, err := s.store.ListSweeps(r.Context(), 1)
	if err != nil {
		s.logger.Error("healthz: ledger unavailable", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "ledger unavailable"})
		return
	}

	resp := healthResponse{Status: "ok"}
	if len(sweeps) > 0 {
		resp.LastSweep = sweeps[0].ID
		resp.SweepStatus = sweeps[0].Status
	}
	s.writeJSON(w, http.StatusOK, resp)
}
