package server

import (
	"encoding/json"
	"net/http"
)

type errorResponse struct {
	Error string `json:"error"`
}

// handleStatus serves the counters of every tier.
//
// Example response:
//
//	{"failure_policy": "error", "tiers": [{"name": "user-model", "metrics": {...}}]}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.limits.Status(r.Context()))
}

// handleUsage serves the window counts of /limits/usage?user=u&model=m.
// Nothing is recorded.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	user, model := r.URL.Query().Get("user"), r.URL.Query().Get("model")
	if user == "" || model == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user and model are required"})
		return
	}

	usage, err := s.limits.Usage(r.Context(), user, model)
	if err != nil {
		s.logger.WarnContext(r.Context(), "usage lookup failed", "user", user, "model", model, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
