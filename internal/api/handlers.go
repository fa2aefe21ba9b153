package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()

	faulted := 0
	for _, wv := range snap.Workers {
		if wv.Fault != "" {
			faulted++
		}
	}

	status := "ok"
	if faulted > 0 {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		RunID:         snap.RunID,
		Phase:         snap.Phase,
		Workers:       len(snap.Workers),
		Busy:          snap.Busy,
		Faulted:       faulted,
		Queued:        snap.Queued,
		Dispatched:    snap.Dispatched,
		Completed:     snap.Completed,
	})
}

// handleWorkers handles GET /workers.
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	respondJSON(w, http.StatusOK, WorkersResponse{LastEventID: snap.LastEvent, Workers: snap.Workers})
}

// handleWorker handles GET /workers/{id}.
func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "worker id must be an integer")
		return
	}
	for _, wv := range s.tracker.Snapshot().Workers {
		if wv.Worker == id {
			respondJSON(w, http.StatusOK, wv)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "worker not found")
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
