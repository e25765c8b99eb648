package server

import (
	"net/http"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Store     string                 `json:"store"`
	Jobs      string                 `json:"jobs"`
	Tracks    int                    `json:"trackCount"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Store:     "ok",
		Jobs:      "disabled",
		Details:   make(map[string]interface{}),
	}

	// A corrupt store makes every registration fail, so it is unhealthy.
	collection, err := s.registrar.Load()
	if err != nil {
		health.Status = "unhealthy"
		health.Store = "error"
		health.Details["store_error"] = err.Error()
	} else {
		health.Tracks = len(collection)
	}

	if s.jobs != nil {
		health.Jobs = "ok"
		if _, err := s.jobs.GetAllJobs(1); err != nil {
			health.Jobs = "error"
			health.Details["jobs_error"] = err.Error()
		}
	}

	if url := s.ngrokService.GetPublicURL(); url != "" {
		health.Details["public_url"] = url
	}

	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	s.respondJSON(w, health)
}
