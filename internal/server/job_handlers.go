package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"soundprint/internal/database"
	"soundprint/pkg/models"
)

// handleGetJobs lists registration jobs, or returns one when the path
// carries a job ID.
func (s *Server) handleGetJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if s.jobs == nil {
		s.respondWithError(w, r, http.StatusServiceUnavailable, "Job history is disabled", nil)
		return
	}

	// Get specific job ID from URL path if provided
	pathParts := strings.Split(strings.TrimSuffix(r.URL.Path, "/"), "/")
	if len(pathParts) >= 4 && pathParts[3] != "" {
		job, err := s.jobs.GetJob(pathParts[3])
		if errors.Is(err, database.ErrJobNotFound) {
			s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
			return
		}
		if err != nil {
			s.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving job", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		s.respondJSON(w, job)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.respondWithValidationError(w, r, []ValidationError{{
				Field:   "limit",
				Message: "limit must be a non-negative integer",
				Code:    "INVALID_LIMIT",
			}})
			return
		}
		limit = parsed
	}

	jobs, err := s.jobs.GetAllJobs(limit)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving jobs", err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}

	w.Header().Set("Content-Type", "application/json")
	s.respondJSON(w, jobs)
}
