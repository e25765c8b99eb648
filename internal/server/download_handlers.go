package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"soundprint/internal/downloader"
	"soundprint/internal/pipeline"
	"soundprint/pkg/models"
)

// registerRequest is the body of POST /api/register.
type registerRequest struct {
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
}

// handleRegister registers a remote media URL and returns the stored track.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if !s.config.Downloader.Enabled {
		s.respondWithError(w, r, http.StatusServiceUnavailable, "URL registration is disabled", nil)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	req.URL = sanitizeInput(req.URL)
	req.Title = sanitizeInput(req.Title)
	req.Artist = sanitizeInput(req.Artist)

	var verrs []ValidationError
	if verr := s.validateURL(req.URL); verr != nil {
		verrs = append(verrs, *verr)
	}
	if verr := s.validateMetadataField("title", req.Title); verr != nil {
		verrs = append(verrs, *verr)
	}
	if verr := s.validateMetadataField("artist", req.Artist); verr != nil {
		verrs = append(verrs, *verr)
	}
	if len(verrs) > 0 {
		s.respondWithValidationError(w, r, verrs)
		return
	}

	track, err := s.registrar.Register(r.Context(), pipeline.Source{
		URL:    req.URL,
		Title:  req.Title,
		Artist: req.Artist,
	})
	if err != nil {
		s.respondWithError(w, r, statusForRegistration(err), err.Error(), err)
		return
	}

	s.respondCreated(w, track)
}

// handleValidateURL reports whether a URL would be accepted for registration.
func (s *Server) handleValidateURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	req.URL = sanitizeInput(req.URL)
	verr := s.validateURL(req.URL)
	response := map[string]interface{}{
		"url":     req.URL,
		"valid":   verr == nil,
		"message": "URL is valid and supported",
	}
	if verr != nil {
		response["message"] = verr.Message
		response["code"] = verr.Code
	}

	w.Header().Set("Content-Type", "application/json")
	s.respondJSON(w, response)
}

// respondCreated writes a 201 with the newly stored track.
func (s *Server) respondCreated(w http.ResponseWriter, track models.Track) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	s.respondJSON(w, map[string]interface{}{
		"success": true,
		"track":   newTrackResponse(track),
	})
}

// statusForRegistration maps a registration failure to an HTTP status.
func statusForRegistration(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNoSource),
		errors.Is(err, downloader.ErrInvalidURL),
		errors.Is(err, downloader.ErrUnsupportedFormat),
		errors.Is(err, downloader.ErrEmptyUpload):
		return http.StatusBadRequest
	}

	var regErr *pipeline.RegistrationError
	if errors.As(err, &regErr) {
		switch regErr.Stage {
		case pipeline.StageAcquire:
			return http.StatusBadGateway
		case pipeline.StageExtract:
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}
