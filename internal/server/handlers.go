package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"soundprint/pkg/models"
)

// trackResponse is a track with its store key included.
type trackResponse struct {
	ID string `json:"id"`
	models.Track
}

func newTrackResponse(track models.Track) trackResponse {
	return trackResponse{ID: track.ID, Track: track}
}

// respondJSON writes v as the JSON body. Headers must already be set.
func (s *Server) respondJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("Failed to write JSON response")
	}
}

// handleResultsJSON returns the whole collection keyed by id, exactly as stored.
func (s *Server) handleResultsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	collection, err := s.registrar.Load()
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Error loading fingerprint store", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	s.respondJSON(w, collection)
}

// handleGetTracks returns tracks as a list, optionally filtered by ?search=
// against title, artist and album.
func (s *Server) handleGetTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	searchQuery := sanitizeInput(r.URL.Query().Get("search"))
	if verr := s.validateSearchQuery(searchQuery); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	collection, err := s.registrar.Load()
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving tracks", err)
		return
	}

	tracks := make([]trackResponse, 0, len(collection))
	needle := strings.ToLower(searchQuery)
	for id := range collection {
		track, _ := collection.WithID(id)
		if needle != "" && !matchesSearch(track, needle) {
			continue
		}
		tracks = append(tracks, newTrackResponse(track))
	}
	sort.Slice(tracks, func(i, j int) bool {
		ti, tj := strings.ToLower(tracks[i].Title), strings.ToLower(tracks[j].Title)
		if ti != tj {
			return ti < tj
		}
		return tracks[i].ID < tracks[j].ID
	})

	w.Header().Set("Content-Type", "application/json")
	s.respondJSON(w, tracks)
}

func matchesSearch(track models.Track, needle string) bool {
	for _, field := range []string{track.Title, track.Artist, track.Album} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// handleTrack serves GET and DELETE on /api/tracks/{id}.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimSuffix(r.URL.Path, "/"), "/")
	trackID, verr := s.validateTrackID(pathParts, 4)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	switch r.Method {
	case http.MethodGet:
		track, ok, err := s.registrar.Get(trackID)
		if err != nil {
			s.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving track", err)
			return
		}
		if !ok {
			s.respondWithError(w, r, http.StatusNotFound, "Track not found", nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		s.respondJSON(w, newTrackResponse(track))

	case http.MethodDelete:
		if err := s.registrar.Delete(trackID); err != nil {
			s.respondWithError(w, r, http.StatusInternalServerError, "Error deleting track", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	}
}
