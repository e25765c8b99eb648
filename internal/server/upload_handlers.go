package server

import (
	"net/http"
	"path/filepath"

	"soundprint/internal/pipeline"
)

// handleUploadTrack registers an uploaded audio file. The multipart form
// carries "file" plus optional "title" and "artist" fields.
func (s *Server) handleUploadTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	maxSize := s.config.Server.MaxUploadSize * 1024 * 1024 // Convert MB to bytes
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Failed to parse upload form", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "No file provided", err)
		return
	}
	defer file.Close()

	title := sanitizeInput(r.FormValue("title"))
	artist := sanitizeInput(r.FormValue("artist"))

	var verrs []ValidationError
	if verr := s.validateUploadFilename(header.Filename); verr != nil {
		verrs = append(verrs, *verr)
	}
	if verr := s.validateMetadataField("title", title); verr != nil {
		verrs = append(verrs, *verr)
	}
	if verr := s.validateMetadataField("artist", artist); verr != nil {
		verrs = append(verrs, *verr)
	}
	if len(verrs) > 0 {
		s.respondWithValidationError(w, r, verrs)
		return
	}

	track, err := s.registrar.Register(r.Context(), pipeline.Source{
		Upload:   file,
		Filename: filepath.Base(header.Filename),
		Title:    title,
		Artist:   artist,
	})
	if err != nil {
		s.respondWithError(w, r, statusForRegistration(err), err.Error(), err)
		return
	}

	s.respondCreated(w, track)
}
