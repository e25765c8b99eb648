package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"soundprint/internal/ident"

	"github.com/sirupsen/logrus"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondWithValidationError sends a structured validation error response
func (s *Server) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors []ValidationError) {
	s.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	result := ValidationResult{
		Valid:  false,
		Errors: errors,
	}

	s.respondJSON(w, result)
}

// respondWithError sends a structured error response
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := s.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	}
	if err != nil && statusCode < 500 {
		response["detail"] = err.Error()
	}

	s.respondJSON(w, response)
}

// validateTrackID extracts a track ID from the URL path and checks its shape
func (s *Server) validateTrackID(pathParts []string, minParts int) (string, *ValidationError) {
	if len(pathParts) < minParts {
		return "", &ValidationError{
			Field:   "track_id",
			Message: "Track ID is required",
			Code:    "MISSING_TRACK_ID",
		}
	}

	trackID := pathParts[minParts-1]
	if trackID == "" {
		return "", &ValidationError{
			Field:   "track_id",
			Message: "Track ID cannot be empty",
			Code:    "EMPTY_TRACK_ID",
		}
	}

	if len(pathParts) > minParts {
		return "", &ValidationError{
			Field:   "track_id",
			Message: "Unexpected path segments after track ID",
			Code:    "INVALID_TRACK_PATH",
		}
	}

	if !ident.Valid(ident.DefaultPrefix, trackID) {
		return "", &ValidationError{
			Field:   "track_id",
			Message: "Track ID must look like " + ident.DefaultPrefix + "1a2b3c4d",
			Code:    "INVALID_TRACK_ID_FORMAT",
		}
	}

	return trackID, nil
}

// validateSearchQuery validates search query parameters
func (s *Server) validateSearchQuery(query string) *ValidationError {
	if len(query) > 1000 {
		return &ValidationError{
			Field:   "search",
			Message: "Search query too long (max 1000 characters)",
			Code:    "SEARCH_QUERY_TOO_LONG",
		}
	}

	if strings.Contains(query, "\x00") {
		return &ValidationError{
			Field:   "search",
			Message: "Search query contains invalid characters",
			Code:    "INVALID_SEARCH_CHARACTERS",
		}
	}

	return nil
}

// validateURL validates registration URLs
func (s *Server) validateURL(urlStr string) *ValidationError {
	if urlStr == "" {
		return &ValidationError{
			Field:   "url",
			Message: "URL is required",
			Code:    "MISSING_URL",
		}
	}

	if len(urlStr) > 2048 {
		return &ValidationError{
			Field:   "url",
			Message: "URL too long (max 2048 characters)",
			Code:    "URL_TOO_LONG",
		}
	}

	if err := s.urls.ValidateURL(urlStr); err != nil {
		code := "INVALID_URL"
		if strings.Contains(err.Error(), "http://") {
			code = "INVALID_URL_PROTOCOL"
		} else if strings.Contains(err.Error(), "allowed domains") {
			code = "DOMAIN_NOT_ALLOWED"
		}
		return &ValidationError{
			Field:   "url",
			Message: err.Error(),
			Code:    code,
		}
	}

	return nil
}

// validateMetadataField validates an optional title or artist override
func (s *Server) validateMetadataField(field, value string) *ValidationError {
	if len(value) > 255 {
		return &ValidationError{
			Field:   field,
			Message: field + " too long (max 255 characters)",
			Code:    strings.ToUpper(field) + "_TOO_LONG",
		}
	}

	if strings.ContainsAny(value, "\x00\n\r") {
		return &ValidationError{
			Field:   field,
			Message: field + " contains invalid characters",
			Code:    "INVALID_" + strings.ToUpper(field) + "_CHARACTERS",
		}
	}

	return nil
}

// validateUploadFilename checks the upload extension against supported formats
func (s *Server) validateUploadFilename(filename string) *ValidationError {
	safeFilename := filepath.Base(filename)
	if safeFilename == "." || safeFilename == "/" || safeFilename == "" {
		return &ValidationError{
			Field:   "file",
			Message: "Upload filename is required",
			Code:    "MISSING_FILENAME",
		}
	}

	if !s.config.IsFormatSupported(filepath.Ext(safeFilename)) {
		return &ValidationError{
			Field:   "file",
			Message: "Unsupported file type: " + strings.ToLower(filepath.Ext(safeFilename)) + " (supported: " + strings.Join(s.config.Audio.SupportedFormats, ", ") + ")",
			Code:    "UNSUPPORTED_FILE_TYPE",
		}
	}

	return nil
}

// sanitizeInput sanitizes user input to prevent injection attacks
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
