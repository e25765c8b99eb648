package server

import (
	"net/http"
)

// ConfigResponse represents the public configuration sent to API clients
type ConfigResponse struct {
	Fingerprint FingerprintConfigResponse `json:"fingerprint"`
	Upload      UploadConfigResponse      `json:"upload"`
	Register    RegisterConfigResponse    `json:"register"`
	JobHistory  bool                      `json:"job_history"`
}

// FingerprintConfigResponse describes the vectors stored for each track
type FingerprintConfigResponse struct {
	SampleRate   int `json:"sample_rate"`
	Coefficients int `json:"coefficients"`
}

// UploadConfigResponse represents upload limits
type UploadConfigResponse struct {
	SupportedFormats []string `json:"supported_formats"`
	MaxUploadSize    int64    `json:"max_upload_size_mb"`
}

// RegisterConfigResponse represents URL registration settings
type RegisterConfigResponse struct {
	Enabled        bool     `json:"enabled"`
	AllowedDomains []string `json:"allowed_domains"`
}

// handleGetConfig returns public configuration settings
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	domains := s.config.Downloader.AllowedDomains
	if domains == nil {
		domains = []string{}
	}

	config := ConfigResponse{
		Fingerprint: FingerprintConfigResponse{
			SampleRate:   s.config.Audio.SampleRate,
			Coefficients: s.config.Audio.NMFCC,
		},
		Upload: UploadConfigResponse{
			SupportedFormats: s.config.Audio.SupportedFormats,
			MaxUploadSize:    s.config.Server.MaxUploadSize,
		},
		Register: RegisterConfigResponse{
			Enabled:        s.config.Downloader.Enabled,
			AllowedDomains: domains,
		},
		JobHistory: s.jobs != nil,
	}

	w.Header().Set("Content-Type", "application/json")
	s.respondJSON(w, config)
}
