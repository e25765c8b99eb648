package testsupport

import (
	"path/filepath"
	"testing"

	"soundprint/internal/config"
)

// NewConfig produces a config whose paths all live under a per-test temp dir.
// External services are disabled; callers opt back in as needed.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Store.Path = filepath.Join(base, "data", "fingerprint_db.json")
	cfg.Audio.TempDir = filepath.Join(base, "tmp")
	cfg.Downloader.AudioFormat = "wav"
	cfg.Downloader.TimeoutSeconds = 30
	cfg.Lookup.BaseURL = "http://127.0.0.1:1"
	cfg.Lookup.TimeoutSeconds = 2
	cfg.Lookup.RequestsPerSecond = 0
	cfg.Cache.Backend = "none"
	cfg.Jobs.DatabasePath = filepath.Join(base, "data", "jobs.db")
	cfg.Inbox.Path = filepath.Join(base, "inbox")
	cfg.Logging.Level = "error"
	return cfg
}
