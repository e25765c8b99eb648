package metadata

import "soundprint/internal/config"

func defaultLookupConfig() config.LookupConfig {
	cfg := config.DefaultConfig().Lookup
	cfg.RequestsPerSecond = 0
	return cfg
}
