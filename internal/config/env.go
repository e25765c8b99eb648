package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFile is loaded before overrides are applied when it exists.
// Variables already present in the environment win over the file.
var EnvFile = ".env"

// ApplyEnv overlays SOUNDPRINT_* environment variables onto the configuration.
func (c *Config) ApplyEnv() error {
	if _, err := os.Stat(EnvFile); err == nil {
		if err := godotenv.Load(EnvFile); err != nil {
			return fmt.Errorf("load %s: %w", EnvFile, err)
		}
	}

	setString("SOUNDPRINT_HOST", &c.Server.Host)
	setString("SOUNDPRINT_PORT", &c.Server.Port)
	setString("SOUNDPRINT_STORE_PATH", &c.Store.Path)
	setString("SOUNDPRINT_TEMP_DIR", &c.Audio.TempDir)
	setString("SOUNDPRINT_FFMPEG_PATH", &c.Audio.FFmpegPath)
	setString("SOUNDPRINT_YT_DLP_PATH", &c.Downloader.YtDlpPath)
	setString("SOUNDPRINT_LOOKUP_BASE_URL", &c.Lookup.BaseURL)
	setString("SOUNDPRINT_LOOKUP_COUNTRY", &c.Lookup.Country)
	setString("SOUNDPRINT_CACHE_BACKEND", &c.Cache.Backend)
	setString("SOUNDPRINT_REDIS_ADDR", &c.Cache.RedisAddr)
	setString("SOUNDPRINT_REDIS_PASSWORD", &c.Cache.RedisPassword)
	setString("SOUNDPRINT_JOBS_DB", &c.Jobs.DatabasePath)
	setString("SOUNDPRINT_INBOX_PATH", &c.Inbox.Path)
	setString("SOUNDPRINT_LOG_LEVEL", &c.Logging.Level)
	setString("SOUNDPRINT_LOG_FORMAT", &c.Logging.Format)
	setString("SOUNDPRINT_LOG_FILE", &c.Logging.File)

	if c.Ngrok.AuthToken == "" {
		c.Ngrok.AuthToken = os.Getenv("NGROK_AUTHTOKEN")
	}

	if err := setInt("SOUNDPRINT_REDIS_DB", &c.Cache.RedisDB); err != nil {
		return err
	}
	if err := setInt("SOUNDPRINT_LOOKUP_TIMEOUT", &c.Lookup.TimeoutSeconds); err != nil {
		return err
	}
	if err := setBool("SOUNDPRINT_INBOX_ENABLED", &c.Inbox.Enabled); err != nil {
		return err
	}
	if err := setBool("SOUNDPRINT_JOBS_ENABLED", &c.Jobs.Enabled); err != nil {
		return err
	}
	return setBool("SOUNDPRINT_DOWNLOADER_ENABLED", &c.Downloader.Enabled)
}

func setString(key string, dst *string) {
	if value, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(value)
	}
}

func setInt(key string, dst *int) error {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setBool(key string, dst *bool) error {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}
