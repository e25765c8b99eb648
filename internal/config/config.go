package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Store      StoreConfig      `toml:"store"`
	Audio      AudioConfig      `toml:"audio"`
	Downloader DownloaderConfig `toml:"downloader"`
	Lookup     LookupConfig     `toml:"lookup"`
	Cache      CacheConfig      `toml:"cache"`
	Jobs       JobsConfig       `toml:"jobs"`
	Inbox      InboxConfig      `toml:"inbox"`
	Logging    LoggingConfig    `toml:"logging"`
	Ngrok      NgrokConfig      `toml:"ngrok"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port           string `toml:"port"`
	Host           string `toml:"host"`
	EnableCORS     bool   `toml:"enable_cors"`
	ReadTimeout    int    `toml:"read_timeout_seconds"`
	WriteTimeout   int    `toml:"write_timeout_seconds"`
	MaxUploadSize  int64  `toml:"max_upload_size_mb"`
	RequestLogging bool   `toml:"request_logging"`
}

// StoreConfig locates the fingerprint collection file
type StoreConfig struct {
	Path string `toml:"path"`
}

// AudioConfig contains decoding and feature extraction settings
type AudioConfig struct {
	SampleRate       int      `toml:"sample_rate"`
	NMFCC            int      `toml:"n_mfcc"`
	NMels            int      `toml:"n_mels"`
	FFTSize          int      `toml:"fft_size"`
	HopLength        int      `toml:"hop_length"`
	FFmpegPath       string   `toml:"ffmpeg_path"`
	TempDir          string   `toml:"temp_dir"`
	DecodeTimeout    int      `toml:"decode_timeout_seconds"`
	SupportedFormats []string `toml:"supported_formats"`
	StaleAfterHours  int      `toml:"stale_after_hours"`
}

// DownloaderConfig contains remote acquisition configuration
type DownloaderConfig struct {
	Enabled        bool     `toml:"enabled"`
	YtDlpPath      string   `toml:"yt_dlp_path"`
	AudioFormat    string   `toml:"audio_format"`
	AudioQuality   string   `toml:"audio_quality"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	AllowedDomains []string `toml:"allowed_domains"`
}

// LookupConfig configures the external metadata search service
type LookupConfig struct {
	BaseURL           string  `toml:"base_url"`
	Country           string  `toml:"country"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	LowResToken       string  `toml:"low_res_token"`
	HighResToken      string  `toml:"high_res_token"`
}

// CacheConfig selects the backend used to cache lookup results
type CacheConfig struct {
	Backend       string `toml:"backend"` // memory, redis or none
	TTLMinutes    int    `toml:"ttl_minutes"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

// JobsConfig controls persistence of registration history
type JobsConfig struct {
	Enabled      bool   `toml:"enabled"`
	DatabasePath string `toml:"database_path"`
	RetainDays   int    `toml:"retain_days"`
}

// InboxConfig controls the watched drop folder
type InboxConfig struct {
	Enabled           bool   `toml:"enabled"`
	Path              string `toml:"path"`
	RemoveAfterImport bool   `toml:"remove_after_import"`
	SettleMillis      int    `toml:"settle_millis"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "0.0.0.0",
			EnableCORS:     true,
			ReadTimeout:    30,
			WriteTimeout:   300,
			MaxUploadSize:  100,
			RequestLogging: true,
		},
		Store: StoreConfig{
			Path: "./data/fingerprint_db.json",
		},
		Audio: AudioConfig{
			SampleRate:       22050,
			NMFCC:            13,
			NMels:            128,
			FFTSize:          2048,
			HopLength:        512,
			FFmpegPath:       "ffmpeg",
			TempDir:          "./data/tmp",
			DecodeTimeout:    300,
			SupportedFormats: []string{".mp3", ".wav", ".flac", ".m4a", ".ogg", ".webm"},
			StaleAfterHours:  6,
		},
		Downloader: DownloaderConfig{
			Enabled:        true,
			YtDlpPath:      "yt-dlp",
			AudioFormat:    "mp3",
			AudioQuality:   "192K",
			TimeoutSeconds: 600,
			AllowedDomains: []string{},
		},
		Lookup: LookupConfig{
			BaseURL:           "https://itunes.apple.com",
			Country:           "",
			TimeoutSeconds:    10,
			RequestsPerSecond: 0.33,
			Burst:             3,
			LowResToken:       "100x100",
			HighResToken:      "600x600",
		},
		Cache: CacheConfig{
			Backend:     "memory",
			TTLMinutes:  60,
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "soundprint:lookup:",
		},
		Jobs: JobsConfig{
			Enabled:      true,
			DatabasePath: "./data/jobs.db",
			RetainDays:   30,
		},
		Inbox: InboxConfig{
			Enabled:           false,
			Path:              "./data/inbox",
			RemoveAfterImport: true,
			SettleMillis:      500,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   false,
		},
		Ngrok: NgrokConfig{
			Enabled: false,
		},
	}
}

// LoadConfig loads configuration from a TOML file and applies environment overrides
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# soundprint configuration
# Audio ingestion, fingerprinting and metadata enrichment settings.
# Any value can be overridden with a SOUNDPRINT_* environment variable.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Server.MaxUploadSize < 1 {
		return fmt.Errorf("server max upload size must be at least 1 MB")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty")
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample rate must be positive")
	}
	if c.Audio.NMels < 1 {
		return fmt.Errorf("audio n_mels must be at least 1")
	}
	if c.Audio.NMFCC < 1 || c.Audio.NMFCC > c.Audio.NMels {
		return fmt.Errorf("audio n_mfcc must be between 1 and n_mels (%d)", c.Audio.NMels)
	}
	if c.Audio.FFTSize < 2 || c.Audio.FFTSize&(c.Audio.FFTSize-1) != 0 {
		return fmt.Errorf("audio fft size must be a power of two: %d", c.Audio.FFTSize)
	}
	if c.Audio.HopLength < 1 {
		return fmt.Errorf("audio hop length must be at least 1")
	}
	if c.Audio.TempDir == "" {
		return fmt.Errorf("audio temp dir cannot be empty")
	}
	if c.Audio.DecodeTimeout <= 0 {
		return fmt.Errorf("audio decode timeout must be positive")
	}
	if len(c.Audio.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}

	if c.Downloader.Enabled {
		if c.Downloader.YtDlpPath == "" {
			return fmt.Errorf("downloader yt-dlp path cannot be empty")
		}
		if c.Downloader.AudioFormat == "" {
			return fmt.Errorf("downloader audio format cannot be empty")
		}
		if c.Downloader.TimeoutSeconds <= 0 {
			return fmt.Errorf("downloader timeout must be positive")
		}
	}

	if c.Lookup.BaseURL == "" {
		return fmt.Errorf("lookup base url cannot be empty")
	}
	if c.Lookup.TimeoutSeconds <= 0 {
		return fmt.Errorf("lookup timeout must be positive")
	}
	if c.Lookup.RequestsPerSecond < 0 {
		return fmt.Errorf("lookup requests per second cannot be negative")
	}

	validBackends := map[string]bool{"memory": true, "redis": true, "none": true}
	if !validBackends[c.Cache.Backend] {
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis cache requires redis_addr")
	}

	if c.Jobs.Enabled && c.Jobs.DatabasePath == "" {
		return fmt.Errorf("jobs database path cannot be empty")
	}
	if c.Inbox.Enabled && c.Inbox.Path == "" {
		return fmt.Errorf("inbox path cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsFormatSupported checks if an audio file extension is accepted for upload
func (c *Config) IsFormatSupported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supported := range c.Audio.SupportedFormats {
		if strings.ToLower(supported) == ext {
			return true
		}
	}
	return false
}
