package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"soundprint/internal/audio"
	"soundprint/internal/cache"
	"soundprint/internal/config"
	"soundprint/internal/database"
	"soundprint/internal/downloader"
	"soundprint/internal/logging"
	"soundprint/internal/metadata"
	"soundprint/internal/pipeline"
	"soundprint/internal/store"
	"soundprint/internal/tempfiles"

	"github.com/sirupsen/logrus"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := defaultConfigPath
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.LoadConfig(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*logrus.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(cfg.Logging)
}

// openStore opens the fingerprint store without the rest of the pipeline.
func (c *commandContext) openStore() (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	return store.New(cfg.Store.Path, logger), nil
}

// application holds the fully wired pipeline.
type application struct {
	cfg       *config.Config
	logger    *logrus.Logger
	registrar *pipeline.Registrar
	jobs      *database.Database
	cache     cache.Store
}

func (a *application) Close() {
	if a.jobs != nil {
		if err := a.jobs.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close job database")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close lookup cache")
		}
	}
}

// openApp wires every pipeline component from configuration.
func (c *commandContext) openApp() (*application, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	log := logging.Component(logger, "app")

	temp, err := tempfiles.NewManager(cfg.Audio.TempDir)
	if err != nil {
		return nil, err
	}
	if cfg.Audio.StaleAfterHours > 0 {
		removed, err := temp.Sweep(time.Duration(cfg.Audio.StaleAfterHours) * time.Hour)
		if err != nil {
			log.WithError(err).Warn("Failed to sweep stale temp files")
		} else if removed > 0 {
			log.WithField("removed", removed).Info("Removed stale temp files")
		}
	}

	extractor, err := audio.NewExtractor(cfg.Audio, logger)
	if err != nil {
		return nil, err
	}

	lookupCache, err := cache.New(cfg.Cache)
	if err != nil {
		log.WithError(err).WithField("backend", cfg.Cache.Backend).Warn("Lookup cache unavailable, continuing without it")
		lookupCache = cache.NopStore{}
	}

	enricher, err := metadata.NewFromConfig(cfg.Lookup, lookupCache, logger)
	if err != nil {
		lookupCache.Close()
		return nil, err
	}

	app := &application{cfg: cfg, logger: logger, cache: lookupCache}
	opts := []pipeline.Option{pipeline.WithLogger(logger)}

	if cfg.Jobs.Enabled {
		db, err := database.NewDatabase(cfg.Jobs.DatabasePath, logger)
		if err != nil {
			lookupCache.Close()
			return nil, fmt.Errorf("open job history: %w", err)
		}
		if cfg.Jobs.RetainDays > 0 {
			if _, err := db.CleanupJobs(time.Duration(cfg.Jobs.RetainDays) * 24 * time.Hour); err != nil {
				log.WithError(err).Warn("Failed to clean up old jobs")
			}
		}
		app.jobs = db
		opts = append(opts, pipeline.WithJobs(db))
	}

	app.registrar = pipeline.New(
		downloader.NewDownloader(cfg, temp, logger),
		extractor,
		enricher,
		store.New(cfg.Store.Path, logger),
		opts...,
	)
	return app, nil
}
