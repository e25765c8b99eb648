// Package inbox registers audio files dropped into a watched folder.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"soundprint/internal/config"
	"soundprint/internal/logging"
	"soundprint/internal/pipeline"
	"soundprint/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Registrar is the part of the pipeline the inbox drives.
type Registrar interface {
	Register(ctx context.Context, src pipeline.Source) (models.Track, error)
}

// Watcher imports files that appear in the inbox directory.
type Watcher struct {
	cfg       config.InboxConfig
	formats   []string
	registrar Registrar
	watcher   *fsnotify.Watcher
	logger    *logrus.Entry

	mu       sync.Mutex
	inFlight map[string]bool
	imported map[string]time.Time // path -> mtime of kept files
	wg       sync.WaitGroup

	// Imported is called after each import attempt. Used by tests.
	Imported func(path string, track models.Track, err error)
}

// NewWatcher creates an inbox watcher. Call Run to start it.
func NewWatcher(cfg *config.Config, registrar Registrar, logger *logrus.Logger) *Watcher {
	return &Watcher{
		cfg:       cfg.Inbox,
		formats:   cfg.Audio.SupportedFormats,
		registrar: registrar,
		logger:    logging.Component(logger, "inbox"),
		inFlight:  make(map[string]bool),
		imported:  make(map[string]time.Time),
	}
}

// Run imports files already in the inbox, then watches it until ctx is
// cancelled. It waits for in-flight imports before returning.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Path, 0755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher
	defer watcher.Close()

	if err := watcher.Add(w.cfg.Path); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}

	w.logger.WithField("inbox_path", w.cfg.Path).Info("Inbox watcher started")

	if err := w.ImportExisting(ctx); err != nil {
		w.logger.WithError(err).Warn("Failed to import existing inbox files")
	}

	defer w.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Inbox watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleFileEvent(ctx, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("File watcher error")
		}
	}
}

// ImportExisting registers every audio file already in the inbox using a
// bounded worker pool.
func (w *Watcher) ImportExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.cfg.Path)
	if err != nil {
		return err
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	numWorkers := runtime.NumCPU()
	if numWorkers > 4 {
		numWorkers = 4
	}
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				w.importFile(ctx, path)
			}
		}()
	}

	for _, entry := range entries {
		path := filepath.Join(w.cfg.Path, entry.Name())
		if entry.IsDir() || !w.accepts(path) || !w.claim(path) {
			continue
		}
		select {
		case jobs <- path:
		case <-ctx.Done():
			w.release(path)
		}
	}

	close(jobs)
	wg.Wait()
	return ctx.Err()
}

// handleFileEvent applies filtering & schedules imports.
func (w *Watcher) handleFileEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	if !w.accepts(event.Name) || !w.claim(event.Name) {
		return
	}

	w.wg.Add(1)
	go func(path string) {
		defer w.wg.Done()
		// Let the writer finish before reading the file.
		select {
		case <-time.After(time.Duration(w.cfg.SettleMillis) * time.Millisecond):
		case <-ctx.Done():
			w.release(path)
			return
		}
		w.importFile(ctx, path)
	}(event.Name)
}

// accepts ignores hidden, temporary and unsupported files.
func (w *Watcher) accepts(path string) bool {
	fileName := filepath.Base(path)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") || strings.HasSuffix(fileName, ".part") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, supported := range w.formats {
		if strings.ToLower(supported) == ext {
			return true
		}
	}
	return false
}

// claim marks path as being imported; it reports false if it already is.
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight[path] {
		return false
	}
	w.inFlight[path] = true
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inFlight, path)
	w.mu.Unlock()
}

func (w *Watcher) alreadyImported(path string, modTime time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen, ok := w.imported[path]
	return ok && seen.Equal(modTime)
}

// importFile registers one inbox file as an upload.
func (w *Watcher) importFile(ctx context.Context, path string) {
	defer w.release(path)
	log := w.logger.WithField("file_path", path)

	info, err := os.Stat(path)
	if err != nil {
		// Already imported and removed, or moved away again.
		if !os.IsNotExist(err) {
			log.WithError(err).Error("Error reading inbox file")
		}
		return
	}
	if w.alreadyImported(path, info.ModTime()) {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).Error("Error opening inbox file")
		return
	}

	log.Info("New audio file detected")
	track, err := w.registrar.Register(ctx, pipeline.Source{
		Upload:   f,
		Filename: filepath.Base(path),
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	})
	f.Close()

	if err != nil {
		log.WithError(err).Error("Failed to import inbox file")
	} else {
		log.WithFields(logrus.Fields{
			"trackId": track.ID,
			"title":   track.Title,
			"artist":  track.Artist,
		}).Info("Imported inbox file")

		if w.cfg.RemoveAfterImport {
			if err := os.Remove(path); err != nil {
				log.WithError(err).Warn("Failed to remove imported file")
			}
		} else {
			w.mu.Lock()
			w.imported[path] = info.ModTime()
			w.mu.Unlock()
		}
	}

	if w.Imported != nil {
		w.Imported(path, track, err)
	}
}
