// Package store persists the fingerprint collection as a single JSON file.
//
// Every mutation is a whole-file read-modify-write. Mutations are serialized
// with an in-process mutex and an exclusive flock on "<path>.lock", so
// concurrent registrations in one or several processes never lose updates.
// Writes go through a temp file and rename, so Load never observes a
// partially written collection.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"soundprint/internal/logging"
	"soundprint/pkg/models"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// MaxIDAttempts bounds how many identifiers InsertNew tries before giving up.
const MaxIDAttempts = 5

var (
	// ErrEmptyID is returned when a record is inserted without an identifier.
	ErrEmptyID = errors.New("track id cannot be empty")
	// ErrDuplicateID is returned by Insert when the id is already present.
	ErrDuplicateID = errors.New("track id already exists")
	// ErrFingerprintLength is returned when a record's fingerprint length
	// differs from the records already stored.
	ErrFingerprintLength = errors.New("fingerprint length mismatch")
)

// StoreCorruptError reports a backing file that exists but cannot be parsed.
type StoreCorruptError struct {
	Path string
	Err  error
}

func (e *StoreCorruptError) Error() string {
	return fmt.Sprintf("fingerprint store %s is corrupt: %v", e.Path, e.Err)
}

func (e *StoreCorruptError) Unwrap() error {
	return e.Err
}

// Store is the durable id -> track collection.
type Store struct {
	path   string
	mu     sync.Mutex
	lock   *flock.Flock
	logger *logrus.Entry
}

// New returns a store backed by path. The file is not created until the
// first write.
func New(path string, logger *logrus.Logger) *Store {
	return &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logging.Component(logger, "store"),
	}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the full collection. A missing file yields an empty
// collection; an unparsable one yields *StoreCorruptError.
func (s *Store) Load() (models.Collection, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.Collection{}, nil
		}
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return models.Collection{}, nil
	}

	var collection models.Collection
	if err := json.Unmarshal(data, &collection); err != nil {
		return nil, &StoreCorruptError{Path: s.path, Err: err}
	}
	if collection == nil {
		collection = models.Collection{}
	}
	return collection, nil
}

// Get returns a single track with its ID populated.
func (s *Store) Get(id string) (models.Track, bool, error) {
	collection, err := s.Load()
	if err != nil {
		return models.Track{}, false, err
	}
	track, ok := collection.WithID(id)
	return track, ok, nil
}

// Save overwrites the backing file with the given collection.
func (s *Store) Save(collection models.Collection) error {
	return s.Update(func(current models.Collection) (models.Collection, error) {
		return collection, nil
	})
}

// Update runs fn against the freshly loaded collection while holding the
// store locks, then persists whatever fn returns. If fn returns an error the
// file is left untouched.
func (s *Store) Update(fn func(models.Collection) (models.Collection, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.WithError(err).Warn("Failed to release store lock")
		}
	}()

	current, err := s.Load()
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return s.write(next)
}

// Insert adds a record under id. The id must not already be present.
func (s *Store) Insert(id string, track models.Track) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	err := s.Update(func(c models.Collection) (models.Collection, error) {
		if _, exists := c[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		if err := checkFingerprint(c, track); err != nil {
			return nil, err
		}
		track.ID = ""
		c[id] = track
		return c, nil
	})
	if err != nil {
		return err
	}
	s.logger.WithField("track_id", id).Debug("Inserted track")
	return nil
}

// InsertNew inserts track under an identifier drawn from next, retrying with
// a fresh identifier while the drawn one is already taken. The check and the
// write happen under the same lock, so the returned id is unique.
func (s *Store) InsertNew(next func() string, track models.Track) (string, error) {
	var assigned string
	err := s.Update(func(c models.Collection) (models.Collection, error) {
		if err := checkFingerprint(c, track); err != nil {
			return nil, err
		}
		for attempt := 0; attempt < MaxIDAttempts; attempt++ {
			id := next()
			if strings.TrimSpace(id) == "" {
				return nil, ErrEmptyID
			}
			if _, exists := c[id]; exists {
				s.logger.WithField("track_id", id).Warn("Generated id collided, retrying")
				continue
			}
			assigned = id
			track.ID = ""
			c[id] = track
			return c, nil
		}
		return nil, fmt.Errorf("%w: no free id after %d attempts", ErrDuplicateID, MaxIDAttempts)
	})
	if err != nil {
		return "", err
	}
	s.logger.WithField("track_id", assigned).Debug("Inserted track")
	return assigned, nil
}

// Delete removes id from the collection. Deleting a missing id is a no-op.
func (s *Store) Delete(id string) error {
	removed := false
	err := s.Update(func(c models.Collection) (models.Collection, error) {
		if _, ok := c[id]; ok {
			delete(c, id)
			removed = true
		}
		return c, nil
	})
	if err != nil {
		return err
	}
	if removed {
		s.logger.WithField("track_id", id).Info("Deleted track")
	}
	return nil
}

func checkFingerprint(c models.Collection, track models.Track) error {
	for id, existing := range c {
		if len(existing.Fingerprint) != len(track.Fingerprint) {
			return fmt.Errorf("%w: stored record %s has %d values, new record has %d",
				ErrFingerprintLength, id, len(existing.Fingerprint), len(track.Fingerprint))
		}
		return nil
	}
	return nil
}

// write replaces the backing file atomically.
func (s *Store) write(collection models.Collection) error {
	if collection == nil {
		collection = models.Collection{}
	}
	data, err := json.MarshalIndent(collection, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp store file: %w", err)
	}
	return nil
}
