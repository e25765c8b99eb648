// Package tempfiles owns the transient audio files a pipeline run creates.
// Every artifact lives in a single scratch directory under a name derived
// from the run's operation ID, so concurrent runs never share a path.
package tempfiles

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Manager hands out per-operation artifact paths inside a scratch directory.
type Manager struct {
	dir string
}

// Artifact is one transient file owned by exactly one pipeline run.
type Artifact struct {
	// Stem is the unique base name (no extension) shared by every file the
	// run may write, including tool intermediates such as ".part" files.
	Stem string
	Path string
	dir  string
}

// NewManager creates the scratch directory if needed.
func NewManager(dir string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("temp dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve temp dir: %w", err)
	}
	return &Manager{dir: abs}, nil
}

// Dir returns the scratch directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Reserve returns an artifact path for the given operation ID and extension.
// Nothing is created on disk. An empty opID gets a fresh UUID.
func (m *Manager) Reserve(opID, ext string) *Artifact {
	if opID == "" {
		opID = uuid.NewString()
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	stem := "op-" + sanitize(opID)
	return &Artifact{
		Stem: stem,
		Path: filepath.Join(m.dir, stem+strings.ToLower(ext)),
		dir:  m.dir,
	}
}

// Create reserves a path and opens it for writing.
func (m *Manager) Create(opID, ext string) (*Artifact, *os.File, error) {
	artifact := m.Reserve(opID, ext)
	f, err := os.OpenFile(artifact.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("create temp artifact: %w", err)
	}
	return artifact, f, nil
}

// Template returns a yt-dlp style output template rooted at the artifact stem.
func (a *Artifact) Template() string {
	return filepath.Join(a.dir, a.Stem+".%(ext)s")
}

// WithExt returns the path of a sibling file sharing this artifact's stem.
func (a *Artifact) WithExt(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(a.dir, a.Stem+ext)
}

// Exists reports whether the artifact's primary path is on disk.
func (a *Artifact) Exists() bool {
	_, err := os.Stat(a.Path)
	return err == nil
}

// Remove deletes the artifact and every sibling sharing its stem. It is
// safe to call more than once and on artifacts that were never written.
func (a *Artifact) Remove() error {
	if a == nil {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(a.dir, a.Stem+"*"))
	if err != nil {
		return fmt.Errorf("glob artifact files: %w", err)
	}
	var firstErr error
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", match, err)
		}
	}
	return firstErr
}

// Sweep removes artifacts left behind by crashed runs that are older than
// maxAge. It returns the number of files removed.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "op-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
