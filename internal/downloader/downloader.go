// Package downloader obtains local audio artifacts, either by fetching and
// transcoding a remote media URL with yt-dlp or by persisting an upload.
package downloader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"soundprint/internal/audio"
	"soundprint/internal/config"
	"soundprint/internal/logging"
	"soundprint/internal/tempfiles"

	"github.com/sirupsen/logrus"
)

// maxURLLength bounds accepted source URLs.
const maxURLLength = 2048

// Acquired is a local artifact ready for feature extraction.
type Acquired struct {
	Artifact *tempfiles.Artifact
	Path     string
	// TitleHint is the title the source exposed, empty for uploads.
	TitleHint string
	Duration  time.Duration
}

// Downloader handles audio acquisition from URLs and uploads
type Downloader struct {
	cfg        config.DownloaderConfig
	ffmpegPath string
	formats    []string
	temp       *tempfiles.Manager
	logger     *logrus.Entry
}

// NewDownloader creates a new downloader instance
func NewDownloader(cfg *config.Config, temp *tempfiles.Manager, logger *logrus.Logger) *Downloader {
	return &Downloader{
		cfg:        cfg.Downloader,
		ffmpegPath: cfg.Audio.FFmpegPath,
		formats:    cfg.Audio.SupportedFormats,
		temp:       temp,
		logger:     logging.Component(logger, "downloader"),
	}
}

// CheckYtDlp verifies that yt-dlp is installed and accessible
func (d *Downloader) CheckYtDlp() (string, error) {
	path, err := exec.LookPath(d.cfg.YtDlpPath)
	if err != nil {
		return "", fmt.Errorf("yt-dlp not found (%s): %w", d.cfg.YtDlpPath, err)
	}
	return path, nil
}

// ValidateURL checks that a URL is something the downloader will fetch.
func (d *Downloader) ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	if len(raw) > maxURLLength {
		return fmt.Errorf("%w: url too long (max %d characters)", ErrInvalidURL, maxURLLength)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: must start with http:// or https://", ErrInvalidURL)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if len(d.cfg.AllowedDomains) == 0 {
		return nil
	}
	for _, domain := range d.cfg.AllowedDomains {
		domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %s is not in allowed domains", ErrInvalidURL, host)
}

// sourceInfo is the subset of yt-dlp's --dump-json output we use.
type sourceInfo struct {
	Title string `json:"title"`
}

// Acquire downloads the best audio stream of rawURL and transcodes it into
// a temp artifact unique to opID. On failure nothing is left on disk.
func (d *Downloader) Acquire(ctx context.Context, opID, rawURL string) (*Acquired, error) {
	if !d.cfg.Enabled {
		return nil, &AcquisitionError{Source: rawURL, Err: errors.New("url downloads are disabled")}
	}
	if err := d.ValidateURL(rawURL); err != nil {
		return nil, &AcquisitionError{Source: rawURL, Err: err}
	}
	ytDlp, err := d.CheckYtDlp()
	if err != nil {
		return nil, &AcquisitionError{Source: rawURL, Err: err}
	}

	artifact := d.temp.Reserve(opID, "."+d.cfg.AudioFormat)
	fail := func(err error, output string) (*Acquired, error) {
		if rmErr := artifact.Remove(); rmErr != nil {
			d.logger.WithError(rmErr).WithField("path", artifact.Path).Warn("Failed to remove partial download")
		}
		return nil, &AcquisitionError{Source: rawURL, Err: err, Output: output}
	}

	if d.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(d.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, ytDlp, d.buildArgs(artifact, rawURL)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	d.logger.WithFields(logrus.Fields{
		"url":  rawURL,
		"opId": opID,
	}).Info("Downloading audio")

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(fmt.Errorf("yt-dlp: %w", ctxErr), tail(stderr.String()))
		}
		return fail(fmt.Errorf("yt-dlp: %w", err), tail(stderr.String()))
	}

	path, err := d.locate(artifact)
	if err != nil {
		return fail(err, tail(stderr.String()))
	}
	artifact.Path = path

	probe, err := audio.Probe(path)
	if err != nil {
		return fail(fmt.Errorf("downloaded audio is not playable: %w", err), "")
	}

	info := parseSourceInfo(stdout.Bytes())
	hint := strings.TrimSpace(info.Title)
	if hint == "" {
		hint = probe.Title
	}

	d.logger.WithFields(logrus.Fields{
		"url":            rawURL,
		"path":           path,
		"title":          hint,
		"duration":       probe.Duration,
		"processingTime": time.Since(startTime),
	}).Info("Download completed")

	return &Acquired{
		Artifact:  artifact,
		Path:      path,
		TitleHint: hint,
		Duration:  probe.Duration,
	}, nil
}

func (d *Downloader) buildArgs(artifact *tempfiles.Artifact, rawURL string) []string {
	args := []string{
		"-f", "bestaudio",
		"--extract-audio",
		"--audio-format", d.cfg.AudioFormat,
		"--audio-quality", d.cfg.AudioQuality,
		"--no-playlist",
		"--no-progress",
		"--dump-json",
		"--no-simulate",
		"--output", artifact.Template(),
	}
	if d.cfg.AudioFormat != "wav" {
		args = append(args, "--embed-metadata")
	}
	if strings.ContainsRune(d.ffmpegPath, filepath.Separator) {
		args = append(args, "--ffmpeg-location", d.ffmpegPath)
	}
	return append(args, "--", rawURL)
}

// locate finds the file yt-dlp produced for artifact. The expected name is
// tried first; otherwise any finished sibling sharing the stem is accepted.
func (d *Downloader) locate(artifact *tempfiles.Artifact) (string, error) {
	if artifact.Exists() {
		return artifact.Path, nil
	}
	matches, err := filepath.Glob(artifact.WithExt(".*"))
	if err != nil {
		return "", err
	}
	for _, match := range matches {
		ext := strings.ToLower(filepath.Ext(match))
		if ext == ".part" || ext == ".ytdl" || ext == ".json" {
			continue
		}
		return match, nil
	}
	return "", ErrNoArtifact
}

func parseSourceInfo(out []byte) sourceInfo {
	var info sourceInfo
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if err := json.Unmarshal(line, &info); err == nil {
			return info
		}
	}
	return info
}

// tail keeps the last few lines of tool output for error messages.
func tail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// IsFormatSupported reports whether filename has an accepted audio extension.
func (d *Downloader) IsFormatSupported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, supported := range d.formats {
		if strings.ToLower(supported) == ext {
			return true
		}
	}
	return false
}

// SaveUpload writes r verbatim to a temp artifact carrying the original
// extension. Uploads never produce a title hint.
func (d *Downloader) SaveUpload(opID string, r io.Reader, filename string) (*Acquired, error) {
	safeFilename := filepath.Base(filename)
	if !d.IsFormatSupported(safeFilename) {
		return nil, &AcquisitionError{
			Source: safeFilename,
			Err:    fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, filepath.Ext(safeFilename), strings.Join(d.formats, ", ")),
		}
	}

	artifact, f, err := d.temp.Create(opID, filepath.Ext(safeFilename))
	if err != nil {
		return nil, &AcquisitionError{Source: safeFilename, Err: err}
	}

	written, err := io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written == 0 {
		err = ErrEmptyUpload
	}
	if err != nil {
		artifact.Remove() // Clean up on error
		return nil, &AcquisitionError{Source: safeFilename, Err: err}
	}

	d.logger.WithFields(logrus.Fields{
		"filename": safeFilename,
		"path":     artifact.Path,
		"bytes":    written,
	}).Debug("Upload saved")

	return &Acquired{Artifact: artifact, Path: artifact.Path}, nil
}
