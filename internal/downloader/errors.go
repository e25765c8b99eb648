package downloader

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL is returned for URLs the downloader refuses to fetch.
	ErrInvalidURL = errors.New("invalid url")
	// ErrUnsupportedFormat is returned for uploads with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrNoArtifact is returned when yt-dlp exits cleanly without output.
	ErrNoArtifact = errors.New("no audio file produced")
	// ErrEmptyUpload is returned for zero-byte uploads.
	ErrEmptyUpload = errors.New("upload is empty")
)

// AcquisitionError reports a failure to obtain a local audio artifact.
type AcquisitionError struct {
	Source string
	Err    error
	// Output holds the tail of the tool's diagnostic output, if any.
	Output string
}

func (e *AcquisitionError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("acquire %s: %v: %s", e.Source, e.Err, e.Output)
	}
	return fmt.Sprintf("acquire %s: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}
