package audio

import (
	"errors"
	"fmt"
)

// ErrNoSamples is returned when an artifact decodes to zero samples.
var ErrNoSamples = errors.New("audio contains no samples")

// DecodeError reports an artifact that is unreadable, empty or not audio.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(path string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Path: path, Err: err}
}
