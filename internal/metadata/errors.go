package metadata

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnavailable covers transport failures and non-2xx responses.
	ErrUnavailable = errors.New("metadata service unavailable")
	// ErrTimeout is returned when a lookup exceeds its deadline.
	ErrTimeout = errors.New("metadata lookup timed out")
	// ErrMalformedResponse is returned when the response body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed metadata response")
)

// classify maps a transport error onto ErrTimeout or ErrUnavailable.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
