package feed

import (
	"fmt"
	"time"

	crerr "github.com/cockroachdb/errors"
)

// Sentinels for errors.Is classification. Unavailable means the remote
// feed could not be reached and a later retry may succeed; Parse means
// the payload violates the wire contract and retrying will not help.
var (
	ErrUnavailable = crerr.New("feed unavailable")
	ErrParse       = crerr.New("feed payload malformed")
)

const defaultRetryAfter = 60 * time.Second

// UnavailableError wraps a transport-level failure with a retry hint
// the HTTP layer can surface as a Retry-After header.
type UnavailableError struct {
	Path       string
	RetryAfter time.Duration
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("feed unavailable fetching %s: %v", e.Path, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// ParseError marks a payload that decoded or decompressed incorrectly.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("feed payload malformed at %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

func unavailable(path string, err error) error {
	return &UnavailableError{Path: path, RetryAfter: defaultRetryAfter, Err: err}
}

func parseFailure(path string, err error) error {
	return &ParseError{Path: path, Err: err}
}

// RetryAfter extracts the retry hint from an unavailable error chain.
func RetryAfter(err error) (time.Duration, bool) {
	var unavail *UnavailableError
	if crerr.As(err, &unavail) {
		return unavail.RetryAfter, true
	}
	return 0, false
}
