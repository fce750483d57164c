package ragapi

import (
	"errors"
	"fmt"
)

// ErrMalformedBody is wrapped by a TransportError when a 2xx response is not JSON.
var ErrMalformedBody = errors.New("response body is not valid JSON")

// TransportError is the only failure kind the client surfaces. It covers an
// unreachable backend, a non-2xx status and a body that is not JSON.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s (status %d): %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
