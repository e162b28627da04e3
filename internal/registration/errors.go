package registration

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when either address fails validation
// before any network call is made. It is never retried internally.
var ErrInvalidInput = errors.New("invalid input")

// NetworkError means the coordinator could not be reached at all: a
// connection failure, a timeout, or a malformed transport exchange.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("coordinator unreachable: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RejectionError means the coordinator was reachable but did not accept
// the registration. Body carries the remote's response for diagnostics.
type RejectionError struct {
	StatusCode int
	Body       string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("coordinator rejected registration: HTTP %d, body %q", e.StatusCode, e.Body)
}
