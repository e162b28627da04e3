// Package validate provides input validation shared by the
// configuration loader and the registration client.
package validate

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrEmptyURL is returned when a URL is empty or whitespace only
	ErrEmptyURL = errors.New("URL is empty")

	// ErrMalformedURL is returned when a URL cannot be parsed or lacks a
	// scheme or host
	ErrMalformedURL = errors.New("URL is malformed")
)

// URL checks that s is a non-empty absolute URL with a scheme and host.
// Both the local receiver address and the coordinator address must pass
// before any handshake is attempted.
func URL(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyURL
	}

	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: missing scheme or host in %q", ErrMalformedURL, s)
	}

	return nil
}
