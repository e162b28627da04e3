// Package registration implements the outbound handshake that binds
// this receiver's address to the remote coordinator. The client owns
// every transition of the binding state machine.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaykit/snapshot-relay/internal/binding"
	"github.com/relaykit/snapshot-relay/internal/telemetry"
	"github.com/relaykit/snapshot-relay/internal/validate"
)

const (
	// DefaultTimeout bounds the outbound registration call so an
	// unreachable coordinator fails fast instead of hanging the
	// binding flow indefinitely.
	DefaultTimeout = 10 * time.Second

	// UserAgent is the user agent string for registration requests
	UserAgent = "snapshot-relay/1.0"

	// attachPath is the coordinator endpoint accepting registrations
	attachPath = "/attach"

	// maxResponseSize caps how much of the coordinator's response is read
	maxResponseSize = 1 << 20
)

// attachRequest is the wire payload of the handshake: the coordinator
// learns where to send future data.
type attachRequest struct {
	Host string `json:"host"`
}

// Option is a function that configures the client
type Option func(*Client)

// WithTimeout sets the timeout for the registration call.
// If timeout is 0, DefaultTimeout is used.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithMetrics sets the registration metrics for the client
func WithMetrics(metrics *telemetry.RegistrationMetrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// Client performs the registration handshake against a coordinator.
// It never retries on its own: a failed bind requires an explicit new
// call, so repeated calls are safe and self-correcting.
type Client struct {
	httpClient *http.Client
	binding    *binding.Binding
	logger     *zap.Logger
	metrics    *telemetry.RegistrationMetrics
}

// New creates a registration client that mutates the given binding.
func New(b *binding.Binding, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		binding:    b,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Bind runs the full handshake: validate both addresses, POST the local
// address to {remoteAddress}/attach, and interpret the response. The
// coordinator signals acceptance with the exact body "true"; anything
// else is a failure. Bind always re-runs the handshake even if the
// binding is already Bound.
func (c *Client) Bind(ctx context.Context, localAddress, remoteAddress string) error {
	if err := validate.URL(localAddress); err != nil {
		c.metrics.RecordBindAttempt(ctx, telemetry.BindOutcomeInvalidInput)
		return fmt.Errorf("%w: local address: %v", ErrInvalidInput, err)
	}
	if err := validate.URL(remoteAddress); err != nil {
		c.metrics.RecordBindAttempt(ctx, telemetry.BindOutcomeInvalidInput)
		return fmt.Errorf("%w: remote address: %v", ErrInvalidInput, err)
	}

	attemptID := uuid.NewString()
	c.binding.BeginAttempt(localAddress, remoteAddress, attemptID)

	logger := c.logger.With(
		zap.String("attempt_id", attemptID),
		zap.String("local_address", localAddress),
		zap.String("remote_address", remoteAddress),
	)
	logger.Info("starting coordinator handshake")

	body, err := json.Marshal(attachRequest{Host: localAddress})
	if err != nil {
		nerr := &NetworkError{Err: fmt.Errorf("failed to encode request: %w", err)}
		c.fail(ctx, logger, attemptID, nerr, telemetry.BindOutcomeNetworkError)
		return nerr
	}

	url := strings.TrimSuffix(remoteAddress, "/") + attachPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		nerr := &NetworkError{Err: fmt.Errorf("failed to create request: %w", err)}
		c.fail(ctx, logger, attemptID, nerr, telemetry.BindOutcomeNetworkError)
		return nerr
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		nerr := &NetworkError{Err: err}
		c.fail(ctx, logger, attemptID, nerr, telemetry.BindOutcomeNetworkError)
		return nerr
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		nerr := &NetworkError{Err: fmt.Errorf("failed to read response body: %w", err)}
		c.fail(ctx, logger, attemptID, nerr, telemetry.BindOutcomeNetworkError)
		return nerr
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		rerr := &RejectionError{StatusCode: resp.StatusCode, Body: string(respBody)}
		c.fail(ctx, logger, attemptID, rerr, telemetry.BindOutcomeRejected)
		return rerr
	}

	// The coordinator acknowledges with the exact literal "true".
	if string(respBody) != "true" {
		rerr := &RejectionError{StatusCode: resp.StatusCode, Body: string(respBody)}
		c.fail(ctx, logger, attemptID, rerr, telemetry.BindOutcomeRejected)
		return rerr
	}

	c.binding.MarkBound(attemptID)
	c.metrics.RecordBindAttempt(ctx, telemetry.BindOutcomeBound)
	logger.Info("coordinator handshake succeeded")
	return nil
}

func (c *Client) fail(ctx context.Context, logger *zap.Logger, attemptID string, cause error, outcome string) {
	c.binding.MarkFailed(attemptID, cause.Error())
	c.metrics.RecordBindAttempt(ctx, outcome)
	logger.Warn("coordinator handshake failed", zap.Error(cause))
}
