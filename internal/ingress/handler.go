// Package ingress decodes inbound snapshot submissions and writes
// accepted snapshots into the store. It is the only component that
// talks to the transport layer serving the push endpoint.
package ingress

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/relaykit/snapshot-relay/internal/store"
	"github.com/relaykit/snapshot-relay/internal/telemetry"
)

// ErrMalformedPayload is returned when a push body cannot be decoded
// into a snapshot with the required fields. Its text is part of the
// push endpoint's wire contract ("Err: Malformed payload").
var ErrMalformedPayload = errors.New("Malformed payload")

// pushPayload mirrors the push body. Pointer fields distinguish absent
// required fields from zero values.
type pushPayload struct {
	Timestamp *int64  `json:"timestamp"`
	Data      *string `json:"data"`
	Trace     string  `json:"trace"`
}

// Option is a function that configures the handler
type Option func(*Handler)

// WithMetrics sets the ingress metrics for the handler
func WithMetrics(metrics *telemetry.IngressMetrics) Option {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

// Handler validates pushed payloads and writes accepted snapshots.
type Handler struct {
	store   *store.Store
	logger  *zap.Logger
	metrics *telemetry.IngressMetrics
}

// New creates an ingress handler writing into the given store.
func New(st *store.Store, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		store:  st,
		logger: logger,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Accept decodes rawPayload into a snapshot and writes it into the
// store. The snapshot's timestamp is returned so the caller can echo it
// back as the acknowledgment. A payload missing the integer timestamp
// or the data string is rejected without mutating the store.
func (h *Handler) Accept(ctx context.Context, rawPayload []byte) (int64, error) {
	var p pushPayload
	if err := json.Unmarshal(rawPayload, &p); err != nil {
		h.metrics.RecordPush(ctx, false)
		h.logger.Debug("rejected push", zap.Error(err))
		return 0, ErrMalformedPayload
	}

	if p.Timestamp == nil || p.Data == nil {
		h.metrics.RecordPush(ctx, false)
		h.logger.Debug("rejected push: missing required field")
		return 0, ErrMalformedPayload
	}

	h.store.Write(store.Snapshot{
		Timestamp: *p.Timestamp,
		Data:      *p.Data,
		Trace:     p.Trace,
	})

	h.metrics.RecordPush(ctx, true)
	h.logger.Debug("accepted snapshot", zap.Int64("timestamp", *p.Timestamp))
	return *p.Timestamp, nil
}
