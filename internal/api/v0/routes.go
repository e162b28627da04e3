// Package v0 provides the REST handlers for the relay receiver.
package v0

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/relaykit/snapshot-relay/internal/binding"
	"github.com/relaykit/snapshot-relay/internal/ingress"
	"github.com/relaykit/snapshot-relay/internal/registration"
	"github.com/relaykit/snapshot-relay/internal/store"
	"github.com/relaykit/snapshot-relay/internal/versions"
)

// maxPushSize caps how much of a push body is read.
const maxPushSize = 1 << 20

// Registrar triggers the coordinator handshake on behalf of the bind
// endpoint.
type Registrar interface {
	Bind(ctx context.Context, localAddress, remoteAddress string) error
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SnapshotResponse represents the latest snapshot together with its
// change-detection marker and arrival time.
type SnapshotResponse struct {
	Timestamp  int64  `json:"timestamp"`
	Data       string `json:"data"`
	Trace      string `json:"trace,omitempty"`
	Marker     int64  `json:"marker"`
	ReceivedAt string `json:"received_at,omitempty"`
}

// BindRequest is the body of the bind endpoint, the API equivalent of
// the interactive binding form.
type BindRequest struct {
	Local  string `json:"local"`
	Server string `json:"server"`
}

// Routes defines the routes for the relay API with dependency injection
type Routes struct {
	ingress   *ingress.Handler
	store     *store.Store
	binding   *binding.Binding
	registrar Registrar
	logger    *zap.Logger
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(
	ih *ingress.Handler,
	st *store.Store,
	b *binding.Binding,
	registrar Registrar,
	logger *zap.Logger,
) *Routes {
	return &Routes{
		ingress:   ih,
		store:     st,
		binding:   b,
		registrar: registrar,
		logger:    logger,
	}
}

// IngressRouter creates the router for the push endpoint. The server
// mounts it at /push, the wire contract with the monitored process.
func (rr *Routes) IngressRouter() http.Handler {
	r := chi.NewRouter()
	r.Post("/", rr.handlePush)
	return r
}

// Router creates the router for the relay API (snapshot, binding, bind)
func (rr *Routes) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/snapshot", rr.getSnapshot)
	r.Get("/binding", rr.getBinding)
	r.Post("/bind", rr.handleBind)

	return r
}

// handlePush handles POST /push. The success response is the pushed
// timestamp echoed verbatim; failures respond with a body beginning
// "Err: " followed by the reason.
func (rr *Routes) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushSize))
	if err != nil {
		rr.writePushError(w, "Malformed payload")
		return
	}

	timestamp, err := rr.ingress.Accept(r.Context(), body)
	if err != nil {
		if errors.Is(err, ingress.ErrMalformedPayload) {
			rr.writePushError(w, err.Error())
		} else {
			rr.writePushError(w, "Internal error")
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, "%d", timestamp); err != nil {
		rr.logger.Error("failed to write push acknowledgment", zap.Error(err))
	}
}

// writePushError writes a plain-text push failure in the documented
// "Err: <reason>" shape.
func (rr *Routes) writePushError(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusBadRequest)
	if _, err := fmt.Fprintf(w, "Err: %s", reason); err != nil {
		rr.logger.Error("failed to write push error response", zap.Error(err))
	}
}

// getSnapshot handles GET /snapshot. The snapshot path is not usable
// until the receiver is bound to a coordinator.
func (rr *Routes) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	if !rr.binding.IsOperational() {
		rr.writeErrorResponse(w, "receiver is not bound to a coordinator", http.StatusServiceUnavailable)
		return
	}

	snapshot, marker, ok := rr.store.Read()
	if !ok {
		rr.writeErrorResponse(w, "no snapshot received yet", http.StatusNotFound)
		return
	}

	resp := SnapshotResponse{
		Timestamp: snapshot.Timestamp,
		Data:      snapshot.Data,
		Trace:     snapshot.Trace,
		Marker:    int64(marker),
	}
	if receivedAt, ok := rr.store.ReceivedAt(); ok {
		resp.ReceivedAt = receivedAt.Format(time.RFC3339Nano)
	}

	rr.writeJSONResponse(w, resp)
}

// getBinding handles GET /binding
func (rr *Routes) getBinding(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.binding.Status())
}

// handleBind handles POST /bind: it triggers a synchronous re-bind
// against the coordinator with the supplied addresses.
func (rr *Routes) handleBind(w http.ResponseWriter, r *http.Request) {
	var req BindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "invalid bind request body", http.StatusBadRequest)
		return
	}

	err := rr.registrar.Bind(r.Context(), req.Local, req.Server)
	switch {
	case err == nil:
		rr.writeJSONResponse(w, rr.binding.Status())
	case errors.Is(err, registration.ErrInvalidInput):
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		// Network failures and coordinator rejections surface as a
		// failed binding; the diagnostic detail is kept on the binding
		// status for retry.
		rr.writeErrorResponse(w, err.Error(), http.StatusBadGateway)
	}
}

// HealthRouter creates a router for health check endpoints
func (rr *Routes) HealthRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", rr.readinessHandler)
	r.Get("/version", rr.versionHandler)

	return r
}

// healthHandler handles liveness requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessHandler reports the operational contract: the receiver is
// ready only while bound to a coordinator.
func (rr *Routes) readinessHandler(w http.ResponseWriter, _ *http.Request) {
	if !rr.binding.IsOperational() {
		rr.writeErrorResponse(w,
			fmt.Sprintf("receiver not operational: binding state is %s", rr.binding.CurrentState()),
			http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// versionHandler handles version information requests
func (rr *Routes) versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	response := map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}

	rr.writeJSONResponse(w, response)
}

// writeJSONResponse writes a JSON response with the given data
func (rr *Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		rr.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes a standardized error response
func (rr *Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	errorResp := ErrorResponse{
		Error: message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		rr.logger.Error("failed to encode error response", zap.Error(err))
	}
}
