// Package binding tracks the receiver's registration state against the
// remote coordinator. The state machine is mutated only by the
// registration client; everything else reads it to decide whether the
// receiver is operational.
package binding

import (
	"sync"
	"time"
)

// State is the registration state of the receiver.
type State string

const (
	// StateUnbound means no bind attempt has been made yet.
	StateUnbound State = "unbound"

	// StateBinding means a handshake with the coordinator is in flight.
	StateBinding State = "binding"

	// StateBound means the coordinator accepted the registration. This
	// is the only operational state.
	StateBound State = "bound"

	// StateFailed means the last bind attempt failed. The attempted
	// addresses and the failure detail stay visible for retry.
	StateFailed State = "failed"
)

// Status is a point-in-time view of the binding, served by the binding
// endpoint.
type Status struct {
	LocalAddress  string     `json:"local_address,omitempty"`
	RemoteAddress string     `json:"remote_address,omitempty"`
	State         State      `json:"state"`
	LastError     string     `json:"last_error,omitempty"`
	AttemptID     string     `json:"attempt_id,omitempty"`
	LastAttempt   *time.Time `json:"last_attempt,omitempty"`
	BoundAt       *time.Time `json:"bound_at,omitempty"`
}

// Binding is the registration state machine. It is safe for concurrent
// use.
type Binding struct {
	mu            sync.RWMutex
	localAddress  string
	remoteAddress string
	state         State
	lastError     string
	attemptID     string
	lastAttempt   *time.Time
	boundAt       *time.Time
}

// New creates a binding in the Unbound state.
func New() *Binding {
	return &Binding{state: StateUnbound}
}

// BeginAttempt records the start of a handshake. The addresses replace
// any previous attempt's addresses in place and the failure detail of a
// previous attempt is cleared.
func (b *Binding) BeginAttempt(localAddress, remoteAddress, attemptID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.localAddress = localAddress
	b.remoteAddress = remoteAddress
	b.state = StateBinding
	b.lastError = ""
	b.attemptID = attemptID
	b.lastAttempt = &now
	b.boundAt = nil
}

// MarkBound transitions the attempt identified by attemptID to Bound.
// A stale attemptID (one superseded by a later BeginAttempt) is ignored,
// so overlapping handshakes can never bind the addresses of a different
// attempt than the one the coordinator acknowledged.
func (b *Binding) MarkBound(attemptID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if attemptID != b.attemptID {
		return
	}

	now := time.Now()
	b.state = StateBound
	b.lastError = ""
	b.boundAt = &now
}

// MarkFailed transitions the attempt identified by attemptID to Failed,
// keeping the attempted addresses for display and retry. A stale
// attemptID is ignored.
func (b *Binding) MarkFailed(attemptID, cause string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if attemptID != b.attemptID {
		return
	}

	b.state = StateFailed
	b.lastError = cause
	b.boundAt = nil
}

// Status returns a snapshot of the binding.
func (b *Binding) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Status{
		LocalAddress:  b.localAddress,
		RemoteAddress: b.remoteAddress,
		State:         b.state,
		LastError:     b.lastError,
		AttemptID:     b.attemptID,
		LastAttempt:   b.lastAttempt,
		BoundAt:       b.boundAt,
	}
}

// CurrentState returns the current state.
func (b *Binding) CurrentState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsOperational reports whether the receiver is bound to a coordinator.
func (b *Binding) IsOperational() bool {
	return b.CurrentState() == StateBound
}
