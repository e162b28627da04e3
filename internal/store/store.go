// Package store holds the single most recent snapshot pushed by the
// monitored process. There is exactly one slot: a new write replaces
// the previous snapshot unconditionally, and readers always observe a
// complete snapshot together with its change-detection marker.
package store

import (
	"sync"
	"time"
)

// Snapshot is one state submission from the monitored process.
type Snapshot struct {
	// Timestamp is the submitter's clock reading for this snapshot.
	// It doubles as the change-detection marker: two snapshots with
	// equal timestamps are considered the same state.
	Timestamp int64

	// Data is the opaque snapshot content. The relay never interprets it.
	Data string

	// Trace is optional diagnostic context supplied by the submitter.
	Trace string
}

// Marker identifies a snapshot for change detection. It is derived from
// the snapshot's timestamp alone; content changes without a timestamp
// change do not produce a new marker.
type Marker int64

// Store is the single-slot snapshot holder. It is safe for concurrent
// use by the ingress path and the sampling loop.
type Store struct {
	mu         sync.RWMutex
	snapshot   Snapshot
	receivedAt time.Time
	written    bool
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Write replaces the stored snapshot. The previous snapshot, if any, is
// silently discarded.
func (s *Store) Write(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = snapshot
	s.receivedAt = time.Now()
	s.written = true
}

// Read returns the stored snapshot and its marker. ok is false until
// the first write; the marker is only meaningful when ok is true.
func (s *Store) Read() (Snapshot, Marker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.written {
		return Snapshot{}, 0, false
	}
	return s.snapshot, Marker(s.snapshot.Timestamp), true
}

// ReceivedAt returns the local arrival time of the stored snapshot.
// ok is false until the first write.
func (s *Store) ReceivedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.written {
		return time.Time{}, false
	}
	return s.receivedAt, true
}
