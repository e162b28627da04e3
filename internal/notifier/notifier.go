// Package notifier samples the snapshot store at a fixed interval and
// delivers newly arrived snapshots to an observer exactly once per
// marker change. The sampler and the ingress path never block each
// other; they communicate purely through the store's marker, so a write
// becomes observable within at most one sampling interval.
package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaykit/snapshot-relay/internal/binding"
	"github.com/relaykit/snapshot-relay/internal/store"
	"github.com/relaykit/snapshot-relay/internal/telemetry"
)

// DefaultInterval is the default sampling interval.
const DefaultInterval = 500 * time.Millisecond

// Observer receives notifier signals. Deliver is invoked at most once
// per distinct marker value; bursts of writes between two samples
// coalesce into a single delivery of the latest snapshot. NeedsBinding
// is signalled instead of sampling while the coordinator binding is not
// operational.
type Observer interface {
	Deliver(snapshot store.Snapshot)
	NeedsBinding()
}

// ObserverFuncs adapts plain functions to the Observer interface.
// Nil functions are ignored.
type ObserverFuncs struct {
	DeliverFunc      func(store.Snapshot)
	NeedsBindingFunc func()
}

// Deliver implements Observer.
func (o ObserverFuncs) Deliver(snapshot store.Snapshot) {
	if o.DeliverFunc != nil {
		o.DeliverFunc(snapshot)
	}
}

// NeedsBinding implements Observer.
func (o ObserverFuncs) NeedsBinding() {
	if o.NeedsBindingFunc != nil {
		o.NeedsBindingFunc()
	}
}

// Option is a function that configures the notifier
type Option func(*Notifier)

// WithInterval sets the sampling interval.
// If interval is 0, DefaultInterval is used.
func WithInterval(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.interval = interval
		}
	}
}

// WithMetrics sets the notifier metrics
func WithMetrics(metrics *telemetry.NotifierMetrics) Option {
	return func(n *Notifier) {
		n.metrics = metrics
	}
}

// Notifier runs the change-detection loop.
type Notifier struct {
	store    *store.Store
	binding  *binding.Binding
	observer Observer
	interval time.Duration
	logger   *zap.Logger
	metrics  *telemetry.NotifierMetrics

	// Lifecycle management
	cancelFunc context.CancelFunc
	done       chan struct{}

	// Sampling state, touched only by the loop goroutine
	lastDelivered store.Marker
	delivered     bool
}

// New creates a notifier sampling the given store and delivering to the
// given observer.
func New(st *store.Store, b *binding.Binding, observer Observer, logger *zap.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		store:    st,
		binding:  b,
		observer: observer,
		interval: DefaultInterval,
		logger:   logger,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Start runs the sampling loop. It blocks until the context is
// cancelled or Stop is called.
func (n *Notifier) Start(ctx context.Context) error {
	n.logger.Info("starting change notifier", zap.Duration("interval", n.interval))

	loopCtx, cancel := context.WithCancel(ctx)
	n.cancelFunc = cancel
	defer func() {
		close(n.done)
		n.logger.Info("change notifier shutting down")
	}()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	// Sample once immediately so a pre-existing snapshot is not delayed
	// by a full interval.
	n.sample(loopCtx)

	for {
		select {
		case <-ticker.C:
			n.sample(loopCtx)
		case <-loopCtx.Done():
			return nil
		}
	}
}

// Stop gracefully stops the sampling loop and waits for it to finish.
func (n *Notifier) Stop() error {
	if n.cancelFunc != nil {
		n.cancelFunc()
		<-n.done
	}
	return nil
}

// sample performs one change-detection pass. While the binding is not
// operational the store is not sampled at all; the observer is told a
// binding is needed instead.
func (n *Notifier) sample(ctx context.Context) {
	if !n.binding.IsOperational() {
		n.observer.NeedsBinding()
		n.metrics.RecordNeedsBinding(ctx)
		return
	}

	snapshot, marker, ok := n.store.Read()
	if !ok {
		return
	}

	if n.delivered && marker == n.lastDelivered {
		return
	}

	n.observer.Deliver(snapshot)
	n.lastDelivered = marker
	n.delivered = true
	n.metrics.RecordDelivery(ctx)
	n.logger.Debug("delivered snapshot", zap.Int64("timestamp", snapshot.Timestamp))
}
