package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/observability"
)

// Readiness is a one-shot signal a component resolves once its own
// initialization is complete. Waiters race it against a deadline and never
// block past it.
type Readiness struct {
	component string
	doc       *document.Document
	logger    *zap.Logger
	metrics   *observability.Metrics

	mu   sync.Mutex
	done chan struct{}
}

// NewReadiness creates an unresolved Readiness for component. The document
// is used to make the component visible once it is ready or has given up.
func NewReadiness(component string, doc *document.Document, logger *zap.Logger, metrics *observability.Metrics) *Readiness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Readiness{
		component: component,
		doc:       doc,
		logger:    logger,
		metrics:   metrics,
		done:      make(chan struct{}),
	}
}

// Resolve marks the component ready. Extra calls are no-ops.
func (r *Readiness) Resolve() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// Reset arms a fresh signal for the next initialization. Waiters on the
// previous signal are unaffected.
func (r *Readiness) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		r.done = make(chan struct{})
	default:
	}
}

// Ready reports whether the current signal has been resolved.
func (r *Readiness) Ready() bool {
	select {
	case <-r.signal():
		return true
	default:
		return false
	}
}

// AwaitReady waits until the component is resolved or timeout elapses. On
// timeout it logs a warning, forces the component visible and returns nil.
// It only returns an error when ctx itself is done.
func (r *Readiness) AwaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.signal():
		if r.doc != nil {
			r.doc.SetVisible(r.component, true)
		}
		return nil
	case <-timer.C:
		r.logger.Warn("component not ready before timeout, forcing visibility",
			zap.String("component", r.component),
			zap.Duration("timeout", timeout),
		)
		r.metrics.RecordReadinessTimeout(r.component)
		if r.doc != nil {
			r.doc.ForceVisible(r.component)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Readiness) signal() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}
