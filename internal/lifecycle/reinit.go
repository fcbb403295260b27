package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/events"
	"github.com/talonops/talon/internal/observability"
)

// Initializer sets up one page component for a newly loaded path.
type Initializer struct {
	Name  string
	Match func(path string) bool
	Init  func(ctx context.Context, path string) error
}

// Reinitializer announces new content and runs the initializers whose route
// matches it.
type Reinitializer struct {
	bus     *events.Bus
	logger  *zap.Logger
	metrics *observability.Metrics

	mu         sync.RWMutex
	inits      []Initializer
	components map[string]*component
}

// Option configures a Reinitializer.
type Option func(*Reinitializer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reinitializer) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Reinitializer) { r.metrics = m }
}

// NewReinitializer creates a Reinitializer publishing on bus.
func NewReinitializer(bus *events.Bus, opts ...Option) *Reinitializer {
	r := &Reinitializer{
		bus:        bus,
		logger:     zap.NewNop(),
		components: make(map[string]*component),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an initializer. Names must be unique.
func (r *Reinitializer) Register(in Initializer) error {
	if in.Name == "" || in.Match == nil || in.Init == nil {
		return errors.New("lifecycle: initializer needs a name, a matcher and an init function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[in.Name]; exists {
		return fmt.Errorf("lifecycle: initializer %q already registered", in.Name)
	}
	r.inits = append(r.inits, in)
	r.components[in.Name] = newComponent(in.Name, r.onTransition)
	return nil
}

// Run publishes spa:content-loaded for path and then runs, in registration
// order, every initializer matching path. An initializer still running from
// a previous call is skipped. Failures are logged and do not stop the
// remaining initializers.
func (r *Reinitializer) Run(ctx context.Context, path string) {
	r.bus.Publish(ctx, events.Event{Name: events.ContentLoaded, Detail: events.ContentLoadedDetail{Path: path}})

	r.mu.RLock()
	inits := append([]Initializer(nil), r.inits...)
	r.mu.RUnlock()

	for _, in := range inits {
		if !in.Match(path) {
			continue
		}
		r.run(ctx, in, path)
	}
}

func (r *Reinitializer) run(ctx context.Context, in Initializer, path string) {
	c := r.component(in.Name)
	logger := r.logger.With(zap.String("component", in.Name), zap.String("path", path))

	if err := c.start(ctx); err != nil {
		logger.Debug("initializer skipped", zap.Error(err))
		r.metrics.RecordReinit(in.Name, "skipped")
		return
	}

	ctx, span := observability.StartSpan(ctx, "lifecycle.init",
		observability.AttrComponent.String(in.Name),
	)
	initErr := in.Init(ctx, path)
	observability.EndSpanWithError(span, initErr)

	if err := c.finish(ctx, initErr); err != nil {
		logger.Error("recording initializer outcome", zap.Error(err))
	}
	if initErr != nil {
		logger.Error("component initialization failed", zap.Error(initErr))
		r.metrics.RecordReinit(in.Name, "error")
		return
	}
	r.metrics.RecordReinit(in.Name, "ready")
}

// State returns the current state of the named component, or "" when it is
// not registered.
func (r *Reinitializer) State(name string) string {
	if c := r.component(name); c != nil {
		return c.current()
	}
	return ""
}

// States returns the state of every registered component.
func (r *Reinitializer) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.components))
	for name, c := range r.components {
		out[name] = c.current()
	}
	return out
}

// Names returns the registered initializer names in sorted order.
func (r *Reinitializer) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Reinitializer) component(name string) *component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.components[name]
}

func (r *Reinitializer) onTransition(name, from, to string) {
	r.logger.Debug("component state changed",
		zap.String("component", name),
		zap.String("from", from),
		zap.String("to", to),
	)
}
