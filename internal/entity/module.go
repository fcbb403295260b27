package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/events"
	"github.com/talonops/talon/internal/lifecycle"
	"github.com/talonops/talon/model"
)

// Module is the page module of one entity kind. Records are fetched when
// the kind's page is initialized and discarded on the next cleanup.
type Module[T model.Record] struct {
	kind   model.EntityKind
	source Source[T]
	bus    *events.Bus
	logger *zap.Logger
	view   *View[T]

	mu          sync.RWMutex
	loaded      bool
	inlineErr   string
	unsubscribe func()
}

// ModuleOption configures a Module.
type ModuleOption func(*moduleOptions)

type moduleOptions struct {
	logger *zap.Logger
}

// WithModuleLogger sets the logger.
func WithModuleLogger(l *zap.Logger) ModuleOption {
	return func(o *moduleOptions) { o.logger = l }
}

// NewModule creates the module for kind and subscribes it to spa:cleanup.
func NewModule[T model.Record](kind model.EntityKind, source Source[T], bus *events.Bus, opts ...ModuleOption) *Module[T] {
	o := moduleOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	m := &Module[T]{
		kind:   kind,
		source: source,
		bus:    bus,
		logger: o.logger.With(zap.String("module", string(kind))),
		view:   NewView[T](),
	}
	m.unsubscribe = bus.Subscribe(events.Cleanup, m.onCleanup)
	return m
}

// Kind returns the module's entity kind.
func (m *Module[T]) Kind() model.EntityKind { return m.kind }

// View returns the module's view state.
func (m *Module[T]) View() *View[T] { return m.view }

// Hook returns the initializer running the module on its own route.
func (m *Module[T]) Hook() lifecycle.Initializer {
	return lifecycle.RouteHook(lifecycle.Route(m.kind), m.Init)
}

// Init loads the records and publishes <kind>:ready. A fetch failure is
// kept as the module's inline error message and returned; it never affects
// navigation.
func (m *Module[T]) Init(ctx context.Context, _ string) error {
	if err := m.Reload(ctx); err != nil {
		return err
	}
	m.bus.Publish(ctx, events.Event{Name: events.ModuleReady(string(m.kind))})
	return nil
}

// Reload fetches the records again.
func (m *Module[T]) Reload(ctx context.Context) error {
	records, err := m.source.List(ctx)
	if err != nil {
		m.logger.Error("loading records failed", zap.Error(err))
		m.view.SetRecords(nil)
		m.mu.Lock()
		m.loaded = false
		m.inlineErr = fmt.Sprintf("Unable to load %s data. Please try again later.", m.kind.Label())
		m.mu.Unlock()
		return fmt.Errorf("entity: loading %s: %w", m.kind, err)
	}
	m.view.SetRecords(records)
	m.mu.Lock()
	m.loaded = true
	m.inlineErr = ""
	m.mu.Unlock()
	m.logger.Debug("records loaded", zap.Int("count", len(records)))
	return nil
}

func (m *Module[T]) onCleanup(_ context.Context, _ events.Event) {
	m.mu.Lock()
	wasLoaded := m.loaded
	m.loaded = false
	m.inlineErr = ""
	m.mu.Unlock()
	if wasLoaded {
		m.view.SetRecords(nil)
		m.logger.Debug("records discarded")
	}
}

// Loaded reports whether records are currently held.
func (m *Module[T]) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// InlineError returns the message shown in place of the list after a
// failed load, or "".
func (m *Module[T]) InlineError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inlineErr
}

// Create stores a new record and adds it to the view.
func (m *Module[T]) Create(ctx context.Context, rec T) (T, error) {
	created, err := m.source.Create(ctx, rec)
	if err != nil {
		return created, fmt.Errorf("entity: creating %s: %w", m.kind, err)
	}
	m.view.Upsert(created)
	return created, nil
}

// Update replaces the record with id and refreshes the view.
func (m *Module[T]) Update(ctx context.Context, id string, rec T) (T, error) {
	updated, err := m.source.Update(ctx, id, rec)
	if err != nil {
		return updated, fmt.Errorf("entity: updating %s %s: %w", m.kind, id, err)
	}
	m.view.Upsert(updated)
	return updated, nil
}

// Delete removes the record with id.
func (m *Module[T]) Delete(ctx context.Context, id string) error {
	if err := m.source.Delete(ctx, id); err != nil {
		return fmt.Errorf("entity: deleting %s %s: %w", m.kind, id, err)
	}
	m.view.Remove(id)
	return nil
}

// Lookup runs a backend search without touching the view.
func (m *Module[T]) Lookup(ctx context.Context, query string) ([]T, error) {
	return m.source.Search(ctx, query)
}

// Close unsubscribes the module from the bus.
func (m *Module[T]) Close() {
	m.unsubscribe()
}

// Snapshot is a module's state as reported by the driver API.
type Snapshot struct {
	Kind        model.EntityKind `json:"kind"`
	Loaded      bool             `json:"loaded"`
	InlineError string           `json:"inline_error,omitempty"`
	View        State            `json:"view"`
	Records     any              `json:"records"`
}

// Snapshot returns the module's current state and projection.
func (m *Module[T]) Snapshot() Snapshot {
	m.mu.RLock()
	loaded, inlineErr := m.loaded, m.inlineErr
	m.mu.RUnlock()
	return Snapshot{
		Kind:        m.kind,
		Loaded:      loaded,
		InlineError: inlineErr,
		View:        m.view.State(),
		Records:     m.view.Projection(),
	}
}

// ApplyQuery sets the search term, the filters and the sort key at once.
func (m *Module[T]) ApplyQuery(q Query) {
	m.view.ClearFilters()
	m.view.SetSearch(q.Search)
	for field, value := range q.Filters {
		m.view.SetFilter(field, value)
	}
	m.view.SortBy(q.Sort, q.Desc)
}

// CreateJSON decodes raw as a record and creates it.
func (m *Module[T]) CreateJSON(ctx context.Context, raw []byte) (any, error) {
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, model.NewBadRequestError(fmt.Sprintf("invalid %s record: %v", m.kind, err))
	}
	return m.Create(ctx, rec)
}

// UpdateJSON decodes raw as a record and stores it under id.
func (m *Module[T]) UpdateJSON(ctx context.Context, id string, raw []byte) (any, error) {
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, model.NewBadRequestError(fmt.Sprintf("invalid %s record: %v", m.kind, err))
	}
	return m.Update(ctx, id, rec)
}

// Query is a view query coming from the driver API.
type Query struct {
	Search  string            `json:"search"`
	Filters map[string]string `json:"filters"`
	Sort    string            `json:"sort"`
	Desc    bool              `json:"desc"`
}

// Page is the type-erased face of a Module.
type Page interface {
	Kind() model.EntityKind
	Snapshot() Snapshot
	ApplyQuery(q Query)
	Reload(ctx context.Context) error
	CreateJSON(ctx context.Context, raw []byte) (any, error)
	UpdateJSON(ctx context.Context, id string, raw []byte) (any, error)
	Delete(ctx context.Context, id string) error
	Hook() lifecycle.Initializer
}

// Registry indexes the page modules by kind.
type Registry struct {
	mu    sync.RWMutex
	pages map[model.EntityKind]Page
}

// NewRegistry creates a registry holding pages.
func NewRegistry(pages ...Page) *Registry {
	r := &Registry{pages: make(map[model.EntityKind]Page, len(pages))}
	for _, p := range pages {
		r.pages[p.Kind()] = p
	}
	return r
}

// Get returns the page for kind.
func (r *Registry) Get(kind model.EntityKind) (Page, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pages[kind]
	return p, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []model.EntityKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.EntityKind, 0, len(r.pages))
	for k := range r.pages {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Hooks returns the initializers of every page, in kind order.
func (r *Registry) Hooks() []lifecycle.Initializer {
	kinds := r.Kinds()
	out := make([]lifecycle.Initializer, 0, len(kinds))
	for _, k := range kinds {
		p, _ := r.Get(k)
		out = append(out, p.Hook())
	}
	return out
}
