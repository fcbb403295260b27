package sidebar

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/events"
	"github.com/talonops/talon/internal/observability"
	"github.com/talonops/talon/internal/storage"
	"github.com/talonops/talon/model"
)

// Persisted state keys.
const (
	KeyMenuOrder = "talon_sidebar_menu_order"
	KeyPinned    = "talon_sidebar_pinned"
	KeyLocked    = "talon_sidebar_locked"
)

// ModuleName is the name used for the sidebar's readiness event.
const ModuleName = "sidebar"

var (
	ErrUnknownItem = errors.New("sidebar: unknown menu item")
	ErrLocked      = errors.New("sidebar: menu is locked")
	ErrNoRoute     = errors.New("sidebar: menu item has no route")
)

// Sidebar is the gated menu with its persisted presentation state.
// It is safe for concurrent use.
type Sidebar struct {
	menu    *Menu
	local   storage.Store
	session storage.Store
	doc     *document.Document
	bus     *events.Bus
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	gate   Gate
	order  []string
	pinned bool
	locked bool
	focus  string
}

// Option configures a Sidebar.
type Option func(*Sidebar)

// WithDocument sets the document used for denial toasts.
func WithDocument(doc *document.Document) Option {
	return func(s *Sidebar) { s.doc = doc }
}

// WithBus sets the bus the sidebar announces readiness on.
func WithBus(bus *events.Bus) Option {
	return func(s *Sidebar) { s.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sidebar) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sidebar) { s.metrics = m }
}

// New creates a Sidebar for role and restores the persisted order, pin and
// lock state. local backs localStorage and session backs sessionStorage.
func New(ctx context.Context, menu *Menu, role model.Role, local, session storage.Store, opts ...Option) (*Sidebar, error) {
	if menu == nil {
		return nil, errors.New("sidebar: menu is required")
	}
	s := &Sidebar{
		menu:    menu,
		local:   local,
		session: session,
		logger:  zap.NewNop(),
		gate:    Gate{Role: role},
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := storage.GetJSON(ctx, local, KeyMenuOrder, &s.order); err != nil {
		s.logger.Warn("discarding stored menu order", zap.Error(err))
		s.order = nil
	}
	if _, err := storage.GetJSON(ctx, local, KeyPinned, &s.pinned); err != nil {
		s.logger.Warn("discarding stored pin state", zap.Error(err))
	}
	if _, err := storage.GetJSON(ctx, session, KeyLocked, &s.locked); err != nil {
		s.logger.Warn("discarding stored lock state", zap.Error(err))
	}
	return s, nil
}

// Init re-applies gating and announces sidebar:ready. It is the sidebar's
// reinitialization hook.
func (s *Sidebar) Init(ctx context.Context, _ string) error {
	s.mu.Lock()
	s.clampFocus()
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(ctx, events.Event{Name: events.ModuleReady(ModuleName)})
	}
	return nil
}

// HealthCheck fails when the loaded menu has no items.
func (s *Sidebar) HealthCheck(context.Context) error {
	if s == nil || s.menu == nil || len(s.menu.Items) == 0 {
		return errors.New("sidebar: no menu loaded")
	}
	return nil
}

// Role returns the role the menu is gated for.
func (s *Sidebar) Role() model.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gate.Role
}

// Menu returns the visible menu tree with top-level items in the stored
// order.
func (s *Sidebar) Menu() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible()
}

func (s *Sidebar) visible() []Item {
	return applyOrder(s.gate.Filter(s.menu.Items), s.order)
}

// applyOrder sorts items by their position in order. Items missing from
// order keep their relative position after the ordered ones.
func applyOrder(items []Item, order []string) []Item {
	if len(order) == 0 {
		return items
	}
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	out := make([]Item, 0, len(items))
	var rest []Item
	for _, id := range order {
		for _, it := range items {
			if it.ID == id {
				out = append(out, it)
			}
		}
	}
	for _, it := range items {
		if _, ok := rank[it.ID]; !ok {
			rest = append(rest, it)
		}
	}
	return append(out, rest...)
}

// Click resolves a menu click. It returns the item's route, or a role
// denial error after showing a toast when the item is hidden for the
// current role.
func (s *Sidebar) Click(ctx context.Context, id string) (string, error) {
	return s.ClickAs(ctx, s.Role(), id)
}

// ClickAs is Click for an acting role other than the sidebar's. The item
// must be reachable for role in the unfiltered menu tree.
func (s *Sidebar) ClickAs(ctx context.Context, role model.Role, id string) (string, error) {
	it, ok := s.menu.Find(id)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	s.mu.RLock()
	_, reachable := find(Gate{Role: role}.Filter(s.menu.Items), id)
	s.mu.RUnlock()
	if !reachable {
		required, _ := EffectiveRequired(s.menu.Items, id)
		return "", s.deny("menu", role, required)
	}
	if it.Route == "" {
		return "", fmt.Errorf("%w: %q", ErrNoRoute, id)
	}
	s.mu.Lock()
	s.focus = id
	s.mu.Unlock()
	return it.Route, nil
}

// reachable reports whether id is in the visible tree. A child of a hidden
// parent is unreachable even if its own requirement is met.
func (s *Sidebar) reachable(id string) bool {
	_, ok := find(s.gate.Filter(s.menu.Items), id)
	return ok
}

// Focused returns the id of the item holding keyboard focus, or "".
func (s *Sidebar) Focused() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focus
}

// Next moves keyboard focus to the next visible item, wrapping around, and
// returns it.
func (s *Sidebar) Next() (Item, bool) { return s.step(1) }

// Prev moves keyboard focus to the previous visible item, wrapping around.
func (s *Sidebar) Prev() (Item, bool) { return s.step(-1) }

func (s *Sidebar) step(delta int) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flat := flatten(s.visible())
	if len(flat) == 0 {
		s.focus = ""
		return Item{}, false
	}
	idx := -1
	for i, it := range flat {
		if it.ID == s.focus {
			idx = i
			break
		}
	}
	switch {
	case idx < 0 && delta > 0:
		idx = 0
	case idx < 0:
		idx = len(flat) - 1
	default:
		idx = (idx + delta + len(flat)) % len(flat)
	}
	s.focus = flat[idx].ID
	return flat[idx], true
}

func flatten(items []Item) []Item {
	var out []Item
	for _, it := range items {
		out = append(out, it)
		out = append(out, flatten(it.Children)...)
	}
	return out
}

// clampFocus drops focus from an item that is no longer visible.
func (s *Sidebar) clampFocus() {
	if s.focus != "" && !s.reachable(s.focus) {
		s.focus = ""
	}
}

// Reorder moves the visible top-level item at index from to index to and
// persists the resulting order. Hidden items cannot be moved and keep their
// stored position after the visible ones.
func (s *Sidebar) Reorder(ctx context.Context, from, to int) error {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return ErrLocked
	}
	vis := s.visible()
	if from < 0 || from >= len(vis) || to < 0 || to >= len(vis) {
		s.mu.Unlock()
		return fmt.Errorf("sidebar: reorder %d -> %d out of range for %d visible items", from, to, len(vis))
	}

	moved := vis[from]
	ids := make([]string, 0, len(vis))
	for i, it := range vis {
		if i != from {
			ids = append(ids, it.ID)
		}
	}
	ids = append(ids[:to], append([]string{moved.ID}, ids[to:]...)...)

	visibleSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		visibleSet[id] = true
	}
	for _, id := range s.order {
		if !visibleSet[id] {
			ids = append(ids, id)
		}
	}
	s.order = ids
	s.mu.Unlock()

	if err := storage.SetJSON(ctx, s.local, KeyMenuOrder, ids); err != nil {
		return fmt.Errorf("sidebar: persisting order: %w", err)
	}
	s.logger.Debug("menu reordered", zap.String("item", moved.ID), zap.Int("to", to))
	return nil
}

// ReorderIDs moves the item id to index to. It fails with a role denial
// when id is hidden for the current role.
func (s *Sidebar) ReorderIDs(ctx context.Context, id string, to int) error {
	required, ok := EffectiveRequired(s.menu.Items, id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	s.mu.RLock()
	vis := s.visible()
	s.mu.RUnlock()
	for i, v := range vis {
		if v.ID == id {
			return s.Reorder(ctx, i, to)
		}
	}
	s.mu.RLock()
	reachable := s.reachable(id)
	s.mu.RUnlock()
	if reachable {
		return fmt.Errorf("sidebar: %q is not a top-level item", id)
	}
	return s.deny("drag", s.Role(), required)
}

// Pinned reports whether the sidebar is pinned open.
func (s *Sidebar) Pinned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pinned
}

// SetPinned pins or unpins the sidebar. The state survives restarts.
func (s *Sidebar) SetPinned(ctx context.Context, pinned bool) error {
	s.mu.Lock()
	s.pinned = pinned
	s.mu.Unlock()
	return storage.SetJSON(ctx, s.local, KeyPinned, pinned)
}

// Locked reports whether the menu order is locked.
func (s *Sidebar) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked
}

// SetLocked locks or unlocks reordering for the rest of the session.
func (s *Sidebar) SetLocked(ctx context.Context, locked bool) error {
	s.mu.Lock()
	s.locked = locked
	s.mu.Unlock()
	return storage.SetJSON(ctx, s.session, KeyLocked, locked)
}

// UpdateUserRole switches the role and re-runs gating. The new role is
// persisted to session storage.
func (s *Sidebar) UpdateUserRole(ctx context.Context, role model.Role) error {
	s.mu.Lock()
	prev := s.gate.Role
	s.gate = Gate{Role: role}
	s.clampFocus()
	s.mu.Unlock()

	s.logger.Info("user role updated",
		zap.String("from", string(prev)),
		zap.String("to", string(role)),
	)
	if s.session == nil {
		return nil
	}
	if err := s.session.Set(ctx, KeyUserRole, string(role)); err != nil {
		return fmt.Errorf("sidebar: persisting role: %w", err)
	}
	return nil
}

// deny records a role-gated interaction, shows the reason as a toast and
// returns it as an error.
func (s *Sidebar) deny(surface string, role, required model.Role) error {
	reason := Reason(required)
	s.metrics.RecordRoleDenial(surface)
	s.logger.Info("interaction denied by role",
		zap.String("surface", surface),
		zap.String("role", string(role)),
		zap.String("required", string(required)),
	)
	if s.doc != nil {
		s.doc.Toast(document.ToastWarning, reason)
	}
	return model.NewRoleDeniedError(reason)
}
