// Package widget implements the searchable select used by the entity forms.
package widget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/entity"
	"github.com/talonops/talon/internal/lifecycle"
	"github.com/talonops/talon/internal/storage"
	"github.com/talonops/talon/model"
)

// KeyPrefix prefixes the session storage key of each select's selection.
const KeyPrefix = "talon_select_"

// ErrUnknownOption is returned when selecting a value that is not offered.
var ErrUnknownOption = errors.New("widget: unknown option")

// Option is one choice of a select.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Loader fetches the options matching query from a remote source.
type Loader func(ctx context.Context, query string) ([]Option, error)

// SearchSelect is a select box with a search field. Typing filters the
// options; the arrow keys move the highlight; Enter selects. The selection
// survives page changes through session storage. It is safe for concurrent
// use.
type SearchSelect struct {
	id       string
	session  storage.Store
	logger   *zap.Logger
	loader   Loader
	onChange func(Option)

	mu        sync.RWMutex
	options   []Option
	query     string
	filtered  []Option
	highlight int
	open      bool
	selected  *Option
}

// SelectOption configures a SearchSelect.
type SelectOption func(*SearchSelect)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) SelectOption {
	return func(s *SearchSelect) { s.logger = l }
}

// WithLoader makes non-empty searches go to loader instead of filtering the
// static options.
func WithLoader(l Loader) SelectOption {
	return func(s *SearchSelect) { s.loader = l }
}

// WithOnChange registers a callback run after every selection change.
func WithOnChange(fn func(Option)) SelectOption {
	return func(s *SearchSelect) { s.onChange = fn }
}

// New creates a select with the given static options.
func New(id string, options []Option, session storage.Store, opts ...SelectOption) *SearchSelect {
	s := &SearchSelect{
		id:        id,
		session:   session,
		logger:    zap.NewNop(),
		options:   slices.Clone(options),
		highlight: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("select", id))
	s.filtered = slices.Clone(s.options)
	return s
}

// ID returns the select's id.
func (s *SearchSelect) ID() string { return s.id }

// Key returns the session storage key of the selection.
func (s *SearchSelect) Key() string { return KeyPrefix + s.id }

// Init resets the search state and restores the stored selection. A
// corrupt stored value is logged and dropped.
func (s *SearchSelect) Init(ctx context.Context) error {
	var stored Option
	found, err := storage.GetJSON(ctx, s.session, s.Key(), &stored)
	if err != nil {
		s.logger.Warn("dropping unreadable selection", zap.Error(err))
		if delErr := s.session.Delete(ctx, s.Key()); delErr != nil {
			return fmt.Errorf("widget: clearing selection %s: %w", s.id, delErr)
		}
		found = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = ""
	s.filtered = slices.Clone(s.options)
	s.highlight = -1
	s.open = false
	s.selected = nil
	if found && stored.Value != "" {
		s.selected = &stored
	}
	return nil
}

// Hook returns an initializer that re-initializes the select on every page
// matched by match.
func (s *SearchSelect) Hook(match func(path string) bool) lifecycle.Initializer {
	return lifecycle.Initializer{
		Name:  "select:" + s.id,
		Match: match,
		Init:  func(ctx context.Context, _ string) error { return s.Init(ctx) },
	}
}

// SetOptions replaces the static options and re-applies the current search.
func (s *SearchSelect) SetOptions(options []Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = slices.Clone(options)
	s.setFiltered(filterOptions(s.options, s.query))
}

// Search filters the options by query and opens the dropdown. The first
// match is highlighted.
func (s *SearchSelect) Search(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)

	var results []Option
	if s.loader != nil && query != "" {
		remote, err := s.loader(ctx, query)
		if err != nil {
			return fmt.Errorf("widget: searching %s: %w", s.id, err)
		}
		results = remote
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	if results == nil {
		results = filterOptions(s.options, query)
	}
	s.setFiltered(results)
	s.open = true
	return nil
}

// setFiltered must be called with the lock held.
func (s *SearchSelect) setFiltered(results []Option) {
	s.filtered = results
	if len(results) == 0 {
		s.highlight = -1
	} else {
		s.highlight = 0
	}
}

// Open shows the dropdown.
func (s *SearchSelect) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	if s.highlight < 0 && len(s.filtered) > 0 {
		s.highlight = 0
	}
}

// Close hides the dropdown and clears the search.
func (s *SearchSelect) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *SearchSelect) closeLocked() {
	s.open = false
	s.query = ""
	s.filtered = slices.Clone(s.options)
	s.highlight = -1
}

// Next moves the highlight down, wrapping at the end.
func (s *SearchSelect) Next() (Option, bool) { return s.move(1) }

// Prev moves the highlight up, wrapping at the start.
func (s *SearchSelect) Prev() (Option, bool) { return s.move(-1) }

func (s *SearchSelect) move(delta int) (Option, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.filtered)
	if n == 0 {
		s.highlight = -1
		return Option{}, false
	}
	s.open = true
	switch {
	case s.highlight < 0 && delta > 0:
		s.highlight = 0
	case s.highlight < 0:
		s.highlight = n - 1
	default:
		s.highlight = ((s.highlight+delta)%n + n) % n
	}
	return s.filtered[s.highlight], true
}

// Highlighted returns the highlighted option.
func (s *SearchSelect) Highlighted() (Option, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.highlight < 0 || s.highlight >= len(s.filtered) {
		return Option{}, false
	}
	return s.filtered[s.highlight], true
}

// HandleKey applies a keyboard key: ArrowDown, ArrowUp, Enter or Escape.
// Other keys are ignored. It reports whether the key was handled.
func (s *SearchSelect) HandleKey(ctx context.Context, key string) (bool, error) {
	switch key {
	case "ArrowDown":
		s.Next()
	case "ArrowUp":
		s.Prev()
	case "Enter":
		opt, ok := s.Highlighted()
		if !ok {
			return false, nil
		}
		return true, s.Select(ctx, opt.Value)
	case "Escape":
		s.Close()
	default:
		return false, nil
	}
	return true, nil
}

// Select chooses the option with value among those currently shown and
// persists it.
func (s *SearchSelect) Select(ctx context.Context, value string) error {
	s.mu.RLock()
	i := slices.IndexFunc(s.filtered, func(o Option) bool { return o.Value == value })
	var opt Option
	if i >= 0 {
		opt = s.filtered[i]
	}
	s.mu.RUnlock()
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownOption, value)
	}

	if err := storage.SetJSON(ctx, s.session, s.Key(), opt); err != nil {
		return fmt.Errorf("widget: saving selection %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.selected = &opt
	s.closeLocked()
	s.mu.Unlock()

	s.logger.Debug("option selected", zap.String("value", opt.Value))
	if s.onChange != nil {
		s.onChange(opt)
	}
	return nil
}

// Clear removes the selection.
func (s *SearchSelect) Clear(ctx context.Context) error {
	if err := s.session.Delete(ctx, s.Key()); err != nil {
		return fmt.Errorf("widget: clearing selection %s: %w", s.id, err)
	}
	s.mu.Lock()
	s.selected = nil
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(Option{})
	}
	return nil
}

// Selected returns the current selection.
func (s *SearchSelect) Selected() (Option, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return Option{}, false
	}
	return *s.selected, true
}

// State is the select as reported by the driver API.
type State struct {
	ID        string   `json:"id"`
	Query     string   `json:"query"`
	Open      bool     `json:"open"`
	Options   []Option `json:"options"`
	Highlight int      `json:"highlight"`
	Selected  *Option  `json:"selected,omitempty"`
}

// State returns a snapshot of the select.
func (s *SearchSelect) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{
		ID:        s.id,
		Query:     s.query,
		Open:      s.open,
		Options:   slices.Clone(s.filtered),
		Highlight: s.highlight,
	}
	if s.selected != nil {
		sel := *s.selected
		st.Selected = &sel
	}
	return st
}

// filterOptions keeps the options whose label contains query, ignoring
// case. An empty query keeps everything.
func filterOptions(options []Option, query string) []Option {
	if query == "" {
		return slices.Clone(options)
	}
	q := strings.ToLower(query)
	filtered := make([]Option, 0, len(options))
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), q) {
			filtered = append(filtered, opt)
		}
	}
	return filtered
}

// EntityLoader adapts an entity source's search to a Loader. label renders
// a record as an option label.
func EntityLoader[T model.Record](src entity.Source[T], label func(T) string) Loader {
	return func(ctx context.Context, query string) ([]Option, error) {
		records, err := src.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		out := make([]Option, len(records))
		for i, r := range records {
			out[i] = Option{Value: r.RecordID(), Label: label(r)}
		}
		return out, nil
	}
}
