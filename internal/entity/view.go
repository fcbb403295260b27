// Package entity implements the CRUD page modules for activities, civilian
// entities, military entities and operations: their view state, their data
// sources and their reaction to page lifecycle events.
package entity

import (
	"slices"
	"strings"
	"sync"

	"github.com/talonops/talon/model"
)

// View holds a module's records and the projection derived from the search
// term, the filters and the sort key. The projection is recomputed from
// scratch on every change. It is safe for concurrent use.
type View[T model.Record] struct {
	mu         sync.RWMutex
	records    []T
	search     string
	filters    map[string]string
	sortKey    string
	desc       bool
	projection []T
}

// NewView creates an empty view.
func NewView[T model.Record]() *View[T] {
	return &View[T]{filters: make(map[string]string)}
}

// SetRecords replaces the records.
func (v *View[T]) SetRecords(records []T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records = slices.Clone(records)
	v.recompute()
}

// Records returns a copy of the unfiltered records.
func (v *View[T]) Records() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.records)
}

// Upsert replaces the record with the same id, or appends it.
func (v *View[T]) Upsert(rec T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := slices.IndexFunc(v.records, func(r T) bool { return r.RecordID() == rec.RecordID() })
	if i >= 0 {
		v.records[i] = rec
	} else {
		v.records = append(v.records, rec)
	}
	v.recompute()
}

// Remove deletes the record with id. It reports whether one was found.
func (v *View[T]) Remove(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := len(v.records)
	v.records = slices.DeleteFunc(v.records, func(r T) bool { return r.RecordID() == id })
	if len(v.records) == n {
		return false
	}
	v.recompute()
	return true
}

// SetSearch sets the free-text search term. Matching is case-insensitive
// against every word of the term.
func (v *View[T]) SetSearch(term string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.search = strings.ToLower(strings.TrimSpace(term))
	v.recompute()
}

// SetFilter restricts the projection to records whose field equals value,
// ignoring case. An empty value removes the filter.
func (v *View[T]) SetFilter(field, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if value == "" {
		delete(v.filters, field)
	} else {
		v.filters[field] = value
	}
	v.recompute()
}

// ClearFilters removes the search term and every filter.
func (v *View[T]) ClearFilters() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.search = ""
	v.filters = make(map[string]string)
	v.recompute()
}

// SortBy orders the projection by field. An empty field keeps record order.
func (v *View[T]) SortBy(field string, desc bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sortKey = field
	v.desc = desc
	v.recompute()
}

// Projection returns the filtered, sorted records.
func (v *View[T]) Projection() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.projection)
}

// State describes the inputs of the current projection.
type State struct {
	Search  string            `json:"search,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
	SortKey string            `json:"sort_key,omitempty"`
	Desc    bool              `json:"desc,omitempty"`
	Total   int               `json:"total"`
	Shown   int               `json:"shown"`
}

// State returns the current view inputs and counts.
func (v *View[T]) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	filters := make(map[string]string, len(v.filters))
	for k, val := range v.filters {
		filters[k] = val
	}
	return State{
		Search:  v.search,
		Filters: filters,
		SortKey: v.sortKey,
		Desc:    v.desc,
		Total:   len(v.records),
		Shown:   len(v.projection),
	}
}

// recompute rebuilds the projection. Must be called with the lock held.
func (v *View[T]) recompute() {
	terms := strings.Fields(v.search)
	out := make([]T, 0, len(v.records))
	for _, r := range v.records {
		if matches(r, terms, v.filters) {
			out = append(out, r)
		}
	}
	if v.sortKey != "" {
		key, desc := v.sortKey, v.desc
		slices.SortStableFunc(out, func(a, b T) int {
			c := strings.Compare(strings.ToLower(a.Field(key)), strings.ToLower(b.Field(key)))
			if desc {
				return -c
			}
			return c
		})
	}
	v.projection = out
}

func matches(r model.Record, terms []string, filters map[string]string) bool {
	for field, want := range filters {
		if !strings.EqualFold(r.Field(field), want) {
			return false
		}
	}
	if len(terms) == 0 {
		return true
	}
	text := r.SearchText()
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}
