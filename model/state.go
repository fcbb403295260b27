package model

import "time"

// NavigationPhase is the state of the navigation engine.
type NavigationPhase string

const (
	PhaseIdle       NavigationPhase = "idle"
	PhaseNavigating NavigationPhase = "navigating"
)

// HistoryEntry is the state object stored with every history record. It is
// what a popstate handler receives back.
type HistoryEntry struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// ScrollPosition is a saved viewport offset.
type ScrollPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// NavigationState is a point-in-time snapshot of the navigation engine.
type NavigationState struct {
	CurrentURL       string                    `json:"current_url"`
	PreviousURL      string                    `json:"previous_url"`
	Phase            NavigationPhase           `json:"phase"`
	PageWasRefreshed bool                      `json:"page_was_refreshed"`
	History          []HistoryEntry            `json:"history"`
	ScrollPositions  map[string]ScrollPosition `json:"scroll_positions"`
	CacheEntries     int                       `json:"cache_entries"`
	PrefetchEntries  int                       `json:"prefetch_entries"`
}

// IsNavigating reports whether a navigation is in flight.
func (s NavigationState) IsNavigating() bool {
	return s.Phase == PhaseNavigating
}
