package navigation

import (
	"context"

	"github.com/google/uuid"

	"github.com/talonops/talon/model"
)

func (e *Engine) newEntry(u string) model.HistoryEntry {
	return model.HistoryEntry{ID: uuid.NewString(), URL: u, Timestamp: e.now()}
}

// saveScroll remembers the viewport offset of the page being left. The map
// keeps at most history_limit URLs and drops the oldest first.
func (e *Engine) saveScroll(u string) {
	if u == "" {
		return
	}
	e.scroll.Set(u, e.doc.Scroll())
}

// restoreScroll positions the viewport after arrival: the saved offset on
// back/forward, otherwise the top of the page when configured.
func (e *Engine) restoreScroll(u string, fromPopState bool) {
	if fromPopState {
		if pos, ok := e.scroll.Get(u); ok {
			e.doc.ScrollTo(pos.X, pos.Y)
			return
		}
	}
	if e.cfg.ScrollToTop {
		e.doc.ScrollTo(0, 0)
	}
}

// commit makes entry the current navigation state.
func (e *Engine) commit(entry model.HistoryEntry, mode HistoryMode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.previousURL = e.currentURL
	e.currentURL = entry.URL
	e.pageWasRefreshed = false

	if mode == HistoryReplace && len(e.history) > 0 {
		e.history[len(e.history)-1] = entry
		return
	}
	e.history = append(e.history, entry)
	if limit := e.cfg.HistoryLimit; limit > 0 && len(e.history) > limit {
		e.history = append([]model.HistoryEntry(nil), e.history[len(e.history)-limit:]...)
	}
}

// PopState handles a history traversal to entry. The session history has
// already moved, so the navigation leaves it untouched and restores the
// saved scroll offset.
func (e *Engine) PopState(ctx context.Context, entry model.HistoryEntry) error {
	return e.Navigate(ctx, entry.URL, NavigateOptions{History: HistoryNone, Trigger: TriggerPopState})
}

// Back moves the document one entry back and dispatches popstate.
func (e *Engine) Back(ctx context.Context) error {
	entry, ok := e.doc.Back()
	if !ok {
		return ErrNoHistory
	}
	return e.PopState(ctx, entry)
}

// Forward moves the document one entry forward and dispatches popstate.
func (e *Engine) Forward(ctx context.Context) error {
	entry, ok := e.doc.Forward()
	if !ok {
		return ErrNoHistory
	}
	return e.PopState(ctx, entry)
}
