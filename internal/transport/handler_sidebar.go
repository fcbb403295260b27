package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/talonops/talon/internal/navigation"
	"github.com/talonops/talon/internal/sidebar"
	"github.com/talonops/talon/model"
)

// menuView is the sidebar as reported by the driver API.
type menuView struct {
	Role    model.Role     `json:"role"`
	Pinned  bool           `json:"pinned"`
	Locked  bool           `json:"locked"`
	Focused string         `json:"focused,omitempty"`
	Items   []sidebar.Item `json:"items"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type reorderRequest struct {
	ID   string `json:"id"`
	From int    `json:"from"`
	To   int    `json:"to"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// sidebar returns the sidebar or writes a 404 when none is configured.
func (h *handlers) sidebar(w http.ResponseWriter) (*sidebar.Sidebar, bool) {
	if h.deps.Sidebar == nil {
		WriteNotFound(w, "sidebar not configured")
		return nil, false
	}
	return h.deps.Sidebar, true
}

func (h *handlers) menuView() menuView {
	sb := h.deps.Sidebar
	return menuView{
		Role:    sb.Role(),
		Pinned:  sb.Pinned(),
		Locked:  sb.Locked(),
		Focused: sb.Focused(),
		Items:   sb.Menu(),
	}
}

func (h *handlers) handleMenu(w http.ResponseWriter, _ *http.Request) {
	if _, ok := h.sidebar(w); !ok {
		return
	}
	WriteJSON(w, http.StatusOK, h.menuView())
}

func (h *handlers) handleSetRole(w http.ResponseWriter, r *http.Request) {
	sb, ok := h.sidebar(w)
	if !ok {
		return
	}
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	role, known := model.ParseRole(req.Role)
	if !known {
		WriteError(w, model.NewBadRequestError("unknown role "+req.Role))
		return
	}
	if caller, ok := callerRole(r.Context()); ok && !caller.AtLeast(role) {
		h.log(r).Warn("role change above token role refused",
			zap.String("requested", string(role)),
			zap.String("token_role", string(caller)),
		)
		WriteError(w, model.NewRoleDeniedError("Requested role exceeds token role "+string(caller)))
		return
	}
	if err := sb.UpdateUserRole(r.Context(), role); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.menuView())
}

// handleMenuClick resolves the item's route and navigates to it.
func (h *handlers) handleMenuClick(w http.ResponseWriter, r *http.Request) {
	sb, ok := h.sidebar(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "itemId")
	route, err := sb.ClickAs(r.Context(), h.actingRole(r.Context()), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	opts := navigation.NavigateOptions{Trigger: navigation.TriggerClick}
	if err := h.deps.Engine.Navigate(r.Context(), route, opts); err != nil {
		h.log(r).Warn("menu navigation failed", zap.String("item", id), zap.Error(err))
		WriteError(w, navigationError(route, err))
		return
	}
	WriteJSON(w, http.StatusOK, h.deps.Engine.State())
}

func (h *handlers) handleMenuReorder(w http.ResponseWriter, r *http.Request) {
	sb, ok := h.sidebar(w)
	if !ok {
		return
	}
	var req reorderRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	var err error
	if req.ID != "" {
		err = sb.ReorderIDs(r.Context(), req.ID, req.To)
	} else {
		err = sb.Reorder(r.Context(), req.From, req.To)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.menuView())
}

func (h *handlers) handleMenuPin(w http.ResponseWriter, r *http.Request) {
	sb, ok := h.sidebar(w)
	if !ok {
		return
	}
	var req toggleRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := sb.SetPinned(r.Context(), req.Enabled); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.menuView())
}

func (h *handlers) handleMenuLock(w http.ResponseWriter, r *http.Request) {
	sb, ok := h.sidebar(w)
	if !ok {
		return
	}
	var req toggleRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := sb.SetLocked(r.Context(), req.Enabled); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.menuView())
}

func (h *handlers) handleMenuNext(w http.ResponseWriter, _ *http.Request) {
	if sb, ok := h.sidebar(w); ok {
		sb.Next()
		WriteJSON(w, http.StatusOK, h.menuView())
	}
}

func (h *handlers) handleMenuPrev(w http.ResponseWriter, _ *http.Request) {
	if sb, ok := h.sidebar(w); ok {
		sb.Prev()
		WriteJSON(w, http.StatusOK, h.menuView())
	}
}
