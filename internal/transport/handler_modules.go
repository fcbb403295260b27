package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/talonops/talon/internal/entity"
	"github.com/talonops/talon/internal/sidebar"
	"github.com/talonops/talon/model"
)

// Roles required by the record actions of every module.
const (
	writeRole  = model.RoleOperatore
	deleteRole = model.RoleAdmin
)

// page resolves the {kind} URL parameter to a module, writing a 404 when
// there is none.
func (h *handlers) page(w http.ResponseWriter, r *http.Request) (entity.Page, bool) {
	if h.deps.Pages == nil {
		WriteNotFound(w, "no modules configured")
		return nil, false
	}
	raw := chi.URLParam(r, "kind")
	kind, ok := model.ParseKind(raw)
	if !ok {
		WriteNotFound(w, "unknown module "+raw)
		return nil, false
	}
	p, ok := h.deps.Pages.Get(kind)
	if !ok {
		WriteNotFound(w, "module not configured: "+raw)
		return nil, false
	}
	return p, true
}

// actingRole is the role a driver API call acts as: the sidebar role,
// lowered to the caller's token role when the call was authenticated. A
// token without a known role claim acts as GUEST.
func (h *handlers) actingRole(ctx context.Context) model.Role {
	role := model.RoleAdmin
	if h.deps.Sidebar != nil {
		role = h.deps.Sidebar.Role()
	}
	if caller, ok := callerRole(ctx); ok && caller.Level() < role.Level() {
		role = caller
	}
	return role
}

// callerRole returns the role asserted by the verified token, if the
// request carried one.
func callerRole(ctx context.Context) (model.Role, bool) {
	if ClaimsFrom(ctx) == nil {
		return "", false
	}
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil || rctx.Role == "" {
		return model.RoleGuest, true
	}
	return rctx.Role, true
}

// guard runs action through a role-gated button. A denied action yields a
// ROLE_DENIED error carrying the reason shown to the user.
func (h *handlers) guard(ctx context.Context, id, label string, min model.Role, action func(context.Context) error) error {
	role := h.actingRole(ctx)
	b := sidebar.Button{ID: id, Label: label, MinRole: min, Action: action}
	if h.deps.Sidebar == nil {
		if !role.AtLeast(min) {
			return model.NewRoleDeniedError(sidebar.Reason(min))
		}
		return action(ctx)
	}
	invoked, err := h.deps.Sidebar.PressAs(ctx, role, b)
	if !invoked {
		return model.NewRoleDeniedError(sidebar.ButtonStateFor(role, b).Reason)
	}
	return err
}

func (h *handlers) handleListModules(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Pages == nil {
		WriteJSON(w, http.StatusOK, []entity.Snapshot{})
		return
	}
	kinds := h.deps.Pages.Kinds()
	out := make([]entity.Snapshot, 0, len(kinds))
	for _, k := range kinds {
		p, _ := h.deps.Pages.Get(k)
		snap := p.Snapshot()
		snap.Records = nil
		out = append(out, snap)
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *handlers) handleModule(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, p.Snapshot())
}

func (h *handlers) handleModuleQuery(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	var q entity.Query
	if err := decodeBody(r, &q); err != nil {
		WriteError(w, err)
		return
	}
	p.ApplyQuery(q)
	WriteJSON(w, http.StatusOK, p.Snapshot())
}

func (h *handlers) handleModuleReload(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	if err := p.Reload(r.Context()); err != nil {
		// The module keeps an inline error; the snapshot reports it.
		h.log(r).Warn("module reload failed", zap.String("kind", string(p.Kind())), zap.Error(err))
	}
	WriteJSON(w, http.StatusOK, p.Snapshot())
}

func (h *handlers) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	raw, err := readBody(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var created any
	err = h.guard(r.Context(), "create-"+string(p.Kind()), "Nuovo", writeRole, func(ctx context.Context) error {
		var err error
		created, err = p.CreateJSON(ctx, raw)
		return err
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (h *handlers) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	raw, err := readBody(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var updated any
	err = h.guard(r.Context(), "update-"+string(p.Kind()), "Modifica", writeRole, func(ctx context.Context) error {
		var err error
		updated, err = p.UpdateJSON(ctx, id, raw)
		return err
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (h *handlers) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	err := h.guard(r.Context(), "delete-"+string(p.Kind()), "Elimina", deleteRole, func(ctx context.Context) error {
		return p.Delete(ctx, id)
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, model.NewBadRequestError("unreadable request body")
	}
	return raw, nil
}
