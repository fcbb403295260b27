package transport

import (
	"net/http"

	"github.com/talonops/talon/internal/chart"
	"github.com/talonops/talon/model"
)

type labelRequest struct {
	Label string `json:"label"`
}

type periodRequest struct {
	Period string `json:"period"`
}

type characterRequest struct {
	Character string `json:"character"`
}

func (h *handlers) dashboard(w http.ResponseWriter) (*chart.DrillDown, bool) {
	if h.deps.Dashboard == nil {
		WriteNotFound(w, "dashboard not configured")
		return nil, false
	}
	return h.deps.Dashboard, true
}

func (h *handlers) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	if d, ok := h.dashboard(w); ok {
		WriteJSON(w, http.StatusOK, d.View())
	}
}

func (h *handlers) handleDashboardLevel(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w)
	if !ok {
		return
	}
	var p chart.Position
	if err := decodeBody(r, &p); err != nil {
		WriteError(w, err)
		return
	}
	if err := d.NavigateToLevel(r.Context(), p); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, d.View())
}

func (h *handlers) handleDashboardSelect(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w)
	if !ok {
		return
	}
	var req labelRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := d.Select(r.Context(), req.Label); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, d.View())
}

func (h *handlers) handleDashboardUp(w http.ResponseWriter, r *http.Request) {
	if d, ok := h.dashboard(w); ok {
		d.Up(r.Context())
		WriteJSON(w, http.StatusOK, d.View())
	}
}

func (h *handlers) handleDashboardReset(w http.ResponseWriter, r *http.Request) {
	if d, ok := h.dashboard(w); ok {
		d.ResetToLevel0(r.Context())
		WriteJSON(w, http.StatusOK, d.View())
	}
}

func (h *handlers) handleDashboardPeriod(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w)
	if !ok {
		return
	}
	var req periodRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := d.SetPeriod(r.Context(), req.Period); err != nil {
		WriteError(w, model.NewBadRequestError(err.Error()))
		return
	}
	WriteJSON(w, http.StatusOK, d.View())
}

func (h *handlers) handleDashboardCharacter(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w)
	if !ok {
		return
	}
	var req characterRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := d.SetCharacterFilter(r.Context(), req.Character); err != nil {
		WriteError(w, model.NewBadRequestError(err.Error()))
		return
	}
	WriteJSON(w, http.StatusOK, d.View())
}
