package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/talonops/talon/internal/widget"
)

type searchRequest struct {
	Query string `json:"query"`
}

type keyRequest struct {
	Key string `json:"key"`
}

type selectionRequest struct {
	Value string `json:"value"`
}

func (h *handlers) selectWidget(w http.ResponseWriter, r *http.Request) (*widget.SearchSelect, bool) {
	id := chi.URLParam(r, "id")
	s, ok := h.deps.Selects[id]
	if !ok {
		WriteNotFound(w, "unknown select "+id)
		return nil, false
	}
	return s, true
}

func (h *handlers) handleSelect(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.selectWidget(w, r); ok {
		WriteJSON(w, http.StatusOK, s.State())
	}
}

func (h *handlers) handleSelectSearch(w http.ResponseWriter, r *http.Request) {
	s, ok := h.selectWidget(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := s.Search(r.Context(), req.Query); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.State())
}

func (h *handlers) handleSelectKey(w http.ResponseWriter, r *http.Request) {
	s, ok := h.selectWidget(w, r)
	if !ok {
		return
	}
	var req keyRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if _, err := s.HandleKey(r.Context(), req.Key); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.State())
}

func (h *handlers) handleSelectChoose(w http.ResponseWriter, r *http.Request) {
	s, ok := h.selectWidget(w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := s.Select(r.Context(), req.Value); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.State())
}

func (h *handlers) handleSelectClear(w http.ResponseWriter, r *http.Request) {
	s, ok := h.selectWidget(w, r)
	if !ok {
		return
	}
	if err := s.Clear(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.State())
}
