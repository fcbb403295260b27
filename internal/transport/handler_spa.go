package transport

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/intercept"
	"github.com/talonops/talon/internal/navigation"
	"github.com/talonops/talon/internal/observability"
	"github.com/talonops/talon/model"
)

// navigateRequest is the body of POST /spa/navigate.
type navigateRequest struct {
	URL     string `json:"url"`
	Force   bool   `json:"force"`
	NoCache bool   `json:"no_cache"`
	Replace bool   `json:"replace"`
}

// urlRequest is the body of endpoints that take a single URL.
type urlRequest struct {
	URL string `json:"url"`
}

// anchorRequest describes a link element.
type anchorRequest struct {
	Href     string            `json:"href"`
	Target   string            `json:"target"`
	Download bool              `json:"download"`
	Attrs    map[string]string `json:"attrs"`
}

func (a anchorRequest) anchor() intercept.Anchor {
	return intercept.Anchor{Href: a.Href, Target: a.Target, Download: a.Download, Attrs: a.Attrs}
}

// formRequest describes a form element and its controls.
type formRequest struct {
	Action string            `json:"action"`
	Method string            `json:"method"`
	Attrs  map[string]string `json:"attrs"`
	Fields []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
		Type  string `json:"type"`
	} `json:"fields"`
}

func (f formRequest) form() intercept.Form {
	out := intercept.Form{Action: f.Action, Method: f.Method, Attrs: f.Attrs}
	for _, fld := range f.Fields {
		out.Fields = append(out.Fields, intercept.Field{Name: fld.Name, Value: fld.Value, Type: fld.Type})
	}
	return out
}

// interceptResponse reports how a click or submission was handled.
type interceptResponse struct {
	Intercepted bool                  `json:"intercepted"`
	State       model.NavigationState `json:"state"`
}

// toastView is a toast as reported by the driver API.
type toastView struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// documentView is the observable state of the page.
type documentView struct {
	Location        string      `json:"location"`
	Title           string      `json:"title"`
	Opacity         float64     `json:"opacity"`
	Main            string      `json:"main"`
	Breadcrumb      string      `json:"breadcrumb,omitempty"`
	Flash           string      `json:"flash,omitempty"`
	Stylesheets     []string    `json:"stylesheets"`
	Scripts         []string    `json:"scripts"`
	Charts          []string    `json:"charts"`
	Toasts          []toastView `json:"toasts"`
	HardNavigations []string    `json:"hard_navigations"`
}

func (h *handlers) handleState(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.deps.Engine.State())
}

func (h *handlers) handleDocument(w http.ResponseWriter, _ *http.Request) {
	doc := h.deps.Engine.Document()
	view := documentView{
		Location:        doc.Location().String(),
		Title:           doc.Title(),
		Opacity:         doc.Opacity(),
		Stylesheets:     assetURLs(doc.Assets(document.KindStylesheet)),
		Scripts:         assetURLs(doc.Assets(document.KindScript)),
		Charts:          doc.Charts(),
		HardNavigations: doc.HardNavigations(),
	}
	view.Main, _ = doc.Region(document.RegionMain)
	view.Breadcrumb, _ = doc.Region(document.RegionBreadcrumb)
	view.Flash, _ = doc.Region(document.RegionFlash)
	for _, t := range doc.Toasts() {
		view.Toasts = append(view.Toasts, toastView{Level: t.Level, Message: t.Message})
	}
	WriteJSON(w, http.StatusOK, view)
}

func assetURLs(assets []document.Asset) []string {
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.URL
	}
	return out
}

func (h *handlers) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.URL == "" {
		WriteError(w, model.NewBadRequestError("url is required"))
		return
	}

	opts := navigation.NavigateOptions{
		Force:   req.Force,
		NoCache: req.NoCache,
		Trigger: navigation.TriggerAPI,
	}
	if req.Replace {
		opts.History = navigation.HistoryReplace
	}
	if err := h.deps.Engine.Navigate(r.Context(), req.URL, opts); err != nil {
		h.log(r).Warn("navigation failed",
			zap.String("url", observability.RedactURL(req.URL)),
			zap.Error(err),
		)
		WriteError(w, navigationError(req.URL, err))
		return
	}
	WriteJSON(w, http.StatusOK, h.deps.Engine.State())
}

// navigationError keeps envelopes such as role denials intact and reports
// everything else as a failed navigation.
func navigationError(target string, err error) error {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	return model.NewNavigationFailedError(target, err)
}

func (h *handlers) handleBack(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Engine.Back(r.Context()); err != nil {
		if !errors.Is(err, navigation.ErrNoHistory) {
			err = navigationError("previous entry", err)
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.deps.Engine.State())
}

func (h *handlers) handleForward(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Engine.Forward(r.Context()); err != nil {
		if !errors.Is(err, navigation.ErrNoHistory) {
			err = navigationError("next entry", err)
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.deps.Engine.State())
}

func (h *handlers) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.URL == "" {
		WriteError(w, model.NewBadRequestError("url is required"))
		return
	}
	if err := h.deps.Engine.Prefetch(r.Context(), req.URL); err != nil {
		WriteError(w, model.NewNavigationFailedError(req.URL, err))
		return
	}
	WriteJSON(w, http.StatusOK, h.deps.Engine.State())
}

func (h *handlers) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	h.deps.Engine.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleClick(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	intercepted, err := h.deps.Engine.ClickLink(r.Context(), req.anchor())
	if err != nil {
		WriteError(w, navigationError(req.Href, err))
		return
	}
	if !intercepted {
		WriteError(w, model.NewNotInterceptedError(req.Href))
		return
	}
	WriteJSON(w, http.StatusOK, interceptResponse{Intercepted: true, State: h.deps.Engine.State()})
}

func (h *handlers) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req formRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	intercepted, err := h.deps.Engine.SubmitForm(r.Context(), req.form())
	if err != nil {
		WriteError(w, navigationError(req.Action, err))
		return
	}
	if !intercepted {
		WriteError(w, model.NewNotInterceptedError(req.Action))
		return
	}
	WriteJSON(w, http.StatusOK, interceptResponse{Intercepted: true, State: h.deps.Engine.State()})
}

func (h *handlers) handleHover(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	scheduled := h.deps.Engine.HoverStart(req.anchor())
	WriteJSON(w, http.StatusAccepted, map[string]bool{"scheduled": scheduled})
}

func (h *handlers) handleHoverEnd(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	h.deps.Engine.HoverEnd(req.anchor())
	w.WriteHeader(http.StatusNoContent)
}
