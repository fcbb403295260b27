package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/talonops/talon/internal/chart"
	"github.com/talonops/talon/internal/config"
	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/entity"
	"github.com/talonops/talon/internal/intercept"
	"github.com/talonops/talon/internal/navigation"
	"github.com/talonops/talon/internal/observability"
	"github.com/talonops/talon/internal/sidebar"
	"github.com/talonops/talon/internal/widget"
	"github.com/talonops/talon/model"
)

// Navigator is the part of the navigation engine the driver API operates.
type Navigator interface {
	Navigate(ctx context.Context, rawURL string, opts navigation.NavigateOptions) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Prefetch(ctx context.Context, rawURL string) error
	ClearCache()
	ClickLink(ctx context.Context, a intercept.Anchor) (bool, error)
	SubmitForm(ctx context.Context, f intercept.Form) (bool, error)
	HoverStart(a intercept.Anchor) bool
	HoverEnd(a intercept.Anchor)
	State() model.NavigationState
	Document() *document.Document
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
// Sidebar, Pages, Dashboard and Selects are optional; their routes answer
// 404 when absent.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Authenticate func(http.Handler) http.Handler
	Readiness    *observability.Readiness

	Engine    Navigator
	Sidebar   *sidebar.Sidebar
	Pages     *entity.Registry
	Dashboard *chart.DrillDown
	Selects   map[string]*widget.SearchSelect
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{deps: deps, logger: logger}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes, no authentication.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness, logger))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(deps.Metrics.MetricsMiddleware)
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Auth.RoleClaim))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Route("/spa", func(r chi.Router) {
			r.Get("/state", h.handleState)
			r.Get("/document", h.handleDocument)
			r.Post("/navigate", h.handleNavigate)
			r.Post("/back", h.handleBack)
			r.Post("/forward", h.handleForward)
			r.Post("/prefetch", h.handlePrefetch)
			r.Delete("/cache", h.handleClearCache)
			r.Post("/click", h.handleClick)
			r.Post("/submit", h.handleSubmit)
			r.Post("/hover", h.handleHover)
			r.Delete("/hover", h.handleHoverEnd)

			r.Get("/menu", h.handleMenu)
			r.Put("/role", h.handleSetRole)
			r.Post("/menu/{itemId}/click", h.handleMenuClick)
			r.Post("/menu/reorder", h.handleMenuReorder)
			r.Put("/menu/pin", h.handleMenuPin)
			r.Put("/menu/lock", h.handleMenuLock)
			r.Post("/menu/next", h.handleMenuNext)
			r.Post("/menu/prev", h.handleMenuPrev)

			r.Get("/modules", h.handleListModules)
			r.Get("/modules/{kind}", h.handleModule)
			r.Put("/modules/{kind}/query", h.handleModuleQuery)
			r.Post("/modules/{kind}/reload", h.handleModuleReload)
			r.Post("/modules/{kind}/records", h.handleCreateRecord)
			r.Put("/modules/{kind}/records/{id}", h.handleUpdateRecord)
			r.Delete("/modules/{kind}/records/{id}", h.handleDeleteRecord)

			r.Get("/dashboard", h.handleDashboard)
			r.Put("/dashboard/level", h.handleDashboardLevel)
			r.Post("/dashboard/select", h.handleDashboardSelect)
			r.Post("/dashboard/up", h.handleDashboardUp)
			r.Post("/dashboard/reset", h.handleDashboardReset)
			r.Put("/dashboard/period", h.handleDashboardPeriod)
			r.Put("/dashboard/character", h.handleDashboardCharacter)

			r.Get("/selects/{id}", h.handleSelect)
			r.Post("/selects/{id}/search", h.handleSelectSearch)
			r.Post("/selects/{id}/key", h.handleSelectKey)
			r.Put("/selects/{id}/selection", h.handleSelectChoose)
			r.Delete("/selects/{id}/selection", h.handleSelectClear)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "route not found")
	})

	return r
}

// handlers groups the driver API handlers around their dependencies.
type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handlers) log(r *http.Request) *zap.Logger {
	return observability.LoggerFrom(r.Context(), h.logger)
}
