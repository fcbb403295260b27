// Package main is the entry point for the headless TALON client. It wires
// the navigation engine, the page modules and the driver API together and
// starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/talonops/talon/internal/chart"
	"github.com/talonops/talon/internal/config"
	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/entity"
	"github.com/talonops/talon/internal/events"
	"github.com/talonops/talon/internal/fetch"
	"github.com/talonops/talon/internal/lifecycle"
	"github.com/talonops/talon/internal/navigation"
	"github.com/talonops/talon/internal/observability"
	"github.com/talonops/talon/internal/sidebar"
	"github.com/talonops/talon/internal/storage"
	"github.com/talonops/talon/internal/transport"
	"github.com/talonops/talon/internal/widget"
	"github.com/talonops/talon/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "talon", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Open the local and session stores.
	local, closeLocal, err := storage.Open(ctx, cfg.Storage.Local)
	if err != nil {
		logger.Error("local store initialization failed", zap.Error(err))
		return 1
	}
	defer closeLocal()
	session, closeSession, err := storage.Open(ctx, cfg.Storage.Session)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}
	defer closeSession()

	// Step 5: Build the document and the event bus.
	start, err := url.Parse(cfg.Navigator.BaseURL + cfg.Navigator.StartPath)
	if err != nil {
		logger.Error("invalid start URL", zap.Error(err))
		return 1
	}
	doc := document.New(start, document.WithHardNavigateHook(func(target string) {
		logger.Warn("full page load requested", zap.String("url", observability.RedactURL(target)))
	}))
	bus := events.NewBus()

	// Step 6: Load the menu and detect the role.
	menu, err := sidebar.LoadMenu(cfg.Sidebar.MenuFile)
	if err != nil {
		logger.Error("menu loading failed", zap.Error(err))
		return 1
	}
	detected := sidebar.DetectRole(ctx, sidebar.RoleSources{
		Global:  cfg.Sidebar.Role,
		Doc:     doc,
		Session: session,
		Logger:  logger,
	})
	sb, err := sidebar.New(ctx, menu, detected.Role, local, session,
		sidebar.WithDocument(doc),
		sidebar.WithBus(bus),
		sidebar.WithLogger(logger),
		sidebar.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("sidebar initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Build the entity sources and the page modules.
	srcs, err := buildSources(cfg, logger, metrics)
	if err != nil {
		logger.Error("entity source initialization failed", zap.Error(err))
		return 1
	}

	modLog := entity.WithModuleLogger(logger)
	activities := entity.NewModule(model.KindActivity, srcs.activities, bus, modLog)
	civil := entity.NewModule(model.KindCivilEntity, srcs.civil, bus, modLog)
	military := entity.NewModule(model.KindMilitaryEntity, srcs.military, bus, modLog)
	operations := entity.NewModule(model.KindOperation, srcs.operations, bus, modLog)
	pages := entity.NewRegistry(activities, civil, military, operations)

	dashboard := chart.New(srcs.activities, bus,
		chart.WithDocument(doc),
		chart.WithLogger(logger),
	)
	adminReady := lifecycle.NewReadiness(string(lifecycle.RouteAdminDashboard), doc, logger, metrics)
	adminDashboard := chart.New(srcs.activities, bus,
		chart.WithDocument(doc),
		chart.WithLogger(logger),
		chart.WithRoute(lifecycle.RouteAdminDashboard),
		chart.WithReadiness(adminReady, cfg.Navigator.ReadinessTimeout),
	)

	selects := buildSelects(ctx, srcs, session, logger)

	// Step 8: Register the reinitialization hooks.
	reinit := lifecycle.NewReinitializer(bus, lifecycle.WithLogger(logger), lifecycle.WithMetrics(metrics))
	hooks := []lifecycle.Initializer{
		{Name: "sidebar", Match: func(string) bool { return true }, Init: sb.Init},
		dashboard.Hook(),
		adminDashboard.Hook(),
	}
	hooks = append(hooks, pages.Hooks()...)
	formRoutes := lifecycle.MatchAny(string(lifecycle.RouteActivities), string(lifecycle.RouteOperations))
	for _, s := range selects {
		hooks = append(hooks, s.Hook(formRoutes))
	}
	for _, h := range hooks {
		if err := reinit.Register(h); err != nil {
			logger.Error("registering initializer failed", zap.String("name", h.Name), zap.Error(err))
			return 1
		}
	}

	// Step 9: Start the navigation engine.
	jar, err := cookiejar.New(nil)
	if err != nil {
		logger.Error("cookie jar initialization failed", zap.Error(err))
		return 1
	}
	client := &http.Client{Jar: jar, Timeout: cfg.Navigator.RequestTimeout}
	fetcher := fetch.NewFetcher(client, fetch.Options{
		LoginPath: cfg.Navigator.LoginPath,
		Selectors: cfg.Navigator.Selectors,
		Logger:    logger,
		Metrics:   metrics,
	})
	engine, err := navigation.New(cfg.Navigator, doc, bus, fetcher,
		navigation.WithAssetLoader(navigation.NewHTTPAssetLoader(client, logger)),
		navigation.WithReinitializer(reinit),
		navigation.WithLogger(logger),
		navigation.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("navigation engine initialization failed", zap.Error(err))
		return 1
	}
	defer engine.Close()

	if err := engine.Start(ctx); err != nil {
		logger.Error("navigation engine start failed", zap.Error(err))
		return 1
	}

	// The first page came from a full load, so its components start here.
	reinit.Run(ctx, start.Path)

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	if cfg.Navigator.WarmMenuRoutes {
		go engine.Warm(bgCtx, sidebar.Routes(sb.Menu()))
	}

	// Step 10: Build the HTTP router.
	var authenticate func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		secret, err := transport.SecretFromEnv(cfg.Auth)
		if err != nil {
			logger.Error("auth initialization failed", zap.Error(err))
			return 1
		}
		authenticate = transport.JWTAuthenticator(cfg.Auth, secret)
	}

	readiness := observability.NewReadiness(observability.DefaultCheckTimeout).
		Require("menu", sb).
		Require("engine", engine)
	if hc, ok := local.(observability.HealthChecker); ok {
		readiness.Optional("local_store", hc)
	}
	if hc, ok := session.(observability.HealthChecker); ok {
		readiness.Optional("session_store", hc)
	}
	for _, b := range srcs.backends {
		readiness.Optional("entity_"+string(b.kind), b.checker)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: authenticate,
		Readiness:    readiness,
		Engine:       engine,
		Sidebar:      sb,
		Pages:        pages,
		Dashboard:    dashboard,
		Selects:      selects,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 11: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("base_url", cfg.Navigator.BaseURL),
		zap.String("api_source", cfg.API.Source),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	for _, closer := range []interface{ Close() }{activities, civil, military, operations, dashboard, adminDashboard} {
		closer.Close()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// sources holds one data source per entity kind.
type sources struct {
	activities entity.Source[model.Activity]
	civil      entity.Source[model.CivilEntity]
	military   entity.Source[model.MilitaryEntity]
	operations entity.Source[model.Operation]
	// backends are the REST sources' health checks; empty for fixtures.
	backends []backendCheck
}

type backendCheck struct {
	kind    model.EntityKind
	checker observability.HealthChecker
}

// buildSources creates the sources selected by api.source.
func buildSources(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (sources, error) {
	switch cfg.API.Source {
	case "fixtures":
		f, err := entity.LoadFixtures(cfg.API.FixturesFile)
		if err != nil {
			return sources{}, err
		}
		logger.Info("using fixture data", zap.String("file", cfg.API.FixturesFile))
		return sources{
			activities: entity.ActivityFixtures(f),
			civil:      entity.CivilEntityFixtures(f),
			military:   entity.MilitaryEntityFixtures(f),
			operations: entity.OperationFixtures(f),
		}, nil

	case "http":
		client := &http.Client{Timeout: cfg.API.Timeout}
		acts := httpSource[model.Activity](cfg, model.KindActivity, client, logger, metrics)
		civil := httpSource[model.CivilEntity](cfg, model.KindCivilEntity, client, logger, metrics)
		military := httpSource[model.MilitaryEntity](cfg, model.KindMilitaryEntity, client, logger, metrics)
		ops := httpSource[model.Operation](cfg, model.KindOperation, client, logger, metrics)
		return sources{
			activities: acts,
			civil:      civil,
			military:   military,
			operations: ops,
			backends: []backendCheck{
				{model.KindActivity, acts},
				{model.KindCivilEntity, civil},
				{model.KindMilitaryEntity, military},
				{model.KindOperation, ops},
			},
		}, nil
	}
	return sources{}, fmt.Errorf("unsupported api source %q", cfg.API.Source)
}

func httpSource[T model.Record](cfg *config.Config, kind model.EntityKind, client *http.Client, logger *zap.Logger, metrics *observability.Metrics) *entity.HTTPSource[T] {
	return entity.NewHTTPSource[T](kind, cfg.API.BaseURL,
		entity.WithHTTPClient(client),
		entity.WithBreaker(entity.NewSourceBreaker(kind, cfg.API.CircuitBreaker, metrics)),
		entity.WithRetry(cfg.API.Retry),
		entity.WithHTTPLogger(logger),
		entity.WithHTTPMetrics(metrics),
	)
}

// buildSelects creates the searchable selects of the activity and
// operation forms. Their options are primed with a blank search; later
// searches go to the sources directly.
func buildSelects(ctx context.Context, srcs sources, session storage.Store, logger *zap.Logger) map[string]*widget.SearchSelect {
	loaders := []struct {
		id     string
		loader widget.Loader
	}{
		{"ente_civile", widget.EntityLoader(srcs.civil, func(c model.CivilEntity) string { return c.Name })},
		{"ente_militare", widget.EntityLoader(srcs.military, func(m model.MilitaryEntity) string { return m.Name })},
		{"operazione", widget.EntityLoader(srcs.operations, func(o model.Operation) string { return o.Name })},
	}

	out := make(map[string]*widget.SearchSelect, len(loaders))
	for _, l := range loaders {
		s := widget.New(l.id, nil, session, widget.WithLogger(logger), widget.WithLoader(l.loader))
		out[l.id] = s
		opts, err := l.loader(ctx, "")
		if err != nil {
			logger.Warn("priming select options failed", zap.String("select", l.id), zap.Error(err))
			continue
		}
		s.SetOptions(opts)
	}
	return out
}
