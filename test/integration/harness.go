// Package integration provides a reusable test harness for end-to-end
// integration testing of the headless TALON client. It starts the driver API
// wired to a mock TALON web application, in-memory stores and a test JWT
// issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
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

// TestHarness encapsulates a fully wired client with a mock TALON server
// for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Talon     *MockTalon
	Engine    *navigation.Engine
	Document  *document.Document
	Sidebar   *sidebar.Sidebar
	Pages     *entity.Registry
	Dashboard *chart.DrillDown

	cfg  *config.Config
	role model.Role
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	role     model.Role
	debounce time.Duration
	breaker  config.CircuitBreakerConfig
}

// WithRole sets the role the client runs as.
func WithRole(r model.Role) HarnessOption {
	return func(c *harnessConfig) {
		c.role = r
	}
}

// WithPrefetchDebounce sets the hover prefetch delay.
func WithPrefetchDebounce(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.debounce = d
	}
}

// WithCircuitBreaker sets the entity API circuit breaker configuration.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.breaker = cb
	}
}

// NewTestHarness creates and starts a full client test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()
	ctx := context.Background()

	hc := &harnessConfig{
		role:     model.RoleOperatore,
		debounce: 50 * time.Millisecond,
		breaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t, role: hc.role}

	// Step 1: Start the mock TALON server.
	h.Talon = newMockTalon(t)

	// Step 2: Build config pointing at the mock.
	h.issuer = newTokenIssuer()
	h.cfg = config.Defaults()
	h.cfg.Navigator.BaseURL = h.Talon.URL()
	h.cfg.Navigator.FadeDuration = 0
	h.cfg.Navigator.ErrorFallbackDelay = 0
	h.cfg.Navigator.Prefetch.Debounce = hc.debounce
	h.cfg.API.BaseURL = h.Talon.URL()
	h.cfg.API.CircuitBreaker = hc.breaker
	h.cfg.API.Retry = config.RetryConfig{MaxAttempts: 1}
	h.cfg.Sidebar.Role = string(hc.role)
	h.cfg.Auth = config.AuthConfig{
		Enabled:   true,
		Issuer:    h.issuer.issuer,
		RoleClaim: "role",
	}

	logger := zap.NewNop()
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	// Step 3: Build the document, stores and sidebar.
	start, err := url.Parse(h.cfg.Navigator.BaseURL + h.cfg.Navigator.StartPath)
	if err != nil {
		t.Fatalf("parse start URL: %v", err)
	}
	h.Document = document.New(start)
	bus := events.NewBus()
	local, session := storage.NewMemory(), storage.NewMemory()

	menu, err := sidebar.LoadMenu(filepath.Join(testdataDir(), "menu.yaml"))
	if err != nil {
		t.Fatalf("load menu: %v", err)
	}
	detected := sidebar.DetectRole(ctx, sidebar.RoleSources{Global: h.cfg.Sidebar.Role, Doc: h.Document, Session: session})
	h.Sidebar, err = sidebar.New(ctx, menu, detected.Role, local, session,
		sidebar.WithDocument(h.Document),
		sidebar.WithBus(bus),
		sidebar.WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("sidebar: %v", err)
	}

	// Step 4: Build the REST sources and the page modules.
	apiClient := &http.Client{Timeout: 5 * time.Second}
	activitySrc := newSource[model.Activity](h.cfg, model.KindActivity, apiClient, metrics)
	civilSrc := newSource[model.CivilEntity](h.cfg, model.KindCivilEntity, apiClient, metrics)
	militarySrc := newSource[model.MilitaryEntity](h.cfg, model.KindMilitaryEntity, apiClient, metrics)
	operationSrc := newSource[model.Operation](h.cfg, model.KindOperation, apiClient, metrics)

	activities := entity.NewModule[model.Activity](model.KindActivity, activitySrc, bus)
	civil := entity.NewModule[model.CivilEntity](model.KindCivilEntity, civilSrc, bus)
	military := entity.NewModule[model.MilitaryEntity](model.KindMilitaryEntity, militarySrc, bus)
	operations := entity.NewModule[model.Operation](model.KindOperation, operationSrc, bus)
	h.Pages = entity.NewRegistry(activities, civil, military, operations)
	h.Dashboard = chart.New(activitySrc, bus, chart.WithDocument(h.Document))

	ente := widget.New("ente_civile", nil, session,
		widget.WithLoader(widget.EntityLoader[model.CivilEntity](civilSrc, func(c model.CivilEntity) string { return c.Name })),
	)

	// Step 5: Register the reinitialization hooks.
	reinit := lifecycle.NewReinitializer(bus, lifecycle.WithMetrics(metrics))
	hooks := append([]lifecycle.Initializer{
		{Name: "sidebar", Match: func(string) bool { return true }, Init: h.Sidebar.Init},
		h.Dashboard.Hook(),
		ente.Hook(lifecycle.MatchRoute(lifecycle.RouteActivities)),
	}, h.Pages.Hooks()...)
	for _, hook := range hooks {
		if err := reinit.Register(hook); err != nil {
			t.Fatalf("register %s: %v", hook.Name, err)
		}
	}

	// Step 6: Start the navigation engine.
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	pageClient := &http.Client{Jar: jar, Timeout: 5 * time.Second}
	fetcher := fetch.NewFetcher(pageClient, fetch.Options{
		LoginPath: h.cfg.Navigator.LoginPath,
		Selectors: h.cfg.Navigator.Selectors,
		Metrics:   metrics,
	})
	h.Engine, err = navigation.New(h.cfg.Navigator, h.Document, bus, fetcher,
		navigation.WithAssetLoader(navigation.NewHTTPAssetLoader(pageClient, logger)),
		navigation.WithReinitializer(reinit),
		navigation.WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("navigation engine: %v", err)
	}
	if err := h.Engine.Start(ctx); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	reinit.Run(ctx, start.Path)

	// Step 7: Build the router and start the test server.
	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: transport.JWTAuthenticator(h.cfg.Auth, h.issuer.secret),
		Readiness: observability.NewReadiness(time.Second).
			Require("menu", h.Sidebar).
			Require("engine", h.Engine).
			Optional("session_store", session).
			Optional("local_store", local).
			Optional("entity_attivita", activitySrc),
		Engine:    h.Engine,
		Sidebar:   h.Sidebar,
		Pages:     h.Pages,
		Dashboard: h.Dashboard,
		Selects:   map[string]*widget.SearchSelect{ente.ID(): ente},
	})
	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
		h.Engine.Close()
		h.Dashboard.Close()
		activities.Close()
		civil.Close()
		military.Close()
		operations.Close()
	})

	return h
}

func newSource[T model.Record](cfg *config.Config, kind model.EntityKind, client *http.Client, metrics *observability.Metrics) *entity.HTTPSource[T] {
	return entity.NewHTTPSource[T](kind, cfg.API.BaseURL,
		entity.WithHTTPClient(client),
		entity.WithBreaker(entity.NewSourceBreaker(kind, cfg.API.CircuitBreaker, metrics)),
		entity.WithRetry(cfg.API.Retry),
		entity.WithHTTPMetrics(metrics),
	)
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// TalonURL returns the absolute URL of path on the mock TALON server.
func (h *TestHarness) TalonURL(path string) string {
	return h.Talon.URL() + path
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// Token returns a valid token whose role claim matches the role the client
// runs as.
func (h *TestHarness) Token() string {
	return h.GenerateToken(TestClaims{SubjectID: "user-" + strings.ToLower(string(h.role)), Role: string(h.role)})
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token)
}

// DELETE performs an authenticated DELETE request with an optional JSON body.
func (h *TestHarness) DELETE(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, body, token)
}

func (h *TestHarness) doRequest(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the error envelope code.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
}

// State returns the navigation state reported by the driver API.
func (h *TestHarness) State(t *testing.T) model.NavigationState {
	t.Helper()
	var st model.NavigationState
	h.AssertJSON(t, h.GET("/spa/state", h.Token()), http.StatusOK, &st)
	return st
}

// DocumentView is the page state reported by GET /spa/document.
type DocumentView struct {
	Location        string   `json:"location"`
	Title           string   `json:"title"`
	Main            string   `json:"main"`
	Breadcrumb      string   `json:"breadcrumb"`
	HardNavigations []string `json:"hard_navigations"`
	Toasts          []struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	} `json:"toasts"`
}

// ClickResult is the answer to POST /spa/click and POST /spa/submit.
type ClickResult struct {
	Intercepted bool                  `json:"intercepted"`
	State       model.NavigationState `json:"state"`
}

// Doc returns the document state reported by the driver API.
func (h *TestHarness) Doc(t *testing.T) DocumentView {
	t.Helper()
	var v DocumentView
	h.AssertJSON(t, h.GET("/spa/document", h.Token()), http.StatusOK, &v)
	return v
}

// Eventually polls cond until it holds or the timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// --- Default test claims ---

// OperatorClaims returns TestClaims for an OPERATORE user.
func OperatorClaims() TestClaims {
	return TestClaims{SubjectID: "user-operatore", Role: string(model.RoleOperatore)}
}

// AdminClaims returns TestClaims for an ADMIN user.
func AdminClaims() TestClaims {
	return TestClaims{SubjectID: "user-admin", Role: string(model.RoleAdmin)}
}

// ViewerClaims returns TestClaims for a VISUALIZZATORE user.
func ViewerClaims() TestClaims {
	return TestClaims{SubjectID: "user-visualizzatore", Role: string(model.RoleVisualizzatore)}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}
