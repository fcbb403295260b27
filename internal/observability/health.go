package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health. The navigation engine, the
// sidebar, the entity sources and the stores implement it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ErrNotConfigured fails a required check registered without a checker.
var ErrNotConfigured = errors.New("not configured")

// DefaultCheckTimeout bounds each readiness check.
const DefaultCheckTimeout = 2 * time.Second

type namedCheck struct {
	name    string
	checker HealthChecker
}

// Readiness is the set of named checks behind GET /ui/ready. The client is
// ready when every check passes.
type Readiness struct {
	timeout time.Duration
	checks  []namedCheck
}

// NewReadiness returns an empty set whose checks each get timeout. A
// non-positive timeout means DefaultCheckTimeout.
func NewReadiness(timeout time.Duration) *Readiness {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Readiness{timeout: timeout}
}

// Require registers a check that is always reported. A nil checker fails
// with ErrNotConfigured.
func (r *Readiness) Require(name string, c HealthChecker) *Readiness {
	if c == nil {
		c = HealthCheckFunc(func(context.Context) error { return ErrNotConfigured })
	}
	r.checks = append(r.checks, namedCheck{name: name, checker: c})
	return r
}

// Optional registers a check only when c is non-nil.
func (r *Readiness) Optional(name string, c HealthChecker) *Readiness {
	if c != nil {
		r.checks = append(r.checks, namedCheck{name: name, checker: c})
	}
	return r
}

// Names returns the registered check names in registration order.
func (r *Readiness) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.checks))
	for i, c := range r.checks {
		out[i] = c.name
	}
	return out
}

// Check runs every registered check concurrently and reports each result.
// A nil Readiness has no checks and is ready.
func (r *Readiness) Check(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{Status: "ready", Checks: map[string]CheckResult{}}
	if r == nil {
		return resp
	}

	results := make([]CheckResult, len(r.checks))
	var g errgroup.Group
	for i, c := range r.checks {
		g.Go(func() error {
			results[i] = r.run(ctx, c.checker)
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range r.checks {
		resp.Checks[c.name] = results[i]
		if results[i].Status != "ok" {
			resp.Status = "not_ready"
		}
	}
	return resp
}

func (r *Readiness) run(parent context.Context, c HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	start := time.Now()
	err := c.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint. Failed
// checks are logged at warn level.
func HandleReady(checks *Readiness, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := checks.Check(r.Context())
		status := http.StatusOK
		if resp.Status != "ready" {
			status = http.StatusServiceUnavailable
			for name, res := range resp.Checks {
				if res.Status != "ok" {
					logger.Warn("readiness check failed",
						zap.String("check", name),
						zap.String("error", res.Error),
						zap.Int64("latency_ms", res.LatencyMs),
					)
				}
			}
		}
		writeHealthJSON(w, status, resp)
	}
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
