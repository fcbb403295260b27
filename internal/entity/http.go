package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/config"
	"github.com/talonops/talon/internal/observability"
	"github.com/talonops/talon/model"
)

const maxResponseBytes = 10 << 20

// HTTPSource is a Source backed by the TALON REST API:
//
//	GET    /api/<kind>/list
//	GET    /api/<kind>/search?q=
//	POST   /api/<kind>/create
//	PUT    /api/<kind>/update/{id}
//	DELETE /api/<kind>/delete/{id}
//
// Calls go through a circuit breaker. Idempotent calls are retried with
// exponential backoff on transport errors and 5xx answers.
type HTTPSource[T model.Record] struct {
	kind    model.EntityKind
	baseURL string
	client  *http.Client
	breaker *CircuitBreaker
	retry   config.RetryConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*httpOptions)

type httpOptions struct {
	client  *http.Client
	breaker *CircuitBreaker
	retry   config.RetryConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// WithHTTPClient sets the HTTP client. It should carry the session cookie
// jar shared with the navigation fetcher.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *httpOptions) { o.client = c }
}

// WithBreaker sets the circuit breaker.
func WithBreaker(cb *CircuitBreaker) HTTPOption {
	return func(o *httpOptions) { o.breaker = cb }
}

// WithRetry sets the retry policy.
func WithRetry(r config.RetryConfig) HTTPOption {
	return func(o *httpOptions) { o.retry = r }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *zap.Logger) HTTPOption {
	return func(o *httpOptions) { o.logger = l }
}

// WithHTTPMetrics sets the metrics sink.
func WithHTTPMetrics(m *observability.Metrics) HTTPOption {
	return func(o *httpOptions) { o.metrics = m }
}

// NewHTTPSource creates a REST source for kind rooted at baseURL.
func NewHTTPSource[T model.Record](kind model.EntityKind, baseURL string, opts ...HTTPOption) *HTTPSource[T] {
	o := httpOptions{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: zap.NewNop(),
		retry:  config.RetryConfig{MaxAttempts: 1},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.breaker == nil {
		o.breaker = NewCircuitBreaker(BreakerSettings{
			OnChange: func(s BreakerState) { o.metrics.SetBackendCircuitBreakerState(string(kind), float64(s)) },
		})
	}
	return &HTTPSource[T]{
		kind:    kind,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  o.client,
		breaker: o.breaker,
		retry:   o.retry,
		logger:  o.logger.With(zap.String("entity", string(kind))),
		metrics: o.metrics,
	}
}

// NewSourceBreaker builds the breaker for kind from configuration, wired to
// the breaker state gauge.
func NewSourceBreaker(kind model.EntityKind, cfg config.CircuitBreakerConfig, metrics *observability.Metrics) *CircuitBreaker {
	return NewCircuitBreaker(BreakerSettings{
		FailureThreshold:   cfg.FailureThreshold,
		SuccessThreshold:   cfg.SuccessThreshold,
		Timeout:            cfg.Timeout,
		ErrorRateThreshold: cfg.ErrorRateThreshold,
		ErrorRateWindow:    cfg.ErrorRateWindow,
		OnChange:           func(s BreakerState) { metrics.SetBackendCircuitBreakerState(string(kind), float64(s)) },
	})
}

func (s *HTTPSource[T]) List(ctx context.Context) ([]T, error) {
	body, err := s.call(ctx, OpList, http.MethodGet, "/list", nil)
	if err != nil {
		return nil, err
	}
	return decodeList[T](s.kind, OpList, body)
}

func (s *HTTPSource[T]) Search(ctx context.Context, query string) ([]T, error) {
	body, err := s.call(ctx, OpSearch, http.MethodGet, "/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	return decodeList[T](s.kind, OpSearch, body)
}

func (s *HTTPSource[T]) Create(ctx context.Context, rec T) (T, error) {
	return s.write(ctx, OpCreate, http.MethodPost, "/create", rec)
}

func (s *HTTPSource[T]) Update(ctx context.Context, id string, rec T) (T, error) {
	return s.write(ctx, OpUpdate, http.MethodPut, "/update/"+url.PathEscape(id), rec)
}

func (s *HTTPSource[T]) Delete(ctx context.Context, id string) error {
	body, err := s.call(ctx, OpDelete, http.MethodDelete, "/delete/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return checkEnvelope(s.kind, OpDelete, body)
}

// HealthCheck fails while the breaker is open.
func (s *HTTPSource[T]) HealthCheck(context.Context) error {
	if st := s.breaker.State(); st == BreakerOpen {
		return fmt.Errorf("entity %s: circuit breaker %s", s.kind, st)
	}
	return nil
}

// Breaker returns the source's circuit breaker.
func (s *HTTPSource[T]) Breaker() *CircuitBreaker { return s.breaker }

func (s *HTTPSource[T]) write(ctx context.Context, op, method, path string, rec T) (T, error) {
	var zero T
	payload, err := json.Marshal(rec)
	if err != nil {
		return zero, fmt.Errorf("entity: encoding %s: %w", s.kind, err)
	}
	body, err := s.call(ctx, op, method, path, payload)
	if err != nil {
		return zero, err
	}
	return decodeOne[T](s.kind, op, body, rec)
}

// call performs one API call with tracing, retry and breaker protection,
// and returns the body of a 2xx answer.
func (s *HTTPSource[T]) call(ctx context.Context, op, method, path string, payload []byte) (body []byte, err error) {
	ctx, span := observability.StartSpan(ctx, "entity."+op,
		observability.AttrEntity.String(string(s.kind)),
		observability.AttrOperation.String(op),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	reqURL := s.baseURL + s.kind.APIPath() + path

	attempts := s.retry.MaxAttempts
	if attempts < 1 || !isIdempotent(method) {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			s.metrics.RecordBackendRetry(string(s.kind))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(s.retry, attempt)):
			}
		}

		var status int
		body, status, err = s.once(ctx, op, method, reqURL, payload)
		if err == nil {
			return body, nil
		}
		if !retryable(err) || attempt == attempts-1 {
			break
		}
		s.logger.Debug("retrying entity call",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	return nil, err
}

func (s *HTTPSource[T]) once(ctx context.Context, op, method, reqURL string, payload []byte) ([]byte, int, error) {
	if !s.breaker.Allow() {
		return nil, 0, model.NewBackendUnavailableError()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("entity: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	backend := observability.StartBackendSpan(req, observability.AttrEntity.String(string(s.kind)))

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		observability.EndBackendSpan(backend, 0, err)
		s.breaker.RecordFailure()
		s.metrics.RecordBackendRequest(string(s.kind), op, 0, time.Since(start))
		var netErr *net.OpError
		switch {
		case errors.As(err, &netErr):
			return nil, 0, model.NewBackendUnavailableError()
		case ctx.Err() != nil:
			return nil, 0, model.NewBackendTimeoutError()
		}
		return nil, 0, &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	observability.EndBackendSpan(backend, resp.StatusCode, err)
	s.metrics.RecordBackendRequest(string(s.kind), op, resp.StatusCode, time.Since(start))
	if err != nil {
		s.breaker.RecordFailure()
		return nil, resp.StatusCode, &transportError{err: fmt.Errorf("entity: read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500:
		s.breaker.RecordFailure()
	case resp.StatusCode < 400:
		s.breaker.RecordSuccess()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &BackendError{
			Kind:      s.kind,
			Operation: op,
			Status:    resp.StatusCode,
			Message:   envelopeMessage(body),
		}
	}
	return body, resp.StatusCode, nil
}

// transportError marks a failure that did not produce an HTTP answer.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var be *BackendError
	if errors.As(err, &be) {
		switch be.Status {
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead:
		return true
	}
	return false
}

// backoff returns the delay before the given retry attempt: the initial
// backoff doubled per attempt, capped at two seconds.
func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	delay := cfg.BackoffInitial
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	const maxDelay = 2 * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxDelay {
			return maxDelay
		}
	}
	return delay
}

// envelope is the wrapper the API may put around its data.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func envelopeMessage(body []byte) string {
	var env envelope
	if json.Unmarshal(body, &env) != nil {
		return ""
	}
	if env.Error != "" {
		return env.Error
	}
	return env.Message
}

// unwrap returns the data part of body. Bare arrays and objects without a
// data member are returned as is.
func unwrap(kind model.EntityKind, op string, body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed, nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("entity: decoding %s %s: %w", kind, op, err)
	}
	if env.Success != nil && !*env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return nil, &BackendError{Kind: kind, Operation: op, Status: http.StatusOK, Message: msg}
	}
	if len(env.Data) > 0 {
		return env.Data, nil
	}
	return trimmed, nil
}

func decodeList[T model.Record](kind model.EntityKind, op string, body []byte) ([]T, error) {
	data, err := unwrap(kind, op, body)
	if err != nil {
		return nil, err
	}
	var out []T
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("entity: decoding %s %s: %w", kind, op, err)
	}
	return out, nil
}

// decodeOne decodes a single record. A body with no record, such as
// {"success": true}, yields fallback.
func decodeOne[T model.Record](kind model.EntityKind, op string, body []byte, fallback T) (T, error) {
	data, err := unwrap(kind, op, body)
	if err != nil {
		return fallback, err
	}
	var out T
	if len(data) == 0 || json.Unmarshal(data, &out) != nil || out.RecordID() == "" {
		return fallback, nil
	}
	return out, nil
}

func checkEnvelope(kind model.EntityKind, op string, body []byte) error {
	_, err := unwrap(kind, op, body)
	return err
}
