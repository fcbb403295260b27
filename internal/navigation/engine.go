// Package navigation implements the SPA navigation engine: it resolves
// content through the response cache, the prefetch cache or the network,
// swaps it into the document, keeps history and scroll offsets, and
// serializes navigations through a FIFO queue.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/cache"
	"github.com/talonops/talon/internal/config"
	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/events"
	"github.com/talonops/talon/internal/intercept"
	"github.com/talonops/talon/internal/observability"
	"github.com/talonops/talon/model"
)

// Navigation triggers, used in events, logs and metrics.
const (
	TriggerAPI      = "api"
	TriggerClick    = "click"
	TriggerForm     = "form"
	TriggerPopState = "popstate"
	TriggerHover    = "hover"
	TriggerTouch    = "touch"
	TriggerWarm     = "warm"
)

// Cache names used in metrics.
const (
	cacheResponse = "response"
	cachePrefetch = "prefetch"
)

var (
	// ErrNoHistory is returned by Back and Forward at either end of history.
	ErrNoHistory = errors.New("navigation: no history entry in that direction")
	// ErrTooManyRedirects is returned when a redirect chain exceeds the
	// configured limit.
	ErrTooManyRedirects = errors.New("navigation: too many redirects")
)

// Fetcher performs the network round trip for a navigation target.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*model.ContentPayload, error)
}

// Reinitializer runs page components once new content is in place.
type Reinitializer interface {
	Run(ctx context.Context, path string)
}

// HistoryMode selects how a navigation records itself in session history.
type HistoryMode int

const (
	HistoryPush HistoryMode = iota
	HistoryReplace
	// HistoryNone leaves session history untouched. Used when the browser
	// has already moved, as on popstate.
	HistoryNone
)

// NavigateOptions tunes a single navigation.
type NavigateOptions struct {
	History HistoryMode
	// Force purges any cached copy and fetches fresh content. The result is
	// cached again.
	Force bool
	// NoCache purges any cached copy and does not cache the result.
	NoCache bool
	Trigger string
}

// Engine is the navigation engine for one document.
type Engine struct {
	cfg     config.NavigatorConfig
	doc     *document.Document
	bus     *events.Bus
	fetcher Fetcher
	rules   *intercept.Rules
	assets  AssetLoader
	reinit  Reinitializer
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	scriptGlobals map[string]string

	queue    *queue
	started  atomic.Bool
	cache    *cache.Timed[string, *model.ContentPayload]
	prefetch *cache.Prefetch
	scroll   *cache.Timed[string, model.ScrollPosition]

	// gen is bumped whenever cached content is invalidated. A fetch started
	// under an older generation does not write its payload back.
	genMu sync.Mutex
	gen   uint64

	mu               sync.Mutex
	phase            model.NavigationPhase
	currentURL       string
	previousURL      string
	pageWasRefreshed bool
	history          []model.HistoryEntry

	timersMu  sync.Mutex
	hover     map[string]*time.Timer
	fallbacks []*time.Timer
	closed    bool
}

// Option configures optional Engine dependencies.
type Option func(*Engine)

// WithAssetLoader sets the loader used for stylesheets and external scripts.
func WithAssetLoader(l AssetLoader) Option {
	return func(e *Engine) { e.assets = l }
}

// WithReinitializer sets the component reinitializer run after each swap.
func WithReinitializer(r Reinitializer) Option {
	return func(e *Engine) { e.reinit = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the clock used for cache timestamps and history
// entries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithScriptGlobal declares that a script whose file name starts with prefix
// defines the named global once loaded.
func WithScriptGlobal(prefix, global string) Option {
	return func(e *Engine) { e.scriptGlobals[strings.ToLower(prefix)] = global }
}

// New creates an Engine driving doc. The current document location becomes
// the engine's current URL.
func New(cfg config.NavigatorConfig, doc *document.Document, bus *events.Bus, fetcher Fetcher, opts ...Option) (*Engine, error) {
	if doc == nil || bus == nil || fetcher == nil {
		return nil, errors.New("navigation: document, bus and fetcher are required")
	}
	e := &Engine{
		cfg:              cfg,
		doc:              doc,
		bus:              bus,
		fetcher:          fetcher,
		rules:            intercept.NewRules(cfg.Intercept),
		logger:           zap.NewNop(),
		now:              time.Now,
		scriptGlobals:    map[string]string{"chart": "Chart"},
		queue:            newQueue(),
		phase:            model.PhaseIdle,
		pageWasRefreshed: cfg.PageWasRefreshed,
		hover:            make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(e)
	}

	var err error
	e.cache, err = cache.New[string, *model.ContentPayload](cfg.Cache.MaxEntries, cfg.Cache.TTL,
		cache.WithClock[string, *model.ContentPayload](e.now),
		cache.WithAccessHook[string, *model.ContentPayload](func(hit bool) {
			if hit {
				e.metrics.RecordCacheHit(cacheResponse)
			} else {
				e.metrics.RecordCacheMiss(cacheResponse)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("navigation: response cache: %w", err)
	}
	e.scroll, err = cache.New[string, model.ScrollPosition](cfg.HistoryLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("navigation: scroll positions: %w", err)
	}
	e.prefetch = cache.NewPrefetch(cfg.Cache.TTL)

	current := doc.Location()
	current.Fragment = ""
	e.currentURL = current.String()
	e.history = []model.HistoryEntry{doc.CurrentEntry()}
	return e, nil
}

// Start records the initial history state and announces that the engine is
// ready.
func (e *Engine) Start(ctx context.Context) error {
	entry := e.newEntry(e.current())
	if err := e.doc.ReplaceState(entry); err != nil {
		return fmt.Errorf("navigation: initial state: %w", err)
	}
	e.mu.Lock()
	e.history = []model.HistoryEntry{entry}
	e.mu.Unlock()

	e.started.Store(true)
	e.bus.Publish(ctx, events.Event{Name: events.Ready})
	e.logger.Info("spa navigation ready",
		zap.String("url", observability.RedactURL(entry.URL)),
		zap.Bool("page_was_refreshed", e.refreshed()),
	)
	return nil
}

// Navigate moves the document to rawURL. Navigations are queued and run one
// at a time in arrival order. On failure the user is notified and, after the
// configured delay, the document falls back to a full page load of the
// target.
func (e *Engine) Navigate(ctx context.Context, rawURL string, opts NavigateOptions) (err error) {
	target, err := e.resolve(rawURL)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerAPI
	}
	if e.isAlwaysForce(target) {
		opts.Force = true
	}

	e.metrics.AddNavigationsWaiting(1)
	err = e.queue.Lock(ctx)
	e.metrics.AddNavigationsWaiting(-1)
	if err != nil {
		return fmt.Errorf("navigate %s: waiting for queue: %w", observability.RedactURL(target), err)
	}
	defer e.queue.Unlock()

	ctx, span := observability.StartSpan(ctx, "navigation.navigate",
		observability.AttrURL.String(observability.RedactURL(target)),
		observability.AttrTrigger.String(opts.Trigger),
		observability.AttrForce.Bool(opts.Force),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	start := time.Now()
	e.setPhase(model.PhaseNavigating)
	defer e.setPhase(model.PhaseIdle)

	detail := events.NavigationDetail{URL: target, Trigger: opts.Trigger, Force: opts.Force}
	e.bus.Publish(ctx, events.Event{Name: events.BeforeNavigate, Detail: detail})
	e.bus.Publish(ctx, events.Event{Name: events.NavigationStart, Detail: detail})

	logger := e.logger.With(
		zap.String("url", observability.RedactURL(target)),
		zap.String("trigger", opts.Trigger),
	)

	if e.isReload(target, opts) {
		logger.Info("same-url navigation, reinitializing components")
		e.reinitialize(ctx, target)
		e.metrics.RecordNavigation(opts.Trigger, "reinit", time.Since(start))
		e.bus.Publish(ctx, events.Event{Name: events.NavigationComplete, Detail: detail})
		return nil
	}

	result, err := e.navigate(ctx, target, opts)
	if err != nil {
		e.metrics.RecordNavigation(opts.Trigger, "error", time.Since(start))
		e.fail(logger, target, err)
		return fmt.Errorf("navigate %s: %w", observability.RedactURL(target), err)
	}

	e.metrics.RecordNavigation(opts.Trigger, result, time.Since(start))
	logger.Info("navigation complete",
		zap.String("result", result),
		zap.Duration("duration", time.Since(start)),
	)
	e.bus.Publish(ctx, events.Event{Name: events.NavigationComplete, Detail: detail})
	return nil
}

// navigate runs the pipeline for one queued navigation and returns the
// result label.
func (e *Engine) navigate(ctx context.Context, target string, opts NavigateOptions) (string, error) {
	from := e.current()
	e.saveScroll(from)

	payload, final, err := e.follow(ctx, target, opts)
	if err != nil {
		return "", err
	}
	if payload == nil {
		return "external", nil
	}

	entry := e.newEntry(final)
	if err := e.updatePage(ctx, payload, entry, updateOptions{history: opts.History, from: from}); err != nil {
		return "", err
	}
	e.commit(entry, opts.History)
	e.restoreScroll(final, opts.Trigger == TriggerPopState)
	e.reinitialize(ctx, final)

	if final != target {
		return "redirected", nil
	}
	return "ok", nil
}

// follow resolves target to a content payload, following redirect payloads
// up to the configured limit. A redirect that leaves the SPA turns into a
// full page load and follow returns a nil payload.
func (e *Engine) follow(ctx context.Context, target string, opts NavigateOptions) (*model.ContentPayload, string, error) {
	for hops := 0; ; hops++ {
		payload, err := e.GetContent(ctx, target, opts)
		if err != nil {
			return nil, "", err
		}
		if !payload.IsRedirect() {
			return payload, target, nil
		}
		if hops >= e.cfg.MaxRedirects {
			return nil, "", ErrTooManyRedirects
		}

		next, err := e.resolve(payload.Redirect)
		if err != nil {
			return nil, "", fmt.Errorf("redirect %q: %w", payload.Redirect, err)
		}
		if !e.followable(next) {
			e.logger.Info("redirect leaves the spa, loading full page",
				zap.String("from", observability.RedactURL(target)),
				zap.String("to", observability.RedactURL(next)),
			)
			e.doc.HardNavigate(next)
			return nil, "", nil
		}
		e.logger.Debug("following redirect",
			zap.String("from", observability.RedactURL(target)),
			zap.String("to", observability.RedactURL(next)),
		)
		target = next
	}
}

// GetContent resolves rawURL to a payload. Unless the request forces fresh
// content, the response cache is consulted first and then the prefetch
// cache, whose entry is consumed. Successful network payloads are cached
// under the full URL, except for always-force routes whose entries are
// purged before every request and never written.
func (e *Engine) GetContent(ctx context.Context, rawURL string, opts NavigateOptions) (*model.ContentPayload, error) {
	target, err := e.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	alwaysForce := e.isAlwaysForce(target)
	if opts.Force || opts.NoCache || alwaysForce || e.refreshed() {
		e.purge(target, alwaysForce)
	} else {
		if p, ok := e.cache.Get(target); ok {
			e.logger.Debug("response cache hit", zap.String("url", observability.RedactURL(target)))
			return p, nil
		}
		gen := e.generation()
		if p, ok := e.prefetch.Take(target); ok {
			e.metrics.RecordCacheHit(cachePrefetch)
			e.metrics.SetCacheEntries(cachePrefetch, e.prefetch.Len())
			e.logger.Debug("prefetch cache hit", zap.String("url", observability.RedactURL(target)))
			e.store(target, p, gen)
			return p, nil
		}
		e.metrics.RecordCacheMiss(cachePrefetch)
	}

	gen := e.generation()
	p, err := e.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	if !alwaysForce && !opts.NoCache && p.Succeeded() && !p.IsRedirect() {
		e.store(target, p, gen)
	}
	return p, nil
}

// ClearCache empties both the response and the prefetch cache. Fetches
// still in flight when it runs do not repopulate either cache.
func (e *Engine) ClearCache() {
	e.invalidate(func() {
		e.cache.Clear()
		e.prefetch.Clear()
	})
	e.metrics.SetCacheEntries(cacheResponse, 0)
	e.metrics.SetCacheEntries(cachePrefetch, 0)
	e.logger.Debug("caches cleared")
}

// ClickLink handles a click on an anchor. It reports false, without error,
// when the link must be left to the browser.
func (e *Engine) ClickLink(ctx context.Context, a intercept.Anchor) (bool, error) {
	if reason := e.rules.CheckLink(a, e.doc.Location()); reason != intercept.Intercepted {
		e.logger.Debug("link not intercepted",
			zap.String("href", observability.RedactURL(a.Href)),
			zap.String("reason", string(reason)),
		)
		return false, nil
	}
	e.cancelHover(a.Href)
	return true, e.Navigate(ctx, a.Href, NavigateOptions{Trigger: TriggerClick})
}

// SubmitForm handles a form submission. Only GET forms are handled; it
// reports false for forms left to native submission.
func (e *Engine) SubmitForm(ctx context.Context, f intercept.Form) (bool, error) {
	if reason := e.rules.CheckForm(f); reason != intercept.Intercepted {
		e.logger.Debug("form not intercepted",
			zap.String("action", observability.RedactURL(f.Action)),
			zap.String("reason", string(reason)),
		)
		return false, nil
	}
	target, err := intercept.FormURL(f, e.doc.Location())
	if err != nil {
		return true, fmt.Errorf("submit form: %w", err)
	}
	return true, e.Navigate(ctx, target, NavigateOptions{Trigger: TriggerForm})
}

// State returns a snapshot of the engine state.
func (e *Engine) State() model.NavigationState {
	positions := make(map[string]model.ScrollPosition)
	for _, u := range e.scroll.Keys() {
		if pos, ok := e.scroll.Get(u); ok {
			positions[u] = pos
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return model.NavigationState{
		CurrentURL:       e.currentURL,
		PreviousURL:      e.previousURL,
		Phase:            e.phase,
		PageWasRefreshed: e.pageWasRefreshed,
		History:          append([]model.HistoryEntry(nil), e.history...),
		ScrollPositions:  positions,
		CacheEntries:     e.cache.Len(),
		PrefetchEntries:  e.prefetch.Len(),
	}
}

// HealthCheck reports whether the engine is started and its navigation
// queue hands the slot to a new arrival before ctx is done. A navigation
// stuck on a slow page keeps the slot and fails the check.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if !e.started.Load() {
		return errors.New("navigation engine not started")
	}
	e.timersMu.Lock()
	closed := e.closed
	e.timersMu.Unlock()
	if closed {
		return errors.New("navigation engine closed")
	}
	if err := e.queue.Lock(ctx); err != nil {
		return fmt.Errorf("navigation queue stalled with %d waiting: %w", e.queue.Waiting(), err)
	}
	e.queue.Unlock()
	return nil
}

// Document returns the document driven by the engine.
func (e *Engine) Document() *document.Document {
	return e.doc
}

// Close stops pending prefetch and fallback timers.
func (e *Engine) Close() {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	e.closed = true
	for u, t := range e.hover {
		t.Stop()
		delete(e.hover, u)
	}
	for _, t := range e.fallbacks {
		t.Stop()
	}
	e.fallbacks = nil
}

// fail reports a failed navigation and schedules the full page load of
// target.
func (e *Engine) fail(logger *zap.Logger, target string, err error) {
	logger.Error("navigation failed, falling back to full page load",
		zap.Error(err),
		zap.Duration("fallback_delay", e.cfg.ErrorFallbackDelay),
	)
	e.doc.Toast(document.ToastError, "Navigation failed, reloading the page")
	e.ensureVisible()
	e.metrics.RecordFallback()

	if e.cfg.ErrorFallbackDelay <= 0 {
		e.doc.HardNavigate(target)
		return
	}
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if e.closed {
		return
	}
	e.fallbacks = append(e.fallbacks, time.AfterFunc(e.cfg.ErrorFallbackDelay, func() {
		e.doc.HardNavigate(target)
	}))
}

// isReload reports whether target is a plain re-navigation to the current
// URL, which reinitializes components without fetching or touching history.
func (e *Engine) isReload(target string, opts NavigateOptions) bool {
	if opts.Force || opts.NoCache || opts.Trigger == TriggerPopState {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.pageWasRefreshed && target == e.currentURL
}

func (e *Engine) reinitialize(ctx context.Context, target string) {
	p := target
	if u, err := url.Parse(target); err == nil {
		p = u.Path
	}
	if e.reinit != nil {
		e.reinit.Run(ctx, p)
		return
	}
	e.bus.Publish(ctx, events.Event{Name: events.ContentLoaded, Detail: events.ContentLoadedDetail{Path: p}})
}

func (e *Engine) isAlwaysForce(target string) bool {
	p := target
	if u, err := url.Parse(target); err == nil {
		p = u.Path
	}
	for _, route := range e.cfg.AlwaysForceRoutes {
		if route != "" && strings.Contains(p, route) {
			return true
		}
	}
	return false
}

// purge drops cached copies of target. For always-force routes every entry
// under the route is dropped.
func (e *Engine) purge(target string, alwaysForce bool) {
	var n int
	e.invalidate(func() {
		if alwaysForce {
			n = e.cache.DeleteFunc(e.isAlwaysForce) + e.prefetch.DeleteFunc(e.isAlwaysForce)
			return
		}
		e.cache.Delete(target)
		e.prefetch.Delete(target)
	})
	if n > 0 {
		e.logger.Debug("purged always-force entries",
			zap.String("url", observability.RedactURL(target)),
			zap.Int("entries", n),
		)
	}
	e.metrics.SetCacheEntries(cacheResponse, e.cache.Len())
	e.metrics.SetCacheEntries(cachePrefetch, e.prefetch.Len())
}

// generation returns the current cache generation.
func (e *Engine) generation() uint64 {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	return e.gen
}

// invalidate runs drop and starts a new cache generation atomically with
// respect to store and storePrefetch.
func (e *Engine) invalidate(drop func()) {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.gen++
	drop()
}

// store caches p for target unless the caches were invalidated after gen
// was read. It reports whether p was written.
func (e *Engine) store(target string, p *model.ContentPayload, gen uint64) bool {
	e.genMu.Lock()
	stale := e.gen != gen
	if !stale {
		e.cache.Set(target, p)
	}
	e.genMu.Unlock()
	if stale {
		e.logger.Debug("dropping payload fetched before cache invalidation",
			zap.String("url", observability.RedactURL(target)))
		return false
	}
	e.metrics.SetCacheEntries(cacheResponse, e.cache.Len())
	return true
}

// storePrefetch is store for the prefetch cache.
func (e *Engine) storePrefetch(target string, p *model.ContentPayload, gen uint64) bool {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	if e.gen != gen {
		return false
	}
	e.prefetch.Put(target, p)
	return true
}

// followable reports whether a redirect target can be loaded in place.
func (e *Engine) followable(target string) bool {
	return e.rules.CheckLink(intercept.Anchor{Href: target}, e.doc.Location()) == intercept.Intercepted
}

// resolve turns raw into an absolute URL against the current location,
// dropping any fragment.
func (e *Engine) resolve(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("empty url")
	}
	u, err := e.doc.Location().Parse(raw)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

func (e *Engine) current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentURL
}

func (e *Engine) refreshed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pageWasRefreshed
}

func (e *Engine) setPhase(p model.NavigationPhase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}
