package navigation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talonops/talon/internal/config"
	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/events"
	"github.com/talonops/talon/internal/fetch"
	"github.com/talonops/talon/internal/intercept"
	"github.com/talonops/talon/model"
)

const origin = "https://talon.test"

// fakeFetcher serves canned payloads keyed by absolute URL.
type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string]*model.ContentPayload
	errs     map[string]error
	calls    map[string]int
	started  chan string
	gates    map[string]chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: make(map[string]*model.ContentPayload),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
		gates:    make(map[string]chan struct{}),
	}
}

func (f *fakeFetcher) page(path, html string) *model.ContentPayload {
	p := &model.ContentPayload{IsHTML: true, HTML: html, Title: strings.TrimPrefix(path, "/")}
	f.set(path, p)
	return p
}

func (f *fakeFetcher) set(path string, p *model.ContentPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[origin+path] = p
}

func (f *fakeFetcher) fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[origin+path] = err
}

// block makes fetches of path wait until the returned func is called.
func (f *fakeFetcher) block(path string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[origin+path] = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

func (f *fakeFetcher) Fetch(ctx context.Context, u string) (*model.ContentPayload, error) {
	f.mu.Lock()
	f.calls[u]++
	gate := f.gates[u]
	p, err := f.payloads[u], f.errs[u]
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- u
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &fetch.FetchError{URL: u, Status: http.StatusNotFound}
	}
	return p, nil
}

func (f *fakeFetcher) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[origin+path]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() config.NavigatorConfig {
	cfg := config.Defaults().Navigator
	cfg.BaseURL = origin
	cfg.FadeDuration = 0
	cfg.ErrorFallbackDelay = 0
	cfg.Prefetch.Debounce = 20 * time.Millisecond
	return cfg
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestEngine(t *testing.T, cfg config.NavigatorConfig, f Fetcher, opts ...Option) (*Engine, *document.Document, *events.Bus) {
	t.Helper()
	doc := document.New(mustURL(t, origin+cfg.StartPath))
	bus := events.NewBus()
	e, err := New(cfg, doc, bus, f, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Close)
	return e, doc, bus
}

func TestNew_requiresCollaborators(t *testing.T) {
	doc := document.New(mustURL(t, origin))
	if _, err := New(testConfig(), doc, events.NewBus(), nil); err == nil {
		t.Fatal("New() without fetcher should fail")
	}
}

func TestStart_publishesReady(t *testing.T) {
	doc := document.New(mustURL(t, origin+"/dashboard"))
	bus := events.NewBus()
	ready := 0
	bus.Subscribe(events.Ready, func(context.Context, events.Event) { ready++ })

	e, err := New(testConfig(), doc, bus, newFakeFetcher())
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, 1, ready)
	st := e.State()
	assert.Equal(t, origin+"/dashboard", st.CurrentURL)
	assert.Equal(t, model.PhaseIdle, st.Phase)
	require.Len(t, st.History, 1)
	assert.NotEmpty(t, st.History[0].ID)
}

func TestClickLink_scenario(t *testing.T) {
	var gotSPA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSPA = r.Header.Get("X-SPA-Request")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Attività</title></head><body>
<ol class="breadcrumb"><li>Attività</li></ol>
<div id="main-content"><h1>Elenco attività</h1></div></body></html>`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.BaseURL = srv.URL
	doc := document.New(mustURL(t, srv.URL+"/dashboard"))
	f := fetch.NewFetcher(srv.Client(), fetch.Options{LoginPath: cfg.LoginPath, Selectors: cfg.Selectors})
	e, err := New(cfg, doc, events.NewBus(), f)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	intercepted, err := e.ClickLink(context.Background(), intercept.Anchor{Href: "/attivita"})
	require.NoError(t, err)
	require.True(t, intercepted)

	assert.Equal(t, "true", gotSPA)
	main, _ := doc.Region(document.RegionMain)
	assert.Equal(t, "<h1>Elenco attività</h1>", main)
	crumb, _ := doc.Region(document.RegionBreadcrumb)
	assert.Equal(t, "<li>Attività</li>", crumb)
	assert.Equal(t, "Attività", doc.Title())
	assert.Equal(t, 2, doc.HistoryLen())
	assert.Equal(t, "/attivita", doc.Location().Path)
	assert.Len(t, e.State().History, 2)
	assert.Equal(t, float64(1), doc.Opacity())
}

func TestClickLink_notIntercepted(t *testing.T) {
	f := newFakeFetcher()
	e, _, _ := newTestEngine(t, testConfig(), f)

	intercepted, err := e.ClickLink(context.Background(), intercept.Anchor{Href: "/export/attivita.csv"})
	require.NoError(t, err)
	assert.False(t, intercepted)

	intercepted, err = e.ClickLink(context.Background(), intercept.Anchor{Href: "https://example.org/x"})
	require.NoError(t, err)
	assert.False(t, intercepted)
}

func TestGetContent_cacheRoundTrip(t *testing.T) {
	f := newFakeFetcher()
	want := f.page("/attivita", "<p>list</p>")
	e, _, _ := newTestEngine(t, testConfig(), f)
	ctx := context.Background()

	first, err := e.GetContent(ctx, "/attivita", NavigateOptions{})
	require.NoError(t, err)
	second, err := e.GetContent(ctx, "/attivita", NavigateOptions{})
	require.NoError(t, err)

	assert.Same(t, want, first)
	assert.Same(t, first, second)
	assert.Equal(t, 1, f.Calls("/attivita"))

	e.ClearCache()
	_, err = e.GetContent(ctx, "/attivita", NavigateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls("/attivita"))
}

func TestGetContent_queryIsPartOfKey(t *testing.T) {
	f := newFakeFetcher()
	f.page("/attivita?page=1", "<p>1</p>")
	f.page("/attivita?page=2", "<p>2</p>")
	e, _, _ := newTestEngine(t, testConfig(), f)

	p1, err := e.GetContent(context.Background(), "/attivita?page=1", NavigateOptions{})
	require.NoError(t, err)
	p2, err := e.GetContent(context.Background(), "/attivita?page=2", NavigateOptions{})
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
}

func TestGetContent_expiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	f := newFakeFetcher()
	f.page("/operazioni", "<p>op</p>")
	e, _, _ := newTestEngine(t, testConfig(), f, WithClock(clock.Now))
	ctx := context.Background()

	_, err := e.GetContent(ctx, "/operazioni", NavigateOptions{})
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	_, err = e.GetContent(ctx, "/operazioni", NavigateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.Calls("/operazioni"), "entry is fresh at exactly the TTL")

	clock.Advance(time.Second)
	_, err = e.GetContent(ctx, "/operazioni", NavigateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls("/operazioni"))
}

func TestGetContent_capacity(t *testing.T) {
	f := newFakeFetcher()
	e, _, _ := newTestEngine(t, testConfig(), f)
	ctx := context.Background()

	for i := 0; i <= 50; i++ {
		p := "/enti-civili?page=" + string(rune('A'+i%26)) + strings.Repeat("x", i/26)
		f.page(p, "<p/>")
		_, err := e.GetContent(ctx, p, NavigateOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 50, e.State().CacheEntries)

	_, err := e.GetContent(ctx, "/enti-civili?page=A", NavigateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls("/enti-civili?page=A"), "first inserted entry should have been evicted")
}

func TestGetContent_unsuccessfulPayloadNotCached(t *testing.T) {
	f := newFakeFetcher()
	failed := false
	f.set("/operazioni/create", &model.ContentPayload{Success: &failed, Error: "invalid"})
	e, _, _ := newTestEngine(t, testConfig(), f)

	for range 2 {
		_, err := e.GetContent(context.Background(), "/operazioni/create", NavigateOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.Calls("/operazioni/create"))
}

func TestGetContent_noCacheAndForce(t *testing.T) {
	f := newFakeFetcher()
	f.page("/attivita", "<p/>")
	e, _, _ := newTestEngine(t, testConfig(), f)
	ctx := context.Background()

	_, err := e.GetContent(ctx, "/attivita", NavigateOptions{NoCache: true})
	require.NoError(t, err)
	assert.Equal(t, 0, e.State().CacheEntries, "no_cache result must not be written")

	_, err = e.GetContent(ctx, "/attivita", NavigateOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, e.State().CacheEntries, "forced result refreshes the cache")

	_, err = e.GetContent(ctx, "/attivita", NavigateOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 3, f.Calls("/attivita"))
}

func TestNavigate_alwaysForceRoute(t *testing.T) {
	f := newFakeFetcher()
	f.page("/admin/dashboard", "<div id=admin></div>")
	e, _, _ := newTestEngine(t, testConfig(), f)
	ctx := context.Background()

	require.NoError(t, e.Navigate(ctx, "/admin/dashboard", NavigateOptions{}))
	e.prefetch.Put(origin+"/admin/dashboard", &model.ContentPayload{HTML: "stale"})
	require.NoError(t, e.Navigate(ctx, "/admin/dashboard", NavigateOptions{}))

	assert.Equal(t, 2, f.Calls("/admin/dashboard"))
	st := e.State()
	assert.Equal(t, 0, st.CacheEntries)
	assert.Equal(t, 0, st.PrefetchEntries)
}

func TestNavigate_sameURLReinitializes(t *testing.T) {
	f := newFakeFetcher()
	f.page("/enti-militari", "<table></table>")
	e, doc, bus := newTestEngine(t, testConfig(), f)
	ctx := context.Background()

	var loaded []string
	bus.Subscribe(events.ContentLoaded, func(_ context.Context, ev events.Event) {
		loaded = append(loaded, ev.Detail.(events.ContentLoadedDetail).Path)
	})

	require.NoError(t, e.Navigate(ctx, "/enti-militari", NavigateOptions{}))
	histLen, docLen := len(e.State().History), doc.HistoryLen()

	require.NoError(t, e.Navigate(ctx, "/enti-militari", NavigateOptions{}))

	assert.Equal(t, 1, f.Calls("/enti-militari"))
	assert.Equal(t, histLen, len(e.State().History))
	assert.Equal(t, docLen, doc.HistoryLen())
	assert.Equal(t, []string{"/enti-militari", "/enti-militari"}, loaded)
}

func TestNavigate_refreshedPageForcesFirstFetch(t *testing.T) {
	cfg := testConfig()
	cfg.PageWasRefreshed = true
	f := newFakeFetcher()
	f.page("/dashboard", "<p>fresh</p>")
	e, _, _ := newTestEngine(t, cfg, f)
	ctx := context.Background()

	require.NoError(t, e.Navigate(ctx, "/dashboard", NavigateOptions{}))
	assert.Equal(t, 1, f.Calls("/dashboard"), "refreshed page must not short-circuit to reinit")
	assert.False(t, e.State().PageWasRefreshed)
}

func TestNavigate_eventsInOrder(t *testing.T) {
	f := newFakeFetcher()
	f.page("/operazioni", "<p/>")
	e, _, bus := newTestEngine(t, testConfig(), f)

	var got []events.Name
	for _, n := range []events.Name{events.BeforeNavigate, events.NavigationStart, events.Cleanup, events.ContentLoaded, events.NavigationComplete} {
		bus.Subscribe(n, func(_ context.Context, ev events.Event) { got = append(got, ev.Name) })
	}

	require.NoError(t, e.Navigate(context.Background(), "/operazioni", NavigateOptions{}))
	assert.Equal(t, []events.Name{
		events.BeforeNavigate, events.NavigationStart, events.Cleanup, events.ContentLoaded, events.NavigationComplete,
	}, got)
}

func TestNavigate_failureFallsBack(t *testing.T) {
	f := newFakeFetcher()
	f.fail("/attivita", errors.New("connection refused"))
	e, doc, _ := newTestEngine(t, testConfig(), f)

	err := e.Navigate(context.Background(), "/attivita", NavigateOptions{})
	require.Error(t, err)

	toasts := doc.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, document.ToastError, toasts[0].Level)
	assert.Equal(t, []string{origin + "/attivita"}, doc.HardNavigations())
	assert.Equal(t, float64(1), doc.Opacity())
	assert.Equal(t, model.PhaseIdle, e.State().Phase)
}

func TestNavigate_fallbackIsDelayed(t *testing.T) {
	cfg := testConfig()
	cfg.ErrorFallbackDelay = 30 * time.Millisecond
	f := newFakeFetcher()
	e, doc, _ := newTestEngine(t, cfg, f)

	require.Error(t, e.Navigate(context.Background(), "/missing", NavigateOptions{}))
	assert.Empty(t, doc.HardNavigations(), "fallback must wait for the delay")
	require.Eventually(t, func() bool { return len(doc.HardNavigations()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestNavigate_followsRedirect(t *testing.T) {
	f := newFakeFetcher()
	f.set("/operazioni/create", model.RedirectPayload("/operazioni?created=1"))
	f.page("/operazioni?created=1", "<p>created</p>")
	e, doc, _ := newTestEngine(t, testConfig(), f)

	require.NoError(t, e.Navigate(context.Background(), "/operazioni/create", NavigateOptions{}))
	assert.Equal(t, origin+"/operazioni?created=1", e.State().CurrentURL)
	assert.Equal(t, "created=1", doc.Location().RawQuery)
	assert.Equal(t, 1, e.State().CacheEntries, "only the final payload is cached")
}

func TestNavigate_loginRedirectLeavesSPA(t *testing.T) {
	f := newFakeFetcher()
	f.set("/attivita", model.RedirectPayload("/auth/login?next=%2Fattivita"))
	e, doc, _ := newTestEngine(t, testConfig(), f)

	require.NoError(t, e.Navigate(context.Background(), "/attivita", NavigateOptions{}))
	assert.Equal(t, []string{origin + "/auth/login?next=%2Fattivita"}, doc.HardNavigations())
	assert.Equal(t, origin+"/dashboard", e.State().CurrentURL)
}

func TestNavigate_tooManyRedirects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRedirects = 2
	f := newFakeFetcher()
	f.set("/a", model.RedirectPayload("/b"))
	f.set("/b", model.RedirectPayload("/a"))
	e, _, _ := newTestEngine(t, cfg, f)

	err := e.Navigate(context.Background(), "/a", NavigateOptions{})
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestNavigate_rapidNavigationsAreSerialized(t *testing.T) {
	f := newFakeFetcher()
	f.page("/attivita", "<p>attivita</p>")
	f.page("/operazioni", "<p>operazioni</p>")
	f.started = make(chan string, 4)
	release := f.block("/attivita")
	e, doc, _ := newTestEngine(t, testConfig(), f)
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() { errs <- e.Navigate(ctx, "/attivita", NavigateOptions{Trigger: TriggerClick}) }()
	require.Equal(t, origin+"/attivita", <-f.started)
	assert.True(t, e.State().IsNavigating())

	go func() { errs <- e.Navigate(ctx, "/operazioni", NavigateOptions{Trigger: TriggerClick}) }()
	require.Eventually(t, func() bool { return e.queue.Waiting() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, f.Calls("/operazioni"), "second navigation must wait for the first")

	release()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	main, _ := doc.Region(document.RegionMain)
	assert.Equal(t, "<p>operazioni</p>", main)
	hist := e.State().History
	require.Len(t, hist, 3)
	assert.Equal(t, origin+"/attivita", hist[1].URL)
	assert.Equal(t, origin+"/operazioni", hist[2].URL)
}

func TestNavigate_queueWaitHonoursContext(t *testing.T) {
	f := newFakeFetcher()
	f.page("/attivita", "<p/>")
	f.started = make(chan string, 1)
	release := f.block("/attivita")
	defer release()
	e, _, _ := newTestEngine(t, testConfig(), f)

	go e.Navigate(context.Background(), "/attivita", NavigateOptions{})
	<-f.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Navigate(ctx, "/operazioni", NavigateOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitForm(t *testing.T) {
	f := newFakeFetcher()
	f.page("/attivita?q=esercitazione&tipo=addestramento", "<p>results</p>")
	e, doc, _ := newTestEngine(t, testConfig(), f)
	ctx := context.Background()

	handled, err := e.SubmitForm(ctx, intercept.Form{
		Action: "/attivita",
		Method: "get",
		Fields: []intercept.Field{{Name: "q", Value: "esercitazione"}, {Name: "tipo", Value: "addestramento"}},
	})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "q=esercitazione&tipo=addestramento", doc.Location().RawQuery)

	handled, err = e.SubmitForm(ctx, intercept.Form{Action: "/attivita/create", Method: "POST"})
	require.NoError(t, err)
	assert.False(t, handled, "POST forms are left to native submission")
}

func TestHealthCheck_queueLiveness(t *testing.T) {
	f := newFakeFetcher()
	f.page("/attivita", "<p/>")
	f.started = make(chan string, 1)

	doc := document.New(mustURL(t, origin+"/dashboard"))
	e, err := New(testConfig(), doc, events.NewBus(), f)
	require.NoError(t, err)
	assert.ErrorContains(t, e.HealthCheck(context.Background()), "not started")

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.HealthCheck(context.Background()))

	release := f.block("/attivita")
	done := make(chan error, 1)
	go func() { done <- e.Navigate(context.Background(), "/attivita", NavigateOptions{}) }()
	<-f.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = e.HealthCheck(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "stalled")

	release()
	require.NoError(t, <-done)
	require.NoError(t, e.HealthCheck(context.Background()))

	e.Close()
	assert.ErrorContains(t, e.HealthCheck(context.Background()), "closed")
}
