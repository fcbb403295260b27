package integration

import (
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/talonops/talon/model"
)

// ==========================================================================
// Link clicks
// ==========================================================================

func TestNavigation_ClickLoadsContentAndInitializesModule(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Token()

	var result ClickResult
	h.AssertJSON(t, h.POST("/spa/click", map[string]any{"href": "/attivita"}, token), http.StatusOK, &result)

	if !result.Intercepted {
		t.Error("intercepted = false, want true")
	}
	if got, want := result.State.CurrentURL, h.TalonURL("/attivita"); got != want {
		t.Errorf("current_url = %q, want %q", got, want)
	}
	if got, want := result.State.PreviousURL, h.TalonURL("/dashboard"); got != want {
		t.Errorf("previous_url = %q, want %q", got, want)
	}

	doc := h.Doc(t)
	if !strings.Contains(doc.Main, "Elenco attività") {
		t.Errorf("main = %q, want the activities page", doc.Main)
	}
	if doc.Title != "Elenco attività" {
		t.Errorf("title = %q, want %q", doc.Title, "Elenco attività")
	}
	if len(doc.HardNavigations) != 0 {
		t.Errorf("hard_navigations = %v, want none", doc.HardNavigations)
	}

	reqs := h.Talon.Requests(http.MethodGet, "/attivita")
	if len(reqs) != 1 {
		t.Fatalf("page requests = %d, want 1", len(reqs))
	}
	if got := reqs[0].Headers.Get("X-SPA-Request"); got != "true" {
		t.Errorf("X-SPA-Request = %q, want %q", got, "true")
	}

	var snap struct {
		Loaded  bool             `json:"loaded"`
		Records []model.Activity `json:"records"`
	}
	h.AssertJSON(t, h.GET("/spa/modules/attivita", token), http.StatusOK, &snap)
	if !snap.Loaded {
		t.Error("activity module not loaded after navigation")
	}
	if len(snap.Records) != 2 {
		t.Errorf("records = %d, want 2", len(snap.Records))
	}
}

func TestNavigation_ExcludedLinkIsNotIntercepted(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.POST("/spa/click", map[string]any{"href": "/logout"}, h.Token())
	h.AssertErrorCode(t, resp, http.StatusConflict, model.ErrNotIntercepted)

	if hits := len(h.Talon.Requests("", "/logout")); hits != 0 {
		t.Errorf("logout requests = %d, want 0", hits)
	}
}

func TestNavigation_BackServesCachedPage(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Token()

	h.AssertStatus(t, h.POST("/spa/click", map[string]any{"href": "/attivita"}, token), http.StatusOK)
	h.AssertStatus(t, h.POST("/spa/click", map[string]any{"href": "/operazioni"}, token), http.StatusOK)

	var st model.NavigationState
	h.AssertJSON(t, h.POST("/spa/back", nil, token), http.StatusOK, &st)
	if got, want := st.CurrentURL, h.TalonURL("/attivita"); got != want {
		t.Errorf("current_url after back = %q, want %q", got, want)
	}
	if hits := h.Talon.Hits("/attivita"); hits != 1 {
		t.Errorf("activities page fetched %d times, want 1 (second visit from cache)", hits)
	}

	h.AssertJSON(t, h.POST("/spa/forward", nil, token), http.StatusOK, &st)
	if got, want := st.CurrentURL, h.TalonURL("/operazioni"); got != want {
		t.Errorf("current_url after forward = %q, want %q", got, want)
	}
}

// ==========================================================================
// Hover prefetch
// ==========================================================================

func TestNavigation_HoverLeaveCancelsPrefetch(t *testing.T) {
	h := NewTestHarness(t, WithPrefetchDebounce(100*time.Millisecond))
	token := h.Token()

	var scheduled struct {
		Scheduled bool `json:"scheduled"`
	}
	h.AssertJSON(t, h.POST("/spa/hover", map[string]any{"href": "/operazioni"}, token), http.StatusAccepted, &scheduled)
	if !scheduled.Scheduled {
		t.Fatal("scheduled = false, want true")
	}
	h.AssertStatus(t, h.DELETE("/spa/hover", map[string]any{"href": "/operazioni"}, token), http.StatusNoContent)

	time.Sleep(300 * time.Millisecond)

	if hits := h.Talon.Hits("/operazioni"); hits != 0 {
		t.Errorf("operations page fetched %d times after hover-leave, want 0", hits)
	}
	if st := h.State(t); st.PrefetchEntries != 0 {
		t.Errorf("prefetch_entries = %d, want 0", st.PrefetchEntries)
	}
}

func TestNavigation_HoverPrefetchFeedsNextClick(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Token()

	h.AssertStatus(t, h.POST("/spa/hover", map[string]any{"href": "/operazioni"}, token), http.StatusAccepted)
	Eventually(t, 2*time.Second, func() bool { return h.State(t).PrefetchEntries == 1 }, "hover prefetch stored")

	h.AssertStatus(t, h.POST("/spa/click", map[string]any{"href": "/operazioni"}, token), http.StatusOK)

	if hits := h.Talon.Hits("/operazioni"); hits != 1 {
		t.Errorf("operations page fetched %d times, want 1 (click served from prefetch)", hits)
	}
	if !strings.Contains(h.Doc(t).Main, "Operazioni") {
		t.Error("operations page not rendered after click")
	}
}

// ==========================================================================
// Redirects and failures
// ==========================================================================

func TestNavigation_UnauthorizedPageRedirectsToLogin(t *testing.T) {
	h := NewTestHarness(t)
	h.Talon.OnPage("/operazioni", http.StatusUnauthorized, "")

	var st model.NavigationState
	h.AssertJSON(t, h.POST("/spa/navigate", map[string]any{"url": "/operazioni"}, h.Token()), http.StatusOK, &st)

	if got, want := st.CurrentURL, h.TalonURL("/dashboard"); got != want {
		t.Errorf("current_url = %q, want %q (unchanged)", got, want)
	}
	doc := h.Doc(t)
	want := h.TalonURL("/auth/login?next=%2Foperazioni")
	if len(doc.HardNavigations) != 1 || doc.HardNavigations[0] != want {
		t.Errorf("hard_navigations = %v, want [%s]", doc.HardNavigations, want)
	}
}

func TestNavigation_FetchFailureFallsBackToFullLoad(t *testing.T) {
	h := NewTestHarness(t)
	h.Talon.OnPage("/operazioni", http.StatusInternalServerError, "boom")

	resp := h.POST("/spa/navigate", map[string]any{"url": "/operazioni"}, h.Token())
	h.AssertErrorCode(t, resp, http.StatusBadGateway, model.ErrNavigationFailed)

	doc := h.Doc(t)
	if len(doc.Toasts) == 0 || doc.Toasts[len(doc.Toasts)-1].Level != "error" {
		t.Errorf("toasts = %+v, want an error toast", doc.Toasts)
	}
	want := h.TalonURL("/operazioni")
	if len(doc.HardNavigations) != 1 || doc.HardNavigations[0] != want {
		t.Errorf("hard_navigations = %v, want [%s]", doc.HardNavigations, want)
	}
}

// ==========================================================================
// Queueing
// ==========================================================================

func TestNavigation_RapidClicksCompleteInOrder(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Token()
	h.Talon.DelayPage("/operazioni", 200*time.Millisecond)

	var wg sync.WaitGroup
	statuses := make([]int, 2)
	for i, href := range []string{"/operazioni", "/attivita"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := h.POST("/spa/click", map[string]any{"href": href}, token)
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}()
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	for i, s := range statuses {
		if s != http.StatusOK {
			t.Errorf("click %d status = %d, want 200", i, s)
		}
	}

	st := h.State(t)
	if got, want := st.CurrentURL, h.TalonURL("/attivita"); got != want {
		t.Errorf("current_url = %q, want %q", got, want)
	}
	var urls []string
	for _, e := range st.History {
		urls = append(urls, e.URL)
	}
	want := []string{h.TalonURL("/dashboard"), h.TalonURL("/operazioni"), h.TalonURL("/attivita")}
	if strings.Join(urls, ",") != strings.Join(want, ",") {
		t.Errorf("history = %v, want %v", urls, want)
	}

	ops := h.Talon.Requests(http.MethodGet, "/operazioni")
	acts := h.Talon.Requests(http.MethodGet, "/attivita")
	if len(ops) != 1 || len(acts) != 1 {
		t.Fatalf("page requests = %d/%d, want 1/1", len(ops), len(acts))
	}
	if !acts[0].ReceivedAt.After(ops[0].ReceivedAt.Add(150 * time.Millisecond)) {
		t.Error("second navigation fetched before the first one finished")
	}
}
