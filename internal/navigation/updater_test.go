package navigation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/model"
)

type fakeLoader struct {
	mu     sync.Mutex
	loaded []string
	fail   map[string]bool
}

func (l *fakeLoader) Load(_ context.Context, _ document.AssetKind, u string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail[document.BaseName(u)] {
		return errors.New("HTTP 404")
	}
	l.loaded = append(l.loaded, u)
	return nil
}

func (l *fakeLoader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loaded...)
}

func TestUpdatePage_flashMessages(t *testing.T) {
	f := newFakeFetcher()
	f.set("/attivita", &model.ContentPayload{
		HTML: "<p>list</p>",
		FlashMessages: []model.FlashMessage{
			{Category: "success", Message: "Attività salvata"},
			{Category: "error", Message: "<b>campo</b> obbligatorio"},
		},
	})
	e, doc, _ := newTestEngine(t, testConfig(), f)

	require.NoError(t, e.Navigate(context.Background(), "/attivita", NavigateOptions{}))

	flash, _ := doc.Region(document.RegionFlash)
	assert.Contains(t, flash, `class="alert alert-success alert-dismissible fade show"`)
	assert.Contains(t, flash, "Attività salvata")
	assert.Contains(t, flash, `class="alert alert-danger alert-dismissible fade show"`)
	assert.Contains(t, flash, "&lt;b&gt;campo&lt;/b&gt; obbligatorio")
	assert.NotContains(t, flash, "<b>")
	assert.Equal(t, 2, strings.Count(flash, `data-bs-dismiss="alert"`))
}

func TestUpdatePage_flashHTMLVerbatimAndCleared(t *testing.T) {
	f := newFakeFetcher()
	f.set("/attivita", &model.ContentPayload{IsHTML: true, HTML: "<p/>", FlashHTML: `<div class="alert">ok</div>`})
	f.page("/operazioni", "<p/>")
	e, doc, _ := newTestEngine(t, testConfig(), f)
	ctx := context.Background()

	require.NoError(t, e.Navigate(ctx, "/attivita", NavigateOptions{}))
	flash, _ := doc.Region(document.RegionFlash)
	assert.Equal(t, `<div class="alert">ok</div>`, flash)

	require.NoError(t, e.Navigate(ctx, "/operazioni", NavigateOptions{}))
	flash, _ = doc.Region(document.RegionFlash)
	assert.Empty(t, flash)
}

func TestUpdatePage_jsonMessageToasts(t *testing.T) {
	f := newFakeFetcher()
	ok := true
	f.set("/operazioni/delete/7", &model.ContentPayload{Success: &ok, Content: "<p>deleted</p>", Message: "Operazione eliminata"})
	e, doc, _ := newTestEngine(t, testConfig(), f)

	require.NoError(t, e.Navigate(context.Background(), "/operazioni/delete/7", NavigateOptions{}))
	main, _ := doc.Region(document.RegionMain)
	assert.Equal(t, "<p>deleted</p>", main)
	toasts := doc.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, document.ToastSuccess, toasts[0].Level)
}

func TestUpdatePage_stylesheetsAreIdempotent(t *testing.T) {
	loader := &fakeLoader{}
	f := newFakeFetcher()
	f.set("/dashboard/stats", &model.ContentPayload{
		IsHTML:        true,
		HTML:          "<canvas></canvas>",
		AdditionalCSS: []string{"/static/css/base.css?v=2", "/static/css/dashboard.css", "/static/css/dashboard.css"},
	})
	e, doc, _ := newTestEngine(t, testConfig(), f, WithAssetLoader(loader))
	doc.AddAsset(document.Asset{Kind: document.KindStylesheet, URL: origin + "/static/css/base.css"})

	require.NoError(t, e.Navigate(context.Background(), "/dashboard/stats", NavigateOptions{}))

	assert.Equal(t, []string{origin + "/static/css/dashboard.css"}, loader.Loaded())
	sheets := doc.Assets(document.KindStylesheet)
	require.Len(t, sheets, 2)
	assert.False(t, sheets[0].SPAInjected)
	assert.True(t, sheets[1].SPAInjected)
}

func TestUpdatePage_cleanupRemovesInjectedAssetsAndCharts(t *testing.T) {
	loader := &fakeLoader{}
	f := newFakeFetcher()
	f.set("/dashboard/stats", &model.ContentPayload{IsHTML: true, HTML: "<p/>", AdditionalJS: []string{"/static/js/stats.js"}})
	f.page("/attivita", "<p/>")
	e, doc, _ := newTestEngine(t, testConfig(), f, WithAssetLoader(loader))
	ctx := context.Background()

	require.NoError(t, e.Navigate(ctx, "/dashboard/stats", NavigateOptions{}))
	destroyed := 0
	doc.RegisterChart("activity-types", func() { destroyed++ })
	require.Len(t, doc.Assets(document.KindScript), 1)

	require.NoError(t, e.Navigate(ctx, "/attivita", NavigateOptions{}))
	assert.Empty(t, doc.Assets(document.KindScript))
	assert.Equal(t, 1, destroyed)
	assert.Empty(t, doc.Charts())
}

func TestUpdatePage_chartLibraryDefinesGlobal(t *testing.T) {
	f := newFakeFetcher()
	f.set("/dashboard", &model.ContentPayload{IsHTML: true, HTML: "<p/>", AdditionalJS: []string{"/static/vendor/chart.umd.min.js"}})
	cfg := testConfig()
	cfg.StartPath = "/"
	e, doc, _ := newTestEngine(t, cfg, f, WithAssetLoader(&fakeLoader{}))

	require.NoError(t, e.Navigate(context.Background(), "/dashboard", NavigateOptions{}))
	assert.True(t, doc.HasGlobal("Chart"))
}

func TestUpdatePage_scripts(t *testing.T) {
	loader := &fakeLoader{}
	f := newFakeFetcher()
	scripts := []model.Script{
		{Src: "/static/js/attivita.js"},
		{Content: "initAttivita();"},
	}
	f.set("/attivita", &model.ContentPayload{IsHTML: true, HTML: "<p/>", Scripts: scripts})
	f.set("/attivita?page=2", &model.ContentPayload{IsHTML: true, HTML: "<p/>", Scripts: scripts})
	e, doc, _ := newTestEngine(t, testConfig(), f, WithAssetLoader(loader))
	ctx := context.Background()

	require.NoError(t, e.Navigate(ctx, "/attivita", NavigateOptions{}))
	require.NoError(t, e.Navigate(ctx, "/attivita?page=2", NavigateOptions{}))

	assert.Equal(t, []string{origin + "/static/js/attivita.js"}, loader.Loaded(), "external script loads once")
	assert.True(t, doc.Executed(origin+"/static/js/attivita.js"))
	assert.Equal(t, []string{"initAttivita();", "initAttivita();"}, doc.InlineRuns())
}

func TestUpdatePage_assetFailureAborts(t *testing.T) {
	loader := &fakeLoader{fail: map[string]bool{"missing.css": true}}
	f := newFakeFetcher()
	f.set("/operazioni", &model.ContentPayload{
		IsHTML:        true,
		HTML:          "<p/>",
		AdditionalCSS: []string{"/static/css/missing.css"},
		Scripts:       []model.Script{{Content: "never()"}},
	})
	e, doc, _ := newTestEngine(t, testConfig(), f, WithAssetLoader(loader))

	err := e.Navigate(context.Background(), "/operazioni", NavigateOptions{})

	var assetErr *AssetError
	require.ErrorAs(t, err, &assetErr)
	assert.Equal(t, document.KindStylesheet, assetErr.Kind)
	assert.Empty(t, doc.InlineRuns(), "remaining steps must not run")
	assert.Equal(t, float64(1), doc.Opacity(), "content must not be left invisible")
	assert.Equal(t, []string{origin + "/operazioni"}, doc.HardNavigations())
	assert.Equal(t, origin+"/dashboard", e.State().CurrentURL)
}

func TestHTTPAssetLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/static/css/missing.css" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("body{}"))
	}))
	defer srv.Close()

	l := NewHTTPAssetLoader(srv.Client(), nil)
	if err := l.Load(context.Background(), document.KindStylesheet, srv.URL+"/static/css/app.css"); err != nil {
		t.Errorf("Load() error = %v", err)
	}
	if err := l.Load(context.Background(), document.KindStylesheet, srv.URL+"/static/css/missing.css"); err == nil {
		t.Error("Load() of a 404 should fail")
	}
}

func TestHTTPAssetLoader_truncatedBodyIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		w.Write([]byte("body{"))
	}))
	defer srv.Close()

	core, logs := observer.New(zap.DebugLevel)
	l := NewHTTPAssetLoader(srv.Client(), zap.New(core))
	require.NoError(t, l.Load(context.Background(), document.KindStylesheet, srv.URL+"/static/css/app.css"))

	entries := logs.FilterMessage("draining asset body failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "stylesheet", entries[0].ContextMap()["kind"])
}

func TestHTTPAssetLoader_drainIsBounded(t *testing.T) {
	served := make(chan int64, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := []byte(strings.Repeat("x", 64<<10))
		var n int64
		for range 64 {
			m, err := w.Write(chunk)
			n += int64(m)
			if err != nil {
				break
			}
		}
		served <- n
	}))
	defer srv.Close()

	core, logs := observer.New(zap.DebugLevel)
	l := NewHTTPAssetLoader(srv.Client(), zap.New(core))
	require.NoError(t, l.Load(context.Background(), document.KindScript, srv.URL+"/static/js/huge.js"))
	assert.Zero(t, logs.Len(), "a body larger than the drain limit is not an error")
	<-served
}

func TestAlertClass(t *testing.T) {
	tests := map[string]string{
		"error":   "danger",
		"message": "info",
		"":        "info",
		"warning": "warning",
		"success": "success",
	}
	for in, want := range tests {
		if got := alertClass(in); got != want {
			t.Errorf("alertClass(%q) = %q, want %q", in, got, want)
		}
	}
}
