package navigation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/events"
	"github.com/talonops/talon/internal/observability"
	"github.com/talonops/talon/model"
)

const globalPollInterval = 50 * time.Millisecond

// maxAssetDrain caps how much of an asset body is read and discarded so the
// connection can be reused.
const maxAssetDrain = 1 << 20

// AssetError reports a stylesheet or script that failed to load. It aborts
// the page update.
type AssetError struct {
	Kind document.AssetKind
	URL  string
	Err  error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("load %s %s: %v", e.Kind, e.URL, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// AssetLoader fetches stylesheets and external scripts referenced by a
// payload.
type AssetLoader interface {
	Load(ctx context.Context, kind document.AssetKind, url string) error
}

// HTTPAssetLoader loads assets with plain GET requests.
type HTTPAssetLoader struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPAssetLoader creates an HTTPAssetLoader. A nil logger discards
// output.
func NewHTTPAssetLoader(client *http.Client, logger *zap.Logger) *HTTPAssetLoader {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAssetLoader{client: client, logger: logger}
}

// Load requests rawURL and fails on transport errors and non-2xx statuses.
func (l *HTTPAssetLoader) Load(ctx context.Context, kind document.AssetKind, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if kind == document.KindStylesheet {
		req.Header.Set("Accept", "text/css,*/*;q=0.1")
	} else {
		req.Header.Set("Accept", "*/*")
	}
	backend := observability.StartBackendSpan(req, observability.AttrComponent.String(string(kind)))

	resp, err := l.client.Do(req)
	if err != nil {
		observability.EndBackendSpan(backend, 0, err)
		return err
	}
	defer resp.Body.Close()
	observability.EndBackendSpan(backend, resp.StatusCode, nil)
	if _, err := io.CopyN(io.Discard, resp.Body, maxAssetDrain); err != nil && !errors.Is(err, io.EOF) {
		l.logger.Debug("draining asset body failed",
			zap.String("kind", string(kind)),
			zap.String("url", observability.RedactURL(rawURL)),
			zap.Error(err),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

type updateOptions struct {
	history HistoryMode
	from    string
}

// updatePage swaps payload into the document. The main region always ends
// visible, whether the update succeeds or not.
func (e *Engine) updatePage(ctx context.Context, p *model.ContentPayload, entry model.HistoryEntry, opts updateOptions) (err error) {
	ctx, span := observability.StartSpan(ctx, "navigation.update_page",
		observability.AttrURL.String(observability.RedactURL(entry.URL)),
	)
	defer func() { observability.EndSpanWithError(span, err) }()
	defer e.ensureVisible()

	e.doc.SetOpacity(0)
	if err := sleepCtx(ctx, e.cfg.FadeDuration); err != nil {
		return err
	}

	e.cleanup(ctx, opts.from)

	if body := p.Body(); body != "" || p.IsHTML {
		e.doc.SetRegion(document.RegionMain, body)
	}
	if p.Breadcrumb != "" {
		e.doc.SetRegion(document.RegionBreadcrumb, p.Breadcrumb)
	}

	switch opts.history {
	case HistoryPush:
		err = e.doc.PushState(entry)
	case HistoryReplace:
		err = e.doc.ReplaceState(entry)
	}
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}

	if p.Title != "" {
		e.doc.SetTitle(p.Title)
	}

	if err := e.renderFlash(p); err != nil {
		return err
	}
	if err := e.loadStylesheets(ctx, p.AdditionalCSS); err != nil {
		return err
	}
	if err := e.loadScripts(ctx, p.AdditionalJS); err != nil {
		return err
	}
	if err := e.runScripts(ctx, p.Scripts); err != nil {
		return err
	}

	e.doc.SetOpacity(1)
	return sleepCtx(ctx, e.cfg.FadeDuration)
}

// cleanup tears down what the previous page added.
func (e *Engine) cleanup(ctx context.Context, from string) {
	e.bus.Publish(ctx, events.Event{Name: events.Cleanup, Detail: events.CleanupDetail{From: from}})
	assets := e.doc.RemoveSPAInjected()
	charts := e.doc.DestroyCharts()
	e.logger.Debug("previous page cleaned up",
		zap.String("from", observability.RedactURL(from)),
		zap.Int("assets_removed", assets),
		zap.Int("charts_destroyed", charts),
	)
}

func (e *Engine) renderFlash(p *model.ContentPayload) error {
	switch {
	case p.FlashHTML != "":
		e.doc.SetRegion(document.RegionFlash, p.FlashHTML)
	case len(p.FlashMessages) > 0:
		rendered, err := renderFlashMessages(p.FlashMessages)
		if err != nil {
			return fmt.Errorf("render flash messages: %w", err)
		}
		e.doc.SetRegion(document.RegionFlash, rendered)
	default:
		e.doc.SetRegion(document.RegionFlash, "")
	}

	if p.Error != "" {
		e.doc.Toast(document.ToastError, p.Error)
	} else if p.Message != "" {
		level := document.ToastSuccess
		if !p.Succeeded() {
			level = document.ToastError
		}
		e.doc.Toast(level, p.Message)
	}
	return nil
}

// renderFlashMessages renders messages as a list of dismissible alerts.
func renderFlashMessages(msgs []model.FlashMessage) (string, error) {
	var sb strings.Builder
	for _, m := range msgs {
		alert := &html.Node{
			Type:     html.ElementNode,
			Data:     "div",
			DataAtom: atom.Div,
			Attr: []html.Attribute{
				{Key: "class", Val: "alert alert-" + alertClass(m.Category) + " alert-dismissible fade show"},
				{Key: "role", Val: "alert"},
			},
		}
		alert.AppendChild(&html.Node{Type: html.TextNode, Data: m.Message})
		alert.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "button",
			DataAtom: atom.Button,
			Attr: []html.Attribute{
				{Key: "type", Val: "button"},
				{Key: "class", Val: "btn-close"},
				{Key: "data-bs-dismiss", Val: "alert"},
				{Key: "aria-label", Val: "Close"},
			},
		})
		if err := html.Render(&sb, alert); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func alertClass(category string) string {
	switch category {
	case "error":
		return "danger"
	case "", "message":
		return "info"
	default:
		return category
	}
}

// loadStylesheets loads every stylesheet not already in the page. Loads run
// concurrently and the first failure aborts the rest.
func (e *Engine) loadStylesheets(ctx context.Context, urls []string) error {
	pending := e.missingAssets(document.KindStylesheet, urls)
	if len(pending) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range pending {
		g.Go(func() error {
			return e.loadAsset(gctx, document.KindStylesheet, u)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, u := range pending {
		e.doc.AddAsset(document.Asset{Kind: document.KindStylesheet, URL: u, SPAInjected: true})
	}
	return nil
}

// loadScripts loads additional scripts in order, skipping any whose file
// name is already present. A script known to define a global is not done
// until that global exists.
func (e *Engine) loadScripts(ctx context.Context, urls []string) error {
	for _, u := range e.missingAssets(document.KindScript, urls) {
		if err := e.loadAsset(ctx, document.KindScript, u); err != nil {
			return err
		}
		e.doc.AddAsset(document.Asset{Kind: document.KindScript, URL: u, SPAInjected: true})
		if global := e.defineGlobal(u); global != "" {
			e.waitForGlobal(ctx, global)
		}
	}
	return nil
}

// runScripts executes the scripts collected from the main region. External
// scripts run once per src for the lifetime of the document.
func (e *Engine) runScripts(ctx context.Context, scripts []model.Script) error {
	for _, s := range scripts {
		if !s.IsExternal() {
			e.doc.RunInline(s.Content)
			continue
		}
		src, err := e.resolve(s.Src)
		if err != nil {
			return &AssetError{Kind: document.KindScript, URL: s.Src, Err: err}
		}
		if e.doc.Executed(src) {
			e.metrics.RecordAssetLoad(string(document.KindScript), "cached")
			continue
		}
		if err := e.loadAsset(ctx, document.KindScript, src); err != nil {
			return err
		}
		e.doc.MarkExecuted(src)
		e.defineGlobal(src)
	}
	return nil
}

// missingAssets resolves urls and drops those whose file name is already
// present in the page.
func (e *Engine) missingAssets(kind document.AssetKind, urls []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range urls {
		u, err := e.resolve(raw)
		if err != nil {
			u = raw
		}
		base := document.BaseName(u)
		if seen[base] || e.doc.HasAsset(kind, u) {
			e.metrics.RecordAssetLoad(string(kind), "skipped")
			continue
		}
		seen[base] = true
		out = append(out, u)
	}
	return out
}

func (e *Engine) loadAsset(ctx context.Context, kind document.AssetKind, u string) error {
	if e.assets == nil {
		e.metrics.RecordAssetLoad(string(kind), "loaded")
		return nil
	}
	if err := e.assets.Load(ctx, kind, u); err != nil {
		e.metrics.RecordAssetLoad(string(kind), "error")
		return &AssetError{Kind: kind, URL: u, Err: err}
	}
	e.metrics.RecordAssetLoad(string(kind), "loaded")
	return nil
}

// defineGlobal records the global a loaded script provides and returns its
// name, or "" when the script is not a known library.
func (e *Engine) defineGlobal(u string) string {
	base := strings.ToLower(document.BaseName(u))
	for prefix, global := range e.scriptGlobals {
		if strings.HasPrefix(base, prefix) {
			e.doc.SetGlobal(global)
			return global
		}
	}
	return ""
}

// waitForGlobal polls for name until it exists or the asset wait timeout
// elapses. A timeout is logged and otherwise ignored.
func (e *Engine) waitForGlobal(ctx context.Context, name string) {
	if e.doc.HasGlobal(name) {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AssetWaitTimeout)
	defer cancel()
	ticker := time.NewTicker(globalPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Warn("script global not available", zap.String("global", name))
			return
		case <-ticker.C:
			if e.doc.HasGlobal(name) {
				return
			}
		}
	}
}

// ensureVisible forces the main region back to full opacity if a
// transition left it hidden.
func (e *Engine) ensureVisible() {
	if e.doc.Opacity() < 0.01 {
		e.logger.Warn("content left invisible after transition, forcing opacity")
		e.doc.SetOpacity(1)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
