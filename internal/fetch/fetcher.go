// Package fetch retrieves navigation targets from the TALON web application
// and classifies each response as content, a redirect or an error.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/config"
	"github.com/talonops/talon/internal/observability"
	"github.com/talonops/talon/model"
)

const maxBodyBytes = 10 << 20

// FetchError reports a non-success HTTP status for a navigation target.
type FetchError struct {
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
}

// ParseError reports a response body that could not be decoded.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Options configures a Fetcher.
type Options struct {
	LoginPath string
	Selectors config.SelectorConfig
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Fetcher performs the HTTP round trip for a navigation target.
type Fetcher struct {
	client *http.Client
	opts   Options
	logger *zap.Logger
}

// NewFetcher creates a Fetcher. The client should carry a cookie jar so
// session cookies travel with every request.
func NewFetcher(client *http.Client, opts Options) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, opts: opts, logger: logger}
}

// Fetch requests rawURL and returns its payload. Redirects, including the
// login redirect produced for a 401, come back as a payload with only
// Redirect set. Other non-2xx statuses return *FetchError and undecodable
// JSON returns *ParseError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (payload *model.ContentPayload, err error) {
	ctx, span := observability.StartSpan(ctx, "fetch.content",
		observability.AttrURL.String(observability.RedactURL(rawURL)),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: build request: %w", rawURL, err)
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-SPA-Request", "true")
	req.Header.Set("Accept", "text/html, application/json")
	backend := observability.StartBackendSpan(req)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		observability.EndBackendSpan(backend, 0, err)
		f.opts.Metrics.RecordFetch(0, time.Since(start))
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	observability.EndBackendSpan(backend, resp.StatusCode, nil)
	f.opts.Metrics.RecordFetch(resp.StatusCode, time.Since(start))

	f.logger.Debug("content fetched",
		zap.String("url", observability.RedactURL(rawURL)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if target, ok := redirectTarget(req.URL, resp); ok {
		return model.RedirectPayload(target), nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return model.RedirectPayload(f.loginRedirect(req.URL)), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", rawURL, err)
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		var p model.ContentPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, &ParseError{URL: rawURL, Err: err}
		}
		return &p, nil
	}

	p, err := ParseHTML(bytes.NewReader(body), f.opts.Selectors)
	if err != nil {
		return nil, &ParseError{URL: rawURL, Err: err}
	}
	return p, nil
}

// loginRedirect builds the login URL carrying the originally requested path
// and query in the next parameter.
func (f *Fetcher) loginRedirect(requested *url.URL) string {
	loginPath := f.opts.LoginPath
	if loginPath == "" {
		loginPath = "/auth/login"
	}
	return loginPath + "?next=" + url.QueryEscape(requested.RequestURI())
}

// redirectTarget reports whether resp is the result of, or is itself, a
// redirect and returns the target relative to the requested origin when
// possible.
func redirectTarget(requested *url.URL, resp *http.Response) (string, bool) {
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc, err := resp.Location()
		if err != nil {
			return "", false
		}
		return relativeTo(requested, loc), true
	}
	if resp.Request != nil && resp.Request.URL != nil && resp.Request.URL.String() != requested.String() {
		return relativeTo(requested, resp.Request.URL), true
	}
	return "", false
}

func relativeTo(base, target *url.URL) string {
	if target.Scheme == base.Scheme && target.Host == base.Host {
		return target.RequestURI()
	}
	return target.String()
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (len(mt) > 5 && mt[len(mt)-5:] == "+json")
}
