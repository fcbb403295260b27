// Package document models the browser page the SPA client drives: the
// swappable content regions, title, location, session history, scroll
// offset, injected assets, chart instances and toast notifications.
package document

import (
	"net/url"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/talonops/talon/model"
)

// Region names a swappable part of the page.
type Region string

const (
	RegionMain       Region = "main"
	RegionBreadcrumb Region = "breadcrumb"
	RegionFlash      Region = "flash"
)

// AssetKind distinguishes stylesheets from scripts.
type AssetKind string

const (
	KindStylesheet AssetKind = "stylesheet"
	KindScript     AssetKind = "script"
)

// Asset is a stylesheet link or script element present in the page.
type Asset struct {
	Kind AssetKind
	URL  string
	// SPAInjected marks assets added by a navigation. They are removed on
	// the next cleanup; assets from the initial page load are kept.
	SPAInjected bool
}

// BaseName returns the file name of the asset URL without query or fragment.
func (a Asset) BaseName() string {
	return BaseName(a.URL)
}

// BaseName returns the last path element of raw, ignoring query and fragment.
func BaseName(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		raw = u.Path
	}
	return path.Base(raw)
}

// Toast is a transient notification shown to the user.
type Toast struct {
	Level   string
	Message string
	At      time.Time
}

// Toast levels.
const (
	ToastInfo    = "info"
	ToastSuccess = "success"
	ToastWarning = "warning"
	ToastError   = "error"
)

// Document is the in-memory page. It is safe for concurrent use.
type Document struct {
	mu sync.Mutex

	regions  map[Region]string
	title    string
	opacity  float64
	location *url.URL

	history []model.HistoryEntry
	index   int

	scroll model.ScrollPosition

	assets   []Asset
	executed map[string]bool
	inline   []string
	globals  map[string]bool

	charts     map[string]func()
	chartOrder []string

	visible map[string]bool
	toasts  []Toast
	hard    []string
	onHard  func(string)

	meta          map[string]string
	attrs         map[string]string
	inputs        map[string]string
	inlineSources []string

	now func() time.Time
}

// Option configures a Document.
type Option func(*Document)

// WithRegions declares which regions exist in the page. The default page has
// all three.
func WithRegions(regions ...Region) Option {
	return func(d *Document) {
		d.regions = make(map[Region]string, len(regions))
		for _, r := range regions {
			d.regions[r] = ""
		}
	}
}

// WithHardNavigateHook installs a callback run after HardNavigate records a
// full page load.
func WithHardNavigateHook(fn func(target string)) Option {
	return func(d *Document) { d.onHard = fn }
}

// WithClock overrides the clock used for toast timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Document) { d.now = now }
}

// New creates a Document positioned at location with one history entry.
func New(location *url.URL, opts ...Option) *Document {
	d := &Document{
		regions: map[Region]string{
			RegionMain:       "",
			RegionBreadcrumb: "",
			RegionFlash:      "",
		},
		opacity:  1,
		location: cloneURL(location),
		executed: make(map[string]bool),
		globals:  make(map[string]bool),
		charts:   make(map[string]func()),
		visible:  make(map[string]bool),
		meta:     make(map[string]string),
		attrs:    make(map[string]string),
		inputs:   make(map[string]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.history = []model.HistoryEntry{{URL: d.location.String(), Timestamp: d.now()}}
	return d
}

// --- regions ---

// HasRegion reports whether r exists in the page.
func (d *Document) HasRegion(r Region) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.regions[r]
	return ok
}

// Region returns the markup of r and whether the region exists.
func (d *Document) Region(r Region) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	html, ok := d.regions[r]
	return html, ok
}

// SetRegion replaces the markup of r. It reports false, leaving the page
// untouched, when the region does not exist.
func (d *Document) SetRegion(r Region, html string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.regions[r]; !ok {
		return false
	}
	d.regions[r] = html
	return true
}

// --- title, opacity, visibility ---

func (d *Document) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title
}

func (d *Document) SetTitle(title string) {
	d.mu.Lock()
	d.title = title
	d.mu.Unlock()
}

// Opacity returns the main-content opacity in [0, 1].
func (d *Document) Opacity() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opacity
}

func (d *Document) SetOpacity(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	d.mu.Lock()
	d.opacity = v
	d.mu.Unlock()
}

// ForceVisible marks a component's container visible regardless of its own
// readiness.
func (d *Document) ForceVisible(component string) {
	d.mu.Lock()
	d.visible[component] = true
	d.mu.Unlock()
}

// SetVisible sets a component container's visibility.
func (d *Document) SetVisible(component string, visible bool) {
	d.mu.Lock()
	d.visible[component] = visible
	d.mu.Unlock()
}

// Visible reports whether a component container is visible.
func (d *Document) Visible(component string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible[component]
}

// --- location and history ---

// Location returns a copy of the current URL.
func (d *Document) Location() *url.URL {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneURL(d.location)
}

// PushState appends entry after the current history position, dropping any
// forward entries, and moves the location to entry.URL.
func (d *Document) PushState(entry model.HistoryEntry) error {
	u, err := d.resolve(entry.URL)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history[:d.index+1], entry)
	d.index = len(d.history) - 1
	d.location = u
	return nil
}

// ReplaceState overwrites the current history entry and location.
func (d *Document) ReplaceState(entry model.HistoryEntry) error {
	u, err := d.resolve(entry.URL)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history[d.index] = entry
	d.location = u
	return nil
}

// Back moves one entry back and returns the entry now current. It reports
// false at the start of history.
func (d *Document) Back() (model.HistoryEntry, bool) {
	return d.Go(-1)
}

// Forward moves one entry forward. It reports false at the end of history.
func (d *Document) Forward() (model.HistoryEntry, bool) {
	return d.Go(1)
}

// Go moves delta entries through history and updates the location.
func (d *Document) Go(delta int) (model.HistoryEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.index + delta
	if delta == 0 || next < 0 || next >= len(d.history) {
		return model.HistoryEntry{}, false
	}
	d.index = next
	entry := d.history[next]
	if u, err := d.location.Parse(entry.URL); err == nil {
		d.location = u
	}
	return entry, true
}

// CurrentEntry returns the history entry at the current position.
func (d *Document) CurrentEntry() model.HistoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history[d.index]
}

// HistoryLen returns the number of session history entries.
func (d *Document) HistoryLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history)
}

func (d *Document) resolve(raw string) (*url.URL, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.location.Parse(raw)
}

// --- scroll ---

func (d *Document) Scroll() model.ScrollPosition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scroll
}

func (d *Document) ScrollTo(x, y int) {
	d.mu.Lock()
	d.scroll = model.ScrollPosition{X: x, Y: y}
	d.mu.Unlock()
}

// --- assets and scripts ---

// AddAsset appends an asset to the page.
func (d *Document) AddAsset(a Asset) {
	d.mu.Lock()
	d.assets = append(d.assets, a)
	d.mu.Unlock()
}

// HasAsset reports whether an asset of kind with the same base file name is
// already present.
func (d *Document) HasAsset(kind AssetKind, rawURL string) bool {
	name := BaseName(rawURL)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.assets {
		if a.Kind == kind && a.BaseName() == name {
			return true
		}
	}
	return false
}

// Assets returns the assets of kind in insertion order.
func (d *Document) Assets(kind AssetKind) []Asset {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Asset
	for _, a := range d.assets {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// RemoveSPAInjected removes every asset added by a navigation and returns
// how many were removed.
func (d *Document) RemoveSPAInjected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.assets[:0]
	removed := 0
	for _, a := range d.assets {
		if a.SPAInjected {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	d.assets = kept
	return removed
}

// MarkExecuted records that the external script src ran. It reports false
// when src had already run.
func (d *Document) MarkExecuted(src string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.executed[src] {
		return false
	}
	d.executed[src] = true
	return true
}

// Executed reports whether the external script src has run.
func (d *Document) Executed(src string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.executed[src]
}

// RunInline records the execution of an inline script.
func (d *Document) RunInline(content string) {
	d.mu.Lock()
	d.inline = append(d.inline, content)
	d.mu.Unlock()
}

// InlineRuns returns every inline script executed so far, in order.
func (d *Document) InlineRuns() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.inline...)
}

// SetGlobal defines a page-level global such as the chart library.
func (d *Document) SetGlobal(name string) {
	d.mu.Lock()
	d.globals[name] = true
	d.mu.Unlock()
}

func (d *Document) HasGlobal(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.globals[name]
}

// --- charts ---

// RegisterChart records a live chart instance. Registering an existing id
// destroys the previous instance first.
func (d *Document) RegisterChart(id string, destroy func()) {
	d.mu.Lock()
	prev, exists := d.charts[id]
	if !exists {
		d.chartOrder = append(d.chartOrder, id)
	}
	d.charts[id] = destroy
	d.mu.Unlock()

	if exists && prev != nil {
		prev()
	}
}

// DestroyChart destroys one chart instance. It reports false if id is unknown.
func (d *Document) DestroyChart(id string) bool {
	d.mu.Lock()
	destroy, ok := d.charts[id]
	if ok {
		delete(d.charts, id)
		d.chartOrder = removeString(d.chartOrder, id)
	}
	d.mu.Unlock()

	if ok && destroy != nil {
		destroy()
	}
	return ok
}

// DestroyCharts destroys every chart instance and returns how many there were.
func (d *Document) DestroyCharts() int {
	d.mu.Lock()
	destroyers := make([]func(), 0, len(d.chartOrder))
	for _, id := range d.chartOrder {
		destroyers = append(destroyers, d.charts[id])
	}
	d.charts = make(map[string]func())
	d.chartOrder = nil
	d.mu.Unlock()

	for _, fn := range destroyers {
		if fn != nil {
			fn()
		}
	}
	return len(destroyers)
}

// Charts returns the ids of live chart instances in registration order.
func (d *Document) Charts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.chartOrder...)
}

// --- notifications and fallbacks ---

// Toast shows a notification.
func (d *Document) Toast(level, message string) {
	d.mu.Lock()
	d.toasts = append(d.toasts, Toast{Level: level, Message: message, At: d.now()})
	d.mu.Unlock()
}

// Toasts returns every notification shown so far.
func (d *Document) Toasts() []Toast {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Toast(nil), d.toasts...)
}

// HardNavigate performs a full page load of target, abandoning the SPA.
func (d *Document) HardNavigate(target string) {
	d.mu.Lock()
	d.hard = append(d.hard, target)
	hook := d.onHard
	if u, err := d.location.Parse(target); err == nil {
		d.location = u
	}
	d.mu.Unlock()

	if hook != nil {
		hook(target)
	}
}

// HardNavigations returns every full page load requested so far.
func (d *Document) HardNavigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.hard...)
}

// --- host page markers ---

// SetMeta sets a <meta name=...> value.
func (d *Document) SetMeta(name, content string) {
	d.mu.Lock()
	d.meta[name] = content
	d.mu.Unlock()
}

func (d *Document) Meta(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta[name]
}

// SetAttr sets a data attribute on the page body.
func (d *Document) SetAttr(name, value string) {
	d.mu.Lock()
	d.attrs[name] = value
	d.mu.Unlock()
}

func (d *Document) Attr(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attrs[name]
}

// SetInput sets the value of a hidden input by id.
func (d *Document) SetInput(id, value string) {
	d.mu.Lock()
	d.inputs[id] = value
	d.mu.Unlock()
}

func (d *Document) Input(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inputs[id]
}

// AddInlineSource adds the text of an inline <script> present in the host page.
func (d *Document) AddInlineSource(src string) {
	d.mu.Lock()
	d.inlineSources = append(d.inlineSources, src)
	d.mu.Unlock()
}

// InlineSources returns the text of the host page's inline scripts.
func (d *Document) InlineSources() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.inlineSources...)
}

// Globals returns the defined page globals, sorted.
func (d *Document) Globals() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.globals))
	for g := range d.globals {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return &url.URL{Path: "/"}
	}
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
