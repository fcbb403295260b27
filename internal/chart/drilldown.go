// Package chart implements the activity dashboard: a three-level drill-down
// from activity types to entities to the activity list, narrowed by a period
// and a military/civilian filter.
package chart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/entity"
	"github.com/talonops/talon/internal/events"
	"github.com/talonops/talon/internal/lifecycle"
	"github.com/talonops/talon/model"
)

// Level is a drill-down depth.
type Level int

const (
	// LevelTypes counts activities per type.
	LevelTypes Level = iota
	// LevelEntities counts the activities of one type per entity.
	LevelEntities
	// LevelActivities lists the activities of one type and entity.
	LevelActivities
)

// ErrInvalidLevel is returned for a level outside 0..2 or one missing the
// selections it needs.
var ErrInvalidLevel = errors.New("chart: invalid drill-down level")

// Position is where the drill-down currently stands.
type Position struct {
	Level    Level  `json:"level"`
	Category string `json:"category,omitempty"`
	Entity   string `json:"entity,omitempty"`
}

func (p Position) validate() error {
	switch p.Level {
	case LevelTypes:
		return nil
	case LevelEntities:
		if p.Category == "" {
			return fmt.Errorf("%w: level 1 needs a category", ErrInvalidLevel)
		}
		return nil
	case LevelActivities:
		if p.Category == "" || p.Entity == "" {
			return fmt.Errorf("%w: level 2 needs a category and an entity", ErrInvalidLevel)
		}
		return nil
	}
	return fmt.Errorf("%w: %d", ErrInvalidLevel, p.Level)
}

// View is the rendered state of the dashboard.
type View struct {
	Position
	Filter      Filter           `json:"filter"`
	Loaded      bool             `json:"loaded"`
	InlineError string           `json:"inline_error,omitempty"`
	Breadcrumb  []string         `json:"breadcrumb"`
	Series      *Series          `json:"series,omitempty"`
	Activities  []model.Activity `json:"activities,omitempty"`
}

// DrillDown is the dashboard module. State changes travel over the bus as
// talon:* events, so toolbar buttons and breadcrumbs elsewhere on the page
// drive it the same way its own methods do. It is safe for concurrent use.
type DrillDown struct {
	route        lifecycle.Route
	source       entity.Source[model.Activity]
	bus          *events.Bus
	doc          *document.Document
	logger       *zap.Logger
	now          func() time.Time
	ready        *lifecycle.Readiness
	readyTimeout time.Duration
	unsubscribe  []func()

	mu         sync.RWMutex
	activities []model.Activity
	loaded     bool
	inlineErr  string
	pos        Position
	filter     Filter
	renders    int
}

// Option configures a DrillDown.
type Option func(*DrillDown)

// WithDocument sets the document the charts are registered on.
func WithDocument(doc *document.Document) Option {
	return func(d *DrillDown) { d.doc = doc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *DrillDown) { d.logger = l }
}

// WithClock sets the time source used by the period filter.
func WithClock(now func() time.Time) Option {
	return func(d *DrillDown) { d.now = now }
}

// WithRoute binds the module to a route other than the dashboard.
func WithRoute(r lifecycle.Route) Option {
	return func(d *DrillDown) { d.route = r }
}

// WithReadiness makes Init resolve ready, and Hook wait for it for at most
// timeout. Used on the admin dashboard.
func WithReadiness(ready *lifecycle.Readiness, timeout time.Duration) Option {
	return func(d *DrillDown) {
		d.ready = ready
		d.readyTimeout = timeout
	}
}

// New creates the dashboard module over the activity source and subscribes
// it to the drill-down events and to spa:cleanup.
func New(source entity.Source[model.Activity], bus *events.Bus, opts ...Option) *DrillDown {
	d := &DrillDown{
		route:        lifecycle.RouteDashboard,
		source:       source,
		bus:          bus,
		logger:       zap.NewNop(),
		now:          time.Now,
		readyTimeout: 8 * time.Second,
		filter:       Filter{Period: PeriodAll, Character: CharacterAll},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("module", d.Name()))
	d.unsubscribe = []func(){
		bus.Subscribe(events.ResetToLevel0, d.onReset),
		bus.Subscribe(events.NavigateToLevel, d.onNavigate),
		bus.Subscribe(events.PeriodChanged, d.onPeriod),
		bus.Subscribe(events.CharacterFilterChanged, d.onCharacter),
		bus.Subscribe(events.Cleanup, d.onCleanup),
	}
	return d
}

// Name returns the module name, which is also its chart id prefix and the
// component name used for readiness.
func (d *DrillDown) Name() string { return string(d.route) }

// ChartID returns the id of the module's chart on the document.
func (d *DrillDown) ChartID() string { return d.Name() + "-drilldown" }

// Hook returns the initializer for the module's route.
func (d *DrillDown) Hook() lifecycle.Initializer {
	if d.ready != nil {
		return lifecycle.AdminDashboardHook(d.ready, d.readyTimeout, d.Init)
	}
	return lifecycle.RouteHook(d.route, d.Init)
}

// Init loads the activities, starts again from level 0 and renders. On a
// load failure the dashboard shows an inline error instead of the chart.
func (d *DrillDown) Init(ctx context.Context, _ string) error {
	records, err := d.source.List(ctx)

	d.mu.Lock()
	d.pos = Position{}
	if err != nil {
		d.activities = nil
		d.loaded = false
		d.inlineErr = "Unable to load dashboard data. Please try again later."
	} else {
		d.activities = records
		d.loaded = true
		d.inlineErr = ""
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("loading activities failed", zap.Error(err))
		d.destroyChart()
		return fmt.Errorf("chart: loading activities: %w", err)
	}

	d.render()
	d.logger.Debug("dashboard initialized", zap.Int("activities", len(records)))
	d.bus.Publish(ctx, events.Event{Name: events.ModuleReady(d.Name())})
	if d.ready != nil {
		d.ready.Resolve()
	}
	return nil
}

// ResetToLevel0 returns to the per-type overview.
func (d *DrillDown) ResetToLevel0(ctx context.Context) {
	d.bus.Publish(ctx, events.Event{Name: events.ResetToLevel0})
}

// NavigateToLevel jumps to p.
func (d *DrillDown) NavigateToLevel(ctx context.Context, p Position) error {
	if err := p.validate(); err != nil {
		return err
	}
	d.bus.Publish(ctx, events.Event{
		Name:   events.NavigateToLevel,
		Detail: events.LevelDetail{Level: int(p.Level), Category: p.Category, Entity: p.Entity},
	})
	return nil
}

// Select drills one level down into the bar labelled label.
func (d *DrillDown) Select(ctx context.Context, label string) error {
	d.mu.RLock()
	p := d.pos
	d.mu.RUnlock()

	switch p.Level {
	case LevelTypes:
		p = Position{Level: LevelEntities, Category: label}
	case LevelEntities:
		p.Level, p.Entity = LevelActivities, label
	default:
		return fmt.Errorf("%w: already at the activity list", ErrInvalidLevel)
	}
	return d.NavigateToLevel(ctx, p)
}

// Up goes back one level. At level 0 it does nothing.
func (d *DrillDown) Up(ctx context.Context) {
	d.mu.RLock()
	p := d.pos
	d.mu.RUnlock()

	switch p.Level {
	case LevelEntities:
		d.ResetToLevel0(ctx)
	case LevelActivities:
		_ = d.NavigateToLevel(ctx, Position{Level: LevelEntities, Category: p.Category})
	}
}

// SetPeriod changes the period filter.
func (d *DrillDown) SetPeriod(ctx context.Context, period string) error {
	p, err := ParsePeriod(period)
	if err != nil {
		return err
	}
	d.bus.Publish(ctx, events.Event{Name: events.PeriodChanged, Detail: events.PeriodDetail{Period: string(p)}})
	return nil
}

// SetCharacterFilter changes the military/civilian filter.
func (d *DrillDown) SetCharacterFilter(ctx context.Context, character string) error {
	c, err := ParseCharacter(character)
	if err != nil {
		return err
	}
	d.bus.Publish(ctx, events.Event{
		Name:   events.CharacterFilterChanged,
		Detail: events.CharacterFilterDetail{Character: string(c)},
	})
	return nil
}

// View returns the current dashboard state.
func (d *DrillDown) View() View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.viewLocked()
}

// Renders returns how many times the chart has been drawn.
func (d *DrillDown) Renders() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.renders
}

// Close unsubscribes the module from the bus.
func (d *DrillDown) Close() {
	for _, fn := range d.unsubscribe {
		fn()
	}
}

func (d *DrillDown) onReset(context.Context, events.Event) {
	d.move(Position{})
}

func (d *DrillDown) onNavigate(_ context.Context, ev events.Event) {
	detail, ok := ev.Detail.(events.LevelDetail)
	if !ok {
		d.logger.Warn("ignoring navigateToLevel without a level detail")
		return
	}
	p := Position{Level: Level(detail.Level), Category: detail.Category, Entity: detail.Entity}
	if err := p.validate(); err != nil {
		d.logger.Warn("ignoring invalid drill-down target", zap.Error(err))
		return
	}
	d.move(p)
}

func (d *DrillDown) onPeriod(_ context.Context, ev events.Event) {
	detail, ok := ev.Detail.(events.PeriodDetail)
	if !ok {
		return
	}
	p, err := ParsePeriod(detail.Period)
	if err != nil {
		d.logger.Warn("ignoring period change", zap.Error(err))
		return
	}
	d.mu.Lock()
	d.filter.Period = p
	d.mu.Unlock()
	d.render()
}

func (d *DrillDown) onCharacter(_ context.Context, ev events.Event) {
	detail, ok := ev.Detail.(events.CharacterFilterDetail)
	if !ok {
		return
	}
	c, err := ParseCharacter(detail.Character)
	if err != nil {
		d.logger.Warn("ignoring character filter change", zap.Error(err))
		return
	}
	d.mu.Lock()
	d.filter.Character = c
	d.mu.Unlock()
	d.render()
}

func (d *DrillDown) onCleanup(context.Context, events.Event) {
	d.mu.Lock()
	d.activities = nil
	d.loaded = false
	d.inlineErr = ""
	d.pos = Position{}
	d.mu.Unlock()
}

func (d *DrillDown) move(p Position) {
	d.mu.Lock()
	d.pos = p
	d.mu.Unlock()
	d.render()
}

// render redraws the chart when data is loaded. The previous chart instance
// is destroyed by the document when the new one is registered.
func (d *DrillDown) render() {
	d.mu.Lock()
	if !d.loaded {
		d.mu.Unlock()
		return
	}
	d.renders++
	n := d.renders
	level := d.pos.Level
	d.mu.Unlock()

	if d.doc == nil {
		return
	}
	id := d.ChartID()
	logger := d.logger
	d.doc.RegisterChart(id, func() {
		logger.Debug("chart destroyed", zap.String("chart", id), zap.Int("render", n), zap.Int("level", int(level)))
	})
}

func (d *DrillDown) destroyChart() {
	if d.doc != nil {
		d.doc.DestroyChart(d.ChartID())
	}
}

func (d *DrillDown) viewLocked() View {
	v := View{
		Position:    d.pos,
		Filter:      d.filter,
		Loaded:      d.loaded,
		InlineError: d.inlineErr,
		Breadcrumb:  breadcrumb(d.pos),
	}
	if !d.loaded {
		return v
	}

	now := d.now()
	filtered := make([]model.Activity, 0, len(d.activities))
	for _, a := range d.activities {
		if d.filter.Match(a, now) {
			filtered = append(filtered, a)
		}
	}

	switch d.pos.Level {
	case LevelTypes:
		s := countBy(LevelTypes, filtered, typeOf)
		v.Series = &s
	case LevelEntities:
		ofType := slices.DeleteFunc(filtered, func(a model.Activity) bool {
			return !strings.EqualFold(typeOf(a), d.pos.Category)
		})
		s := countBy(LevelEntities, ofType, entityOf)
		v.Series = &s
	case LevelActivities:
		list := slices.DeleteFunc(filtered, func(a model.Activity) bool {
			return !strings.EqualFold(typeOf(a), d.pos.Category) || !strings.EqualFold(entityOf(a), d.pos.Entity)
		})
		newestFirst(list)
		v.Activities = list
	}
	return v
}

func breadcrumb(p Position) []string {
	out := []string{"Tutte le attività"}
	if p.Level >= LevelEntities {
		out = append(out, p.Category)
	}
	if p.Level >= LevelActivities {
		out = append(out, p.Entity)
	}
	return out
}
