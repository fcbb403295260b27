package lifecycle

import (
	"context"
	"strings"
	"time"
)

// Route identifies a page family with its own initializer.
type Route string

// Built-in routes, listed in matching priority.
const (
	RouteAdminDashboard   Route = "admin_dashboard"
	RouteDashboard        Route = "dashboard"
	RouteSettings         Route = "settings"
	RouteActivities       Route = "attivita"
	RouteMilitaryEntities Route = "enti_militari"
	RouteCivilEntities    Route = "enti_civili"
	RouteOperations       Route = "operazioni"
	RouteAdmin            Route = "admin"
	RouteNone             Route = ""
)

var routeFragments = []struct {
	route    Route
	fragment string
}{
	{RouteAdminDashboard, "/admin/dashboard"},
	{RouteDashboard, "/dashboard"},
	{RouteSettings, "/settings"},
	{RouteActivities, "/attivita"},
	{RouteMilitaryEntities, "/enti-militari"},
	{RouteCivilEntities, "/enti-civili"},
	{RouteOperations, "/operazioni"},
	{RouteAdmin, "/admin"},
}

// RouteFor returns the first built-in route whose path fragment occurs in
// path, or RouteNone.
func RouteFor(path string) Route {
	for _, rf := range routeFragments {
		if strings.Contains(path, rf.fragment) {
			return rf.route
		}
	}
	return RouteNone
}

// MatchRoute returns a matcher selecting paths that resolve to route.
func MatchRoute(route Route) func(path string) bool {
	return func(path string) bool { return RouteFor(path) == route }
}

// MatchAny returns a matcher selecting paths containing any of the
// fragments.
func MatchAny(fragments ...string) func(path string) bool {
	return func(path string) bool {
		for _, f := range fragments {
			if strings.Contains(path, f) {
				return true
			}
		}
		return false
	}
}

// RouteHook binds fn to a built-in route.
func RouteHook(route Route, fn func(ctx context.Context, path string) error) Initializer {
	return Initializer{Name: string(route), Match: MatchRoute(route), Init: fn}
}

// AdminDashboardHook builds the admin dashboard initializer. start kicks off
// the dashboard module, which resolves ready when its charts are in place;
// the hook then waits for ready for at most timeout. When start fails the
// dashboard is still shown, carrying whatever error state the module set.
func AdminDashboardHook(ready *Readiness, timeout time.Duration, start func(ctx context.Context, path string) error) Initializer {
	return Initializer{
		Name:  string(RouteAdminDashboard),
		Match: MatchRoute(RouteAdminDashboard),
		Init: func(ctx context.Context, path string) error {
			ready.Reset()
			if err := start(ctx, path); err != nil {
				ready.Resolve()
				_ = ready.AwaitReady(ctx, timeout)
				return err
			}
			return ready.AwaitReady(ctx, timeout)
		},
	}
}
