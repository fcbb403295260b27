package transport

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/talonops/talon/internal/chart"
	"github.com/talonops/talon/internal/config"
	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/entity"
	"github.com/talonops/talon/internal/sidebar"
	"github.com/talonops/talon/internal/widget"
	"github.com/talonops/talon/model"
)

func TestHandleNavigate(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/spa/navigate", map[string]any{"url": "/attivita"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	state := decode[model.NavigationState](t, rec)
	if !strings.HasSuffix(state.CurrentURL, "/attivita") {
		t.Errorf("current_url = %q, want suffix /attivita", state.CurrentURL)
	}
	if len(state.History) != 2 {
		t.Errorf("history length = %d, want 2", len(state.History))
	}
	if main, _ := env.doc.Region(document.RegionMain); main != "<h1>Attività</h1>" {
		t.Errorf("main = %q, want the attività fragment", main)
	}
}

func TestHandleNavigate_replace(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/spa/navigate", map[string]any{"url": "/attivita", "replace": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := len(env.engine.State().History); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestHandleNavigate_failure(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/spa/navigate", map[string]any{"url": "/missing"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if got := errorCode(t, rec); got != model.ErrNavigationFailed {
		t.Errorf("code = %q, want %q", got, model.ErrNavigationFailed)
	}
	if got := env.doc.HardNavigations(); len(got) != 1 || !strings.HasSuffix(got[0], "/missing") {
		t.Errorf("hard navigations = %v, want the failed target", got)
	}
}

func TestHandleNavigate_badRequest(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	tests := []struct {
		name string
		body any
	}{
		{"missing url", map[string]any{}},
		{"unknown field", `{"url":"/attivita","bogus":1}`},
		{"malformed", `{"url":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/spa/navigate", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleBackForward(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	if rec := env.do(t, http.MethodPost, "/spa/back", nil); rec.Code != http.StatusConflict {
		t.Fatalf("back at start: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	env.do(t, http.MethodPost, "/spa/navigate", map[string]any{"url": "/attivita"})

	rec := env.do(t, http.MethodPost, "/spa/back", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("back: status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := env.doc.Location().Path; got != "/dashboard" {
		t.Errorf("after back path = %q, want /dashboard", got)
	}

	rec = env.do(t, http.MethodPost, "/spa/forward", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("forward: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := env.doc.Location().Path; got != "/attivita" {
		t.Errorf("after forward path = %q, want /attivita", got)
	}
}

func TestHandlePrefetchAndClearCache(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/spa/prefetch", map[string]any{"url": "/operazioni"})
	if rec.Code != http.StatusOK {
		t.Fatalf("prefetch: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decode[model.NavigationState](t, rec).PrefetchEntries; got != 1 {
		t.Errorf("prefetch entries = %d, want 1", got)
	}

	rec = env.do(t, http.MethodDelete, "/spa/cache", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear: status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	st := env.engine.State()
	if st.CacheEntries != 0 || st.PrefetchEntries != 0 {
		t.Errorf("after clear cache=%d prefetch=%d, want 0 and 0", st.CacheEntries, st.PrefetchEntries)
	}
}

func TestHandleClick(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/spa/click", map[string]any{"href": "/operazioni"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := env.doc.Location().Path; got != "/operazioni" {
		t.Errorf("path = %q, want /operazioni", got)
	}

	rec = env.do(t, http.MethodPost, "/spa/click", map[string]any{"href": "/attivita", "attrs": map[string]string{"data-no-spa": ""}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("opted-out link: status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if got := errorCode(t, rec); got != model.ErrNotIntercepted {
		t.Errorf("code = %q, want %q", got, model.ErrNotIntercepted)
	}
}

func TestHandleSubmit(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/spa/submit", map[string]any{
		"action": "/attivita",
		"method": "get",
		"fields": []map[string]string{{"name": "q", "value": "soccorso"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := env.doc.Location().RawQuery; got != "q=soccorso" {
		t.Errorf("query = %q, want q=soccorso", got)
	}

	rec = env.do(t, http.MethodPost, "/spa/submit", map[string]any{"action": "/attivita", "method": "post"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("POST form: status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestHandleDocument(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)
	env.do(t, http.MethodPost, "/spa/navigate", map[string]any{"url": "/attivita"})

	rec := env.do(t, http.MethodGet, "/spa/document", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	view := decode[documentView](t, rec)
	if view.Main != "<h1>Attività</h1>" {
		t.Errorf("main = %q", view.Main)
	}
	if !strings.HasSuffix(view.Location, "/attivita") {
		t.Errorf("location = %q, want suffix /attivita", view.Location)
	}
	if view.Opacity != 1 {
		t.Errorf("opacity = %v, want 1", view.Opacity)
	}
}

func TestHandleMenu_gating(t *testing.T) {
	env := newTestEnv(t, model.RoleOperatore)

	rec := env.do(t, http.MethodGet, "/spa/menu", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	view := decode[menuView](t, rec)
	var got []string
	for _, it := range view.Items {
		got = append(got, it.ID)
	}
	want := []string{"dashboard", "attivita", "operazioni"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("items = %v, want %v", got, want)
	}
	if view.Role != model.RoleOperatore {
		t.Errorf("role = %q, want OPERATORE", view.Role)
	}
}

func TestHandleMenuClick(t *testing.T) {
	env := newTestEnv(t, model.RoleOperatore)

	rec := env.do(t, http.MethodPost, "/spa/menu/operazioni/click", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := env.doc.Location().Path; got != "/operazioni" {
		t.Errorf("path = %q, want /operazioni", got)
	}

	rec = env.do(t, http.MethodPost, "/spa/menu/admin_dashboard/click", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("denied: status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if got := errorCode(t, rec); got != model.ErrRoleDenied {
		t.Errorf("code = %q, want %q", got, model.ErrRoleDenied)
	}
	if got := env.doc.Location().Path; got != "/operazioni" {
		t.Errorf("denied click moved the page to %q", got)
	}

	rec = env.do(t, http.MethodPost, "/spa/menu/nope/click", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown item: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleSetRole(t *testing.T) {
	env := newTestEnv(t, model.RoleVisualizzatore)

	rec := env.do(t, http.MethodPut, "/spa/role", map[string]any{"role": "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	view := decode[menuView](t, rec)
	if view.Role != model.RoleAdmin || len(view.Items) != 4 {
		t.Errorf("role=%q items=%d, want ADMIN with 4 items", view.Role, len(view.Items))
	}
	if v, _, _ := env.session.Get(t.Context(), sidebar.KeyUserRole); v != "ADMIN" {
		t.Errorf("stored role = %q, want ADMIN", v)
	}

	if rec := env.do(t, http.MethodPut, "/spa/role", map[string]any{"role": "generale"}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown role: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// authedEnv is a test env whose driver API requires HS256 tokens; bearer
// signs one for role.
func authedEnv(t *testing.T, sidebarRole model.Role) (*testEnv, func(role string) string) {
	t.Helper()
	secret := []byte("s3cret")
	env := newTestEnv(t, sidebarRole, func(d *Dependencies) {
		d.Authenticate = JWTAuthenticator(config.AuthConfig{Enabled: true, RoleClaim: "role"}, secret)
	})
	bearer := func(role string) string {
		claims := jwt.MapClaims{"sub": "u-" + role, "exp": time.Now().Add(time.Hour).Unix()}
		if role != "" {
			claims["role"] = role
		}
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatal(err)
		}
		return "Bearer " + s
	}
	return env, bearer
}

func TestHandleSetRole_cannotExceedTokenRole(t *testing.T) {
	env, bearer := authedEnv(t, model.RoleVisualizzatore)
	viewer := bearer("VISUALIZZATORE")

	rec := env.do(t, http.MethodPut, "/spa/role", map[string]any{"role": "ADMIN"}, "Authorization", viewer)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("escalation: status = %d, want %d (body %s)", rec.Code, http.StatusForbidden, rec.Body.String())
	}
	if got := errorCode(t, rec); got != model.ErrRoleDenied {
		t.Errorf("code = %q, want %q", got, model.ErrRoleDenied)
	}
	if got := env.sidebar.Role(); got != model.RoleVisualizzatore {
		t.Errorf("sidebar role = %q after refused change, want VISUALIZZATORE", got)
	}
	if v, _, _ := env.session.Get(t.Context(), sidebar.KeyUserRole); v == "ADMIN" {
		t.Error("refused role was persisted")
	}

	// The create that follows is still gated.
	rec = env.do(t, http.MethodPost, "/spa/modules/attivita/records",
		map[string]any{"titolo": "Ricognizione", "carattere": "military"}, "Authorization", viewer)
	if rec.Code != http.StatusForbidden {
		t.Errorf("create after refused change: status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	// Lowering the role, or keeping it, is allowed.
	rec = env.do(t, http.MethodPut, "/spa/role", map[string]any{"role": "GUEST"}, "Authorization", viewer)
	if rec.Code != http.StatusOK {
		t.Errorf("lowering: status = %d, want %d", rec.Code, http.StatusOK)
	}

	admin := bearer("ADMIN")
	rec = env.do(t, http.MethodPut, "/spa/role", map[string]any{"role": "ADMIN"}, "Authorization", admin)
	if rec.Code != http.StatusOK {
		t.Errorf("admin token: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleRecords_tokenRoleCapsSidebarRole(t *testing.T) {
	env, bearer := authedEnv(t, model.RoleAdmin)
	body := map[string]any{"titolo": "Ricognizione", "tipologia": "ricognizione", "carattere": "military"}

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"viewer create", http.MethodPost, "/spa/modules/attivita/records", "VISUALIZZATORE", http.StatusForbidden},
		{"no role claim create", http.MethodPost, "/spa/modules/attivita/records", "", http.StatusForbidden},
		{"operator delete", http.MethodDelete, "/spa/modules/attivita/records/a1", "OPERATORE", http.StatusForbidden},
		{"operator create", http.MethodPost, "/spa/modules/attivita/records", "OPERATORE", http.StatusCreated},
		{"admin delete", http.MethodDelete, "/spa/modules/attivita/records/a1", "ADMIN", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload any
			if tt.method == http.MethodPost {
				payload = body
			}
			rec := env.do(t, tt.method, tt.path, payload, "Authorization", bearer(tt.role))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusForbidden {
				if got := errorCode(t, rec); got != model.ErrRoleDenied {
					t.Errorf("code = %q, want %q", got, model.ErrRoleDenied)
				}
			}
		})
	}
}

func TestHandleMenuClick_tokenRoleCapsSidebarRole(t *testing.T) {
	env, bearer := authedEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/spa/menu/admin_dashboard/click", nil, "Authorization", bearer("OPERATORE"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	rec = env.do(t, http.MethodPost, "/spa/menu/operazioni/click", nil, "Authorization", bearer("OPERATORE"))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestHandleMenu_reorderPinLock(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/spa/menu/reorder", map[string]any{"id": "operazioni", "to": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("reorder: status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := decode[menuView](t, rec).Items[0].ID; got != "operazioni" {
		t.Errorf("first item = %q, want operazioni", got)
	}

	rec = env.do(t, http.MethodPut, "/spa/menu/pin", map[string]any{"enabled": true})
	if !decode[menuView](t, rec).Pinned {
		t.Error("menu not pinned")
	}

	env.do(t, http.MethodPut, "/spa/menu/lock", map[string]any{"enabled": true})
	rec = env.do(t, http.MethodPost, "/spa/menu/reorder", map[string]any{"from": 0, "to": 1})
	if rec.Code != http.StatusConflict {
		t.Errorf("locked reorder: status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestHandleMenu_keyboard(t *testing.T) {
	env := newTestEnv(t, model.RoleVisualizzatore)

	rec := env.do(t, http.MethodPost, "/spa/menu/next", nil)
	if got := decode[menuView](t, rec).Focused; got != "dashboard" {
		t.Errorf("focus after next = %q, want dashboard", got)
	}
	rec = env.do(t, http.MethodPost, "/spa/menu/prev", nil)
	if got := decode[menuView](t, rec).Focused; got != "attivita" {
		t.Errorf("focus after prev = %q, want attivita (wrapped)", got)
	}
}

func TestHandleModules(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodGet, "/spa/modules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decode[[]entity.Snapshot](t, rec); len(got) != 1 || got[0].Kind != model.KindActivity {
		t.Errorf("modules = %+v, want the activity module", got)
	}

	rec = env.do(t, http.MethodPut, "/spa/modules/attivita/query", map[string]any{"search": "addestramento", "sort": "titolo"})
	if rec.Code != http.StatusOK {
		t.Fatalf("query: status = %d, want %d", rec.Code, http.StatusOK)
	}
	snap := decode[struct {
		View    entity.State     `json:"view"`
		Records []model.Activity `json:"records"`
	}](t, rec)
	if snap.View.Shown != 2 || snap.View.Total != 4 {
		t.Errorf("shown=%d total=%d, want 2 of 4", snap.View.Shown, snap.View.Total)
	}
	if len(snap.Records) != 2 || snap.Records[0].ID != "a4" {
		t.Errorf("records = %+v, want a4 (Addestramento notturno) first", snap.Records)
	}

	if rec := env.do(t, http.MethodGet, "/spa/modules/enti-civili", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unconfigured module: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec := env.do(t, http.MethodGet, "/spa/modules/bogus", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown kind: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleRecords_roleGated(t *testing.T) {
	env := newTestEnv(t, model.RoleOperatore)

	rec := env.do(t, http.MethodPost, "/spa/modules/attivita/records", map[string]any{
		"titolo": "Ricognizione", "tipologia": "ricognizione", "carattere": "military",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	created := decode[model.Activity](t, rec)
	if created.ID == "" {
		t.Error("created record has no id")
	}
	if got := env.activity.View().State().Total; got != 5 {
		t.Errorf("total after create = %d, want 5", got)
	}

	rec = env.do(t, http.MethodPut, "/spa/modules/attivita/records/a2", map[string]any{"titolo": "Soccorso neve", "tipologia": "soccorso"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = env.do(t, http.MethodDelete, "/spa/modules/attivita/records/a1", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("delete as OPERATORE: status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if got := errorCode(t, rec); got != model.ErrRoleDenied {
		t.Errorf("code = %q, want %q", got, model.ErrRoleDenied)
	}
	if got := env.activity.View().State().Total; got != 5 {
		t.Errorf("denied delete changed the total to %d", got)
	}
	toasts := env.doc.Toasts()
	if len(toasts) == 0 || toasts[len(toasts)-1].Level != document.ToastWarning {
		t.Errorf("toasts = %+v, want a warning for the denied delete", toasts)
	}

	rec = env.do(t, http.MethodPost, "/spa/modules/attivita/records", `{"titolo": 5}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid record: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleRecords_adminDeletes(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	if rec := env.do(t, http.MethodDelete, "/spa/modules/attivita/records/a1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec := env.do(t, http.MethodDelete, "/spa/modules/attivita/records/a1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleDashboard(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodGet, "/spa/dashboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	view := decode[chart.View](t, rec)
	if view.Series == nil || view.Series.Total != 4 {
		t.Fatalf("series = %+v, want 4 activities", view.Series)
	}
	if view.Series.Points[0].Label != "addestramento" || view.Series.Points[0].Count != 2 {
		t.Errorf("first point = %+v, want addestramento x2", view.Series.Points[0])
	}

	rec = env.do(t, http.MethodPost, "/spa/dashboard/select", map[string]any{"label": "addestramento"})
	if got := decode[chart.View](t, rec).Position.Level; got != chart.LevelEntities {
		t.Errorf("level after select = %d, want %d", got, chart.LevelEntities)
	}

	rec = env.do(t, http.MethodPut, "/spa/dashboard/character", map[string]any{"character": "civilian"})
	if got := decode[chart.View](t, rec).Series.Total; got != 0 {
		t.Errorf("civilian addestramento total = %d, want 0", got)
	}

	rec = env.do(t, http.MethodPost, "/spa/dashboard/reset", nil)
	if got := decode[chart.View](t, rec).Position.Level; got != chart.LevelTypes {
		t.Errorf("level after reset = %d, want 0", got)
	}
}

func TestHandleDashboard_invalidInput(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"level without category", http.MethodPut, "/spa/dashboard/level", map[string]any{"level": 1}},
		{"level out of range", http.MethodPut, "/spa/dashboard/level", map[string]any{"level": 7}},
		{"unknown period", http.MethodPut, "/spa/dashboard/period", map[string]any{"period": "decade"}},
		{"unknown character", http.MethodPut, "/spa/dashboard/character", map[string]any{"character": "alien"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleSelect(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/spa/selects/ente/search", map[string]any{"query": "VER"})
	if rec.Code != http.StatusOK {
		t.Fatalf("search: status = %d, want %d", rec.Code, http.StatusOK)
	}
	st := decode[widget.State](t, rec)
	if len(st.Options) != 1 || st.Options[0].Value != "ec-1" || !st.Open {
		t.Fatalf("state = %+v, want only ec-1 and open", st)
	}

	rec = env.do(t, http.MethodPost, "/spa/selects/ente/key", map[string]any{"key": "Enter"})
	st = decode[widget.State](t, rec)
	if st.Selected == nil || st.Selected.Value != "ec-1" {
		t.Fatalf("selected = %+v, want ec-1", st.Selected)
	}
	if _, ok, _ := env.session.Get(t.Context(), widget.KeyPrefix+"ente"); !ok {
		t.Error("selection not persisted")
	}

	rec = env.do(t, http.MethodPut, "/spa/selects/ente/selection", map[string]any{"value": "zz"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown option: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = env.do(t, http.MethodDelete, "/spa/selects/ente/selection", nil)
	if decode[widget.State](t, rec).Selected != nil {
		t.Error("selection not cleared")
	}

	if rec := env.do(t, http.MethodGet, "/spa/selects/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown select: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, model.RoleAdmin)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
