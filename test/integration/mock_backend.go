package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTalon is an HTTP test server that plays the TALON web application.
// It serves server-rendered pages and the entity REST API, and records
// every request it receives for later assertion.
type MockTalon struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.RWMutex
	pages    map[string]*pageConfig
	records  map[string][]map[string]any
	apiFault map[string]int
	received []*RecordedRequest
	nextID   int
}

// RecordedRequest captures the details of a request received by the mock.
type RecordedRequest struct {
	Method     string
	Path       string
	Query      string
	Headers    http.Header
	RawBody    []byte
	ReceivedAt time.Time
}

type pageConfig struct {
	status int
	title  string
	main   string
	delay  time.Duration
}

// newMockTalon creates the mock with the default pages and starts it.
func newMockTalon(t *testing.T) *MockTalon {
	t.Helper()

	m := &MockTalon{
		t:        t,
		pages:    make(map[string]*pageConfig),
		records:  make(map[string][]map[string]any),
		apiFault: make(map[string]int),
	}
	for path, title := range map[string]string{
		"/dashboard":       "Dashboard",
		"/attivita":        "Elenco attività",
		"/operazioni":      "Operazioni",
		"/enti-civili":     "Enti civili",
		"/enti-militari":   "Enti militari",
		"/admin/dashboard": "Statistiche",
	} {
		m.pages[path] = &pageConfig{status: http.StatusOK, title: title, main: "<h1>" + title + "</h1>"}
	}
	m.records["attivita"] = []map[string]any{
		ActivityFixture("a1", "Addestramento tiro", "military"),
		ActivityFixture("a2", "Soccorso alluvione", "civilian"),
	}
	m.records["enti_civili"] = []map[string]any{{"id": "ec-1", "nome": "Protezione civile Verona"}}
	m.records["enti_militari"] = []map[string]any{{"id": "em-1", "nome": "1° Reggimento"}}
	m.records["operazioni"] = []map[string]any{{"id": "op-1", "nome": "Strade sicure"}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/{kind}/list", m.handleList)
	mux.HandleFunc("GET /api/{kind}/search", m.handleSearch)
	mux.HandleFunc("POST /api/{kind}/create", m.handleCreate)
	mux.HandleFunc("PUT /api/{kind}/update/{id}", m.handleUpdate)
	mux.HandleFunc("DELETE /api/{kind}/delete/{id}", m.handleDelete)
	mux.HandleFunc("/", m.handlePage)

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.record(r)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the origin of the mock server.
func (m *MockTalon) URL() string {
	return m.server.URL
}

// OnPage configures the response for a page path.
func (m *MockTalon) OnPage(path string, status int, main string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	title := strings.TrimPrefix(path, "/")
	if p, ok := m.pages[path]; ok {
		title = p.title
	}
	m.pages[path] = &pageConfig{status: status, title: title, main: main}
}

// DelayPage makes the page at path answer only after d.
func (m *MockTalon) DelayPage(path string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pages[path]; ok {
		p.delay = d
	}
}

// FailAPI makes every API call for kind answer with status. A zero status
// restores normal answers.
func (m *MockTalon) FailAPI(kind string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == 0 {
		delete(m.apiFault, kind)
		return
	}
	m.apiFault[kind] = status
}

// Requests returns the recorded requests for method and path. An empty
// method matches every method.
func (m *MockTalon) Requests(method, path string) []*RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*RecordedRequest
	for _, r := range m.received {
		if r.Path == path && (method == "" || r.Method == method) {
			out = append(out, r)
		}
	}
	return out
}

// Hits returns the number of GET requests received for a page path.
func (m *MockTalon) Hits(path string) int {
	return len(m.Requests(http.MethodGet, path))
}

func (m *MockTalon) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(strings.NewReader(string(body)))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, &RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		Headers:    r.Header.Clone(),
		RawBody:    body,
		ReceivedAt: time.Now(),
	})
}

func (m *MockTalon) handlePage(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	p, ok := m.pages[r.URL.Path]
	var cfg pageConfig
	if ok {
		cfg = *p
	}
	m.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if cfg.delay > 0 {
		select {
		case <-time.After(cfg.delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(cfg.status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body>
<nav class="breadcrumb">Home / %s</nav>
<div id="flash-messages"></div>
<main id="main-content">%s</main>
</body>
</html>`, cfg.title, cfg.title, cfg.main)
}

func (m *MockTalon) fault(w http.ResponseWriter, kind string) bool {
	m.mu.RLock()
	status := m.apiFault[kind]
	m.mu.RUnlock()
	if status == 0 {
		return false
	}
	writeAPI(w, status, map[string]any{"success": false, "error": "mock failure"})
	return true
}

func (m *MockTalon) handleList(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if m.fault(w, kind) {
		return
	}
	m.mu.RLock()
	list := append([]map[string]any(nil), m.records[kind]...)
	m.mu.RUnlock()
	writeAPI(w, http.StatusOK, map[string]any{"success": true, "data": list})
}

func (m *MockTalon) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if m.fault(w, kind) {
		return
	}
	var rec map[string]any
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeAPI(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	m.mu.Lock()
	m.nextID++
	rec["id"] = fmt.Sprintf("%s-%d", kind, m.nextID)
	m.records[kind] = append(m.records[kind], rec)
	m.mu.Unlock()
	writeAPI(w, http.StatusCreated, map[string]any{"success": true, "data": rec})
}

func (m *MockTalon) handleSearch(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if m.fault(w, kind) {
		return
	}
	q := strings.ToLower(r.URL.Query().Get("q"))
	m.mu.RLock()
	var out []map[string]any
	for _, rec := range m.records[kind] {
		data, _ := json.Marshal(rec)
		if strings.Contains(strings.ToLower(string(data)), q) {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()
	writeAPI(w, http.StatusOK, map[string]any{"success": true, "data": out})
}

// indexOf returns the position of record id within kind, or -1. The
// caller holds m.mu.
func (m *MockTalon) indexOf(kind, id string) int {
	for i, rec := range m.records[kind] {
		if rec["id"] == id {
			return i
		}
	}
	return -1
}

func (m *MockTalon) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kind, id := r.PathValue("kind"), r.PathValue("id")
	if m.fault(w, kind) {
		return
	}
	var rec map[string]any
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeAPI(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOf(kind, id)
	if idx < 0 {
		writeAPI(w, http.StatusNotFound, map[string]any{"success": false, "error": "not found"})
		return
	}
	rec["id"] = id
	m.records[kind][idx] = rec
	writeAPI(w, http.StatusOK, map[string]any{"success": true, "data": rec})
}

func (m *MockTalon) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, id := r.PathValue("kind"), r.PathValue("id")
	if m.fault(w, kind) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOf(kind, id)
	if idx < 0 {
		writeAPI(w, http.StatusNotFound, map[string]any{"success": false, "error": "not found"})
		return
	}
	m.records[kind] = append(m.records[kind][:idx], m.records[kind][idx+1:]...)
	writeAPI(w, http.StatusOK, map[string]any{"success": true})
}

func writeAPI(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// ActivityFixture returns an activity as the REST API serves it, dated
// today so it falls in every dashboard period.
func ActivityFixture(id, title, character string) map[string]any {
	return map[string]any{
		"id":        id,
		"titolo":    title,
		"tipologia": "addestramento",
		"ente_id":   "em-1",
		"ente_nome": "1° Reggimento",
		"carattere": character,
		"stato":     "completata",
		"data":      time.Now().UTC().Format(time.RFC3339),
	}
}
