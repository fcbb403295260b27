package model

import (
	"encoding/json"
	"testing"
)

func TestContentPayload_decodeJSON(t *testing.T) {
	raw := `{
		"success": true,
		"content": "<p>ok</p>",
		"breadcrumb": "<li>Home</li>",
		"title": "Attività",
		"additional_css": ["/static/css/attivita.css"],
		"additional_js": ["/static/js/attivita.js"],
		"scripts": [{"src": "/static/js/a.js", "defer": true}, {"content": "init()"}],
		"flash_messages": [["success", "Salvato"], {"category": "error", "message": "Errore"}]
	}`

	var p ContentPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if p.Body() != "<p>ok</p>" {
		t.Errorf("Body() = %q, want content", p.Body())
	}
	if !p.Succeeded() {
		t.Error("Succeeded() = false, want true")
	}
	if len(p.FlashMessages) != 2 {
		t.Fatalf("len(FlashMessages) = %d, want 2", len(p.FlashMessages))
	}
	if p.FlashMessages[0] != (FlashMessage{Category: "success", Message: "Salvato"}) {
		t.Errorf("FlashMessages[0] = %+v", p.FlashMessages[0])
	}
	if p.FlashMessages[1] != (FlashMessage{Category: "error", Message: "Errore"}) {
		t.Errorf("FlashMessages[1] = %+v", p.FlashMessages[1])
	}
	if !p.Scripts[0].IsExternal() || !p.Scripts[0].Defer {
		t.Errorf("Scripts[0] = %+v, want external deferred", p.Scripts[0])
	}
	if p.Scripts[1].IsExternal() {
		t.Errorf("Scripts[1] = %+v, want inline", p.Scripts[1])
	}
}

func TestContentPayload_bodyPrefersHTML(t *testing.T) {
	p := ContentPayload{HTML: "<main>a</main>", Content: "b"}
	if p.Body() != "<main>a</main>" {
		t.Errorf("Body() = %q", p.Body())
	}
}

func TestContentPayload_Succeeded(t *testing.T) {
	f := false
	p := ContentPayload{Success: &f, Error: "boom"}
	if p.Succeeded() {
		t.Error("Succeeded() = true for success:false")
	}
	if !(&ContentPayload{}).Succeeded() {
		t.Error("missing success flag should count as success")
	}
}

func TestRedirectPayload(t *testing.T) {
	p := RedirectPayload("/login?next=%2Fattivita")
	if !p.IsRedirect() {
		t.Fatal("IsRedirect() = false")
	}
	if p.Redirect != "/login?next=%2Fattivita" {
		t.Errorf("Redirect = %q", p.Redirect)
	}
}

func TestFlashMessage_UnmarshalJSON_invalid(t *testing.T) {
	var f FlashMessage
	if err := json.Unmarshal([]byte(`["a","b","c"]`), &f); err == nil {
		t.Error("expected error for three-element pair")
	}
	if err := json.Unmarshal([]byte(`42`), &f); err == nil {
		t.Error("expected error for number")
	}
	if err := json.Unmarshal([]byte(`["solo"]`), &f); err != nil {
		t.Fatalf("single element: %v", err)
	}
	if f.Category != "info" || f.Message != "solo" {
		t.Errorf("single element = %+v, want info/solo", f)
	}
}
