package model

import (
	"encoding/json"
	"fmt"
)

// ContentPayload is the resolved content for a navigation target. It is either
// an HTML-fragment payload (IsHTML) parsed from a server-rendered page, or a
// JSON payload returned by an SPA-aware endpoint.
type ContentPayload struct {
	IsHTML bool `json:"-"`

	HTML       string `json:"html,omitempty"`
	Content    string `json:"content,omitempty"`
	Breadcrumb string `json:"breadcrumb,omitempty"`
	Title      string `json:"title,omitempty"`

	// FlashHTML is a pre-rendered flash region. FlashMessages is the structured
	// alternative sent by JSON endpoints as [category, message] pairs.
	FlashHTML     string         `json:"flashMessages,omitempty"`
	FlashMessages []FlashMessage `json:"flash_messages,omitempty"`

	Scripts       []Script `json:"scripts,omitempty"`
	AdditionalCSS []string `json:"additional_css,omitempty"`
	AdditionalJS  []string `json:"additional_js,omitempty"`

	Redirect string `json:"redirect,omitempty"`
	Success  *bool  `json:"success,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Body returns the main-content markup, preferring HTML over Content.
func (p *ContentPayload) Body() string {
	if p.HTML != "" {
		return p.HTML
	}
	return p.Content
}

// Succeeded reports whether the payload is cacheable. A missing success flag
// counts as success.
func (p *ContentPayload) Succeeded() bool {
	return p.Success == nil || *p.Success
}

// IsRedirect reports whether the payload only carries a follow-up target.
func (p *ContentPayload) IsRedirect() bool {
	return p.Redirect != ""
}

// RedirectPayload builds a payload that short-circuits to target.
func RedirectPayload(target string) *ContentPayload {
	return &ContentPayload{Redirect: target}
}

// Script is a <script> element collected from the main-content region.
// Exactly one of Src and Content is set.
type Script struct {
	Src     string `json:"src,omitempty"`
	Content string `json:"content,omitempty"`
	Type    string `json:"type,omitempty"`
	Async   bool   `json:"async,omitempty"`
	Defer   bool   `json:"defer,omitempty"`
}

// IsExternal reports whether the script is loaded from a URL.
func (s Script) IsExternal() bool {
	return s.Src != ""
}

// FlashMessage is a single (category, message) notification.
type FlashMessage struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// UnmarshalJSON accepts both the pair form ["success", "Saved"] and the object
// form {"category": "success", "message": "Saved"}.
func (f *FlashMessage) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		switch len(pair) {
		case 2:
			f.Category, f.Message = pair[0], pair[1]
		case 1:
			f.Category, f.Message = "info", pair[0]
		default:
			return fmt.Errorf("flash message: expected [category, message], got %d elements", len(pair))
		}
		return nil
	}

	type plain FlashMessage
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("flash message: %w", err)
	}
	*f = FlashMessage(obj)
	return nil
}
