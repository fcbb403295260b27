// Package intercept decides which link clicks and form submissions the SPA
// engine handles and which stay on native browser navigation.
package intercept

import (
	"net/url"
	"path"
	"strings"

	"github.com/talonops/talon/internal/config"
)

// Default attribute names.
const (
	OptOutAttr = "data-no-spa"
)

var toggleAttrs = []string{"data-bs-toggle", "data-toggle"}

// Reason explains why a link or form is left to native navigation. The zero
// value means the element is intercepted.
type Reason string

const (
	Intercepted   Reason = ""
	NoHref        Reason = "no_href"
	OptedOut      Reason = "opted_out"
	Download      Reason = "download"
	Toggle        Reason = "toggle"
	OtherTarget   Reason = "target"
	CrossOrigin   Reason = "cross_origin"
	NonHTTPScheme Reason = "scheme"
	ExcludedPath  Reason = "excluded_path"
	BinaryFile    Reason = "binary_file"
	HashAnchor    Reason = "hash_anchor"
	FileUpload    Reason = "file_upload"
	NonGETMethod  Reason = "method"
)

// Anchor is the subset of an <a> element the interceptor inspects.
type Anchor struct {
	Href     string
	Target   string
	Download bool
	// Attrs holds the remaining attributes, such as data-no-spa or
	// data-bs-toggle. Presence matters, not value.
	Attrs map[string]string
}

// Field is a form control.
type Field struct {
	Name  string
	Value string
	Type  string
}

// Form is the subset of a <form> element the interceptor inspects.
type Form struct {
	Action string
	Method string
	Attrs  map[string]string
	Fields []Field
}

// Rules holds the interception rules.
type Rules struct {
	excludedPaths    []string
	binaryExtensions map[string]bool
}

// NewRules builds Rules from configuration.
func NewRules(cfg config.InterceptConfig) *Rules {
	r := &Rules{
		excludedPaths:    append([]string(nil), cfg.ExcludedPaths...),
		binaryExtensions: make(map[string]bool, len(cfg.BinaryExtensions)),
	}
	for _, ext := range cfg.BinaryExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.binaryExtensions[ext] = true
	}
	return r
}

// ShouldInterceptLink reports whether a click on a should be handled by the
// SPA engine given the current page location.
func (r *Rules) ShouldInterceptLink(a Anchor, location *url.URL) bool {
	return r.CheckLink(a, location) == Intercepted
}

// CheckLink returns the reason a is left to native navigation, or
// Intercepted.
func (r *Rules) CheckLink(a Anchor, location *url.URL) Reason {
	href := strings.TrimSpace(a.Href)
	if href == "" {
		return NoHref
	}
	if hasAttr(a.Attrs, OptOutAttr) {
		return OptedOut
	}
	if a.Download || hasAttr(a.Attrs, "download") {
		return Download
	}
	for _, attr := range toggleAttrs {
		if hasAttr(a.Attrs, attr) {
			return Toggle
		}
	}
	if a.Target != "" && a.Target != "_self" {
		return OtherTarget
	}

	target, err := location.Parse(href)
	if err != nil {
		return NonHTTPScheme
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return NonHTTPScheme
	}
	if !sameOrigin(target, location) {
		return CrossOrigin
	}
	if r.isExcluded(target.Path) {
		return ExcludedPath
	}
	if r.isBinary(target.Path) {
		return BinaryFile
	}
	if target.Fragment != "" || strings.HasPrefix(href, "#") {
		if target.Path == location.Path && target.RawQuery == location.RawQuery {
			return HashAnchor
		}
	}
	return Intercepted
}

// ShouldInterceptForm reports whether submitting f should be handled by the
// SPA engine.
func (r *Rules) ShouldInterceptForm(f Form) bool {
	return r.CheckForm(f) == Intercepted
}

// CheckForm returns the reason f is left to native submission, or
// Intercepted.
func (r *Rules) CheckForm(f Form) Reason {
	if hasAttr(f.Attrs, OptOutAttr) {
		return OptedOut
	}
	for _, field := range f.Fields {
		if strings.EqualFold(field.Type, "file") {
			return FileUpload
		}
	}
	if m := strings.ToUpper(strings.TrimSpace(f.Method)); m != "" && m != "GET" {
		return NonGETMethod
	}
	return Intercepted
}

// FormURL resolves the form action against location and encodes the fields
// as the query string, replacing any query the action carried.
func FormURL(f Form, location *url.URL) (string, error) {
	target, err := location.Parse(f.Action)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	for _, field := range f.Fields {
		if field.Name == "" || strings.EqualFold(field.Type, "file") {
			continue
		}
		q.Add(field.Name, field.Value)
	}
	target.RawQuery = q.Encode()
	target.Fragment = ""
	return target.String(), nil
}

func (r *Rules) isExcluded(p string) bool {
	for _, ex := range r.excludedPaths {
		if ex != "" && strings.Contains(p, ex) {
			return true
		}
	}
	return false
}

func (r *Rules) isBinary(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext != "" && r.binaryExtensions[ext]
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func hasAttr(attrs map[string]string, name string) bool {
	_, ok := attrs[name]
	return ok
}
