package fetch

import (
	"fmt"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/talonops/talon/internal/config"
	"github.com/talonops/talon/model"
)

// ParseHTML extracts an HTML-fragment payload from a full server-rendered
// page. The main region's markup becomes the payload body with its <script>
// elements lifted out into Scripts, in document order. When the main region
// is missing the whole <body> is used.
func ParseHTML(r io.Reader, sel config.SelectorConfig) (*model.ContentPayload, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	payload := &model.ContentPayload{IsHTML: true}

	if t := findFirstByTag(doc, atom.Title); t != nil {
		payload.Title = textContent(t)
	}

	main := querySelector(doc, sel.MainContent)
	if main == nil {
		main = findFirstByTag(doc, atom.Body)
	}
	if main != nil {
		payload.HTML = innerHTML(main, isScript)
		payload.Scripts = collectScripts(main)
	}

	if sel.Breadcrumb != "" {
		if n := querySelector(doc, sel.Breadcrumb); n != nil {
			payload.Breadcrumb = innerHTML(n, nil)
		}
	}
	if sel.Flash != "" {
		if n := querySelector(doc, sel.Flash); n != nil {
			payload.FlashHTML = innerHTML(n, nil)
		}
	}

	return payload, nil
}

func isScript(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.Script
}

func collectScripts(root *html.Node) []model.Script {
	var scripts []model.Script
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if isScript(n) {
			s := model.Script{
				Src:   getAttr(n, "src"),
				Type:  getAttr(n, "type"),
				Async: hasAttr(n, "async"),
				Defer: hasAttr(n, "defer"),
			}
			if s.Src == "" {
				s.Content = textContent(n)
			}
			if s.Src != "" || s.Content != "" {
				scripts = append(scripts, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return scripts
}
