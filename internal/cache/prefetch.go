package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/talonops/talon/model"
)

// Prefetch holds payloads fetched ahead of a navigation. Each entry is
// consumed by the first Take.
type Prefetch struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewPrefetch creates a Prefetch cache whose entries expire after ttl.
func NewPrefetch(ttl time.Duration) *Prefetch {
	cleanup := ttl
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Prefetch{items: gocache.New(ttl, cleanup)}
}

// Put stores payload for url, replacing any previous entry.
func (p *Prefetch) Put(url string, payload *model.ContentPayload) {
	p.items.SetDefault(url, payload)
}

// Has reports whether an unexpired entry exists for url without consuming it.
func (p *Prefetch) Has(url string) bool {
	_, ok := p.items.Get(url)
	return ok
}

// Take returns and removes the entry for url.
func (p *Prefetch) Take(url string) (*model.ContentPayload, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.items.Get(url)
	if !ok {
		return nil, false
	}
	p.items.Delete(url)
	payload, ok := v.(*model.ContentPayload)
	return payload, ok
}

// Delete removes the entry for url.
func (p *Prefetch) Delete(url string) {
	p.items.Delete(url)
}

// DeleteFunc removes every entry whose url matches and returns the number
// removed.
func (p *Prefetch) DeleteFunc(match func(url string) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k := range p.items.Items() {
		if match(k) {
			p.items.Delete(k)
			n++
		}
	}
	return n
}

// Clear removes every entry.
func (p *Prefetch) Clear() {
	p.items.Flush()
}

// Len returns the number of unexpired entries.
func (p *Prefetch) Len() int {
	return len(p.items.Items())
}
