// Package cache provides the bounded, time-limited caches used by the
// navigation engine.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Policy selects which entry is evicted when the cache is full.
type Policy int

const (
	// InsertionOrder evicts the entry with the oldest write timestamp. Reads
	// do not refresh an entry.
	InsertionOrder Policy = iota
	// Recency evicts the least recently read or written entry.
	Recency
)

type entry[V any] struct {
	value   V
	created time.Time
}

// Timed is a capacity-bounded cache whose entries expire TTL after they were
// written. It is safe for concurrent use.
type Timed[K comparable, V any] struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[K, entry[V]]
	ttl    time.Duration
	policy Policy
	now    func() time.Time

	onAccess func(hit bool)
	onEvict  func(key K)
}

// Option configures a Timed cache.
type Option[K comparable, V any] func(*Timed[K, V])

// WithPolicy sets the eviction policy. The default is InsertionOrder.
func WithPolicy[K comparable, V any](p Policy) Option[K, V] {
	return func(t *Timed[K, V]) { t.policy = p }
}

// WithClock overrides the time source.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(t *Timed[K, V]) { t.now = now }
}

// WithAccessHook installs a callback invoked on every Get with the outcome.
func WithAccessHook[K comparable, V any](fn func(hit bool)) Option[K, V] {
	return func(t *Timed[K, V]) { t.onAccess = fn }
}

// WithEvictHook installs a callback invoked whenever an entry leaves the
// cache, whether by capacity pressure, expiry, Delete or Clear.
func WithEvictHook[K comparable, V any](fn func(key K)) Option[K, V] {
	return func(t *Timed[K, V]) { t.onEvict = fn }
}

// New creates a Timed cache holding at most maxEntries entries. A ttl of
// zero disables expiry.
func New[K comparable, V any](maxEntries int, ttl time.Duration, opts ...Option[K, V]) (*Timed[K, V], error) {
	t := &Timed[K, V]{
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	l, err := simplelru.NewLRU[K, entry[V]](maxEntries, func(key K, _ entry[V]) {
		if t.onEvict != nil {
			t.onEvict(key)
		}
	})
	if err != nil {
		return nil, err
	}
	t.lru = l
	return t, nil
}

// Get returns the value for key. Expired entries are removed and reported
// as misses.
func (t *Timed[K, V]) Get(key K) (V, bool) {
	t.mu.Lock()
	v, ok := t.get(key)
	t.mu.Unlock()

	if t.onAccess != nil {
		t.onAccess(ok)
	}
	return v, ok
}

func (t *Timed[K, V]) get(key K) (V, bool) {
	var zero V
	var (
		e  entry[V]
		ok bool
	)
	if t.policy == Recency {
		e, ok = t.lru.Get(key)
	} else {
		e, ok = t.lru.Peek(key)
	}
	if !ok {
		return zero, false
	}
	if t.expired(e) {
		t.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Has reports whether a fresh entry exists for key without counting as an
// access.
func (t *Timed[K, V]) Has(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.lru.Peek(key)
	return ok && !t.expired(e)
}

// Set stores value under key with the current timestamp. Writing an existing
// key refreshes its timestamp. When the cache is full the policy's victim is
// evicted.
func (t *Timed[K, V]) Set(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Add(key, entry[V]{value: value, created: t.now()})
}

// Delete removes key and reports whether it was present.
func (t *Timed[K, V]) Delete(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Remove(key)
}

// DeleteFunc removes every key for which match returns true and returns the
// number removed.
func (t *Timed[K, V]) DeleteFunc(match func(key K) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, k := range t.lru.Keys() {
		if match(k) {
			t.lru.Remove(k)
			n++
		}
	}
	return n
}

// EvictOldest removes the policy's next victim and returns its key.
func (t *Timed[K, V]) EvictOldest() (K, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k, _, ok := t.lru.RemoveOldest()
	return k, ok
}

// Clear removes every entry.
func (t *Timed[K, V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Purge()
}

// Len returns the number of stored entries, expired ones included until
// they are read or pruned.
func (t *Timed[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

// Keys returns the stored keys from oldest to newest.
func (t *Timed[K, V]) Keys() []K {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Keys()
}

// Prune removes expired entries and returns how many were removed.
func (t *Timed[K, V]) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, k := range t.lru.Keys() {
		if e, ok := t.lru.Peek(k); ok && t.expired(e) {
			t.lru.Remove(k)
			n++
		}
	}
	return n
}

func (t *Timed[K, V]) expired(e entry[V]) bool {
	return t.ttl > 0 && t.now().Sub(e.created) > t.ttl
}
