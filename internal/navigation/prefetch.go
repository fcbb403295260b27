package navigation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/intercept"
	"github.com/talonops/talon/internal/observability"
)

const defaultRequestTimeout = 10 * time.Second

// HoverStart schedules a prefetch of the anchor's target once the pointer has
// rested on it for the debounce interval. Hovering the same target again
// restarts the interval. It reports whether a prefetch was scheduled.
func (e *Engine) HoverStart(a intercept.Anchor) bool {
	target, ok := e.prefetchTarget(a)
	if !ok {
		return false
	}

	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if e.closed {
		return false
	}
	if prev, ok := e.hover[target]; ok {
		prev.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(e.cfg.Prefetch.Debounce, func() {
		e.timersMu.Lock()
		if e.hover[target] != timer {
			e.timersMu.Unlock()
			return
		}
		delete(e.hover, target)
		e.timersMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout())
		defer cancel()
		_, _ = e.prefetchURL(ctx, target, TriggerHover)
	})
	e.hover[target] = timer
	return true
}

// HoverEnd cancels a pending hover prefetch for the anchor's target.
func (e *Engine) HoverEnd(a intercept.Anchor) {
	e.cancelHover(a.Href)
}

// TouchStart prefetches the anchor's target immediately.
func (e *Engine) TouchStart(ctx context.Context, a intercept.Anchor) error {
	target, ok := e.prefetchTarget(a)
	if !ok {
		return nil
	}
	e.cancelHover(target)
	_, err := e.prefetchURL(ctx, target, TriggerTouch)
	return err
}

// Prefetch fetches rawURL into the prefetch cache unless a fresh copy is
// already cached.
func (e *Engine) Prefetch(ctx context.Context, rawURL string) error {
	target, err := e.resolve(rawURL)
	if err != nil {
		return err
	}
	_, err = e.prefetchURL(ctx, target, TriggerAPI)
	return err
}

// Warm prefetches urls one after another and returns how many were stored.
// Failures are logged and skipped.
func (e *Engine) Warm(ctx context.Context, urls []string) int {
	stored := 0
	for _, raw := range urls {
		if ctx.Err() != nil {
			break
		}
		target, err := e.resolve(raw)
		if err != nil {
			continue
		}
		ok, err := e.prefetchURL(ctx, target, TriggerWarm)
		if err != nil {
			e.logger.Warn("cache warm-up failed",
				zap.String("url", observability.RedactURL(target)),
				zap.Error(err),
			)
			continue
		}
		if ok {
			stored++
		}
	}
	e.logger.Info("cache warmed", zap.Int("requested", len(urls)), zap.Int("stored", stored))
	return stored
}

// prefetchURL fetches target into the prefetch cache and reports whether a
// payload was stored.
func (e *Engine) prefetchURL(ctx context.Context, target, trigger string) (stored bool, err error) {
	if e.isAlwaysForce(target) || target == e.current() || e.cache.Has(target) || e.prefetch.Has(target) {
		e.metrics.RecordPrefetch(trigger, "skipped")
		return false, nil
	}

	ctx, span := observability.StartSpan(ctx, "navigation.prefetch",
		observability.AttrURL.String(observability.RedactURL(target)),
		observability.AttrTrigger.String(trigger),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	gen := e.generation()
	p, err := e.fetcher.Fetch(ctx, target)
	if err != nil {
		e.metrics.RecordPrefetch(trigger, "error")
		e.logger.Debug("prefetch failed",
			zap.String("url", observability.RedactURL(target)),
			zap.Error(err),
		)
		return false, err
	}
	if p.IsRedirect() || !p.Succeeded() {
		e.metrics.RecordPrefetch(trigger, "discarded")
		return false, nil
	}

	if !e.storePrefetch(target, p, gen) {
		e.metrics.RecordPrefetch(trigger, "stale")
		e.logger.Debug("prefetch dropped after cache invalidation",
			zap.String("url", observability.RedactURL(target)),
		)
		return false, nil
	}
	e.metrics.SetCacheEntries(cachePrefetch, e.prefetch.Len())
	e.metrics.RecordPrefetch(trigger, "stored")
	e.logger.Debug("prefetched",
		zap.String("url", observability.RedactURL(target)),
		zap.String("trigger", trigger),
	)
	return true, nil
}

func (e *Engine) prefetchTarget(a intercept.Anchor) (string, bool) {
	if !e.cfg.Prefetch.Enabled {
		return "", false
	}
	if e.rules.CheckLink(a, e.doc.Location()) != intercept.Intercepted {
		return "", false
	}
	target, err := e.resolve(a.Href)
	if err != nil {
		return "", false
	}
	return target, true
}

func (e *Engine) cancelHover(raw string) {
	target, err := e.resolve(raw)
	if err != nil {
		return
	}
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if t, ok := e.hover[target]; ok {
		t.Stop()
		delete(e.hover, target)
	}
}

// PendingHovers returns the number of scheduled hover prefetches.
func (e *Engine) PendingHovers() int {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	return len(e.hover)
}

func (e *Engine) requestTimeout() time.Duration {
	if e.cfg.RequestTimeout > 0 {
		return e.cfg.RequestTimeout
	}
	return defaultRequestTimeout
}
