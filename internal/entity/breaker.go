package entity

import (
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	// BreakerClosed lets every request through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen lets trial requests through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// minErrorRateSamples is the fewest calls in a window before the error rate
// is evaluated.
const minErrorRateSamples = 10

// CircuitBreaker guards one entity backend. It trips on consecutive
// failures or on the error rate within a tumbling window. It is safe for
// concurrent use.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openedAt         time.Time

	errorRateThreshold float64
	errorRateWindow    time.Duration
	windowStart        time.Time
	windowTotal        int
	windowFailures     int

	now      func() time.Time
	onChange func(BreakerState)
}

// BreakerSettings configures a CircuitBreaker. Zero values select the
// defaults: 5 failures, 2 successes, 30s cool-down, no error-rate trip.
type BreakerSettings struct {
	FailureThreshold   int
	SuccessThreshold   int
	Timeout            time.Duration
	ErrorRateThreshold float64
	ErrorRateWindow    time.Duration
	// OnChange is called, with the lock held, on every state transition.
	OnChange func(BreakerState)
	Now      func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(s BreakerSettings) *CircuitBreaker {
	if s.FailureThreshold < 1 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold < 1 {
		s.SuccessThreshold = 2
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &CircuitBreaker{
		state:              BreakerClosed,
		failureThreshold:   s.FailureThreshold,
		successThreshold:   s.SuccessThreshold,
		timeout:            s.Timeout,
		errorRateThreshold: s.ErrorRateThreshold,
		errorRateWindow:    s.ErrorRateWindow,
		windowStart:        s.Now(),
		now:                s.Now,
		onChange:           s.OnChange,
	}
}

// Allow reports whether a request may proceed. An open breaker whose
// cool-down has elapsed moves to half-open and allows a trial request.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state != BreakerOpen
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.recordWindowCall(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.resetWindow()
			cb.setState(BreakerClosed)
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.recordWindowCall(true)
		if cb.failures >= cb.failureThreshold || cb.errorRateExceeded() {
			cb.open()
		}
	case BreakerHalfOpen:
		cb.successes = 0
		cb.open()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.resetWindow()
	cb.setState(BreakerOpen)
}

func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.timeout {
		cb.successes = 0
		cb.setState(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onChange != nil {
		cb.onChange(s)
	}
}

func (cb *CircuitBreaker) recordWindowCall(failed bool) {
	if cb.errorRateWindow <= 0 {
		return
	}
	if cb.now().Sub(cb.windowStart) > cb.errorRateWindow {
		cb.resetWindow()
	}
	cb.windowTotal++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.now()
	cb.windowTotal = 0
	cb.windowFailures = 0
}

func (cb *CircuitBreaker) errorRateExceeded() bool {
	if cb.errorRateThreshold <= 0 || cb.errorRateWindow <= 0 || cb.windowTotal < minErrorRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowTotal) >= cb.errorRateThreshold
}
