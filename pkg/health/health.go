// Package health serves liveness and readiness endpoints.
//
// Every check runs on its own ticker. A check flips to unhealthy after
// FailureThreshold consecutive failures and back after SuccessThreshold
// consecutive passes. Optional checks are reported but never fail an endpoint,
// which suits dependencies the storefront can run without (cart cache,
// event broker).
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Endpoint selects the endpoint a check contributes to.
type Endpoint int

const (
	Liveness Endpoint = iota
	Readiness
)

// CheckOption tunes a registered check.
type CheckOption func(*check)

// WithThresholds overrides the default 3 failures / 1 success thresholds.
func WithThresholds(failures, successes int) CheckOption {
	return func(c *check) {
		if failures > 0 {
			c.failureThreshold = failures
		}
		if successes > 0 {
			c.successThreshold = successes
		}
	}
}

// Optional marks a check as informational.
func Optional() CheckOption {
	return func(c *check) { c.optional = true }
}

// check is the runtime state of one registered check. run is only called
// from the check's own goroutine, so the counters need no locking.
type check struct {
	name             string
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int
	optional         bool

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (c *check) isHealthy() bool { return c.healthy.Load() }

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.oks++
	if c.oks >= c.successThreshold {
		c.healthy.Store(true)
	}
}

// Health holds the registered checks and the manual readiness switch.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[Endpoint][]*check
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{checks: make(map[Endpoint][]*check)}
}

// Add registers fn under endpoint ep. Checks start out healthy.
func (h *Health) Add(ep Endpoint, name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	c := &check{
		name:             name,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)

	h.mu.Lock()
	h.checks[ep] = append(h.checks[ep], c)
	h.mu.Unlock()
}

// AddLivenessCheck is Add(Liveness, ...).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.Add(Liveness, name, timeout, fn, opts...)
}

// AddReadinessCheck is Add(Readiness, ...).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.Add(Readiness, name, timeout, fn, opts...)
}

func (h *Health) snapshot(ep Endpoint) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.checks[ep])
}

// Start runs every registered check once immediately and then every
// interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	var all []*check
	for _, cs := range h.checks {
		all = append(all, cs...)
	}
	h.mu.Unlock()

	for _, c := range all {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			c.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.run(ctx)
				}
			}
		}()
	}
}

// Stop cancels the check goroutines. It is idempotent.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness switch.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports whether the switch is on and every required readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	failing, _ := failures(h.snapshot(Readiness))
	return len(failing) == 0
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	failing, degraded := failures(h.snapshot(Liveness))
	writeResponse(w, failing, degraded)
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failing, degraded := failures(h.snapshot(Readiness))
	if !h.ready.Load() {
		failing["_readiness"] = "service is not ready"
	}
	writeResponse(w, failing, degraded)
}

// failures splits unhealthy checks into required and optional ones, keyed by
// check name with the last error as value.
func failures(checks []*check) (failing, degraded map[string]string) {
	failing = make(map[string]string)
	degraded = make(map[string]string)
	for _, c := range checks {
		if c.isHealthy() {
			continue
		}
		msg := "check is unhealthy"
		if err := c.lastError(); err != nil {
			msg = err.Error()
		}
		if c.optional {
			degraded[c.name] = msg
		} else {
			failing[c.name] = msg
		}
	}
	return failing, degraded
}

func writeResponse(w http.ResponseWriter, failing, degraded map[string]string) {
	status, code := "ok", http.StatusOK
	switch {
	case len(failing) > 0:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case len(degraded) > 0:
		status = "degraded"
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	if len(failing) > 0 {
		e.FieldStart("checks")
		writeChecks(&e, failing)
	}
	if len(degraded) > 0 {
		e.FieldStart("degraded")
		writeChecks(&e, degraded)
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeChecks(e *jx.Encoder, m map[string]string) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)

	e.ObjStart()
	for _, name := range names {
		e.FieldStart(name)
		e.Str(m[name])
	}
	e.ObjEnd()
}
