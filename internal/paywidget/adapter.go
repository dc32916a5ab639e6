// Package paywidget adapts a hosted payment widget to payment.Adapter. Open
// registers a gateway-side payment order; the browser launches the widget
// with the returned parameters and relays the widget's resolution back
// through Succeed, Dismiss or Fail.
package paywidget

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/payment"
)

var (
	// ErrUnknownSession is returned for session ids this adapter never issued.
	ErrUnknownSession = errors.New("unknown payment session")
	// ErrAlreadyResolved is returned when a session already delivered its
	// outcome. The callback was discarded.
	ErrAlreadyResolved = errors.New("payment session already resolved")
	// ErrInvalidSignature is returned when a success callback is not signed
	// by the gateway. The session is resolved as failed.
	ErrInvalidSignature = errors.New("invalid payment signature")
)

// ReasonExpired is the failure reason of sessions that hit the session timeout.
const ReasonExpired = "payment session expired"

// Config configures the gateway connection.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
	// SessionTimeout resolves sessions still open after this long as failed.
	// Zero leaves sessions open until the widget reports.
	SessionTimeout time.Duration
	// Retention is how long resolved sessions are kept for routing duplicate
	// callbacks.
	Retention time.Duration
	// ExpectedSessions sizes the Bloom filter of resolved session ids.
	ExpectedSessions uint
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(a *Adapter) { a.http = hc } }

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option { return func(a *Adapter) { a.lg = lg } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(a *Adapter) { a.now = now } }

type session struct {
	payment.Session
	cb         payment.Callback
	discarded  payment.Callback
	timer      *time.Timer
	resolved   bool
	outcome    payment.Outcome
	resolvedAt time.Time
}

// Adapter is a payment.Adapter backed by a hosted widget.
type Adapter struct {
	cfg  Config
	base *url.URL
	http *http.Client
	lg   *zap.Logger
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	resolved *bloom.BloomFilter
}

var _ payment.Adapter = (*Adapter)(nil)

// New creates an Adapter. An empty BaseURL or KeyID is accepted: every Open
// then fails with payment.ErrAdapterUnavailable.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.ExpectedSessions == 0 {
		cfg.ExpectedSessions = 100_000
	}
	a := &Adapter{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		lg:       zap.NewNop(),
		now:      time.Now,
		sessions: make(map[string]*session),
		resolved: bloom.NewWithEstimates(cfg.ExpectedSessions, 0.001),
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
		if err != nil {
			return nil, errors.Wrap(err, "parse gateway url")
		}
		a.base = base
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Open creates the gateway payment order and registers the session.
func (a *Adapter) Open(ctx context.Context, req payment.Request, cb payment.Callback) (*payment.Session, error) {
	if a.base == nil || a.cfg.KeyID == "" {
		return nil, errors.Wrap(payment.ErrAdapterUnavailable, "gateway not configured")
	}
	amount := req.MinorUnits()
	if amount <= 0 {
		return nil, errors.Errorf("invalid amount %d", amount)
	}

	id, err := a.createGatewayOrder(ctx, amount, req.Currency, req.OrderReference)
	if err != nil {
		return nil, err
	}

	s := &session{
		Session: payment.Session{
			ID:               id,
			Key:              a.cfg.KeyID,
			AmountMinorUnits: amount,
			Currency:         req.Currency,
			OrderReference:   req.OrderReference,
			Prefill:          req.Prefill,
		},
		cb:        cb,
		discarded: req.Discarded,
	}

	a.mu.Lock()
	a.pruneLocked()
	a.sessions[id] = s
	if a.cfg.SessionTimeout > 0 {
		s.timer = time.AfterFunc(a.cfg.SessionTimeout, func() {
			if err := a.resolve(id, payment.Failure(ReasonExpired)); err == nil {
				a.lg.Info("Payment session expired", zap.String("session", id))
			}
		})
	}
	a.mu.Unlock()

	a.lg.Debug("Payment session opened",
		zap.String("session", id),
		zap.String("order", req.OrderReference),
		zap.Int64("amount", amount),
	)
	out := s.Session
	return &out, nil
}

// Succeed delivers a success reported by the widget. The signature must be
// hex(HMAC-SHA256(secret, sessionID|paymentReference)).
func (a *Adapter) Succeed(sessionID, paymentReference, signature string) error {
	if paymentReference == "" || !a.validSignature(sessionID, paymentReference, signature) {
		if err := a.resolve(sessionID, payment.Failure("payment signature mismatch")); err != nil {
			return err
		}
		return ErrInvalidSignature
	}
	return a.resolve(sessionID, payment.Success(paymentReference))
}

// Dismiss delivers a user dismissal.
func (a *Adapter) Dismiss(sessionID string) error {
	return a.resolve(sessionID, payment.Dismissed())
}

// Fail delivers a widget error. Reason is opaque and may be empty.
func (a *Adapter) Fail(sessionID, reason string) error {
	return a.resolve(sessionID, payment.Failure(reason))
}

// Lookup returns the launch parameters of a known session.
func (a *Adapter) Lookup(sessionID string) (payment.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return payment.Session{}, ErrUnknownSession
	}
	return s.Session, nil
}

// Close stops pending session timers.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.sessions {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
}

// Sign computes the signature the gateway attaches to a success callback.
func Sign(secret, sessionID, paymentReference string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sessionID + "|" + paymentReference))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) validSignature(sessionID, paymentReference, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(a.cfg.KeySecret, sessionID, paymentReference))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// resolve delivers out to the session's callback exactly once. Outcomes for
// resolved sessions go to the discard hook instead.
func (a *Adapter) resolve(sessionID string, out payment.Outcome) error {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if !ok {
		known := a.resolved.TestString(sessionID)
		a.mu.Unlock()
		if known {
			a.lg.Warn("Late payment callback discarded",
				zap.String("session", sessionID),
				zap.Stringer("outcome", out),
			)
			return ErrAlreadyResolved
		}
		return ErrUnknownSession
	}
	if s.resolved {
		first, discard := s.outcome, s.discarded
		a.mu.Unlock()
		a.lg.Warn("Duplicate payment callback discarded",
			zap.String("session", sessionID),
			zap.Stringer("outcome", out),
			zap.Stringer("delivered", first),
		)
		if discard != nil {
			discard(out)
		}
		return ErrAlreadyResolved
	}
	s.resolved = true
	s.outcome = out
	s.resolvedAt = a.now()
	if s.timer != nil {
		s.timer.Stop()
	}
	a.resolved.AddString(sessionID)
	cb := s.cb
	a.mu.Unlock()

	cb(out)
	return nil
}

// pruneLocked forgets sessions resolved longer than the retention ago. The
// Bloom filter still recognises them.
func (a *Adapter) pruneLocked() {
	cutoff := a.now().Add(-a.cfg.Retention)
	for id, s := range a.sessions {
		if s.resolved && s.resolvedAt.Before(cutoff) {
			delete(a.sessions, id)
		}
	}
}

func (a *Adapter) createGatewayOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(amount)
	e.FieldStart("currency")
	e.Str(currency)
	e.FieldStart("receipt")
	e.Str(receipt)
	e.ObjEnd()

	u := a.base.JoinPath("v1", "orders")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(e.Bytes()))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(a.cfg.KeyID, a.cfg.KeySecret)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", errors.Wrapf(payment.ErrAdapterUnavailable, "gateway unreachable: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(payment.ErrAdapterUnavailable, "read gateway response")
	}
	switch {
	case resp.StatusCode >= 500:
		return "", errors.Wrapf(payment.ErrAdapterUnavailable, "gateway status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return "", errors.Errorf("gateway rejected payment order: status %d", resp.StatusCode)
	}

	id, err := decodeGatewayOrderID(body)
	if err != nil {
		return "", errors.Wrap(payment.ErrAdapterUnavailable, err.Error())
	}
	return id, nil
}

func decodeGatewayOrderID(data []byte) (string, error) {
	var id string
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "id" {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		id = v
		return nil
	}); err != nil {
		return "", errors.Wrap(err, "decode gateway order")
	}
	if id == "" {
		return "", errors.New("gateway order without id")
	}
	return id, nil
}
