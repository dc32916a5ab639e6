// Package checkout sequences a purchase: it snapshots the cart, creates a
// pending order in the commerce backend, opens a hosted payment session and
// reconciles the session's single outcome back into the order. The cart is
// cleared only after the backend acknowledged a captured payment.
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/checkout"

// CartStore is the part of the cart store the orchestrator may touch: it
// reads a snapshot when checkout starts and clears the cart on success.
type CartStore interface {
	Snapshot() cart.Cart
	Clear()
}

// Transition is one recorded state change of an attempt.
type Transition struct {
	AttemptID string
	OrderID   string
	From      State
	To        State
	Reason    string
	At        time.Time
}

// Journal records transitions for audit. Failures never affect the attempt.
type Journal interface {
	Record(ctx context.Context, t Transition) error
}

// Inconsistency describes a captured payment whose order was not confirmed.
type Inconsistency struct {
	AttemptID        string
	OrderID          string
	PaymentReference string
	Total            decimal.Decimal
	Cause            string
	DetectedAt       time.Time
}

// Reporter delivers inconsistencies to an out-of-band channel.
type Reporter interface {
	ReportInconsistency(ctx context.Context, inc Inconsistency) error
}

// Notifier publishes terminal results.
type Notifier interface {
	Notify(ctx context.Context, r Result) error
}

// Config tunes the orchestrator.
type Config struct {
	// Currency is the ISO code passed to the payment session.
	Currency string
	// FinalizeTimeout bounds the reconciliation phase after an outcome.
	FinalizeTimeout time.Duration
	// CancelTimeout bounds the best-effort cancel status update.
	CancelTimeout time.Duration
	// StatusAttempts is how many times marking an order completed is tried.
	StatusAttempts uint
	// RetryInterval is the initial backoff between status attempts.
	RetryInterval time.Duration
	// Retention is how long terminal attempts stay available for lookup.
	Retention time.Duration
	// PublishTimeout bounds each journal write and result notification.
	PublishTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Currency == "" {
		c.Currency = "INR"
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 30 * time.Second
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = 5 * time.Second
	}
	if c.StatusAttempts == 0 {
		c.StatusAttempts = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 200 * time.Millisecond
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithJournal records every transition in j.
func WithJournal(j Journal) Option { return func(o *Orchestrator) { o.journal = j } }

// WithReporter reports reconciliation inconsistencies to r.
func WithReporter(r Reporter) Option { return func(o *Orchestrator) { o.reporter = r } }

// WithNotifier publishes terminal results to n.
func WithNotifier(n Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option { return func(o *Orchestrator) { o.lg = lg } }

// WithMeterProvider sets the meter provider; the global one is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Orchestrator) { o.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider; the global one is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracerProvider = tp }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

type instruments struct {
	attempts        metric.Int64Counter
	inconsistencies metric.Int64Counter
	duration        metric.Float64Histogram
}

// Orchestrator runs checkout attempts. At most one attempt per session key
// is in flight at a time.
type Orchestrator struct {
	orders   order.Gateway
	payments payment.Adapter
	cfg      Config

	journal        Journal
	reporter       Reporter
	notifier       Notifier
	lg             *zap.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	metrics        instruments
	now            func() time.Time
	newID          func() string

	mu        sync.Mutex
	active    map[string]*Attempt
	attempts  map[string]*Attempt
	byPayment map[string]*Attempt
}

// New creates an Orchestrator driving orders and payments.
func New(orders order.Gateway, payments payment.Adapter, cfg Config, opts ...Option) (*Orchestrator, error) {
	cfg.setDefaults()
	if _, err := payment.Exponent(cfg.Currency); err != nil {
		return nil, errors.Wrap(err, "checkout currency")
	}
	o := &Orchestrator{
		orders:    orders,
		payments:  payments,
		cfg:       cfg,
		lg:        zap.NewNop(),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		active:    make(map[string]*Attempt),
		attempts:  make(map[string]*Attempt),
		byPayment: make(map[string]*Attempt),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	o.tracer = o.tracerProvider.Tracer(instrumentationName)

	meter := o.meterProvider.Meter(instrumentationName)
	var err error
	if o.metrics.attempts, err = meter.Int64Counter("checkout.attempts",
		metric.WithDescription("Checkout attempts by terminal state"),
	); err != nil {
		return nil, errors.Wrap(err, "attempts counter")
	}
	if o.metrics.inconsistencies, err = meter.Int64Counter("checkout.reconciliation_inconsistencies",
		metric.WithDescription("Captured payments whose order could not be confirmed"),
	); err != nil {
		return nil, errors.Wrap(err, "inconsistencies counter")
	}
	if o.metrics.duration, err = meter.Float64Histogram("checkout.duration",
		metric.WithDescription("Time from checkout start to terminal state"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}
	return o, nil
}

// Begin starts a checkout for the session's cart. It snapshots the cart,
// creates the backend order and opens the payment session, returning once
// the attempt awaits payment or has already failed. The returned error is
// non-nil only when no attempt was started: invalid customer, ErrEmptyCart
// or ErrInProgress.
func (o *Orchestrator) Begin(ctx context.Context, sessionKey string, store CartStore, customer order.Customer) (*Attempt, error) {
	if err := customer.Validate(); err != nil {
		return nil, err
	}

	now := o.now()
	o.mu.Lock()
	o.pruneLocked(now)
	if _, busy := o.active[sessionKey]; busy {
		o.mu.Unlock()
		return nil, ErrInProgress
	}
	c := store.Snapshot()
	if c.IsEmpty() {
		o.mu.Unlock()
		return nil, ErrEmptyCart
	}
	a := newAttempt(o.newID(), sessionKey, store, customer, now)
	a.snapshot = order.NewSnapshot(c, now)
	o.active[sessionKey] = a
	o.attempts[a.id] = a
	o.mu.Unlock()

	lg := o.lg.With(zap.String("attempt", a.id))
	if err := o.advance(ctx, a, CreatingOrder, ""); err != nil {
		return nil, err
	}

	pending, err := o.createOrder(ctx, a)
	if err != nil {
		lg.Warn("Order not created", zap.Error(err))
		o.finish(ctx, a, Failed, ReasonOrderNotCreated, err)
		return a, nil
	}

	a.mu.Lock()
	a.order = pending
	a.mu.Unlock()

	if err := o.advance(ctx, a, AwaitingPayment, ""); err != nil {
		return nil, err
	}

	discard := func(out payment.Outcome) { o.discarded(a, out) }
	cb := payment.Once(func(out payment.Outcome) { o.resolve(a, out) }, discard)
	sess, err := o.payments.Open(ctx, payment.Request{
		Amount:         a.snapshot.Total(),
		Currency:       o.cfg.Currency,
		OrderReference: pending.ID,
		Prefill: payment.Prefill{
			Name:  customer.Name,
			Email: customer.Email,
			Phone: customer.Phone,
		},
		Discarded: discard,
	}, cb)
	if err != nil {
		lg.Warn("Payment session not opened", zap.String("order", pending.ID), zap.Error(err))
		reason := err.Error()
		if errors.Is(err, payment.ErrAdapterUnavailable) {
			reason = ReasonAdapterUnavailable
		}
		cb(payment.Failure(reason))
		return a, nil
	}

	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()

	o.mu.Lock()
	o.byPayment[sess.ID] = a
	o.mu.Unlock()

	lg.Debug("Awaiting payment",
		zap.String("order", pending.ID),
		zap.String("session", sess.ID),
	)
	return a, nil
}

// Lookup returns the attempt with the given id.
func (o *Orchestrator) Lookup(id string) (*Attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// ByPaymentSession returns the attempt that opened the payment session.
func (o *Orchestrator) ByPaymentSession(paymentSessionID string) (*Attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.byPayment[paymentSessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// Active returns the in-flight attempt of the session, if any.
func (o *Orchestrator) Active(sessionKey string) (*Attempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.active[sessionKey]
	return a, ok
}

func (o *Orchestrator) createOrder(ctx context.Context, a *Attempt) (*order.PendingOrder, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.CreateOrder",
		trace.WithAttributes(attribute.String("checkout.attempt", a.id)),
	)
	defer span.End()

	pending, err := o.orders.CreateOrder(ctx, a.snapshot, a.customer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		return nil, err
	}
	span.SetAttributes(attribute.String("checkout.order", pending.ID))
	return pending, nil
}

// resolve handles the single payment outcome of an attempt.
func (o *Orchestrator) resolve(a *Attempt, out payment.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.FinalizeTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "checkout.Finalize", trace.WithAttributes(
		attribute.String("checkout.attempt", a.id),
		attribute.String("payment.outcome", out.Kind.String()),
	))
	defer span.End()

	if err := o.advance(ctx, a, Finalizing, out.String()); err != nil {
		o.lg.Warn("Payment outcome ignored",
			zap.String("attempt", a.id),
			zap.Stringer("outcome", out),
			zap.Error(err),
		)
		return
	}
	a.mu.Lock()
	a.outcome = &out
	a.mu.Unlock()

	orderID := a.orderID()
	switch out.Kind {
	case payment.Succeeded:
		meta := []order.Meta{{Key: "payment_reference", Value: out.Reference}}
		if err := o.completeOrder(ctx, orderID, meta); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reconciliation")
			recErr := &ReconciliationError{
				OrderID:          orderID,
				PaymentReference: out.Reference,
				Total:            a.snapshot.Total(),
				Err:              err,
			}
			o.reportInconsistency(ctx, a, out.Reference, recErr)
			o.finish(ctx, a, Failed, ReasonReconciliation, recErr)
			return
		}
		o.finish(ctx, a, Succeeded, "", nil)
	case payment.CancelledByUser:
		cancelCtx, cancelUpdate := context.WithTimeout(ctx, o.cfg.CancelTimeout)
		err := o.orders.SetOrderStatus(cancelCtx, orderID, order.StatusCancelled)
		cancelUpdate()
		if err != nil {
			o.lg.Warn("Best-effort order cancel failed",
				zap.String("attempt", a.id),
				zap.String("order", orderID),
				zap.Error(err),
			)
		}
		o.finish(ctx, a, Cancelled, ReasonCancelledByUser, ErrPaymentCancelled)
	default:
		o.finish(ctx, a, Failed, out.Reason, errors.Wrap(ErrPaymentFailed, out.Reason))
	}
}

// completeOrder marks the order completed, retrying transient failures with
// exponential backoff. The last gateway error is returned when all tries fail.
func (o *Orchestrator) completeOrder(ctx context.Context, orderID string, meta []order.Meta) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.RetryInterval

	var lastErr error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := o.orders.SetOrderStatus(ctx, orderID, order.StatusCompleted, meta...)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err
		var updErr *order.UpdateError
		if errors.As(err, &updErr) && updErr.Permanent() {
			return struct{}{}, backoff.Permanent(err)
		}
		o.lg.Debug("Retrying order completion", zap.String("order", orderID), zap.Error(err))
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(o.cfg.StatusAttempts),
	)
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}

// discarded handles outcomes arriving after the attempt's single outcome was
// delivered. A success that arrives after a different outcome means money
// was captured for an order this system no longer treats as payable.
func (o *Orchestrator) discarded(a *Attempt, out payment.Outcome) {
	first, ok := a.deliveredOutcome()
	o.lg.Warn("Duplicate payment outcome discarded",
		zap.String("attempt", a.id),
		zap.Stringer("outcome", out),
		zap.Stringer("delivered", first),
	)
	if out.Kind != payment.Succeeded {
		return
	}
	if ok && first.Kind == payment.Succeeded {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.FinalizeTimeout)
	defer cancel()
	o.reportInconsistency(ctx, a, out.Reference, &ReconciliationError{
		OrderID:          a.orderID(),
		PaymentReference: out.Reference,
		Total:            a.snapshot.Total(),
		Err:              errors.Errorf("payment succeeded after session resolved as %s", first),
	})
}

func (o *Orchestrator) reportInconsistency(ctx context.Context, a *Attempt, reference string, cause error) {
	inc := Inconsistency{
		AttemptID:        a.id,
		OrderID:          a.orderID(),
		PaymentReference: reference,
		Total:            a.snapshot.Total(),
		Cause:            cause.Error(),
		DetectedAt:       o.now(),
	}
	o.metrics.inconsistencies.Add(ctx, 1)
	o.lg.Error("Reconciliation inconsistency",
		zap.String("attempt", inc.AttemptID),
		zap.String("order", inc.OrderID),
		zap.String("payment_reference", inc.PaymentReference),
		zap.String("total", inc.Total.StringFixed(2)),
		zap.Error(cause),
	)
	if o.reporter == nil {
		return
	}
	if err := o.reporter.ReportInconsistency(ctx, inc); err != nil {
		o.lg.Error("Report inconsistency", zap.String("attempt", inc.AttemptID), zap.Error(err))
	}
}

// advance performs a non-terminal transition.
func (o *Orchestrator) advance(ctx context.Context, a *Attempt, next State, reason string) error {
	prev, err := a.transition(next)
	if err != nil {
		return err
	}
	o.lg.Debug("Checkout transition",
		zap.String("attempt", a.id),
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	)
	o.record(ctx, a, prev, next, reason)
	return nil
}

// finish moves the attempt into a terminal state. Entering Succeeded is the
// only place the cart is cleared. Waiters are released before the journal
// and notifier run, so a stalled collaborator never hides the result.
func (o *Orchestrator) finish(ctx context.Context, a *Attempt, next State, reason string, cause error) {
	prev, err := a.transition(next)
	if err != nil {
		o.lg.Error("Invalid terminal transition", zap.String("attempt", a.id), zap.Error(err))
		return
	}

	now := o.now()
	res := Result{
		AttemptID: a.id,
		State:     next,
		OrderID:   a.orderID(),
		Total:     a.snapshot.Total(),
		Reason:    reason,
		Err:       cause,
	}
	res.FinishedAt = now
	if out, ok := a.deliveredOutcome(); ok && out.Kind == payment.Succeeded {
		res.PaymentReference = out.Reference
	}
	var recErr *ReconciliationError
	res.NeedsReconciliation = errors.As(cause, &recErr)

	if next == Succeeded {
		a.cart.Clear()
	}

	a.mu.Lock()
	a.result = &res
	a.mu.Unlock()

	o.mu.Lock()
	if o.active[a.sessionKey] == a {
		delete(o.active, a.sessionKey)
	}
	o.mu.Unlock()
	close(a.done)

	o.record(ctx, a, prev, next, reason)

	attrs := metric.WithAttributes(attribute.String("state", next.String()))
	o.metrics.attempts.Add(ctx, 1, attrs)
	o.metrics.duration.Record(ctx, now.Sub(a.createdAt).Seconds(), attrs)

	fields := []zap.Field{
		zap.String("attempt", a.id),
		zap.String("order", res.OrderID),
		zap.Stringer("state", next),
		zap.String("total", res.Total.StringFixed(2)),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	o.lg.Info("Checkout finished", fields...)

	if o.notifier != nil {
		nctx, cancel := o.publishContext(ctx)
		defer cancel()
		if err := o.notifier.Notify(nctx, res); err != nil {
			o.lg.Warn("Notify checkout result", zap.String("attempt", a.id), zap.Error(err))
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, a *Attempt, from, to State, reason string) {
	if o.journal == nil {
		return
	}
	t := Transition{
		AttemptID: a.id,
		OrderID:   a.orderID(),
		From:      from,
		To:        to,
		Reason:    reason,
		At:        o.now(),
	}
	ctx, cancel := o.publishContext(ctx)
	defer cancel()
	if err := o.journal.Record(ctx, t); err != nil {
		o.lg.Warn("Journal checkout transition", zap.String("attempt", a.id), zap.Error(err))
	}
}

// publishContext detaches ctx from its caller and bounds it by the publish
// timeout.
func (o *Orchestrator) publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PublishTimeout)
}

// pruneLocked forgets terminal attempts older than the retention window.
func (o *Orchestrator) pruneLocked(now time.Time) {
	cutoff := now.Add(-o.cfg.Retention)
	for id, a := range o.attempts {
		if a.finishedBefore(cutoff) {
			delete(o.attempts, id)
			if sid := a.paymentSessionID(); sid != "" {
				delete(o.byPayment, sid)
			}
		}
	}
}
