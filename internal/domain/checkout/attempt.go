package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
)

// Result is the terminal outcome of an attempt, consumed by the presentation
// layer to route the shopper.
//
//   - Succeeded: OrderID, PaymentReference and Total are set.
//   - Failed: Reason is set, OrderID when an order was created.
//   - Cancelled: OrderID is set.
type Result struct {
	AttemptID        string
	State            State
	OrderID          string
	PaymentReference string
	Total            decimal.Decimal
	Reason           string
	// Err carries the underlying error for Failed and Cancelled results.
	Err error
	// NeedsReconciliation is set when payment was captured but the order
	// could not be confirmed; the shopper must contact support.
	NeedsReconciliation bool
	FinishedAt          time.Time
}

// View is a point-in-time copy of an attempt.
type View struct {
	ID        string
	State     State
	OrderID   string
	Total     decimal.Decimal
	Items     []order.Item
	Session   *payment.Session
	Result    *Result
	CreatedAt time.Time
}

// Attempt is one run of the checkout state machine. It starts in Idle and
// ends in exactly one terminal state; a new checkout needs a new Attempt.
type Attempt struct {
	id         string
	sessionKey string
	createdAt  time.Time
	cart       CartStore
	customer   order.Customer

	mu       sync.Mutex
	state    State
	snapshot order.Snapshot
	order    *order.PendingOrder
	session  *payment.Session
	outcome  *payment.Outcome
	result   *Result
	done     chan struct{}
}

func newAttempt(id, sessionKey string, store CartStore, customer order.Customer, now time.Time) *Attempt {
	return &Attempt{
		id:         id,
		sessionKey: sessionKey,
		createdAt:  now,
		cart:       store,
		customer:   customer,
		state:      Idle,
		done:       make(chan struct{}),
	}
}

// ID returns the attempt identifier.
func (a *Attempt) ID() string { return a.id }

// BelongsTo reports whether the attempt was started by the cart session.
func (a *Attempt) BelongsTo(sessionKey string) bool {
	return sessionKey != "" && a.sessionKey == sessionKey
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Done is closed when the attempt reaches a terminal state.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Result returns the terminal result, or false while the attempt is running.
func (a *Attempt) Result() (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return Result{}, false
	}
	return *a.result, true
}

// Wait blocks until the attempt is terminal or ctx is done.
func (a *Attempt) Wait(ctx context.Context) (Result, error) {
	select {
	case <-a.done:
		r, _ := a.Result()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// View returns a copy of the attempt's current data.
func (a *Attempt) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := View{
		ID:        a.id,
		State:     a.state,
		Total:     a.snapshot.Total(),
		Items:     a.snapshot.Items(),
		CreatedAt: a.createdAt,
	}
	if a.order != nil {
		v.OrderID = a.order.ID
	}
	if a.session != nil {
		s := *a.session
		v.Session = &s
	}
	if a.result != nil {
		r := *a.result
		v.Result = &r
	}
	return v
}

// transition moves the attempt to next and returns the previous state.
func (a *Attempt) transition(next State) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.state
	if !prev.CanTransition(next) {
		return prev, &TransitionError{From: prev, To: next}
	}
	a.state = next
	return prev, nil
}

func (a *Attempt) orderID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.order == nil {
		return ""
	}
	return a.order.ID
}

func (a *Attempt) paymentSessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return ""
	}
	return a.session.ID
}

func (a *Attempt) deliveredOutcome() (payment.Outcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outcome == nil {
		return payment.Outcome{}, false
	}
	return *a.outcome, true
}

func (a *Attempt) finishedBefore(t time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result != nil && a.result.FinishedAt.Before(t)
}
