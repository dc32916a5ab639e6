package checkout

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCart is returned when checkout starts with nothing in the cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInProgress is returned when the session already has an attempt that
	// has not reached a terminal state.
	ErrInProgress = errors.New("checkout already in progress")
	// ErrNotFound is returned for unknown attempt ids.
	ErrNotFound = errors.New("checkout attempt not found")
	// ErrPaymentFailed marks an attempt whose payment the gateway reported as
	// failed. The backend order stays pending.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrPaymentCancelled marks an attempt the shopper dismissed. It is not a
	// failure.
	ErrPaymentCancelled = errors.New("payment cancelled by user")
)

// Result reasons reported to the presentation layer.
const (
	ReasonOrderNotCreated    = "order not created"
	ReasonPaymentFailed      = "payment failed"
	ReasonCancelledByUser    = "cancelled by user"
	ReasonReconciliation     = "payment captured but order not confirmed"
	ReasonAdapterUnavailable = "payment widget unavailable"
)

// ReconciliationError means the gateway captured the payment but the backend
// order could not be marked completed. The two records disagree and need
// manual reconciliation; retrying checkout risks a double charge.
type ReconciliationError struct {
	OrderID          string
	PaymentReference string
	Total            decimal.Decimal
	Err              error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("payment %s captured for order %s (total %s) but order status not updated: %v",
		e.PaymentReference, e.OrderID, e.Total.StringFixed(2), e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
