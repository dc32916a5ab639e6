// Package payment defines the contract of a hosted payment session: it is
// opened for an amount and an order reference and resolves exactly once with
// an Outcome.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// ErrAdapterUnavailable is returned by Open when the payment widget cannot be
// launched at all. Callers treat it like a failed Outcome.
var ErrAdapterUnavailable = errors.New("payment adapter unavailable")

// Kind is the variant of an Outcome.
type Kind int

const (
	Succeeded Kind = iota + 1
	CancelledByUser
	Failed
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case CancelledByUser:
		return "cancelled_by_user"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the single terminal result of a payment session. Reference is
// set only for Succeeded, Reason only for Failed.
type Outcome struct {
	Kind      Kind
	Reference string
	Reason    string
}

// Success returns a Succeeded outcome with the gateway's payment reference.
func Success(reference string) Outcome {
	return Outcome{Kind: Succeeded, Reference: reference}
}

// Dismissed returns a CancelledByUser outcome.
func Dismissed() Outcome {
	return Outcome{Kind: CancelledByUser}
}

// Failure returns a Failed outcome. An empty reason is replaced with a
// generic one, since widget errors carry no guaranteed payload.
func Failure(reason string) Outcome {
	if reason == "" {
		reason = "payment failed"
	}
	return Outcome{Kind: Failed, Reason: reason}
}

func (o Outcome) String() string {
	switch o.Kind {
	case Succeeded:
		return "succeeded(" + o.Reference + ")"
	case Failed:
		return "failed(" + o.Reason + ")"
	default:
		return o.Kind.String()
	}
}

// Prefill carries customer details shown in the widget.
type Prefill struct {
	Name  string
	Email string
	Phone string
}

// Request describes the payment session to open.
type Request struct {
	Amount         decimal.Decimal
	Currency       string
	OrderReference string
	Prefill        Prefill
	// Discarded, when set, receives outcomes the adapter dropped because the
	// session had already resolved.
	Discarded Callback
}

// MinorUnits returns the amount in the currency's minor unit (paise, cents,
// yen, fils), rounded half away from zero. An unrecognised currency is
// treated as having two decimals; use Exponent to reject it up front.
func (r Request) MinorUnits() int64 {
	exp, err := Exponent(r.Currency)
	if err != nil {
		exp = 2
	}
	return r.Amount.Shift(int32(exp)).Round(0).IntPart()
}

// Exponent returns the number of minor-unit digits of an ISO 4217 currency
// code: 2 for INR, 0 for JPY, 3 for KWD.
func Exponent(code string) (int, error) {
	u, err := currency.ParseISO(code)
	if err != nil {
		return 0, errors.Wrapf(err, "currency %q", code)
	}
	scale, _ := currency.Standard.Rounding(u)
	return scale, nil
}

// Session describes an opened payment session: the parameters the browser
// needs to launch the hosted widget.
type Session struct {
	ID               string
	Key              string
	AmountMinorUnits int64
	Currency         string
	OrderReference   string
	Prefill          Prefill
}

// Callback receives the terminal outcome of a session.
type Callback func(Outcome)

// Adapter opens hosted payment sessions. Open returns as soon as the session
// is launched; the outcome arrives exclusively through cb, at most once.
type Adapter interface {
	Open(ctx context.Context, req Request, cb Callback) (*Session, error)
}
