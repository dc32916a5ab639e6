// Package order describes the backend-side record of a checkout attempt and
// the gateway used to create it and move it between statuses.
package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
)

// Status is the lifecycle state of a PendingOrder in the commerce backend.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// ErrInvalidCustomer is returned when required contact fields are missing.
var ErrInvalidCustomer = errors.New("customer name, email and phone are required")

// Customer holds the billing contact submitted at checkout.
type Customer struct {
	Name    string
	Address string
	Email   string
	Phone   string
}

// Validate checks that the customer can be billed.
func (c Customer) Validate() error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" {
		return ErrInvalidCustomer
	}
	if !strings.Contains(c.Email, "@") {
		return ErrInvalidCustomer
	}
	return nil
}

// Item is a line item frozen into an order snapshot.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Snapshot is the immutable copy of a cart taken when checkout starts. Later
// cart edits never reach it.
type Snapshot struct {
	items   []Item
	total   decimal.Decimal
	takenAt time.Time
}

// NewSnapshot copies the cart contents and computes the total once.
func NewSnapshot(c cart.Cart, at time.Time) Snapshot {
	src := c.Items()
	items := make([]Item, len(src))
	for i, li := range src {
		items[i] = Item{
			ProductID: li.ProductID,
			Name:      li.Name,
			Quantity:  li.Quantity,
			Price:     li.UnitPrice,
		}
	}
	return Snapshot{items: items, total: c.Total(), takenAt: at}
}

// Items returns a copy of the snapshot items.
func (s Snapshot) Items() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Total returns the snapshot total.
func (s Snapshot) Total() decimal.Decimal { return s.total }

// TakenAt returns when the snapshot was taken.
func (s Snapshot) TakenAt() time.Time { return s.takenAt }

// IsEmpty reports whether the snapshot has no items.
func (s Snapshot) IsEmpty() bool { return len(s.items) == 0 }

// Meta is a key/value pair attached to a backend order.
type Meta struct {
	Key   string
	Value string
}

// PendingOrder is an order created in the commerce backend for one checkout
// attempt. Only Status changes after creation.
type PendingOrder struct {
	ID       string
	Snapshot Snapshot
	Customer Customer
	Status   Status
	Meta     []Meta
}

// Gateway creates and updates orders in the external commerce backend. Every
// call is a fresh round trip.
type Gateway interface {
	// CreateOrder submits the snapshot and customer and returns the order in
	// status pending. Failures are reported as *CreationError.
	CreateOrder(ctx context.Context, snapshot Snapshot, customer Customer) (*PendingOrder, error)
	// SetOrderStatus moves an order to status, attaching meta. It is
	// idempotent for a repeated target status. Failures are reported as
	// *UpdateError.
	SetOrderStatus(ctx context.Context, orderID string, status Status, meta ...Meta) error
}
