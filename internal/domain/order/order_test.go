package order

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

func TestNewSnapshot_DecoupledFromCart(t *testing.T) {
	st := cart.NewStore(cart.Empty())
	st.Add(product.Product{ID: "A", Name: "Alpha", Price: decimal.NewFromInt(100)})
	st.Add(product.Product{ID: "A", Name: "Alpha", Price: decimal.NewFromInt(100)})
	st.Add(product.Product{ID: "B", Name: "Beta", Price: decimal.NewFromInt(250)})

	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	snap := NewSnapshot(st.Snapshot(), at)

	st.Increment("B")
	st.Remove("A")

	require.Len(t, snap.Items(), 2)
	assert.Equal(t, Item{ProductID: "A", Name: "Alpha", Quantity: 2, Price: decimal.NewFromInt(100)}, snap.Items()[0])
	assert.True(t, decimal.NewFromInt(450).Equal(snap.Total()))
	assert.Equal(t, at, snap.TakenAt())

	items := snap.Items()
	items[0].Quantity = 99
	assert.Equal(t, 2, snap.Items()[0].Quantity)
}

func TestCustomer_Validate(t *testing.T) {
	tests := []struct {
		name     string
		customer Customer
		wantErr  bool
	}{
		{
			name:     "complete",
			customer: Customer{Name: "Asha", Email: "asha@example.com", Phone: "+919800000000"},
		},
		{
			name:     "missing name",
			customer: Customer{Email: "asha@example.com", Phone: "1"},
			wantErr:  true,
		},
		{
			name:     "bad email",
			customer: Customer{Name: "Asha", Email: "asha", Phone: "1"},
			wantErr:  true,
		},
		{
			name:     "missing phone",
			customer: Customer{Name: "Asha", Email: "asha@example.com"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.customer.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCustomer)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestUpdateError_Permanent(t *testing.T) {
	cause := errors.New("boom")

	assert.True(t, (&UpdateError{StatusCode: 404, Err: cause}).Permanent())
	assert.True(t, (&UpdateError{StatusCode: 400, Err: cause}).Permanent())
	assert.False(t, (&UpdateError{StatusCode: 429, Err: cause}).Permanent())
	assert.False(t, (&UpdateError{StatusCode: 503, Err: cause}).Permanent())
	assert.False(t, (&UpdateError{Err: cause}).Permanent())

	var upd *UpdateError
	require.ErrorAs(t, error(&UpdateError{OrderID: "9001", Err: cause}), &upd)
	assert.ErrorIs(t, upd, cause)
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusCompleted.Valid())
	assert.False(t, Status("refunded").Valid())
}
