package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xenking/storefront/internal/domain/product"
)

func newTestProduct(id string, price string) product.Product {
	return product.Product{
		ID:    id,
		Name:  "Product " + id,
		Price: decimal.RequireFromString(price),
		Image: product.Image{Thumbnail: id + ".jpg"},
	}
}

func TestReduce_AddTwiceIncrementsQuantity(t *testing.T) {
	p := newTestProduct("A", "100")

	c := Reduce(Empty(), Add{Product: p})
	c = Reduce(c, Add{Product: p})

	require.Equal(t, 1, c.Len())
	li, ok := c.Get("A")
	require.True(t, ok)
	assert.Equal(t, 2, li.Quantity)
	assert.Equal(t, "A.jpg", li.Image)
}

func TestReduce_DecrementAtOneIsNoop(t *testing.T) {
	c := Reduce(Empty(), Add{Product: newTestProduct("A", "10")})

	next := Reduce(c, Decrement{ProductID: "A"})

	li, ok := next.Get("A")
	require.True(t, ok, "decrement must never remove the item")
	assert.Equal(t, 1, li.Quantity)
}

func TestReduce(t *testing.T) {
	a := newTestProduct("A", "100")
	b := newTestProduct("B", "250")

	tests := []struct {
		name      string
		actions   []Action
		wantQty   map[string]int
		wantTotal string
	}{
		{
			name:      "empty cart",
			wantQty:   map[string]int{},
			wantTotal: "0",
		},
		{
			name:      "scenario cart",
			actions:   []Action{Add{a}, Add{a}, Add{b}},
			wantQty:   map[string]int{"A": 2, "B": 1},
			wantTotal: "450",
		},
		{
			name:      "increment and decrement",
			actions:   []Action{Add{a}, Increment{"A"}, Increment{"A"}, Decrement{"A"}},
			wantQty:   map[string]int{"A": 2},
			wantTotal: "200",
		},
		{
			name:      "remove deletes entry",
			actions:   []Action{Add{a}, Add{b}, Remove{"A"}},
			wantQty:   map[string]int{"B": 1},
			wantTotal: "250",
		},
		{
			name:      "unknown ids are ignored",
			actions:   []Action{Add{a}, Remove{"X"}, Increment{"X"}, Decrement{"X"}},
			wantQty:   map[string]int{"A": 1},
			wantTotal: "100",
		},
		{
			name:      "clear empties",
			actions:   []Action{Add{a}, Add{b}, Clear{}},
			wantQty:   map[string]int{},
			wantTotal: "0",
		},
		{
			name: "negative price is rejected",
			actions: []Action{Add{product.Product{
				ID:    "N",
				Price: decimal.NewFromInt(-1),
			}}},
			wantQty:   map[string]int{},
			wantTotal: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Empty()
			for _, a := range tt.actions {
				c = Reduce(c, a)
			}

			got := make(map[string]int, c.Len())
			for _, li := range c.Items() {
				got[li.ProductID] = li.Quantity
			}
			assert.Equal(t, tt.wantQty, got)
			assert.True(t, decimal.RequireFromString(tt.wantTotal).Equal(c.Total()),
				"expected total %s, got %s", tt.wantTotal, c.Total())
		})
	}
}

func TestReduce_DoesNotModifyInput(t *testing.T) {
	before := Reduce(Empty(), Add{Product: newTestProduct("A", "5")})

	_ = Reduce(before, Increment{ProductID: "A"})
	_ = Reduce(before, Add{Product: newTestProduct("B", "7")})
	_ = Reduce(before, Remove{ProductID: "A"})

	li, ok := before.Get("A")
	require.True(t, ok)
	assert.Equal(t, 1, li.Quantity)
	assert.Equal(t, 1, before.Len())
}

func TestItems_PreservesInsertionOrder(t *testing.T) {
	c := Empty()
	for _, id := range []string{"C", "A", "B"} {
		c = Reduce(c, Add{Product: newTestProduct(id, "1")})
	}
	c = Reduce(c, Add{Product: newTestProduct("A", "1")})

	ids := make([]string, 0, c.Len())
	for _, li := range c.Items() {
		ids = append(ids, li.ProductID)
	}
	assert.Equal(t, []string{"C", "A", "B"}, ids)
	assert.Equal(t, 4, c.Count())
}

func TestFromItems_DropsInvalid(t *testing.T) {
	c := FromItems([]LineItem{
		{ProductID: "A", UnitPrice: decimal.NewFromInt(3), Quantity: 2},
		{ProductID: "A", UnitPrice: decimal.NewFromInt(3), Quantity: 5},
		{ProductID: "B", UnitPrice: decimal.NewFromInt(3), Quantity: 0},
		{ProductID: "", UnitPrice: decimal.NewFromInt(3), Quantity: 1},
	})

	require.Equal(t, 1, c.Len())
	assert.True(t, decimal.NewFromInt(6).Equal(c.Total()))
}

// TestReduce_Properties checks that for any action sequence the total equals
// the sum of price times quantity and no item drops below quantity 1.
func TestReduce_Properties(t *testing.T) {
	catalog := []product.Product{
		newTestProduct("A", "100"),
		newTestProduct("B", "250"),
		newTestProduct("C", "0.99"),
		newTestProduct("D", "0"),
	}
	ids := []string{"A", "B", "C", "D", "missing"}

	genAction := rapid.Custom(func(t *rapid.T) Action {
		switch rapid.IntRange(0, 3).Draw(t, "kind") {
		case 0:
			return Add{Product: rapid.SampledFrom(catalog).Draw(t, "product")}
		case 1:
			return Remove{ProductID: rapid.SampledFrom(ids).Draw(t, "id")}
		case 2:
			return Increment{ProductID: rapid.SampledFrom(ids).Draw(t, "id")}
		default:
			return Decrement{ProductID: rapid.SampledFrom(ids).Draw(t, "id")}
		}
	})

	rapid.Check(t, func(t *rapid.T) {
		actions := rapid.SliceOf(genAction).Draw(t, "actions")

		c := Empty()
		for _, a := range actions {
			prev := c
			c = Reduce(c, a)

			if d, ok := a.(Decrement); ok {
				if li, had := prev.Get(d.ProductID); had && li.Quantity == 1 {
					after, still := c.Get(d.ProductID)
					if !still || after.Quantity != 1 {
						t.Fatalf("decrement at quantity 1 changed the item")
					}
				}
			}
		}

		want := decimal.Zero
		seen := make(map[string]bool)
		for _, li := range c.Items() {
			if li.Quantity < 1 {
				t.Fatalf("item %s has quantity %d", li.ProductID, li.Quantity)
			}
			if seen[li.ProductID] {
				t.Fatalf("duplicate item %s", li.ProductID)
			}
			seen[li.ProductID] = true
			want = want.Add(li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity))))
		}
		if !want.Equal(c.Total()) {
			t.Fatalf("total %s, want %s", c.Total(), want)
		}
	})
}
