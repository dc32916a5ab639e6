// Package cart holds the shopper's working selection. A Cart is an immutable
// value; every mutation is expressed as an Action and applied with Reduce,
// which returns a new Cart and never modifies its input.
package cart

import (
	"github.com/shopspring/decimal"
)

// LineItem is one product entry in a Cart. Quantity is always at least 1;
// an item that would drop to zero is removed instead.
type LineItem struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Image     string
}

// Subtotal returns UnitPrice multiplied by Quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Cart is an ordered mapping from product identifier to LineItem. The zero
// value is an empty cart.
type Cart struct {
	items map[string]LineItem
	order []string
}

// Empty returns a cart with no items.
func Empty() Cart {
	return Cart{}
}

// FromItems builds a cart from previously saved line items, preserving their
// order. Items with a non-positive quantity or a duplicate product id are
// dropped.
func FromItems(items []LineItem) Cart {
	c := Cart{
		items: make(map[string]LineItem, len(items)),
		order: make([]string, 0, len(items)),
	}
	for _, li := range items {
		if li.ProductID == "" || li.Quantity < 1 {
			continue
		}
		if _, dup := c.items[li.ProductID]; dup {
			continue
		}
		c.items[li.ProductID] = li
		c.order = append(c.order, li.ProductID)
	}
	return c
}

// Items returns a copy of the line items in insertion order.
func (c Cart) Items() []LineItem {
	out := make([]LineItem, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Get returns the line item for the product id.
func (c Cart) Get(productID string) (LineItem, bool) {
	li, ok := c.items[productID]
	return li, ok
}

// Len returns the number of distinct products.
func (c Cart) Len() int {
	return len(c.order)
}

// IsEmpty reports whether the cart has no items.
func (c Cart) IsEmpty() bool {
	return len(c.order) == 0
}

// Count returns the sum of all quantities.
func (c Cart) Count() int {
	n := 0
	for _, li := range c.items {
		n += li.Quantity
	}
	return n
}

// Total returns the sum of unit price times quantity over all items. It is
// recomputed on every call.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range c.items {
		total = total.Add(li.Subtotal())
	}
	return total
}

// clone returns a deep copy that a transition may modify freely.
func (c Cart) clone() Cart {
	out := Cart{
		items: make(map[string]LineItem, len(c.items)+1),
		order: make([]string, len(c.order), len(c.order)+1),
	}
	for id, li := range c.items {
		out.items[id] = li
	}
	copy(out.order, c.order)
	return out
}

// without returns a copy with the product removed.
func (c Cart) without(productID string) Cart {
	out := Cart{
		items: make(map[string]LineItem, len(c.items)),
		order: make([]string, 0, len(c.order)),
	}
	for _, id := range c.order {
		if id == productID {
			continue
		}
		out.items[id] = c.items[id]
		out.order = append(out.order, id)
	}
	return out
}
