package cart

import (
	"fmt"

	"github.com/xenking/storefront/internal/domain/product"
)

// Action is a cart mutation. The set of actions is closed: Add, Remove,
// Increment, Decrement and Clear.
type Action interface {
	fmt.Stringer
	action()
}

// Add inserts the product with quantity 1, or increments its quantity when it
// is already present. Products that fail validation are ignored.
type Add struct {
	Product product.Product
}

// Remove deletes the product's line item if present.
type Remove struct {
	ProductID string
}

// Increment raises the product's quantity by one.
type Increment struct {
	ProductID string
}

// Decrement lowers the product's quantity by one. A line item at quantity 1
// is left unchanged; removal is always an explicit Remove.
type Decrement struct {
	ProductID string
}

// Clear empties the cart.
type Clear struct{}

func (Add) action()       {}
func (Remove) action()    {}
func (Increment) action() {}
func (Decrement) action() {}
func (Clear) action()     {}

func (a Add) String() string       { return "add:" + a.Product.ID }
func (a Remove) String() string    { return "remove:" + a.ProductID }
func (a Increment) String() string { return "increment:" + a.ProductID }
func (a Decrement) String() string { return "decrement:" + a.ProductID }
func (Clear) String() string       { return "clear" }

// Reduce applies the action to c and returns the resulting cart. The input is
// never modified. Reduce has no failure mode: actions that do not apply (an
// unknown product id, a decrement at quantity 1) return c unchanged.
func Reduce(c Cart, a Action) Cart {
	switch a := a.(type) {
	case Add:
		if err := a.Product.Validate(); err != nil {
			return c
		}
		out := c.clone()
		if li, ok := out.items[a.Product.ID]; ok {
			li.Quantity++
			out.items[a.Product.ID] = li
			return out
		}
		out.items[a.Product.ID] = LineItem{
			ProductID: a.Product.ID,
			Name:      a.Product.Name,
			UnitPrice: a.Product.Price,
			Quantity:  1,
			Image:     a.Product.Image.Thumbnail,
		}
		out.order = append(out.order, a.Product.ID)
		return out
	case Remove:
		if _, ok := c.items[a.ProductID]; !ok {
			return c
		}
		return c.without(a.ProductID)
	case Increment:
		return adjust(c, a.ProductID, +1)
	case Decrement:
		return adjust(c, a.ProductID, -1)
	case Clear:
		return Empty()
	default:
		return c
	}
}

// adjust changes the quantity by delta, never below 1.
func adjust(c Cart, productID string, delta int) Cart {
	li, ok := c.items[productID]
	if !ok {
		return c
	}
	q := li.Quantity + delta
	if q < 1 {
		return c
	}
	out := c.clone()
	li.Quantity = q
	out.items[productID] = li
	return out
}
