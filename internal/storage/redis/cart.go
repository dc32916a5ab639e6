// Package redis persists shopping carts between requests.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
)

const keyPrefix = "cart:"

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository stores each session's cart as a JSON document that expires
// after the session lifetime. Every save extends the lifetime.
type CartRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCartRepository returns a CartRepository using client.
func NewCartRepository(client redis.UniversalClient, ttl time.Duration) *CartRepository {
	return &CartRepository{client: client, ttl: ttl}
}

// Load returns the saved cart of the session, or an empty cart.
func (r *CartRepository) Load(ctx context.Context, sessionID string) (cart.Cart, error) {
	data, err := r.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cart.Empty(), nil
		}
		return cart.Cart{}, fmt.Errorf("loading cart %q: %w", sessionID, err)
	}

	items, err := decodeItems(data)
	if err != nil {
		return cart.Cart{}, fmt.Errorf("decoding cart %q: %w", sessionID, err)
	}
	return cart.FromItems(items), nil
}

// Save stores c. An empty cart deletes the key.
func (r *CartRepository) Save(ctx context.Context, sessionID string, c cart.Cart) error {
	key := keyPrefix + sessionID
	if c.IsEmpty() {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("deleting cart %q: %w", sessionID, err)
		}
		return nil
	}

	data := encodeItems(c.Items())
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("saving cart %q: %w", sessionID, err)
	}
	return nil
}

// encodeItems writes items as a JSON array. Unit prices are strings so no
// precision is lost.
func encodeItems(items []cart.LineItem) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, li := range items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(li.ProductID)
		e.FieldStart("name")
		e.Str(li.Name)
		e.FieldStart("unit_price")
		e.Str(li.UnitPrice.String())
		e.FieldStart("quantity")
		e.Int(li.Quantity)
		if li.Image != "" {
			e.FieldStart("image")
			e.Str(li.Image)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

// decodeItems reads a JSON array of line items. Unit prices may be strings
// or numbers.
func decodeItems(data []byte) ([]cart.LineItem, error) {
	var items []cart.LineItem
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var li cart.LineItem
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "product_id":
				li.ProductID, err = d.Str()
			case "name":
				li.Name, err = d.Str()
			case "unit_price":
				li.UnitPrice, err = decodePrice(d)
			case "quantity":
				li.Quantity, err = d.Int()
			case "image":
				li.Image, err = d.Str()
			default:
				return d.Skip()
			}
			return errors.Wrapf(err, "decode %q", key)
		}); err != nil {
			return err
		}
		items = append(items, li)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = n.String()
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s", d.Next())
	}
	return decimal.NewFromString(s)
}
