package commerce

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

// encodeCreate writes the POST /orders body.
func encodeCreate(e *jx.Encoder, snap order.Snapshot, c order.Customer) {
	e.ObjStart()
	e.FieldStart("status")
	e.Str(string(order.StatusPending))
	e.FieldStart("set_paid")
	e.Bool(false)

	e.FieldStart("billing")
	e.ObjStart()
	e.FieldStart("first_name")
	e.Str(c.Name)
	e.FieldStart("address_1")
	e.Str(c.Address)
	e.FieldStart("email")
	e.Str(c.Email)
	e.FieldStart("phone")
	e.Str(c.Phone)
	e.ObjEnd()

	e.FieldStart("line_items")
	e.ArrStart()
	for _, it := range snap.Items() {
		e.ObjStart()
		e.FieldStart("product_id")
		encodeID(e, it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Str(it.Price.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// encodeUpdate writes the PUT /orders/{id} body.
func encodeUpdate(e *jx.Encoder, status order.Status, meta []order.Meta) {
	e.ObjStart()
	e.FieldStart("status")
	e.Str(string(status))
	if len(meta) > 0 {
		e.FieldStart("meta_data")
		e.ArrStart()
		for _, m := range meta {
			e.ObjStart()
			e.FieldStart("key")
			e.Str(m.Key)
			e.FieldStart("value")
			e.Str(m.Value)
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}

// encodeID writes numeric catalog ids as JSON numbers, which is what the
// backend expects for its own products, and anything else as a string.
func encodeID(e *jx.Encoder, id string) {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		e.Int64(n)
		return
	}
	e.Str(id)
}

// orderResource is the subset of the backend order representation we read.
type orderResource struct {
	ID     string
	Status order.Status
	Meta   []order.Meta
}

func decodeOrder(data []byte) (orderResource, error) {
	var r orderResource
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			v, err := decodeScalar(d)
			if err != nil {
				return errors.Wrap(err, "id")
			}
			r.ID = v
		case "status":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "status")
			}
			r.Status = order.Status(v)
		case "meta_data":
			if err := d.Arr(func(d *jx.Decoder) error {
				m, err := decodeMeta(d)
				if err != nil {
					return err
				}
				r.Meta = append(r.Meta, m)
				return nil
			}); err != nil {
				return errors.Wrap(err, "meta_data")
			}
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return orderResource{}, errors.Wrap(err, "decode order")
	}
	if r.ID == "" {
		return orderResource{}, errors.New("decode order: missing id")
	}
	return r, nil
}

func decodeMeta(d *jx.Decoder) (order.Meta, error) {
	var m order.Meta
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "key":
			v, err := d.Str()
			if err != nil {
				return err
			}
			m.Key = v
		case "value":
			v, err := decodeScalar(d)
			if err != nil {
				return err
			}
			m.Value = v
		default:
			return d.Skip()
		}
		return nil
	})
	return m, err
}

// decodeScalar reads a string or number as text; other values are kept as
// raw JSON.
func decodeScalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		raw, err := d.Raw()
		if err != nil {
			return "", err
		}
		return raw.String(), nil
	}
}

// apiError is the backend error body: {"code": "...", "message": "..."}.
type apiError struct {
	Code    string
	Message string
}

func (e *apiError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return e.Code + ": " + e.Message
	case e.Message != "":
		return e.Message
	default:
		return e.Code
	}
}

func decodeAPIError(data []byte) *apiError {
	var ae apiError
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "code":
			v, err := decodeScalar(d)
			if err != nil {
				return err
			}
			ae.Code = v
		case "message":
			v, err := d.Str()
			if err != nil {
				return err
			}
			ae.Message = v
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return nil
	}
	if ae.Code == "" && ae.Message == "" {
		return nil
	}
	return &ae
}
