package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const maxRequestBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	httpmiddleware.WriteError(w, status, code, message)
}

// internalError logs err and answers 500 without leaking details.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	zctx.From(r.Context()).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}

// decodeBody parses a JSON object body, calling fn for each top-level field.
// An empty body is accepted as an empty object.
func decodeBody(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return nil
	}
	return jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	})
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	e.Str(p.Price.StringFixed(2))
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("image")
	e.ObjStart()
	e.FieldStart("thumbnail")
	e.Str(h.imageURL(p.Image.Thumbnail))
	e.FieldStart("mobile")
	e.Str(h.imageURL(p.Image.Mobile))
	e.FieldStart("tablet")
	e.Str(h.imageURL(p.Image.Tablet))
	e.FieldStart("desktop")
	e.Str(h.imageURL(p.Image.Desktop))
	e.ObjEnd()
	e.ObjEnd()
}

func (h *Handler) encodeCart(e *jx.Encoder, c cart.Cart) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, li := range c.Items() {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(li.ProductID)
		e.FieldStart("name")
		e.Str(li.Name)
		e.FieldStart("unit_price")
		e.Str(li.UnitPrice.StringFixed(2))
		e.FieldStart("quantity")
		e.Int(li.Quantity)
		e.FieldStart("subtotal")
		e.Str(li.Subtotal().StringFixed(2))
		if li.Image != "" {
			e.FieldStart("image")
			e.Str(h.imageURL(li.Image))
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("count")
	e.Int(c.Count())
	e.FieldStart("total")
	e.Str(c.Total().StringFixed(2))
	e.ObjEnd()
}

func encodeItems(e *jx.Encoder, items []order.Item) {
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Str(it.Price.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeResult(e *jx.Encoder, r checkout.Result) {
	e.ObjStart()
	e.FieldStart("state")
	e.Str(r.State.String())
	if r.OrderID != "" {
		e.FieldStart("order_id")
		e.Str(r.OrderID)
	}
	if r.PaymentReference != "" {
		e.FieldStart("payment_reference")
		e.Str(r.PaymentReference)
	}
	e.FieldStart("total")
	e.Str(r.Total.StringFixed(2))
	if r.Reason != "" {
		e.FieldStart("reason")
		e.Str(r.Reason)
	}
	if r.NeedsReconciliation {
		e.FieldStart("needs_reconciliation")
		e.Bool(true)
	}
	e.FieldStart("finished_at")
	encodeTime(e, r.FinishedAt)
	e.ObjEnd()
}

// encodeAttempt writes the attempt view the frontend polls. The payment
// object carries everything needed to launch the hosted widget.
func encodeAttempt(e *jx.Encoder, v checkout.View) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(v.ID)
	e.FieldStart("state")
	e.Str(v.State.String())
	if v.OrderID != "" {
		e.FieldStart("order_id")
		e.Str(v.OrderID)
	}
	e.FieldStart("total")
	e.Str(v.Total.StringFixed(2))
	e.FieldStart("items")
	encodeItems(e, v.Items)
	if s := v.Session; s != nil && !v.State.IsTerminal() {
		e.FieldStart("payment")
		e.ObjStart()
		e.FieldStart("session_id")
		e.Str(s.ID)
		e.FieldStart("key")
		e.Str(s.Key)
		e.FieldStart("amount")
		e.Int64(s.AmountMinorUnits)
		e.FieldStart("currency")
		e.Str(s.Currency)
		e.FieldStart("order_reference")
		e.Str(s.OrderReference)
		e.FieldStart("prefill")
		e.ObjStart()
		e.FieldStart("name")
		e.Str(s.Prefill.Name)
		e.FieldStart("email")
		e.Str(s.Prefill.Email)
		e.FieldStart("contact")
		e.Str(s.Prefill.Phone)
		e.ObjEnd()
		e.ObjEnd()
	}
	if v.Result != nil {
		e.FieldStart("result")
		encodeResult(e, *v.Result)
	}
	e.FieldStart("created_at")
	encodeTime(e, v.CreatedAt)
	e.ObjEnd()
}
