package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// store returns the session's cart store, writing the error response itself
// when it cannot.
func (h *Handler) store(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	st, err := h.carts.Get(r.Context(), httpmiddleware.SessionFromContext(r.Context()))
	switch {
	case errors.Is(err, cart.ErrSessionRequired):
		writeError(w, http.StatusBadRequest, "session_required", "cart session cookie required")
		return nil, false
	case err != nil:
		internalError(w, r, "Load cart", err)
		return nil, false
	}
	return st, true
}

func (h *Handler) writeCart(w http.ResponseWriter, c cart.Cart) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeCart(e, c) })
}

// GetCart serves GET /api/cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	h.writeCart(w, st.Snapshot())
}

// AddItem serves POST /api/cart/items {"product_id": "..."}. The line item is
// priced from the catalog.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var productID string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "product_id" {
			return d.Skip()
		}
		// Accept numeric ids too.
		switch d.Next() {
		case jx.Number:
			n, err := d.Num()
			productID = n.String()
			return err
		default:
			s, err := d.Str()
			productID = s
			return err
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if productID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "product_id is required")
		return
	}

	p, err := h.products.GetByID(r.Context(), productID)
	switch {
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, "unknown_product", "product not found")
		return
	case err != nil:
		internalError(w, r, "Get product", err)
		return
	}

	st, ok := h.store(w, r)
	if !ok {
		return
	}
	h.writeCart(w, st.Add(*p))
}

// RemoveItem serves DELETE /api/cart/items/{id}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(st *cart.Store, id string) cart.Cart { return st.Remove(id) })
}

// IncrementItem serves POST /api/cart/items/{id}/increment.
func (h *Handler) IncrementItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(st *cart.Store, id string) cart.Cart { return st.Increment(id) })
}

// DecrementItem serves POST /api/cart/items/{id}/decrement. A line item at
// quantity 1 stays in the cart.
func (h *Handler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(st *cart.Store, id string) cart.Cart { return st.Decrement(id) })
}

// ClearCart serves DELETE /api/cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	st.Clear()
	h.writeCart(w, st.Snapshot())
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(st *cart.Store, productID string) cart.Cart) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	h.writeCart(w, fn(st, chi.URLParam(r, "id")))
}
