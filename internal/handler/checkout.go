package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

func decodeCustomer(d *jx.Decoder) (order.Customer, error) {
	var c order.Customer
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var dst *string
		switch string(key) {
		case "name":
			dst = &c.Name
		case "address":
			dst = &c.Address
		case "email":
			dst = &c.Email
		case "phone":
			dst = &c.Phone
		default:
			return d.Skip()
		}
		s, err := d.Str()
		*dst = s
		return err
	})
	return c, err
}

// BeginCheckout serves POST /api/checkout {"customer": {...}}. It answers
// once the attempt awaits payment, or has already failed, with the attempt
// view.
func (h *Handler) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	var customer order.Customer
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "customer" {
			return d.Skip()
		}
		c, err := decodeCustomer(d)
		customer = c
		return err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	st, ok := h.store(w, r)
	if !ok {
		return
	}
	a, err := h.checkout.Begin(r.Context(), httpmiddleware.SessionFromContext(r.Context()), st, customer)
	switch {
	case errors.Is(err, order.ErrInvalidCustomer):
		writeError(w, http.StatusBadRequest, "invalid_customer", err.Error())
		return
	case errors.Is(err, checkout.ErrEmptyCart):
		writeError(w, http.StatusUnprocessableEntity, "empty_cart", err.Error())
		return
	case errors.Is(err, checkout.ErrInProgress):
		writeError(w, http.StatusConflict, "checkout_in_progress", err.Error())
		return
	case err != nil:
		internalError(w, r, "Begin checkout", err)
		return
	}

	w.Header().Set("Location", "/api/checkout/"+a.ID())
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeAttempt(e, a.View()) })
}

// ActiveCheckout serves GET /api/checkout: the session's in-flight attempt.
func (h *Handler) ActiveCheckout(w http.ResponseWriter, r *http.Request) {
	a, ok := h.checkout.Active(httpmiddleware.SessionFromContext(r.Context()))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no checkout in progress")
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeAttempt(e, a.View()) })
}

// GetCheckout serves GET /api/checkout/{attemptID}. With ?wait=1 it blocks
// until the attempt is terminal, the request is cancelled or MaxWait passes,
// then returns the current view.
func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	a, err := h.checkout.Lookup(chi.URLParam(r, "attemptID"))
	if errors.Is(err, checkout.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		internalError(w, r, "Lookup checkout", err)
		return
	}

	if wait := r.URL.Query().Get("wait"); wait == "1" || wait == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), h.maxWait)
		_, _ = a.Wait(ctx)
		cancel()
		if r.Context().Err() != nil {
			return
		}
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeAttempt(e, a.View()) })
}
