package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/paywidget"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// PaymentSucceeded serves POST /api/payments/{sessionID}/success
// {"payment_reference": "...", "signature": "..."}.
func (h *Handler) PaymentSucceeded(w http.ResponseWriter, r *http.Request) {
	var ref, sig string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "payment_reference":
			s, err := d.Str()
			ref = s
			return err
		case "signature":
			s, err := d.Str()
			sig = s
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	h.paymentResolved(w, r, h.payments.Succeed(chi.URLParam(r, "sessionID"), ref, sig))
}

// PaymentDismissed serves POST /api/payments/{sessionID}/dismiss. Only the
// cart session that started the checkout may dismiss its payment.
func (h *Handler) PaymentDismissed(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownPaymentSession(w, r)
	if !ok {
		return
	}
	h.paymentResolved(w, r, h.payments.Dismiss(id))
}

// PaymentFailed serves POST /api/payments/{sessionID}/error {"reason": "..."}.
// The body is optional; widget errors carry no guaranteed payload. Like
// dismissal it is restricted to the owning cart session.
func (h *Handler) PaymentFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownPaymentSession(w, r)
	if !ok {
		return
	}
	var reason string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "reason" {
			return d.Skip()
		}
		if d.Next() != jx.String {
			return d.Skip()
		}
		s, err := d.Str()
		reason = s
		return err
	})
	if err != nil {
		zctx.From(r.Context()).Debug("Unreadable payment error body", zap.Error(err))
	}
	h.paymentResolved(w, r, h.payments.Fail(id, reason))
}

// ownPaymentSession resolves the payment session in the path and checks that
// it was opened by the caller's cart session. Sessions of other shoppers are
// reported as unknown. Success callbacks skip this check: the gateway
// signature authenticates them.
func (h *Handler) ownPaymentSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionID")
	a, err := h.checkout.ByPaymentSession(id)
	if err != nil || !a.BelongsTo(httpmiddleware.SessionFromContext(r.Context())) {
		writeError(w, http.StatusNotFound, "unknown_session", paywidget.ErrUnknownSession.Error())
		return "", false
	}
	return id, true
}

func (h *Handler) paymentResolved(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, paywidget.ErrUnknownSession):
		writeError(w, http.StatusNotFound, "unknown_session", err.Error())
	case errors.Is(err, paywidget.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "already_resolved", err.Error())
	case errors.Is(err, paywidget.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid_signature", err.Error())
	default:
		internalError(w, r, "Resolve payment session", err)
	}
}
