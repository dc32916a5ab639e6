// Package handler exposes the catalog, cart sessions, checkout attempts and
// payment widget callbacks over JSON/HTTP.
package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Carts resolves the cart store of a browser session.
type Carts interface {
	Get(ctx context.Context, sessionID string) (*cart.Store, error)
}

// Checkout runs checkout attempts.
type Checkout interface {
	Begin(ctx context.Context, sessionKey string, store checkout.CartStore, customer order.Customer) (*checkout.Attempt, error)
	Lookup(id string) (*checkout.Attempt, error)
	Active(sessionKey string) (*checkout.Attempt, bool)
	ByPaymentSession(paymentSessionID string) (*checkout.Attempt, error)
}

// PaymentCallbacks receives the hosted widget's resolution of a session.
type PaymentCallbacks interface {
	Succeed(sessionID, paymentReference, signature string) error
	Dismiss(sessionID string) error
	Fail(sessionID, reason string) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in responses.
	ImageBaseURL string
	// MaxWait bounds long-polling on GET /api/checkout/{id}?wait=1.
	MaxWait time.Duration
	// CheckoutLimit, when set, wraps checkout submission.
	CheckoutLimit httpmiddleware.Middleware
}

// Handler serves the storefront API.
type Handler struct {
	products product.Repository
	carts    Carts
	checkout Checkout
	payments PaymentCallbacks

	imageBaseURL  string
	maxWait       time.Duration
	checkoutLimit httpmiddleware.Middleware
}

// New constructs a Handler.
func New(cfg Config, products product.Repository, carts Carts, co Checkout, payments PaymentCallbacks) *Handler {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 25 * time.Second
	}
	if cfg.CheckoutLimit == nil {
		cfg.CheckoutLimit = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		products:      products,
		carts:         carts,
		checkout:      co,
		payments:      payments,
		imageBaseURL:  strings.TrimSuffix(cfg.ImageBaseURL, "/"),
		maxWait:       cfg.MaxWait,
		checkoutLimit: cfg.CheckoutLimit,
	}
}

// Routes mounts the API on r. Cart and checkout routes expect the
// httpmiddleware.Session middleware to have run.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)

		r.Get("/cart", h.GetCart)
		r.Delete("/cart", h.ClearCart)
		r.Post("/cart/items", h.AddItem)
		r.Delete("/cart/items/{id}", h.RemoveItem)
		r.Post("/cart/items/{id}/increment", h.IncrementItem)
		r.Post("/cart/items/{id}/decrement", h.DecrementItem)

		r.With(h.checkoutLimit).Post("/checkout", h.BeginCheckout)
		r.Get("/checkout", h.ActiveCheckout)
		r.Get("/checkout/{attemptID}", h.GetCheckout)

		r.Post("/payments/{sessionID}/success", h.PaymentSucceeded)
		r.Post("/payments/{sessionID}/dismiss", h.PaymentDismissed)
		r.Post("/payments/{sessionID}/error", h.PaymentFailed)
	})
}

// imageURL resolves a stored image path against the configured base.
func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" {
		return path
	}
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path
	}
	return h.imageBaseURL + "/" + strings.TrimPrefix(path, "/")
}
