package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/paywidget"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// --- Mock implementations ---

type mockProducts struct {
	products []product.Product
}

func (m *mockProducts) List(context.Context) ([]product.Product, error) {
	return m.products, nil
}

func (m *mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	for _, p := range m.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, err := m.GetByID(context.Background(), id); err == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockGateway struct {
	mu       sync.Mutex
	statuses map[string]order.Status
}

func (m *mockGateway) CreateOrder(_ context.Context, snap order.Snapshot, c order.Customer) (*order.PendingOrder, error) {
	return &order.PendingOrder{ID: "9001", Snapshot: snap, Customer: c, Status: order.StatusPending}, nil
}

func (m *mockGateway) SetOrderStatus(_ context.Context, id string, status order.Status, _ ...order.Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = make(map[string]order.Status)
	}
	m.statuses[id] = status
	return nil
}

func (m *mockGateway) status(id string) order.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[id]
}

// mockWidget plays both sides of the hosted widget: it opens sessions for
// the orchestrator and receives the browser's callbacks.
type mockWidget struct {
	mu       sync.Mutex
	next     int
	sessions map[string]payment.Callback
	resolved map[string]bool
}

func (m *mockWidget) Open(_ context.Context, req payment.Request, cb payment.Callback) (*payment.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]payment.Callback)
		m.resolved = make(map[string]bool)
	}
	m.next++
	id := "order_" + string(rune('A'+m.next-1))
	m.sessions[id] = cb
	return &payment.Session{
		ID:               id,
		Key:              "key_test",
		AmountMinorUnits: req.MinorUnits(),
		Currency:         req.Currency,
		OrderReference:   req.OrderReference,
		Prefill:          req.Prefill,
	}, nil
}

func (m *mockWidget) resolve(id string, out payment.Outcome) error {
	m.mu.Lock()
	cb, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return paywidget.ErrUnknownSession
	}
	if m.resolved[id] {
		m.mu.Unlock()
		return paywidget.ErrAlreadyResolved
	}
	m.resolved[id] = true
	m.mu.Unlock()
	cb(out)
	return nil
}

func (m *mockWidget) Succeed(id, ref, sig string) error {
	if sig != "good" {
		if err := m.resolve(id, payment.Failure("payment signature mismatch")); err != nil {
			return err
		}
		return paywidget.ErrInvalidSignature
	}
	return m.resolve(id, payment.Success(ref))
}

func (m *mockWidget) Dismiss(id string) error { return m.resolve(id, payment.Dismissed()) }

func (m *mockWidget) Fail(id, reason string) error { return m.resolve(id, payment.Failure(reason)) }

// --- Test harness ---

type fixture struct {
	t       *testing.T
	router  http.Handler
	gateway *mockGateway
	cookie  *http.Cookie
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	products := &mockProducts{products: []product.Product{
		{ID: "1", Name: "Masala Chai Tin", Price: decimal.NewFromInt(100), Category: "Tea",
			Image: product.Image{Thumbnail: "images/chai-thumb.jpg", Desktop: "https://cdn.example/chai.jpg"}},
		{ID: "2", Name: "Brass Tea Kettle", Price: decimal.NewFromInt(250), Category: "Kitchenware"},
	}}
	gw := &mockGateway{}
	widget := &mockWidget{}
	orch, err := checkout.New(gw, widget, checkout.Config{Currency: "INR"})
	require.NoError(t, err)

	h := New(Config{ImageBaseURL: "https://img.example/"}, products, cart.NewSessions(nil, nil), orch, widget)
	r := chi.NewRouter()
	r.Use(httpmiddleware.Session(httpmiddleware.SessionConfig{CookieName: "cart_session"}))
	h.Routes(r)

	return &fixture{t: t, router: r, gateway: gw}
}

func (f *fixture) do(method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	f.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == "cart_session" {
			f.cookie = c
		}
	}

	var decoded map[string]any
	if strings.HasPrefix(w.Body.String(), "{") {
		require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestListProducts(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(http.MethodGet, "/api/products", "")
	require.Equal(t, http.StatusOK, w.Code)

	var products []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &products))
	require.Len(t, products, 2)
	assert.Equal(t, "100.00", products[0]["price"])
	image := products[0]["image"].(map[string]any)
	assert.Equal(t, "https://img.example/images/chai-thumb.jpg", image["thumbnail"])
	assert.Equal(t, "https://cdn.example/chai.jpg", image["desktop"])
}

func TestGetProduct(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(http.MethodGet, "/api/products/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Brass Tea Kettle", body["name"])

	w, body = f.do(http.MethodGet, "/api/products/404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["code"])
}

func TestCart(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0.00", body["total"])
	require.NotNil(t, f.cookie)

	f.do(http.MethodPost, "/api/cart/items", `{"product_id":"1"}`)
	_, body = f.do(http.MethodPost, "/api/cart/items", `{"product_id":2}`)
	assert.Equal(t, "350.00", body["total"])

	_, body = f.do(http.MethodPost, "/api/cart/items/1/increment", "")
	assert.Equal(t, "450.00", body["total"])
	assert.EqualValues(t, 3, body["count"])

	_, body = f.do(http.MethodPost, "/api/cart/items/2/decrement", "")
	assert.Equal(t, "450.00", body["total"], "decrement at quantity 1 keeps the item")

	_, body = f.do(http.MethodDelete, "/api/cart/items/2", "")
	assert.Equal(t, "200.00", body["total"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "1", item["product_id"])
	assert.Equal(t, "100.00", item["unit_price"])
	assert.EqualValues(t, 2, item["quantity"])
	assert.Equal(t, "https://img.example/images/chai-thumb.jpg", item["image"])

	_, body = f.do(http.MethodDelete, "/api/cart", "")
	assert.Equal(t, "0.00", body["total"])
}

func TestAddItem_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		err  string
	}{
		{name: "UnknownProduct", body: `{"product_id":"99"}`, code: http.StatusUnprocessableEntity, err: "unknown_product"},
		{name: "MissingID", body: `{}`, code: http.StatusBadRequest, err: "missing_fields"},
		{name: "BadJSON", body: `{"product_id":`, code: http.StatusBadRequest, err: "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w, body := f.do(http.MethodPost, "/api/cart/items", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.err, body["code"])
		})
	}
}

const customerJSON = `{"customer":{"name":"Asha","address":"12 MG Road","email":"asha@example.com","phone":"9999999999"}}`

func TestCheckout_Succeeded(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/cart/items", `{"product_id":"1"}`)
	f.do(http.MethodPost, "/api/cart/items", `{"product_id":"2"}`)

	w, view := f.do(http.MethodPost, "/api/checkout", customerJSON)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "awaiting_payment", view["state"])
	assert.Equal(t, "9001", view["order_id"])
	assert.Equal(t, "350.00", view["total"])
	attemptID := view["id"].(string)
	assert.Equal(t, "/api/checkout/"+attemptID, w.Header().Get("Location"))

	pay := view["payment"].(map[string]any)
	assert.EqualValues(t, 35000, pay["amount"])
	assert.Equal(t, "INR", pay["currency"])
	assert.Equal(t, "9001", pay["order_reference"])
	prefill := pay["prefill"].(map[string]any)
	assert.Equal(t, "asha@example.com", prefill["email"])
	sessionID := pay["session_id"].(string)

	w, _ = f.do(http.MethodPost, "/api/checkout", customerJSON)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, active := f.do(http.MethodGet, "/api/checkout", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, attemptID, active["id"])

	w, _ = f.do(http.MethodPost, "/api/payments/"+sessionID+"/success", `{"payment_reference":"pay_1","signature":"good"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w, view = f.do(http.MethodGet, "/api/checkout/"+attemptID+"?wait=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "succeeded", view["state"])
	assert.NotContains(t, view, "payment")
	result := view["result"].(map[string]any)
	assert.Equal(t, "pay_1", result["payment_reference"])
	assert.Equal(t, "350.00", result["total"])
	assert.Equal(t, order.StatusCompleted, f.gateway.status("9001"))

	_, c := f.do(http.MethodGet, "/api/cart", "")
	assert.Equal(t, "0.00", c["total"])

	w, _ = f.do(http.MethodGet, "/api/checkout", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := f.do(http.MethodPost, "/api/payments/"+sessionID+"/dismiss", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_resolved", body["code"])
}

func TestCheckout_Dismissed(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/cart/items", `{"product_id":"1"}`)
	_, view := f.do(http.MethodPost, "/api/checkout", customerJSON)
	sessionID := view["payment"].(map[string]any)["session_id"].(string)

	w, _ := f.do(http.MethodPost, "/api/payments/"+sessionID+"/dismiss", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	_, view = f.do(http.MethodGet, "/api/checkout/"+view["id"].(string)+"?wait=1", "")
	assert.Equal(t, "cancelled", view["state"])
	assert.Equal(t, order.StatusCancelled, f.gateway.status("9001"))

	_, c := f.do(http.MethodGet, "/api/cart", "")
	assert.Equal(t, "100.00", c["total"], "cart is kept after cancellation")
}

func TestCheckout_PaymentError(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/cart/items", `{"product_id":"1"}`)
	_, view := f.do(http.MethodPost, "/api/checkout", customerJSON)
	sessionID := view["payment"].(map[string]any)["session_id"].(string)

	w, _ := f.do(http.MethodPost, "/api/payments/"+sessionID+"/error", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	_, view = f.do(http.MethodGet, "/api/checkout/"+view["id"].(string)+"?wait=1", "")
	assert.Equal(t, "failed", view["state"])
	assert.Equal(t, "payment failed", view["result"].(map[string]any)["reason"])
	assert.Empty(t, f.gateway.status("9001"), "failed payment leaves the order pending")
}

func TestCheckout_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/cart/items", `{"product_id":"1"}`)
	_, view := f.do(http.MethodPost, "/api/checkout", customerJSON)
	sessionID := view["payment"].(map[string]any)["session_id"].(string)

	w, body := f.do(http.MethodPost, "/api/payments/"+sessionID+"/success", `{"payment_reference":"pay_1","signature":"forged"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_signature", body["code"])

	_, view = f.do(http.MethodGet, "/api/checkout/"+view["id"].(string)+"?wait=1", "")
	assert.Equal(t, "failed", view["state"])
}

func TestBeginCheckout_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fill   bool
		body   string
		code   int
		errKey string
	}{
		{name: "EmptyCart", body: customerJSON, code: http.StatusUnprocessableEntity, errKey: "empty_cart"},
		{name: "InvalidCustomer", fill: true, body: `{"customer":{"name":"Asha"}}`, code: http.StatusBadRequest, errKey: "invalid_customer"},
		{name: "BadJSON", fill: true, body: `{"customer":`, code: http.StatusBadRequest, errKey: "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.fill {
				f.do(http.MethodPost, "/api/cart/items", `{"product_id":"1"}`)
			} else {
				f.do(http.MethodGet, "/api/cart", "")
			}
			w, body := f.do(http.MethodPost, "/api/checkout", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.errKey, body["code"])
		})
	}
}

func TestGetCheckout_NotFound(t *testing.T) {
	f := newFixture(t)
	w, body := f.do(http.MethodGet, "/api/checkout/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["code"])
}

func TestPaymentCallback_UnknownSession(t *testing.T) {
	f := newFixture(t)
	w, body := f.do(http.MethodPost, "/api/payments/order_Z/success", `{"payment_reference":"pay_1","signature":"good"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_session", body["code"])
}

func TestPaymentCallback_OtherSessionCannotResolve(t *testing.T) {
	owner := newFixture(t)
	owner.do(http.MethodPost, "/api/cart/items", `{"product_id":"1"}`)
	_, view := owner.do(http.MethodPost, "/api/checkout", customerJSON)
	attemptID := view["id"].(string)
	sessionID := view["payment"].(map[string]any)["session_id"].(string)

	stranger := &fixture{t: t, router: owner.router, gateway: owner.gateway}
	stranger.do(http.MethodGet, "/api/cart", "")
	require.NotNil(t, stranger.cookie)

	for _, action := range []string{"dismiss", "error"} {
		w, body := stranger.do(http.MethodPost, "/api/payments/"+sessionID+"/"+action, "")
		assert.Equal(t, http.StatusNotFound, w.Code, action)
		assert.Equal(t, "unknown_session", body["code"], action)
	}

	_, view = owner.do(http.MethodGet, "/api/checkout/"+attemptID, "")
	assert.Equal(t, "awaiting_payment", view["state"])
	assert.Empty(t, owner.gateway.status("9001"))

	w, _ := owner.do(http.MethodPost, "/api/payments/"+sessionID+"/dismiss", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	_, view = owner.do(http.MethodGet, "/api/checkout/"+attemptID+"?wait=1", "")
	assert.Equal(t, "cancelled", view["state"])
}

func TestPaymentCallback_UnknownSessionDismiss(t *testing.T) {
	f := newFixture(t)
	w, body := f.do(http.MethodPost, "/api/payments/order_Z/dismiss", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_session", body["code"])
}
