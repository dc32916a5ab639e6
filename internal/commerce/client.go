// Package commerce is the client for the external commerce backend's order
// endpoints. Every call is a fresh round trip; nothing is cached.
package commerce

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// maxBody bounds how much of a response is read.
const maxBody = 1 << 20

// Config holds the backend location and credentials.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option { return func(c *Client) { c.lg = lg } }

// Client implements order.Gateway over the backend's REST API.
type Client struct {
	base   *url.URL
	key    string
	secret string
	http   *http.Client
	lg     *zap.Logger
}

var _ order.Gateway = (*Client)(nil)

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("commerce base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		base:   base,
		key:    cfg.ConsumerKey,
		secret: cfg.ConsumerSecret,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		lg: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateOrder submits the snapshot and customer as a pending order.
func (c *Client) CreateOrder(ctx context.Context, snap order.Snapshot, customer order.Customer) (*order.PendingOrder, error) {
	var e jx.Encoder
	encodeCreate(&e, snap, customer)

	status, body, err := c.do(ctx, http.MethodPost, e.Bytes(), "orders")
	if err != nil {
		return nil, &order.CreationError{Err: err}
	}
	if status >= 300 {
		return nil, &order.CreationError{
			Rejected:   status >= 400 && status < 500,
			StatusCode: status,
			Err:        responseError(status, body),
		}
	}

	res, err := decodeOrder(body)
	if err != nil {
		return nil, &order.CreationError{StatusCode: status, Err: err}
	}
	st := res.Status
	if !st.Valid() {
		st = order.StatusPending
	}
	c.lg.Debug("Order created", zap.String("order", res.ID), zap.Stringer("total", snap.Total()))
	return &order.PendingOrder{
		ID:       res.ID,
		Snapshot: snap,
		Customer: customer,
		Status:   st,
		Meta:     res.Meta,
	}, nil
}

// SetOrderStatus moves an existing order to status. Setting the status an
// order already has is a no-op on the backend.
func (c *Client) SetOrderStatus(ctx context.Context, orderID string, status order.Status, meta ...order.Meta) error {
	if orderID == "" {
		return &order.UpdateError{Status: status, StatusCode: http.StatusBadRequest, Err: errors.New("empty order id")}
	}
	var e jx.Encoder
	encodeUpdate(&e, status, meta)

	code, body, err := c.do(ctx, http.MethodPut, e.Bytes(), "orders", orderID)
	if err != nil {
		return &order.UpdateError{OrderID: orderID, Status: status, Err: err}
	}
	if code >= 300 {
		return &order.UpdateError{
			OrderID:    orderID,
			Status:     status,
			StatusCode: code,
			Err:        responseError(code, body),
		}
	}
	c.lg.Debug("Order status set", zap.String("order", orderID), zap.String("status", string(status)))
	return nil
}

func (c *Client) do(ctx context.Context, method string, payload []byte, elem ...string) (int, []byte, error) {
	u := c.base.JoinPath(elem...)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
	if err != nil {
		return 0, nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.key != "" {
		req.SetBasicAuth(c.key, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "send")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "read body")
	}
	return resp.StatusCode, body, nil
}

func responseError(status int, body []byte) error {
	if ae := decodeAPIError(body); ae != nil {
		return ae
	}
	return fmt.Errorf("unexpected status %d", status)
}
