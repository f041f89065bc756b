package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/pricing-service/internal/obs"
	"github.com/noah-isme/pricing-service/internal/resilience"
)

const maxPayloadBytes = 1 << 20

// Product is the slice of inventory data pricing needs. It is fetched fresh on
// every call and never cached.
type Product struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the product lookup root; lookups hit {BaseURL}/{product_id}.
	BaseURL   string
	Timeout   time.Duration
	Breaker   *resilience.Breaker
	Transport http.RoundTripper
}

// Client resolves products against the inventory service over HTTP.
type Client struct {
	base *url.URL
	port string
	http resilience.HTTPClient
}

// NewClient validates cfg and builds a Client. A finite timeout is mandatory.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("inventory: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("inventory: timeout must be positive")
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		base: base,
		port: portOf(base),
		http: resilience.HTTPClient{
			Client:  &http.Client{Transport: otelhttp.NewTransport(transport)},
			Breaker: cfg.Breaker,
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Port reports the collaborator port for operator-facing messages.
func (c *Client) Port() string { return c.port }

// Resolve fetches the current name and unit price of productID. It returns an
// error wrapping ErrNotFound, *UnavailableError or ErrMalformed on failure and
// never retries.
func (c *Client) Resolve(ctx context.Context, productID int64) (Product, error) {
	start := time.Now()
	product, result, err := c.resolve(ctx, productID)
	obs.ObserveInventoryLookup(result, obs.DurationMillis(time.Since(start)))
	if err != nil && result != "canceled" {
		zerolog.Ctx(ctx).Debug().Err(err).Int64("product_id", productID).Str("result", result).Msg("inventory_lookup")
	}
	return product, err
}

func (c *Client) resolve(ctx context.Context, productID int64) (Product, string, error) {
	endpoint := c.base.JoinPath(strconv.FormatInt(productID, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Product{}, "malformed", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Product{}, "canceled", ctx.Err()
		}
		return Product{}, "unavailable", &UnavailableError{Port: c.port, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadBytes))
		return Product{}, "not_found", fmt.Errorf("%w: product %d (status %d)", ErrNotFound, productID, resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		// Headers arrived but the body stalled or broke off: the dependency is
		// unhealthy, the payload is not malformed.
		if ctx.Err() != nil {
			return Product{}, "canceled", ctx.Err()
		}
		return Product{}, "unavailable", &UnavailableError{Port: c.port, Err: err}
	}
	product, err := decodeProduct(payload, productID)
	if err != nil {
		return Product{}, "malformed", err
	}
	return product, "found", nil
}

type productEnvelope struct {
	Product *struct {
		Name  *string          `json:"name"`
		Price *decimal.Decimal `json:"price"`
	} `json:"product"`
}

func decodeProduct(payload []byte, productID int64) (Product, error) {
	var env productEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Product{}, fmt.Errorf("%w for product %d: %v", ErrMalformed, productID, err)
	}
	switch {
	case env.Product == nil:
		return Product{}, fmt.Errorf("%w for product %d: missing product object", ErrMalformed, productID)
	case env.Product.Price == nil:
		return Product{}, fmt.Errorf("%w for product %d: missing price", ErrMalformed, productID)
	case env.Product.Price.IsNegative():
		return Product{}, fmt.Errorf("%w for product %d: negative price %s", ErrMalformed, productID, env.Product.Price)
	case env.Product.Name == nil:
		return Product{}, fmt.Errorf("%w for product %d: missing name", ErrMalformed, productID)
	}
	return Product{ID: productID, Name: *env.Product.Name, Price: *env.Product.Price}, nil
}

// Ping checks that the inventory service answers on its root path. Any non-5xx
// answer counts as reachable. It bypasses the breaker so readiness probes never
// trip it.
func (c *Client) Ping(ctx context.Context) error {
	root := &url.URL{Scheme: c.base.Scheme, Host: c.base.Host, Path: "/"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, root.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Client.Do(req)
	if err != nil {
		return &UnavailableError{Port: c.port, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadBytes))
	if resp.StatusCode >= http.StatusInternalServerError {
		return &UnavailableError{Port: c.port, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}
