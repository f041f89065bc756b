package pricing_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pricing-service/internal/inventory"
	"github.com/noah-isme/pricing-service/internal/pricing"
)

var catalog = map[string]string{
	"1": `{"product":{"id":1,"name":"Laptop","price":1000}}`,
	"2": `{"product":{"id":2,"name":"Mouse","price":20}}`,
	"3": `{"product":{"id":3,"name":"Cable","price":"7.50"}}`,
}

func inventoryServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/inventory/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, ok := catalog[chi.URLParam(r, "id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"status":"error","message":"Product not found"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func pricingRouter(t *testing.T, inventoryBase string) http.Handler {
	t.Helper()
	client, err := inventory.NewClient(inventory.ClientConfig{BaseURL: inventoryBase, Timeout: time.Second})
	require.NoError(t, err)
	rules, err := pricing.NewRuleSet(pricing.DefaultRules())
	require.NoError(t, err)
	engine, err := pricing.NewEngine(pricing.EngineConfig{Resolver: client, Rules: rules, Concurrency: 2})
	require.NoError(t, err)

	h := &pricing.Handler{Engine: engine, Rules: rules}
	r := chi.NewRouter()
	r.Route("/api/pricing", h.Routes)
	return r
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/pricing/calculate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	dec := json.NewDecoder(rec.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(&out))
	return rec, out
}

func TestCalculateEndpoint(t *testing.T) {
	var calls atomic.Int32
	inv := inventoryServer(t, &calls)
	h := pricingRouter(t, inv.URL+"/api/inventory")

	rec, out := post(t, h, `{"products":[{"product_id":1,"quantity":5},{"product_id":2,"quantity":3},{"product_id":3,"quantity":3}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "success", out["status"])
	// 4500 + 60 + 21.375
	require.Equal(t, json.Number("4581.38"), out["grand_total"])

	details := out["details"].([]any)
	require.Len(t, details, 3)
	first := details[0].(map[string]any)
	require.Equal(t, json.Number("1"), first["product_id"])
	require.Equal(t, "Laptop", first["name"])
	require.Equal(t, json.Number("1000"), first["base_price"])
	require.Equal(t, json.Number("5"), first["quantity"])
	require.Equal(t, "10.0%", first["discount_applied"])
	require.Equal(t, json.Number("4500"), first["item_total"])

	second := details[1].(map[string]any)
	require.Equal(t, "0.0%", second["discount_applied"])
	require.Equal(t, json.Number("60"), second["item_total"])

	third := details[2].(map[string]any)
	require.Equal(t, "5.0%", third["discount_applied"])
	require.Equal(t, json.Number("21.38"), third["item_total"])
	require.Equal(t, int32(3), calls.Load())
}

func TestCalculateEndpointNotFound(t *testing.T) {
	var calls atomic.Int32
	inv := inventoryServer(t, &calls)
	h := pricingRouter(t, inv.URL+"/api/inventory")

	rec, out := post(t, h, `{"products":[{"product_id":1,"quantity":1},{"product_id":404,"quantity":1}]}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "error", out["status"])
	require.Equal(t, "Product ID 404 not found in inventory", out["message"])
	require.NotContains(t, out, "details")
}

func TestCalculateEndpointInventoryOffline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	h := pricingRouter(t, "http://"+addr+"/api/inventory")
	rec, out := post(t, h, `{"products":[{"product_id":1,"quantity":1}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Inventory Service is offline. Please start it on port "+port+".", out["message"])
}

func TestCalculateEndpointInventoryServerError(t *testing.T) {
	inv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"status":"error","message":"maintenance"}`)
	}))
	t.Cleanup(inv.Close)
	u, err := url.Parse(inv.URL)
	require.NoError(t, err)

	h := pricingRouter(t, inv.URL+"/api/inventory")
	rec, out := post(t, h, `{"products":[{"product_id":1,"quantity":1}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "error", out["status"])
	require.Equal(t, "Inventory Service is offline. Please start it on port "+u.Port()+".", out["message"])
}

func TestCalculateEndpointValidation(t *testing.T) {
	var calls atomic.Int32
	inv := inventoryServer(t, &calls)
	h := pricingRouter(t, inv.URL+"/api/inventory")

	rec, out := post(t, h, `{"products":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid input, 'products' list is required", out["message"])

	rec, out = post(t, h, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid input, 'products' list is required", out["message"])

	rec, out = post(t, h, `{"products":[{"product_id":1}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Validation failed", out["message"])
	require.Equal(t, []any{"Product at index 0 missing quantity"}, out["errors"])

	require.Zero(t, calls.Load())
}

type panicky struct{}

func (panicky) Calculate(context.Context, []pricing.LineItem) (pricing.Quote, error) {
	panic("boom")
}

func TestCalculateRecoversPanics(t *testing.T) {
	h := &pricing.Handler{Engine: panicky{}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"products":[{"product_id":1,"quantity":1}]}`))
	rec := httptest.NewRecorder()
	h.Calculate(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"status":"error","message":"boom"}`, rec.Body.String())
}

func TestRulesEndpoints(t *testing.T) {
	h := pricingRouter(t, "http://127.0.0.1:5002/api/inventory")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pricing/rules", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var all struct {
		Status string `json:"status"`
		Rules  []struct {
			RuleID             int64       `json:"rule_id"`
			ProductID          int64       `json:"product_id"`
			MinQuantity        int64       `json:"min_quantity"`
			DiscountPercentage json.Number `json:"discount_percentage"`
		} `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Equal(t, "success", all.Status)
	require.Len(t, all.Rules, 4)
	require.Equal(t, json.Number("10"), all.Rules[0].DiscountPercentage)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pricing/rules/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"min_quantity":10`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pricing/rules/99", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"success","product_id":99,"rules":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pricing/rules/abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
