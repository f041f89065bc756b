package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pricing-service/internal/obs"
)

func TestRequestLoggerRecordsMatchedRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	var ctxLogged bool
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Get("/api/pricing/rules/{productID}", func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		ctxLogged = true
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/pricing/rules/7", nil))
	require.True(t, ctxLogged)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inner, access map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inner))
	require.NoError(t, json.Unmarshal(lines[1], &access))
	require.NotEmpty(t, inner["request_id"])
	require.Equal(t, inner["request_id"], access["request_id"])
	require.Equal(t, "/api/pricing/rules/{productID}", access["route"])
	require.Equal(t, "warn", access["level"])
	require.EqualValues(t, 404, access["status"])
}

func TestDomainMetricsObserve(t *testing.T) {
	obs.MustRegisterDomainMetrics("pricing_test", prometheus.NewRegistry())

	before := testutil.ToFloat64(obs.PricingCalculationsTotal.WithLabelValues("success"))
	obs.ObservePricing("success", 3)
	require.Equal(t, before+1, testutil.ToFloat64(obs.PricingCalculationsTotal.WithLabelValues("success")))

	beforeLookup := testutil.ToFloat64(obs.InventoryLookupTotal.WithLabelValues("not_found"))
	obs.ObserveInventoryLookup("not_found", 12)
	require.Equal(t, beforeLookup+1, testutil.ToFloat64(obs.InventoryLookupTotal.WithLabelValues("not_found")))
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10.5}, obs.ParseBucketsCSV("5, x, -1, 10.5"))
	require.Nil(t, obs.ParseBucketsCSV(" "))
}
