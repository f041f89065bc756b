package obs

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests no route claimed, so 404 scans of random
// paths cannot grow the metric label set.
const unmatchedRoute = "unmatched"

type routeLabelKey struct{}

// WithRouteLabel pins the label metrics, spans and access logs use for the
// request, overriding whatever chi matched.
func WithRouteLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, routeLabelKey{}, label)
}

// RouteLabel names the request for telemetry: an explicit label first, then
// the chi pattern, then fallback.
func RouteLabel(r *http.Request, fallback string) string {
	ctx := r.Context()
	if label, ok := ctx.Value(routeLabelKey{}).(string); ok && label != "" {
		return label
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" && pattern != "/*" {
			return pattern
		}
	}
	return fallback
}
