package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/pricing-service/internal/common"
)

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady toggles the readiness flag. It is flipped to false when the server
// starts draining so load balancers stop routing new calls.
func SetReady(v bool) {
	ready.Store(v)
}

// Probe is a dependency that can be checked for readiness.
type Probe interface {
	Name() string
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

// Name implements Probe.
func (p ProbeFunc) Name() string { return p.Label }

// Ping implements Probe.
func (p ProbeFunc) Ping(ctx context.Context) error {
	if p.Fn == nil {
		return nil
	}
	return p.Fn(ctx)
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Service string
	Probes  []Probe
	Timeout time.Duration
}

// Index answers GET / with the service banner.
func (h Handler) Index(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"message": h.Service + " is running"})
}

// Test answers GET /test.
func (h Handler) Test(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "service running"})
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"server": "shutting down"})
		return
	}
	status := make(map[string]string, len(h.Probes))
	healthy := true
	for _, p := range h.Probes {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			status[p.Name()] = err.Error()
			healthy = false
			continue
		}
		status[p.Name()] = "ok"
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}
