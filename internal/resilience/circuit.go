package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var breakerNopLogger = zerolog.Nop()

// ErrOpenCircuit is returned when the breaker refuses to call the dependency.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	// Closed lets every call through and counts outcomes.
	Closed State = iota
	// Open refuses calls until the cool-off elapses.
	Open
	// HalfOpen admits a single trial call whose outcome decides the next state.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// gaugeValue is the breaker_state encoding.
func (s State) gaugeValue() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

// outcomes counts calls seen while closed. It is halved once it holds more
// than twice the minimum sample so old traffic fades out.
type outcomes struct {
	failed, total int
}

func (o *outcomes) add(success bool, minRequests int) {
	o.total++
	if !success {
		o.failed++
	}
	if o.total > 2*minRequests {
		o.total = (o.total + 1) / 2
		o.failed = (o.failed + 1) / 2
	}
}

func (o outcomes) ratio() float64 {
	if o.total == 0 {
		return 0
	}
	return float64(o.failed) / float64(o.total)
}

// Breaker guards one dependency, such as the inventory service, with a
// failure-ratio circuit.
type Breaker struct {
	minRequests  int
	failureRatio float64
	openFor      time.Duration

	mu         sync.Mutex
	state      State
	seen       outcomes
	openedAt   time.Time
	trialSince time.Time
	dependency string
	logger     *zerolog.Logger
}

// NewBreaker builds a closed breaker that opens once at least minRequests
// calls were seen and the share of failures reaches failureRatio. It stays
// open for openFor before admitting a trial call.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	switch {
	case failureRatio <= 0:
		failureRatio = 0.5
	case failureRatio > 1:
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{minRequests: minRequests, failureRatio: failureRatio, openFor: openFor}
}

// WithTarget names the guarded dependency in metrics and logs.
func (b *Breaker) WithTarget(dependency string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dependency = strings.TrimSpace(dependency)
	b.publishStateLocked()
	return b
}

// WithLogger sets the logger used when no request logger is on the context.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = &logger
	return b
}

// State reports the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may go out now. Once the cool-off has elapsed
// the first caller becomes the half-open trial; others are refused until it
// reports. A trial that never reports, because its caller gave up, is
// replaced after another cool-off.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case Closed:
		return true
	case Open:
		if now.Sub(b.openedAt) < b.openFor {
			b.rejectLocked()
			return false
		}
		b.moveLocked(ctx, HalfOpen)
		b.trialSince = now
		return true
	default:
		if now.Sub(b.trialSince) < b.openFor {
			b.rejectLocked()
			return false
		}
		b.trialSince = now
		return true
	}
}

// Report feeds back the outcome of a call that Allow let through.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		// late answers from before the trip carry no news
		return
	case HalfOpen:
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	b.seen.add(success, b.minRequests)
	if b.seen.total >= b.minRequests && b.seen.ratio() >= b.failureRatio {
		b.moveLocked(ctx, Open)
	}
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	failed, total := b.seen.failed, b.seen.total
	b.state = next
	b.seen = outcomes{}
	b.trialSince = time.Time{}
	switch next {
	case Open:
		b.openedAt = time.Now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.publishStateLocked()

	dep := b.dependencyLabel()
	BreakerTransitions.WithLabelValues(dep, prev.String(), next.String()).Inc()
	if next == Open {
		BreakerOpenedTotal.WithLabelValues(dep).Inc()
	}

	logger := b.loggerFor(ctx)
	evt := logger.Info()
	if next == Open {
		evt = logger.Warn().
			Int("failed_calls", failed).
			Int("sampled_calls", total).
			Time("retry_after", b.openedAt.Add(b.openFor))
	}
	evt = evt.Str("dependency", dep).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("dependency_breaker_state")
}

func (b *Breaker) rejectLocked() {
	BreakerRejectedTotal.WithLabelValues(b.dependencyLabel()).Inc()
}

func (b *Breaker) publishStateLocked() {
	BreakerState.WithLabelValues(b.dependencyLabel()).Set(b.state.gaugeValue())
}

func (b *Breaker) dependencyLabel() string {
	if b.dependency == "" {
		return "default"
	}
	return b.dependency
}

func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if b.logger == nil {
		return &breakerNopLogger
	}
	return b.logger
}
