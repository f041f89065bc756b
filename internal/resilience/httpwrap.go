package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// StatusError reports a downstream 5xx answer. The response body has already
// been drained and closed.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: upstream responded %s", e.Status)
}

// HTTPClient wraps an http.Client with a per-call timeout and circuit breaker.
// It performs exactly one attempt per call: callers that need to fail fast on
// an unavailable dependency get the failure immediately.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
}

// Do executes req once. Transport errors, timeouts and 5xx answers count as
// breaker failures; any other response is returned to the caller, who owns its
// body and must close it. The breaker learns the outcome of such a call only
// on Close, so a body that stalls past the timeout is charged as a failure.
// When the breaker is open ErrOpenCircuit is returned without touching the
// network.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		// default to closed breaker that never trips
		breaker = NewBreaker(1, 1, time.Second)
	}
	if !breaker.Allow(ctx) {
		return nil, ErrOpenCircuit
	}

	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}

	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		// A caller that gave up says nothing about the dependency's health.
		if ctx.Err() == nil {
			breaker.Report(ctx, false)
		}
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		cancel()
		breaker.Report(ctx, false)
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	resp.Body = &reportOnClose{ReadCloser: resp.Body, parent: ctx, breaker: breaker, cancel: cancel}
	return resp, nil
}

// reportOnClose keeps the call context alive until the caller has read the
// body, then reports the call to the breaker. A body that fails mid-read, for
// instance because the dependency stalled past the timeout, counts as a failure
// unless the caller itself gave up.
type reportOnClose struct {
	io.ReadCloser
	parent  context.Context
	breaker *Breaker
	cancel  context.CancelFunc
	readErr error
	once    sync.Once
}

func (c *reportOnClose) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && c.readErr == nil {
		c.readErr = err
	}
	return n, err
}

func (c *reportOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(func() {
		if c.readErr == nil {
			c.breaker.Report(c.parent, true)
		} else if c.parent.Err() == nil {
			c.breaker.Report(c.parent, false)
		}
		c.cancel()
	})
	return err
}
