// Package transport is the single HTTP boundary every other internal
// package routes requests through. It stays deliberately thin: the
// underlying transport library (HTTP/2 support, connection pooling
// tuning) is an external concern a caller configures via its own
// *http.Client, not something this module decides for them.
package transport

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Doer is the minimal seam every client in this module depends on
// instead of *http.Client directly, so tests can substitute a fake
// without spinning up a real listener.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Pool is a named class of outbound requests (session management,
// training RPCs, sampling RPCs, future polling, telemetry) each backed
// by its own Doer so a caller can size connection limits per class
// and keep hot sampling traffic from queueing behind cold telemetry.
type Pool string

const (
	PoolSession   Pool = "session"
	PoolTraining  Pool = "training"
	PoolSampling  Pool = "sampling"
	PoolFutures   Pool = "futures"
	PoolTelemetry Pool = "telemetry"
)

// Doers maps each Pool to the Doer that should carry its traffic. All
// pools default to the same Doer when constructed via NewDoers.
type Doers map[Pool]Doer

// NewDoers builds a Doers map where every pool starts out backed by
// the same Doer. Callers that want per-pool HTTP clients (e.g. a
// bigger idle-connection cap for the training pool) can overwrite
// individual entries after construction.
func NewDoers(d Doer) Doers {
	return Doers{
		PoolSession:   d,
		PoolTraining:  d,
		PoolSampling:  d,
		PoolFutures:   d,
		PoolTelemetry: d,
	}
}

// For returns the Doer registered for pool, falling back to
// PoolSession's Doer if pool was never registered.
func (d Doers) For(pool Pool) Doer {
	if doer, ok := d[pool]; ok {
		return doer
	}
	return d[PoolSession]
}

// NewDefaultHTTPClient returns the *http.Client this module uses when
// the caller supplies none: a bounded timeout and nothing exotic. A
// caller who wants HTTP/2, custom TLS, or a proxy builds their own
// *http.Client (optionally with a custom http.RoundTripper) and passes
// it in via the client's options instead.
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

const defaultTimeout = 30 * time.Second

// DrainAndClose reads resp.Body to EOF (bounded by limit) and closes
// it, maximizing the chance the underlying connection is reused by the
// pool's transport.
func DrainAndClose(body io.ReadCloser, limit int64) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, limit))
	_ = body.Close()
}

// requestIDKey is the context key under which a caller-supplied or
// generated request id is stored for header propagation.
type requestIDKey struct{}

// WithRequestID returns a context carrying id for later propagation by
// StampRequestID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored by WithRequestID,
// or "" if none is set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// StampRequestID copies the context's request id onto req as the
// X-Request-Id header for server-side correlation.
func StampRequestID(ctx context.Context, req *http.Request) {
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
}
