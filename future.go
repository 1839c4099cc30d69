package tinker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	intfuture "github.com/North-Shore-AI/tinker-go/internal/future"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
)

// Future is a server-side handle to an asynchronous operation, typed
// by the caller-visible result it eventually decodes to. It is
// returned immediately by every write call; nothing blocks until Await
// is called.
type Future[T any] struct {
	requestID string
	poller    *intfuture.Poller
	fetch     intfuture.Retriever
	opts      intfuture.Options
	decode    func(json.RawMessage) (T, error)
	terminal  *terminalCache[T]
}

// terminalCache memoizes a future's terminal outcome so a repeat Await
// returns the cached result instead of re-polling a request_id the
// server may have already forgotten. Local await timeouts are not
// terminal and are never cached.
type terminalCache[T any] struct {
	mu   sync.Mutex
	done bool
	val  T
	err  error
}

// newFuture builds a Future around an already-dispatched AsyncFuture.
func newFuture[T any](f wire.AsyncFuture, poller *intfuture.Poller, fetch intfuture.Retriever, opts intfuture.Options, decode func(json.RawMessage) (T, error)) Future[T] {
	return Future[T]{requestID: f.RequestID, poller: poller, fetch: fetch, opts: opts, decode: decode, terminal: &terminalCache[T]{}}
}

// RequestID returns the server-assigned handle backing this future.
func (f Future[T]) RequestID() string { return f.requestID }

// Await polls the future to a terminal result. If timeout is positive,
// exceeding it cancels the awaiter only — the server-side operation is
// not canceled and may complete silently. A zero timeout means "wait
// as long as ctx allows".
func (f Future[T]) Await(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	f.terminal.mu.Lock()
	if f.terminal.done {
		val, err := f.terminal.val, f.terminal.err
		f.terminal.mu.Unlock()
		return val, err
	}
	f.terminal.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	raw, err := f.poller.Await(ctx, f.requestID, f.fetch, f.opts)
	if err != nil {
		if isTerminalError(err) {
			f.cacheTerminal(zero, err)
		}
		return zero, err
	}
	val, err := f.decode(raw)
	f.cacheTerminal(val, err)
	return val, err
}

func (f Future[T]) cacheTerminal(val T, err error) {
	f.terminal.mu.Lock()
	defer f.terminal.mu.Unlock()
	if f.terminal.done {
		return
	}
	f.terminal.done = true
	f.terminal.val = val
	f.terminal.err = err
}

// isTerminalError reports whether err is a terminal future outcome
// (a server-reported failure envelope) as opposed to a local await
// timeout or cancellation, which leave the future still pending.
func isTerminalError(err error) bool {
	var werr *wire.Error
	if !errors.As(err, &werr) {
		return false
	}
	return werr.Type == wire.TypeRequestFailed
}

// AwaitAllResult pairs one Future's decoded value with any error
// encountered awaiting it.
type AwaitAllResult[T any] struct {
	RequestID string
	Value     T
	Err       error
}

// AwaitAll polls every future in futures concurrently (bounded
// fan-out, internal/future.AwaitAll), returning one result per input in
// the same order. A single future's failure does not cancel the
// others; ctx cancellation does. futures are assumed to share one
// poller/fetch/opts triple, true of any batch drawn from the same
// Sampler or TrainingRun — the common case for a bulk await.
func AwaitAll[T any](ctx context.Context, futures []Future[T]) []AwaitAllResult[T] {
	if len(futures) == 0 {
		return nil
	}

	ids := make([]string, len(futures))
	for i, f := range futures {
		ids[i] = f.requestID
	}
	first := futures[0]
	raws := intfuture.AwaitAll(ctx, first.poller, ids, first.fetch, first.opts)

	out := make([]AwaitAllResult[T], len(futures))
	for i, r := range raws {
		out[i] = AwaitAllResult[T]{RequestID: r.RequestID}
		if r.Err != nil {
			out[i].Err = r.Err
			if isTerminalError(r.Err) {
				var zero T
				futures[i].cacheTerminal(zero, r.Err)
			}
			continue
		}
		v, err := futures[i].decode(r.Result)
		out[i].Value = v
		out[i].Err = err
		futures[i].cacheTerminal(v, err)
	}
	return out
}

// decodeJSON is a generic Future decoder for any type that round-trips
// through encoding/json directly (most wire response shapes).
func decodeJSON[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, wire.NewRequestFailedError("decode future result: "+err.Error(), wire.CategoryUnknown, nil)
	}
	return out, nil
}
