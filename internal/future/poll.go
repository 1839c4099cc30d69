// Package future implements the asynchronous future-polling engine:
// given a request_id returned by a write endpoint, repeatedly call
// retrieve_future until the server reports a terminal result.
package future

import (
	"context"
	"encoding/json"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/retry"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
	"github.com/sirupsen/logrus"
)

// Retriever fetches one retrieve_future response for requestID. The
// caller (a sampling or training client) owns the HTTP call; Poller
// only owns the looping/backoff/normalization logic around it.
type Retriever func(ctx context.Context, requestID string) (json.RawMessage, error)

// Options controls one Await call.
type Options struct {
	// DefaultPollDelay is used for "pending" responses and as the floor
	// for any server-advised retry_after_ms.
	DefaultPollDelay time.Duration
	// ProgressTimeout is the ceiling on a server-advised retry_after_ms.
	// Await does not use it as a no-progress watchdog; that limit is
	// the RetryExecutor's own progress timeout around each fetch.
	ProgressTimeout time.Duration
	// ReminderInterval bounds how often a repeated try_again in the same
	// queue state re-emits an observation event.
	ReminderInterval time.Duration
	// OnQueueState is invoked at most once per queue-state transition,
	// plus at most once per ReminderInterval while stuck in the same
	// state.
	OnQueueState func(state wire.QueueState, reason string)
	// Metadata is tagged onto every retry.AttemptEvent emitted on this
	// Await's behalf.
	Metadata map[string]any
}

func (o Options) withDefaults() Options {
	if o.DefaultPollDelay <= 0 {
		o.DefaultPollDelay = 500 * time.Millisecond
	}
	if o.ProgressTimeout <= 0 {
		o.ProgressTimeout = 10 * time.Minute
	}
	if o.ReminderInterval <= 0 {
		o.ReminderInterval = 30 * time.Second
	}
	if o.OnQueueState == nil {
		o.OnQueueState = func(wire.QueueState, string) {}
	}
	return o
}

// Poller drives Await calls, retrying transport failures through a
// shared retry.Executor so a single request's total deadline is
// preserved across every poll round.
type Poller struct {
	executor *retry.Executor
	log      *logrus.Entry
}

// NewPoller builds a Poller. A nil logger falls back to a detached
// logrus entry.
func NewPoller(executor *retry.Executor, log *logrus.Entry) *Poller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poller{executor: executor, log: log}
}

// Await polls requestID via fetch until a terminal completed/failed
// result, or a bare (envelope-less) payload is observed and normalized
// to completed.
func (p *Poller) Await(ctx context.Context, requestID string, fetch Retriever, opts Options) (json.RawMessage, error) {
	opts = opts.withDefaults()
	if opts.Metadata != nil {
		ctx = retry.WithMetadata(ctx, opts.Metadata)
	}

	var lastState wire.QueueState
	var lastReminder time.Time
	haveState := false

	for {
		var raw json.RawMessage
		err := p.executor.Do(ctx, "retrieve_future", func(ctx context.Context, attempt int) error {
			r, err := fetch(ctx, requestID)
			if err != nil {
				return err
			}
			raw = r
			return nil
		})
		if err != nil {
			return nil, err
		}

		env, bare, ok := decodeEnvelope(raw)
		if !ok {
			return nil, wire.NewRequestFailedError("retrieve_future: unparseable response", wire.CategoryUnknown, nil)
		}
		if bare {
			return raw, nil
		}

		switch {
		case env.Status == "completed":
			return env.Result, nil

		case env.Status == "failed":
			if env.Error == nil {
				return nil, wire.NewRequestFailedError("retrieve_future: failed with no error payload", wire.CategoryUnknown, nil)
			}
			return nil, wire.NewRequestFailedError(env.Error.Message, env.Error.Category, env.Error.Data)

		case env.Type == "try_again":
			state := wire.QueueStateUnknown
			if env.QueueState != nil {
				state = *env.QueueState
			}
			p.emitQueueState(opts, &haveState, &lastState, &lastReminder, state, "try_again")
			if err := sleepFor(ctx, clampDelay(env.RetryAfterMs, opts)); err != nil {
				return nil, wire.NewAPITimeoutError("retrieve_future: " + err.Error())
			}

		case env.Status == "pending":
			if env.QueueState != nil {
				p.emitQueueState(opts, &haveState, &lastState, &lastReminder, *env.QueueState, "pending")
			}
			if err := sleepFor(ctx, opts.DefaultPollDelay); err != nil {
				return nil, wire.NewAPITimeoutError("retrieve_future: " + err.Error())
			}

		default:
			return nil, wire.NewRequestFailedError("retrieve_future: unrecognized response shape", wire.CategoryUnknown, nil)
		}
	}
}

func (p *Poller) emitQueueState(opts Options, have *bool, last *wire.QueueState, lastReminder *time.Time, state wire.QueueState, reason string) {
	now := time.Now()
	transitioned := !*have || *last != state
	dueForReminder := !lastReminder.IsZero() && now.Sub(*lastReminder) >= opts.ReminderInterval
	if transitioned || dueForReminder || lastReminder.IsZero() {
		opts.OnQueueState(state, reason)
		*lastReminder = now
	}
	*have = true
	*last = state
}

// decodeEnvelope tries to decode raw as a wire.FutureEnvelope. If the
// decode succeeds but none of the envelope-identifying fields (status,
// type) are populated while a ForwardBackwardOutput-shaped payload is
// present, raw is treated as a bare terminal payload.
func decodeEnvelope(raw json.RawMessage) (wire.FutureEnvelope, bool, bool) {
	var env wire.FutureEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return wire.FutureEnvelope{}, false, false
	}
	if env.Status != "" || env.Type != "" {
		return env, false, true
	}
	if _, ok := wire.LooksLikeForwardBackwardOutput(raw); ok {
		return wire.FutureEnvelope{}, true, true
	}
	return env, false, true
}

func clampDelay(retryAfterMs *int64, opts Options) time.Duration {
	if retryAfterMs == nil {
		return opts.DefaultPollDelay
	}
	d := time.Duration(*retryAfterMs) * time.Millisecond
	if d < opts.DefaultPollDelay {
		d = opts.DefaultPollDelay
	}
	if d > opts.ProgressTimeout {
		d = opts.ProgressTimeout
	}
	return d
}

func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
