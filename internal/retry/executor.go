// Package retry implements the bounded exponential-backoff retry loop
// and admission-control gate used by every RPC-issuing client in this
// module.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/wire"
	"github.com/sirupsen/logrus"
)

// Config controls one Executor's backoff and progress-timeout
// behavior. All durations are expressed in milliseconds on the wire
// and in the public API, converted to time.Duration at the package
// boundary.
type Config struct {
	BaseDelayMs       int64
	MaxDelayMs        int64
	JitterPct         float64
	ProgressTimeoutMs int64
	EnableRetryLogic  bool
}

// DefaultConfig returns the standard retry policy.
func DefaultConfig() Config {
	return Config{
		BaseDelayMs:       500,
		MaxDelayMs:        10_000,
		JitterPct:         0.25,
		ProgressTimeoutMs: 7_200_000,
		EnableRetryLogic:  true,
	}
}

// Executor runs an operation with exponential backoff, symmetric
// jitter, and a progress-timeout watchdog. It is safe for concurrent
// use; each Do call owns its own timer and attempt counter.
type Executor struct {
	cfg Config
	log *logrus.Entry

	obsMu     sync.RWMutex
	observers map[string]Observer

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewExecutor builds an Executor. A nil logger falls back to a
// detached logrus entry so call sites never need a nil check.
func NewExecutor(cfg Config, log *logrus.Entry) *Executor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		cfg: cfg,
		log: log,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Telemetry event names emitted around every retried operation.
const (
	EventAttemptStart  = "retry.attempt.start"
	EventAttemptRetry  = "retry.attempt.retry"
	EventAttemptStop   = "retry.attempt.stop"
	EventAttemptFailed = "retry.attempt.failed"
)

// AttemptEvent is one observation of a retried operation's lifecycle.
// Meta carries the caller's telemetry metadata verbatim (see
// WithMetadata).
type AttemptEvent struct {
	Name    string
	Op      string
	Attempt int
	DelayMs int64
	Err     error
	Meta    map[string]any
}

// Observer receives AttemptEvents. Observers must not block; they run
// inline on the retrying goroutine.
type Observer func(AttemptEvent)

// AddObserver registers fn under id, replacing any observer previously
// registered under the same id. Sessions use their session id here so
// transport retry telemetry can be re-emitted as session-tagged
// ingestion records.
func (e *Executor) AddObserver(id string, fn Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	if e.observers == nil {
		e.observers = make(map[string]Observer)
	}
	e.observers[id] = fn
}

// RemoveObserver unregisters id. Removing an id that was never
// registered is a no-op, so teardown is tolerant of double-stops.
func (e *Executor) RemoveObserver(id string) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	delete(e.observers, id)
}

func (e *Executor) emit(ev AttemptEvent) {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	for _, fn := range e.observers {
		fn(ev)
	}
}

// metadataKey carries the caller's telemetry metadata through ctx into
// every AttemptEvent emitted on its behalf.
type metadataKey struct{}

// WithMetadata returns a context whose retried operations tag every
// emitted AttemptEvent with meta.
func WithMetadata(ctx context.Context, meta map[string]any) context.Context {
	if len(meta) == 0 {
		return ctx
	}
	return context.WithValue(ctx, metadataKey{}, meta)
}

// MetadataFromContext returns the metadata stored by WithMetadata, or
// nil.
func MetadataFromContext(ctx context.Context) map[string]any {
	meta, _ := ctx.Value(metadataKey{}).(map[string]any)
	return meta
}

// Op is one attempt of the retried operation. attempt is 0 on the
// first try.
type Op func(ctx context.Context, attempt int) error

// Do runs op, retrying on retryable errors until ctx is canceled or
// ProgressTimeoutMs elapses with no successful attempt — retries are
// never capped by attempt count.
func (e *Executor) Do(ctx context.Context, label string, op Op) error {
	meta := MetadataFromContext(ctx)
	e.emit(AttemptEvent{Name: EventAttemptStart, Op: label, Meta: meta})

	if !e.cfg.EnableRetryLogic {
		err := op(ctx, 0)
		if err != nil {
			e.emit(AttemptEvent{Name: EventAttemptFailed, Op: label, Err: err, Meta: meta})
		} else {
			e.emit(AttemptEvent{Name: EventAttemptStop, Op: label, Meta: meta})
		}
		return err
	}

	start := time.Now()
	progressTimeout := time.Duration(e.cfg.ProgressTimeoutMs) * time.Millisecond

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	delay := time.Duration(e.cfg.BaseDelayMs) * time.Millisecond
	maxDelay := time.Duration(e.cfg.MaxDelayMs) * time.Millisecond

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			terr := wire.NewAPITimeoutError(label + ": " + err.Error())
			e.emit(AttemptEvent{Name: EventAttemptFailed, Op: label, Attempt: attempt, Err: terr, Meta: meta})
			return terr
		}
		if progressTimeout > 0 && time.Since(start) > progressTimeout {
			terr := wire.NewAPITimeoutError(label + ": progress timeout exceeded")
			e.emit(AttemptEvent{Name: EventAttemptFailed, Op: label, Attempt: attempt, Err: terr, Meta: meta})
			return terr
		}

		e.log.WithFields(logrus.Fields{"op": label, "attempt": attempt}).Debug("retry: attempt start")

		err := op(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				e.log.WithFields(logrus.Fields{"op": label, "attempts": attempt + 1}).Info("retry: succeeded after retrying")
			}
			e.emit(AttemptEvent{Name: EventAttemptStop, Op: label, Attempt: attempt, Meta: meta})
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			terr := wire.NewAPITimeoutError(label + ": " + ctxErr.Error())
			e.emit(AttemptEvent{Name: EventAttemptFailed, Op: label, Attempt: attempt, Err: terr, Meta: meta})
			return terr
		}

		if !wire.IsRetryable(err) {
			e.log.WithFields(logrus.Fields{"op": label, "attempt": attempt}).Warn("retry: giving up")
			e.emit(AttemptEvent{Name: EventAttemptFailed, Op: label, Attempt: attempt, Err: err, Meta: meta})
			return err
		}

		sleep := e.jittered(delay)
		if sleep > maxDelay {
			sleep = maxDelay
		}
		if remaining := progressTimeout - time.Since(start); progressTimeout > 0 && sleep > remaining {
			sleep = remaining
		}
		if sleep < 0 {
			sleep = 0
		}

		e.log.WithFields(logrus.Fields{"op": label, "attempt": attempt, "sleep_ms": sleep.Milliseconds()}).Debug("retry: backing off")
		e.emit(AttemptEvent{Name: EventAttemptRetry, Op: label, Attempt: attempt, DelayMs: sleep.Milliseconds(), Err: err, Meta: meta})

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			terr := wire.NewAPITimeoutError(label + ": " + ctx.Err().Error())
			e.emit(AttemptEvent{Name: EventAttemptFailed, Op: label, Attempt: attempt, Err: terr, Meta: meta})
			return terr
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// jittered applies symmetric ±JitterPct jitter: a uniform
// draw from [base*(1-JitterPct), base*(1+JitterPct)).
func (e *Executor) jittered(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	pct := e.cfg.JitterPct
	if pct <= 0 {
		return base
	}
	e.randMu.Lock()
	spread := e.rnd.Float64()*2 - 1 // [-1, 1)
	e.randMu.Unlock()
	delta := time.Duration(float64(base) * pct * spread)
	result := base + delta
	if result < 0 {
		result = 0
	}
	return result
}
