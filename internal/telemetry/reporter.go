package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/retry"
	"github.com/sirupsen/logrus"
)

// Sender ships a batch of events to the server (POST /telemetry). It
// is invoked through the reporter's own retry executor, so a single
// transient failure does not drop the batch.
type Sender func(ctx context.Context, req SendRequest) error

// Config controls batching thresholds and the reporter's retry policy.
type Config struct {
	FlushThreshold int
	FlushInterval  time.Duration
	// Retry is the reporter's own flush retry policy, deliberately much
	// tighter than the client-wide one: telemetry is best-effort, and a
	// persistently failing endpoint must not stall Session.Stop behind
	// a long retry storm.
	Retry      retry.Config
	Platform   string
	SDKVersion string
}

// DefaultConfig returns the standard batching thresholds and the small
// bounded flush retry policy.
func DefaultConfig() Config {
	return Config{
		FlushThreshold: 100,
		FlushInterval:  10 * time.Second,
		Retry: retry.Config{
			BaseDelayMs:       250,
			MaxDelayMs:        2_000,
			JitterPct:         0.25,
			ProgressTimeoutMs: 10_000,
			EnableRetryLogic:  true,
		},
	}
}

// Reporter batches events in memory and flushes them on a threshold,
// a timer, or an explicit drain. The event queue is effectively MPSC:
// any goroutine may call Enqueue, but only the reporter's own
// goroutine ever drains and flushes it.
type Reporter struct {
	cfg      Config
	sender   Sender
	executor *retry.Executor
	log      *logrus.Entry

	sessionID string

	mu      sync.Mutex
	queue   []Event
	pending int
	stopped bool

	endOnce sync.Once
	kick    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReporter builds and starts a Reporter, emitting session_start
// immediately. The reporter constructs its own retry executor from
// cfg.Retry; it never shares the client-wide one.
func NewReporter(cfg Config, sessionID string, sender Sender, log *logrus.Entry) *Reporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = DefaultConfig().Retry
	}
	r := &Reporter{
		cfg:       cfg,
		sender:    sender,
		executor:  retry.NewExecutor(cfg.Retry, log),
		log:       log,
		sessionID: sessionID,
		kick:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	r.enqueueLocked(Event{Kind: KindSessionStart, Severity: SeverityInfo, OccurredAt: nowMs(), SessionID: sessionID})
	r.kickFlush()

	go r.loop()
	return r
}

// kickFlush nudges the reporter goroutine to flush now rather than on
// the next timer tick. The channel is buffered so coalesced kicks cost
// nothing and the caller never blocks.
func (r *Reporter) kickFlush() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Enqueue appends event to the batch queue, stamping SessionID and
// OccurredAt when unset.
func (r *Reporter) Enqueue(event Event) {
	if event.SessionID == "" {
		event.SessionID = r.sessionID
	}
	if event.OccurredAt == 0 {
		event.OccurredAt = nowMs()
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.enqueueLocked(event)
	full := len(r.queue) >= r.cfg.FlushThreshold
	r.mu.Unlock()

	if full {
		r.kickFlush()
	}
}

func (r *Reporter) enqueueLocked(event Event) {
	r.queue = append(r.queue, event)
	r.pending++
}

// LogFatalException records an unhandled_exception event and emits
// session_end at-most-once.
func (r *Reporter) LogFatalException(message string, data map[string]any) {
	r.Enqueue(Event{Kind: KindUnhandledException, Severity: SeverityCritical, Message: message, Data: data})
	r.emitSessionEnd()
}

func (r *Reporter) emitSessionEnd() {
	r.endOnce.Do(func() {
		r.Enqueue(Event{Kind: KindSessionEnd, Severity: SeverityInfo})
	})
}

func (r *Reporter) loop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush(context.Background())
		case <-r.kick:
			r.flush(context.Background())
		case <-r.stopCh:
			r.flush(context.Background())
			return
		}
	}
}

// flush drains the current queue and ships it via Sender, retried
// through the executor. Events are removed from the queue regardless
// of outcome — telemetry is best-effort, so a permanently failing
// batch is logged and dropped rather than blocking all future flushes.
func (r *Reporter) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()

	req := SendRequest{SessionID: r.sessionID, Platform: r.cfg.Platform, SDKVersion: r.cfg.SDKVersion, Events: batch}

	err := r.executor.Do(ctx, "telemetry.flush", func(ctx context.Context, attempt int) error {
		return r.sender(ctx, req)
	})
	if err != nil {
		r.log.WithError(err).WithField("batch_size", len(batch)).Warn("telemetry: flush failed, dropping batch")
	}

	r.mu.Lock()
	r.pending -= len(batch)
	if r.pending < 0 {
		r.pending = 0
	}
	r.mu.Unlock()
}

// WaitUntilDrained blocks until the queue is empty or timeout elapses,
// nudging the reporter to flush immediately rather than waiting out
// the interval timer.
func (r *Reporter) WaitUntilDrained(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		r.kickFlush()
		r.mu.Lock()
		if r.pending == 0 {
			r.mu.Unlock()
			return true
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Stop drains the queue, emits session_end if it has not already
// fired, and stops the background flush loop.
func (r *Reporter) Stop(drainTimeout time.Duration) {
	r.emitSessionEnd()
	r.WaitUntilDrained(drainTimeout)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

func nowMs() int64 { return time.Now().UnixMilli() }
