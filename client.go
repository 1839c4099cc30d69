package tinker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/future"
	"github.com/North-Shore-AI/tinker-go/internal/ratelimit"
	"github.com/North-Shore-AI/tinker-go/internal/retry"
	"github.com/North-Shore-AI/tinker-go/internal/sampling"
	"github.com/North-Shore-AI/tinker-go/internal/transport"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Global process-wide state: the rate limiter table and the sampling
// client registry are shared across every Client in the process, so a
// rate-limited destination backs off every client that talks to it. A
// sync.Once guards lazy construction so the first Client built wins
// and every later one reuses the same tables.
var (
	globalOnce     sync.Once
	globalLimiter  *ratelimit.Limiter
	globalRegistry *sampling.Registry
)

func sharedLimiter() *ratelimit.Limiter {
	globalOnce.Do(initGlobals)
	return globalLimiter
}

func sharedRegistry() *sampling.Registry {
	globalOnce.Do(initGlobals)
	return globalRegistry
}

func initGlobals() {
	globalLimiter = ratelimit.New()
	globalRegistry = sampling.NewRegistry()
}

// Client is the SDK's root object: it holds connection config and the
// shared plumbing (retry executor, admission gate, rate limiter,
// sampling registry, future poller) that every Session/TrainingRun/
// Sampler built from it reuses.
type Client struct {
	cfg       Config
	log       *logrus.Entry
	limiter   *ratelimit.Limiter
	registry  *sampling.Registry
	admission *retry.Admission
	executor  *retry.Executor
	poller    *future.Poller
}

// NewClient builds a Client from cfg. It does not perform any network
// I/O; sessions are created separately via NewSession.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, wire.NewValidationError("Config.BaseURL and Config.APIKey are required (build Config via NewConfig)")
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	executor := retry.NewExecutor(cfg.Retry, log)
	return &Client{
		cfg:       cfg,
		log:       log,
		limiter:   sharedLimiter(),
		registry:  sharedRegistry(),
		admission: retry.NewAdmission(cfg.MaxConnections),
		executor:  executor,
		poller:    future.NewPoller(executor, log),
	}, nil
}

// doerFor returns the fully wrapped Doer for pool, sourced from
// cfg.Doers: every attempt against this destination respects the
// configured connection width and carries the Authorization/access-
// tunnel headers from cfg.
func (c *Client) doerFor(pool transport.Pool) transport.Doer {
	gated := c.admission.WrapDoer(c.cfg.Doers.For(pool), c.cfg.BaseURL)
	return transport.NewAuthDoer(gated, transport.Credentials{
		APIKey:             c.cfg.APIKey,
		AccessClientID:     c.cfg.AccessClientID,
		AccessClientSecret: c.cfg.AccessClientSecret,
	})
}

// fetchFuture builds the future.Retriever used by every poller: one
// POST /retrieve_future call per poll iteration.
func (c *Client) fetchFuture(pool transport.Pool) future.Retriever {
	doer := c.doerFor(pool)
	return func(ctx context.Context, requestID string) (json.RawMessage, error) {
		var raw json.RawMessage
		err := transport.JSON(ctx, doer, "POST", c.cfg.BaseURL, "api/v1/retrieve_future",
			map[string]string{"request_id": requestID}, &raw)
		return raw, err
	}
}

// pollOptions builds the future.Options for one Await call, wiring the
// debounced queue-state observer to the client logger unless the
// caller supplies its own onQueueState callback.
func (c *Client) pollOptions(onQueueState func(wire.QueueState, string)) future.Options {
	if onQueueState == nil {
		onQueueState = func(state wire.QueueState, reason string) {
			c.log.WithFields(logrus.Fields{"queue_state": state, "reason": reason}).Debug("future: queue state observed")
		}
	}
	var meta map[string]any
	if len(c.cfg.SessionTags) > 0 {
		meta = make(map[string]any, len(c.cfg.SessionTags))
		for k, v := range c.cfg.SessionTags {
			meta[k] = v
		}
	}
	return future.Options{
		DefaultPollDelay: c.cfg.PollDefaultDelay,
		ProgressTimeout:  pollProgressTimeout(c.cfg),
		ReminderInterval: c.cfg.PollReminderInterval,
		OnQueueState:     onQueueState,
		Metadata:         meta,
	}
}

func pollProgressTimeout(cfg Config) time.Duration {
	if cfg.Retry.ProgressTimeoutMs > 0 {
		return time.Duration(cfg.Retry.ProgressTimeoutMs) * time.Millisecond
	}
	return 10 * time.Minute
}

// newUUID is the sole call site generating session/client ids.
func newUUID() string {
	return uuid.NewString()
}
