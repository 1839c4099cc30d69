package tinker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/future"
	"github.com/North-Shore-AI/tinker-go/internal/retry"
	"github.com/North-Shore-AI/tinker-go/internal/sampling"
	"github.com/North-Shore-AI/tinker-go/internal/telemetry"
	"github.com/North-Shore-AI/tinker-go/internal/training"
	"github.com/North-Shore-AI/tinker-go/internal/transport"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
	"github.com/sirupsen/logrus"
)

// Session is a server-side logical group: it owns a heartbeat loop
// that keeps the server-side session alive, and is the factory for
// TrainingRun and Sampler sub-clients.
type Session struct {
	SessionID string

	client *Client
	log    *logrus.Entry

	reporter *telemetry.Reporter

	trainCounter   atomic.Uint64
	samplerCounter atomic.Uint64

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
	lost          atomic.Bool
	lostWarnOnce  sync.Once
}

// NewSession opens a new Session. A session id is generated locally
// since the wire protocol has no dedicated "create session" endpoint —
// the id is first observed by the server on the session's first
// heartbeat or sub-client creation call.
func (c *Client) NewSession(ctx context.Context) (*Session, error) {
	sessionID := newUUID()

	s := &Session{
		SessionID:     sessionID,
		client:        c,
		log:           c.log.WithField("session_id", sessionID),
		heartbeatStop: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}

	if c.cfg.TelemetryEnabled {
		sender := func(ctx context.Context, req telemetry.SendRequest) error {
			return transport.JSON(ctx, c.doerFor(transport.PoolTelemetry), "POST", c.cfg.BaseURL, "api/v1/telemetry", req, nil)
		}
		tcfg := telemetry.DefaultConfig()
		tcfg.Platform = c.cfg.Platform
		tcfg.SDKVersion = c.cfg.SDKVersion
		s.reporter = telemetry.NewReporter(tcfg, sessionID, sender, s.log)
		c.executor.AddObserver(sessionID, s.piggybackRetryEvent)
	}

	go s.heartbeatLoop()

	return s, nil
}

func (s *Session) heartbeatLoop() {
	defer close(s.heartbeatDone)

	interval := s.client.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	lostAfter := s.client.cfg.HeartbeatLostAfter
	if lostAfter <= 0 {
		lostAfter = defaultHeartbeatLostAfter
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	doer := s.client.doerFor(transport.PoolSession)
	var failingSince time.Time

	for {
		select {
		case <-s.heartbeatStop:
			return
		case <-ticker.C:
			req := wire.NewHeartbeatRequest(s.SessionID)
			var resp wire.HeartbeatResponse
			err := transport.JSON(context.Background(), doer, "POST", s.client.cfg.BaseURL, "api/v1/session_heartbeat", req, &resp)
			if err == nil {
				failingSince = time.Time{}
				continue
			}
			if failingSince.IsZero() {
				failingSince = time.Now()
			}
			// Heartbeat failures do not terminate the session:
			// only after lostAfter of consecutive failures is a
			// single warning emitted and the session marked lost,
			// which Lost() reports. No session or run operation
			// checks the flag; calls proceed as before.
			if time.Since(failingSince) >= lostAfter {
				s.lost.Store(true)
				s.lostWarnOnce.Do(func() {
					s.log.WithError(err).Warn("session: heartbeat failing, treating session as lost")
				})
			}
		}
	}
}

// piggybackRetryEvent re-emits one retry.AttemptEvent from the shared
// executor as a session-tagged ingestion record. The reporter's own
// flush retries never pass through here — the reporter runs them on
// its own executor, which has no observers.
func (s *Session) piggybackRetryEvent(ev retry.AttemptEvent) {
	severity := telemetry.SeverityDebug
	if ev.Name == retry.EventAttemptFailed {
		severity = telemetry.SeverityError
	}
	data := map[string]any{"op": ev.Op, "attempt": ev.Attempt}
	if ev.DelayMs > 0 {
		data["delay_ms"] = ev.DelayMs
	}
	if ev.Err != nil {
		data["error"] = ev.Err.Error()
	}
	for k, v := range ev.Meta {
		data[k] = v
	}
	s.reporter.Enqueue(telemetry.Event{
		Kind:     telemetry.KindGenericEvent,
		Severity: severity,
		Message:  ev.Name,
		Data:     data,
	})
}

// LogFatalException records an unhandled exception against this
// session and emits the at-most-once session_end telemetry event.
// With telemetry disabled it is a no-op.
func (s *Session) LogFatalException(message string, data map[string]any) {
	if s.reporter == nil {
		return
	}
	s.reporter.LogFatalException(message, data)
}

// pollOptions returns the session's future-polling options: debounced
// queue-state observations are logged and, when telemetry is on,
// re-emitted as session-tagged events, the user's only signal for
// "waiting because the server is paused".
func (s *Session) pollOptions() future.Options {
	return s.client.pollOptions(func(state wire.QueueState, reason string) {
		s.log.WithFields(logrus.Fields{"queue_state": state, "reason": reason}).Info("future: waiting on server queue")
		if s.reporter != nil {
			s.reporter.Enqueue(telemetry.Event{
				Kind:     telemetry.KindGenericEvent,
				Severity: telemetry.SeverityInfo,
				Message:  "queue state observed",
				Data:     map[string]any{"queue_state": string(state), "reason": reason},
			})
		}
	})
}

// Lost reports whether this session has been without a successful
// heartbeat for longer than Config.HeartbeatLostAfter.
func (s *Session) Lost() bool { return s.lost.Load() }

// Stop ends the session synchronously: when Stop returns, the
// heartbeat goroutine has fully exited and no further heartbeat RPC
// will be issued for this session. This is a hard API contract, not
// best-effort cleanup. Stop then drains and stops the telemetry
// reporter, emitting session_end.
func (s *Session) Stop(ctx context.Context) error {
	close(s.heartbeatStop)
	<-s.heartbeatDone

	if s.reporter != nil {
		s.client.executor.RemoveObserver(s.SessionID)
		s.reporter.Stop(defaultDrainTimeout)
	}
	return nil
}

// NewTrainingRun opens a training sub-client on this session. modelID
// follows the "{session_id}:train:{n}" convention, n drawn from a
// per-session counter.
func (s *Session) NewTrainingRun(ctx context.Context, baseModel string, loraRank int) (*TrainingRun, error) {
	n := s.trainCounter.Add(1) - 1
	modelID := fmt.Sprintf("%s:train:%d", s.SessionID, n)

	doer := s.client.doerFor(transport.PoolTraining)
	fetch := s.client.fetchFuture(transport.PoolFutures)
	poller := future.NewPoller(s.client.executor, s.log)
	opts := s.pollOptions()

	run := training.NewRun(modelID, s.client.cfg.BaseURL, doer, s.client.executor, poller, fetch, opts, s.log)

	tr := &TrainingRun{
		ModelID:   modelID,
		BaseModel: baseModel,
		LoRARank:  loraRank,
		run:       run,
		session:   s,
	}

	if s.reporter != nil {
		s.reporter.Enqueue(telemetry.Event{
			Kind:     telemetry.KindGenericEvent,
			Severity: telemetry.SeverityInfo,
			Message:  "training run created",
			Data:     map[string]any{"model_id": modelID, "base_model": baseModel, "lora_rank": loraRank},
		})
	}

	return tr, nil
}

// NewSampler opens a sampling sub-client against either a base model
// or an existing weights/sampler tinker:// path (exactly one of
// baseModel/modelPath should be set).
func (s *Session) NewSampler(ctx context.Context, baseModel, modelPath string) (*Sampler, error) {
	clientID := newUUID()
	n := s.samplerCounter.Add(1) - 1
	modelID := fmt.Sprintf("%s:sample:%d", s.SessionID, n)

	req := wire.CreateSamplingSessionRequest{
		SessionID:        s.SessionID,
		SamplingClientID: clientID,
		BaseModel:        baseModel,
		ModelPath:        modelPath,
	}
	// Session management traffic goes through the session pool; only
	// the sample/compute_logprobs hot path uses the sampling pool.
	var resp wire.CreateSamplingSessionResponse
	createDoer := s.client.doerFor(transport.PoolSession)
	err := s.client.executor.Do(ctx, "create_sampling_session", func(ctx context.Context, attempt int) error {
		return transport.JSON(ctx, createDoer, "POST", s.client.cfg.BaseURL, "api/v1/create_sampling_session", req, &resp)
	})
	if err != nil {
		return nil, err
	}

	entry := &sampling.Entry{
		ClientID:          clientID,
		SamplingSessionID: resp.SamplingSessionID,
		BaseURL:           s.client.cfg.BaseURL,
		APIKey:            s.client.cfg.APIKey,
		Doer:              s.client.doerFor(transport.PoolSampling),
		Limiter:           s.client.limiter,
		Executor:          s.client.executor,
	}
	s.client.registry.Register(entry)

	smp := &Sampler{
		ClientID:          clientID,
		ModelID:           modelID,
		SamplingSessionID: resp.SamplingSessionID,
		entry:             entry,
		session:           s,
		poller:            future.NewPoller(s.client.executor, s.log),
		fetch:             s.client.fetchFuture(transport.PoolFutures),
		pollOpts:          s.pollOptions(),
	}

	if s.reporter != nil {
		s.reporter.Enqueue(telemetry.Event{
			Kind:     telemetry.KindGenericEvent,
			Severity: telemetry.SeverityInfo,
			Message:  "sampler created",
			Data:     map[string]any{"model_id": modelID, "sampling_session_id": resp.SamplingSessionID, "base_model": baseModel, "model_path": modelPath},
		})
	}

	return smp, nil
}

// Close unregisters smp from the process-wide sampling registry. It
// does not stop the Session itself.
func (smp *Sampler) Close() {
	smp.session.client.registry.Deregister(smp.ClientID)
}
