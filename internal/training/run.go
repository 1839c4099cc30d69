// Package training implements the strictly sequenced training client
// protocol: one mailbox actor per run enforcing monotonic seq_id,
// forward/backward/optim_step/save/load operations, and the
// forward_backward_custom gradient pipeline.
package training

import (
	"context"
	"encoding/json"

	"github.com/North-Shore-AI/tinker-go/internal/future"
	"github.com/North-Shore-AI/tinker-go/internal/retry"
	"github.com/North-Shore-AI/tinker-go/internal/transport"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
	"github.com/sirupsen/logrus"
)

// job is one unit of mailbox work: build and submit a request under
// the run's next seq_id, then resolve result/err on done.
type job struct {
	run  func(ctx context.Context, seqID uint64) (wire.AsyncFuture, error)
	done chan jobResult
}

type jobResult struct {
	future wire.AsyncFuture
	err    error
}

// Run is a single training run's serialized writer actor. Every
// forward/forward_backward/optim_step/save/load call funnels through
// its mailbox so the seq_id counter increments monotonically with no
// possibility of two concurrent writers racing it — the one place
// where serialization is required and intentional.
type Run struct {
	ModelID  string
	BaseURL  string
	Doer     transport.Doer
	Executor *retry.Executor
	Poller   *future.Poller
	FetchFn  future.Retriever
	PollOpts future.Options
	Log      *logrus.Entry

	mailbox chan job
	nextSeq uint64
	closeCh chan struct{}
}

// NewRun starts a Run's background mailbox goroutine.
func NewRun(modelID, baseURL string, doer transport.Doer, executor *retry.Executor, poller *future.Poller, fetch future.Retriever, opts future.Options, log *logrus.Entry) *Run {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Run{
		ModelID:  modelID,
		BaseURL:  baseURL,
		Doer:     doer,
		Executor: executor,
		Poller:   poller,
		FetchFn:  fetch,
		PollOpts: opts,
		Log:      log,
		mailbox:  make(chan job, 64),
		closeCh:  make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Run) loop() {
	for {
		select {
		case j := <-r.mailbox:
			seqID := r.nextSeq
			r.nextSeq++
			f, err := j.run(context.Background(), seqID)
			j.done <- jobResult{future: f, err: err}
		case <-r.closeCh:
			for {
				select {
				case j := <-r.mailbox:
					seqID := r.nextSeq
					r.nextSeq++
					f, err := j.run(context.Background(), seqID)
					j.done <- jobResult{future: f, err: err}
				default:
					return
				}
			}
		}
	}
}

// Close stops the mailbox goroutine. Pending submissions already
// accepted into the channel are still processed; new submissions
// after Close race with shutdown and may block forever, so callers
// must not submit after calling Close.
func (r *Run) Close() {
	close(r.closeCh)
}

// submit enqueues build to run under the next seq_id and blocks for
// the RPC's AsyncFuture (not the full poll-to-completion — that is a
// separate step callers perform with r.Poller).
func (r *Run) submit(ctx context.Context, build func(ctx context.Context, seqID uint64) (wire.AsyncFuture, error)) (wire.AsyncFuture, error) {
	done := make(chan jobResult, 1)
	select {
	case r.mailbox <- job{run: build, done: done}:
	case <-ctx.Done():
		return wire.AsyncFuture{}, wire.NewAPITimeoutError("training run mailbox: " + ctx.Err().Error())
	}
	select {
	case res := <-done:
		return res.future, res.err
	case <-ctx.Done():
		return wire.AsyncFuture{}, wire.NewAPITimeoutError("training run mailbox: " + ctx.Err().Error())
	}
}

// AwaitFuture polls f to a terminal result using the run's poller.
func (r *Run) AwaitFuture(ctx context.Context, f wire.AsyncFuture) (json.RawMessage, error) {
	return r.Poller.Await(ctx, f.RequestID, r.FetchFn, r.PollOpts)
}
