package tinker

import (
	"context"

	intfuture "github.com/North-Shore-AI/tinker-go/internal/future"
	"github.com/North-Shore-AI/tinker-go/internal/sampling"
	"github.com/North-Shore-AI/tinker-go/internal/transport"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
)

// Sampler is the lock-free sampling hot path client:
// after construction its per-call configuration lives in the
// process-wide sampling registry, and each Sample call does an atomic
// fetch-add on its seq_id counter and issues the RPC directly — no
// actor/mailbox hop, so concurrent samples on one client never
// serialize behind each other.
type Sampler struct {
	ClientID string
	// ModelID follows the "{session_id}:sample:{n}" convention, n drawn
	// from a per-session counter.
	ModelID           string
	SamplingSessionID string

	entry    *sampling.Entry
	session  *Session
	poller   *intfuture.Poller
	fetch    intfuture.Retriever
	pollOpts intfuture.Options
}

// Sample issues a non-blocking sample request and returns a Future
// that yields a SampleResponse once polled to completion. params may
// be nil. If promptLogprobs is nil the field is omitted from the wire
// request entirely; the server rejects an explicit null.
func (s *Sampler) Sample(ctx context.Context, prompt wire.ModelInput, params wire.SampleParams, numSamples int, promptLogprobs *bool) (Future[wire.SampleResponse], error) {
	f, err := sampling.Sample(ctx, s.entry, prompt, params, numSamples, promptLogprobs)
	if err != nil {
		return Future[wire.SampleResponse]{}, err
	}
	return newFuture(f, s.poller, s.fetch, s.pollOpts, decodeJSON[wire.SampleResponse]), nil
}

// ComputeLogprobs takes the same path as Sample against a different
// endpoint and does not spend generation budget.
func (s *Sampler) ComputeLogprobs(ctx context.Context, prompt wire.ModelInput) (Future[wire.LogprobsResponse], error) {
	f, err := sampling.ComputeLogprobs(ctx, s.entry, prompt)
	if err != nil {
		return Future[wire.LogprobsResponse]{}, err
	}
	return newFuture(f, s.poller, s.fetch, s.pollOpts, decodeJSON[wire.LogprobsResponse]), nil
}

// GetSampler inspects sampler metadata via GET /samplers/{id}.
func (c *Client) GetSampler(ctx context.Context, samplerID string) (wire.GetSamplerResponse, error) {
	var out wire.GetSamplerResponse
	doer := c.doerFor(transport.PoolSampling)
	path := transport.BuildPath("api/v1/samplers", samplerID)
	err := c.executor.Do(ctx, "samplers.get", func(ctx context.Context, attempt int) error {
		return transport.JSON(ctx, doer, "GET", c.cfg.BaseURL, path, nil, &out)
	})
	return out, err
}

// WeightsInfo inspects a saved tinker:// weights artifact.
func (c *Client) WeightsInfo(ctx context.Context, tinkerPath string) (wire.WeightsInfoResponse, error) {
	if _, err := wire.ParseTinkerPath(tinkerPath); err != nil {
		return wire.WeightsInfoResponse{}, err
	}
	var out wire.WeightsInfoResponse
	doer := c.doerFor(transport.PoolSession)
	req := wire.WeightsInfoRequest{TinkerPath: tinkerPath}
	err := c.executor.Do(ctx, "weights_info", func(ctx context.Context, attempt int) error {
		return transport.JSON(ctx, doer, "POST", c.cfg.BaseURL, "api/v1/weights_info", req, &out)
	})
	return out, err
}
