package training

import (
	"context"
	"encoding/json"

	"github.com/North-Shore-AI/tinker-go/internal/transport"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
)

const (
	pathForward               = "api/v1/forward"
	pathForwardBackward       = "api/v1/forward_backward"
	pathOptimStep             = "api/v1/optim_step"
	pathSaveWeights           = "api/v1/save_weights"
	pathLoadWeights           = "api/v1/load_weights"
	pathSaveWeightsForSampler = "api/v1/save_weights_for_sampler"
)

// ForwardBackward submits data under loss and returns the future that
// resolves to ForwardBackwardOutput once polled.
func (r *Run) ForwardBackward(ctx context.Context, data []wire.Datum, loss wire.LossKind) (wire.AsyncFuture, error) {
	return r.submit(ctx, func(ctx context.Context, seqID uint64) (wire.AsyncFuture, error) {
		req := wire.ForwardBackwardRequest{ModelID: r.ModelID, SeqID: seqID, Data: data, Loss: loss}
		return r.call(ctx, pathForwardBackward, req)
	})
}

// Forward is like ForwardBackward but runs no backward pass, used for
// evaluation or as the first half of the custom-loss pipeline.
func (r *Run) Forward(ctx context.Context, data []wire.Datum, loss wire.LossKind) (wire.AsyncFuture, error) {
	return r.submit(ctx, func(ctx context.Context, seqID uint64) (wire.AsyncFuture, error) {
		req := wire.ForwardBackwardRequest{ModelID: r.ModelID, SeqID: seqID, Data: data, Loss: loss}
		return r.call(ctx, pathForward, req)
	})
}

// OptimStep applies gradients accumulated by prior forward_backward
// calls in this run's sequence.
func (r *Run) OptimStep(ctx context.Context, optim wire.AdamParams) (wire.AsyncFuture, error) {
	return r.submit(ctx, func(ctx context.Context, seqID uint64) (wire.AsyncFuture, error) {
		req := wire.OptimStepRequest{ModelID: r.ModelID, SeqID: seqID, Optim: optim}
		return r.call(ctx, pathOptimStep, req)
	})
}

// SaveState persists the current weights under name, returning a
// future that resolves to a tinker:// weights URI.
func (r *Run) SaveState(ctx context.Context, name string) (wire.AsyncFuture, error) {
	return r.submit(ctx, func(ctx context.Context, seqID uint64) (wire.AsyncFuture, error) {
		req := wire.SaveWeightsRequest{ModelID: r.ModelID, Path: name, SeqID: seqID}
		return r.call(ctx, pathSaveWeights, req)
	})
}

// LoadState restores weights (and, if optimizer is true, optimizer
// moments) from a tinker:// weights URI.
func (r *Run) LoadState(ctx context.Context, path string, optimizer bool) (wire.AsyncFuture, error) {
	return r.submit(ctx, func(ctx context.Context, seqID uint64) (wire.AsyncFuture, error) {
		req := wire.LoadWeightsRequest{ModelID: r.ModelID, Path: path, Optimizer: optimizer, SeqID: seqID}
		return r.call(ctx, pathLoadWeights, req)
	})
}

// SaveWeightsForSampler hands current weights to a sampling client,
// returning a future resolving to a tinker:// sampler_weights URI.
func (r *Run) SaveWeightsForSampler(ctx context.Context) (wire.AsyncFuture, error) {
	return r.submit(ctx, func(ctx context.Context, seqID uint64) (wire.AsyncFuture, error) {
		req := wire.SaveWeightsForSamplerRequest{ModelID: r.ModelID, SeqID: seqID}
		return r.call(ctx, pathSaveWeightsForSampler, req)
	})
}

// GetInfo returns the run's model metadata. Unlike the other
// operations this is typically a synchronous GET in deployments
// without LoRA hot-swap; it is still routed through the mailbox so its
// ordering relative to in-flight writes on this run is well defined.
func (r *Run) GetInfo(ctx context.Context) (wire.GetInfoResponse, error) {
	var out wire.GetInfoResponse
	_, err := r.submit(ctx, func(ctx context.Context, seqID uint64) (wire.AsyncFuture, error) {
		err := r.Executor.Do(ctx, "training.get_info", func(ctx context.Context, attempt int) error {
			return transport.JSON(ctx, r.Doer, "GET", r.BaseURL, transport.BuildPath("training_runs", r.ModelID, "info"), nil, &out)
		})
		return wire.AsyncFuture{}, err
	})
	return out, err
}

// call issues one POST through the retry executor and decodes the
// AsyncFuture envelope. Retries of a transiently failing submission
// reuse the same seq_id, so the server observes one contiguous
// sequence regardless of how many attempts the RPC took.
func (r *Run) call(ctx context.Context, path string, body any) (wire.AsyncFuture, error) {
	var f wire.AsyncFuture
	err := r.Executor.Do(ctx, "training."+path, func(ctx context.Context, attempt int) error {
		return transport.JSON(ctx, r.Doer, "POST", r.BaseURL, path, body, &f)
	})
	if err != nil {
		return wire.AsyncFuture{}, err
	}
	return f, nil
}

// DecodeForwardBackwardOutput unmarshals a terminal ForwardBackward
// future result.
func DecodeForwardBackwardOutput(raw json.RawMessage) (wire.ForwardBackwardOutput, error) {
	var out wire.ForwardBackwardOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return wire.ForwardBackwardOutput{}, wire.NewRequestFailedError("decode ForwardBackwardOutput: "+err.Error(), wire.CategoryUnknown, nil)
	}
	return out, nil
}
