package tinker

import (
	"context"
	"encoding/json"

	"github.com/North-Shore-AI/tinker-go/internal/training"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
)

// TrainingRun is a per-session typed sub-client driving the strictly
// sequenced forward/backward + optim_step + save/load protocol.
// Every write is serialized through a single-writer
// mailbox so seq_id increments monotonically; concurrent callers are
// queued, not rejected.
type TrainingRun struct {
	ModelID   string
	BaseModel string
	LoRARank  int

	run     *training.Run
	session *Session
}

// ForwardBackward submits data for a combined forward+backward pass
// and blocks until the server reports a terminal result.
func (t *TrainingRun) ForwardBackward(ctx context.Context, data []wire.Datum, loss wire.LossKind) (wire.ForwardBackwardOutput, error) {
	f, err := t.run.ForwardBackward(ctx, data, loss)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}
	raw, err := t.run.AwaitFuture(ctx, f)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}
	return training.DecodeForwardBackwardOutput(raw)
}

// ForwardBackwardChunked splits data into server-acceptable batches,
// submits each batch as its own forward_backward call in order, and
// sums the resulting metrics across batches.
func (t *TrainingRun) ForwardBackwardChunked(ctx context.Context, data []wire.Datum, loss wire.LossKind, maxNumberCount int) (wire.ForwardBackwardOutput, error) {
	batches := wire.BatchData(data, maxNumberCount)
	merged := wire.ForwardBackwardOutput{LossFnOutputs: map[string]wire.TensorData{}, Metrics: map[string]float64{}}
	for _, batch := range batches {
		out, err := t.ForwardBackward(ctx, batch, loss)
		if err != nil {
			return wire.ForwardBackwardOutput{}, err
		}
		for k, v := range out.LossFnOutputs {
			merged.LossFnOutputs[k] = v
		}
		for k, v := range out.Metrics {
			merged.Metrics[k] += v
		}
	}
	return merged, nil
}

// Forward runs a forward-only pass (no gradient accumulation), used
// for evaluation or as the first half of a custom-loss pipeline.
func (t *TrainingRun) Forward(ctx context.Context, data []wire.Datum, loss wire.LossKind) (wire.ForwardBackwardOutput, error) {
	f, err := t.run.Forward(ctx, data, loss)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}
	raw, err := t.run.AwaitFuture(ctx, f)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}
	return training.DecodeForwardBackwardOutput(raw)
}

// OptimStep applies gradients accumulated by prior ForwardBackward
// calls in this run's sequence.
func (t *TrainingRun) OptimStep(ctx context.Context, optim wire.AdamParams) (wire.OptimStepResponse, error) {
	f, err := t.run.OptimStep(ctx, optim)
	if err != nil {
		return wire.OptimStepResponse{}, err
	}
	raw, err := t.run.AwaitFuture(ctx, f)
	if err != nil {
		return wire.OptimStepResponse{}, err
	}
	var out wire.OptimStepResponse
	if err := decodeInto(raw, &out); err != nil {
		return wire.OptimStepResponse{}, err
	}
	return out, nil
}

// SaveState persists the current weights under name, returning the
// resulting tinker:// weights URI.
func (t *TrainingRun) SaveState(ctx context.Context, name string) (wire.SaveWeightsResponse, error) {
	f, err := t.run.SaveState(ctx, name)
	if err != nil {
		return wire.SaveWeightsResponse{}, err
	}
	raw, err := t.run.AwaitFuture(ctx, f)
	if err != nil {
		return wire.SaveWeightsResponse{}, err
	}
	var out wire.SaveWeightsResponse
	if err := decodeInto(raw, &out); err != nil {
		return wire.SaveWeightsResponse{}, err
	}
	return out, nil
}

// LoadState restores weights (and, if optimizer is true, optimizer
// moments) from a tinker:// weights URI. The wire field is named
// "optimizer", not "load_optimizer_state" — this signature is the
// sole translation point for a caller migrating off the older name.
func (t *TrainingRun) LoadState(ctx context.Context, path string, optimizer bool) (wire.LoadWeightsResponse, error) {
	if _, err := wire.ParseTinkerPath(path); err != nil {
		return wire.LoadWeightsResponse{}, err
	}
	f, err := t.run.LoadState(ctx, path, optimizer)
	if err != nil {
		return wire.LoadWeightsResponse{}, err
	}
	raw, err := t.run.AwaitFuture(ctx, f)
	if err != nil {
		return wire.LoadWeightsResponse{}, err
	}
	var out wire.LoadWeightsResponse
	if err := decodeInto(raw, &out); err != nil {
		return wire.LoadWeightsResponse{}, err
	}
	return out, nil
}

// SaveWeightsForSampler hands the current weights to a sampling
// client, returning the resulting tinker:// sampler_weights URI.
func (t *TrainingRun) SaveWeightsForSampler(ctx context.Context) (string, error) {
	f, err := t.run.SaveWeightsForSampler(ctx)
	if err != nil {
		return "", err
	}
	raw, err := t.run.AwaitFuture(ctx, f)
	if err != nil {
		return "", err
	}
	var out wire.SaveWeightsResponse
	if err := decodeInto(raw, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// GetInfo returns the run's model metadata.
func (t *TrainingRun) GetInfo(ctx context.Context) (wire.GetInfoResponse, error) {
	return t.run.GetInfo(ctx)
}

// ForwardBackwardCustom runs the custom-loss pipeline: a forward-only
// RPC yields per-datum logprobs, lossFn computes a
// scalar loss from them via adapter, the adapter differentiates that
// loss back to the logprobs, and the resulting gradients are submitted
// to the server as a synthetic backward pass.
func (t *TrainingRun) ForwardBackwardCustom(ctx context.Context, data []wire.Datum, adapter training.TensorAdapter, lossFn training.LossFn) (wire.ForwardBackwardOutput, error) {
	return t.run.ForwardBackwardCustom(ctx, data, adapter, lossFn)
}

// Close stops the run's mailbox goroutine. Callers must not submit any
// further operations on t after calling Close.
func (t *TrainingRun) Close() {
	t.run.Close()
}

// decodeInto unmarshals a terminal future result into out, wrapping
// any decode failure as a request_failed error.
func decodeInto(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return wire.NewRequestFailedError("decode future result: "+err.Error(), wire.CategoryUnknown, nil)
	}
	return nil
}
