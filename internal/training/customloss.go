package training

import (
	"context"
	"fmt"

	"github.com/North-Shore-AI/tinker-go/internal/wire"
)

// ForwardBackwardCustom runs the custom-loss pipeline: a forward-only
// RPC yields per-datum logprobs, the caller's loss fn consumes them
// via the tensor adapter, the adapter
// differentiates the loss back to the logprobs, and the resulting
// gradients are submitted to the server as a synthetic backward pass.
//
// The returned ForwardBackwardOutput merges the server's metrics from
// the synthetic backward submission with the caller's loss-fn metrics;
// on a metrics-key collision the caller's value wins, since it is
// almost always a refinement (e.g. a regularized loss) of the
// server-reported figure.
func (r *Run) ForwardBackwardCustom(ctx context.Context, data []wire.Datum, adapter TensorAdapter, lossFn LossFn) (wire.ForwardBackwardOutput, error) {
	fwdFuture, err := r.Forward(ctx, data, wire.LossCrossEntropy)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}
	raw, err := r.AwaitFuture(ctx, fwdFuture)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}
	fwdOut, err := DecodeForwardBackwardOutput(raw)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}

	logprobsTensors, order, err := decodeLogprobsPerDatum(fwdOut, adapter, len(data))
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}

	loss, metrics, err := callLossFn(lossFn, data, logprobsTensors)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}

	if err := loss.Backward(); err != nil {
		return wire.ForwardBackwardOutput{}, wire.NewCallbackError(fmt.Errorf("tensor adapter backward: %w", err), "")
	}

	gradients := make(map[string]wire.TensorData, len(order))
	for _, key := range order {
		grad, err := adapter.ToTensorData(logprobsTensors[key])
		if err != nil {
			return wire.ForwardBackwardOutput{}, wire.NewCallbackError(fmt.Errorf("tensor adapter gradient export for %s: %w", key, err), "")
		}
		gradients[key] = wire.CoerceTensorData(r.Log, grad)
	}

	submitData := syntheticGradientData(data, gradients)
	bwdFuture, err := r.ForwardBackward(ctx, submitData, wire.LossCrossEntropy)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}
	bwdRaw, err := r.AwaitFuture(ctx, bwdFuture)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}
	bwdOut, err := DecodeForwardBackwardOutput(bwdRaw)
	if err != nil {
		return wire.ForwardBackwardOutput{}, err
	}

	merged := mergeMetrics(bwdOut.Metrics, metrics)
	return wire.ForwardBackwardOutput{LossFnOutputs: bwdOut.LossFnOutputs, Metrics: merged}, nil
}

// decodeLogprobsPerDatum materializes one local tensor per datum's
// "logprobs" loss-fn output, preserving input order so the caller's
// loss fn sees tensors aligned with its own data slice.
func decodeLogprobsPerDatum(out wire.ForwardBackwardOutput, adapter TensorAdapter, n int) (map[string]LocalTensor, []string, error) {
	tensors := make(map[string]LocalTensor, n)
	order := make([]string, 0, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("datum_%d", i)
		td, ok := out.LossFnOutputs[key]
		if !ok {
			td, ok = out.LossFnOutputs["logprobs"]
			if !ok {
				return nil, nil, wire.NewRequestFailedError(
					fmt.Sprintf("forward response missing logprobs for datum %d", i), wire.CategoryUnknown, nil)
			}
		}
		t, err := adapter.FromTensorData(td)
		if err != nil {
			return nil, nil, wire.NewCallbackError(fmt.Errorf("tensor adapter decode for %s: %w", key, err), "")
		}
		tensors[key] = t
		order = append(order, key)
	}
	return tensors, order, nil
}

func callLossFn(lossFn LossFn, data []wire.Datum, tensors map[string]LocalTensor) (loss LocalTensor, metrics map[string]float64, err error) {
	ordered := make([]LocalTensor, 0, len(data))
	for i := range data {
		ordered = append(ordered, tensors[fmt.Sprintf("datum_%d", i)])
	}
	loss, metrics, err = lossFn(data, ordered)
	if err != nil {
		return nil, nil, wire.NewCallbackError(fmt.Errorf("loss fn: %w", err), "")
	}
	return loss, metrics, nil
}

func syntheticGradientData(data []wire.Datum, gradients map[string]wire.TensorData) []wire.Datum {
	out := make([]wire.Datum, len(data))
	for i, d := range data {
		key := fmt.Sprintf("datum_%d", i)
		loss := make(map[string]wire.TensorData, len(d.LossFnInputs)+1)
		for k, v := range d.LossFnInputs {
			loss[k] = v
		}
		if grad, ok := gradients[key]; ok {
			loss["gradient"] = grad
		}
		out[i] = wire.Datum{ModelInput: d.ModelInput, LossFnInputs: loss}
	}
	return out
}

func mergeMetrics(server, caller map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(server)+len(caller))
	for k, v := range server {
		merged[k] = v
	}
	for k, v := range caller {
		merged[k] = v
	}
	return merged
}
