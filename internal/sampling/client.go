package sampling

import (
	"context"

	"github.com/North-Shore-AI/tinker-go/internal/transport"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
)

const (
	pathAsample         = "api/v1/asample"
	pathComputeLogprobs = "api/v1/compute_logprobs"
)

// Sample issues a sample RPC for entry's client and returns the
// server's AsyncFuture. The seq_id is drawn atomically from the
// entry's counter — no mailbox hop.
func Sample(ctx context.Context, entry *Entry, prompt wire.ModelInput, params wire.SampleParams, numSamples int, promptLogprobs *bool) (wire.AsyncFuture, error) {
	req := wire.SampleRequest{
		SamplingSessionID: entry.SamplingSessionID,
		SeqID:             entry.NextSeqID(),
		Prompt:            prompt,
		SamplingParams:    params,
		NumSamples:        numSamples,
		PromptLogprobs:    promptLogprobs,
	}
	return dispatch(ctx, entry, pathAsample, req)
}

// ComputeLogprobs issues a compute_logprobs RPC. It takes the same
// path as Sample but spends no generation budget.
func ComputeLogprobs(ctx context.Context, entry *Entry, prompt wire.ModelInput) (wire.AsyncFuture, error) {
	return dispatch(ctx, entry, pathComputeLogprobs, prompt)
}

// dispatch wraps one RPC in the rate limiter gate and the retry
// executor: the HTTP transport itself never retries, and a 429 both
// primes and is primed from the shared rate limiter.
func dispatch(ctx context.Context, entry *Entry, path string, body any) (wire.AsyncFuture, error) {
	var future wire.AsyncFuture
	err := entry.Executor.Do(ctx, "sampling."+path, func(ctx context.Context, attempt int) error {
		if err := entry.Limiter.WaitForBackoff(ctx, entry.BaseURL, entry.APIKey); err != nil {
			return wire.NewAPITimeoutError("rate limiter wait: " + err.Error())
		}
		err := transport.JSON(ctx, entry.Doer, "POST", entry.BaseURL, path, body, &future)
		if werr, ok := asWireError(err); ok && werr.Type == wire.TypeAPIStatus && werr.Status == 429 {
			entry.Limiter.SetBackoff(entry.BaseURL, entry.APIKey, retryAfterFromStatusError(werr))
		}
		return err
	})
	if err != nil {
		return wire.AsyncFuture{}, err
	}
	entry.Limiter.ClearBackoff(entry.BaseURL, entry.APIKey)
	return future, nil
}
