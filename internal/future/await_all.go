package future

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"
)

// AwaitAllResult pairs a request id with its outcome so callers can
// correlate results back to their original submission order.
type AwaitAllResult struct {
	RequestID string
	Result    json.RawMessage
	Err       error
}

// defaultMaxConcurrentPolls bounds bulk polling fan-out.
const defaultMaxConcurrentPolls = 6

// AwaitAll polls every requestID concurrently (bounded), returning one
// AwaitAllResult per input in the same order. A single request's
// failure does not cancel the others; ctx cancellation does.
func AwaitAll(ctx context.Context, p *Poller, requestIDs []string, fetch Retriever, opts Options) []AwaitAllResult {
	results := make([]AwaitAllResult, len(requestIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultMaxConcurrentPolls)

	for i, id := range requestIDs {
		i, id := i, id
		g.Go(func() error {
			raw, err := p.Await(gctx, id, fetch, opts)
			results[i] = AwaitAllResult{RequestID: id, Result: raw, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
