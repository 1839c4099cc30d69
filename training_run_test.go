package tinker

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainingTestSession(t *testing.T, doer *scriptedDoer) *Session {
	t.Helper()
	c := sessionTestClient(t, doer, time.Hour)
	sess, err := c.NewSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Stop(context.Background()) })
	return sess
}

func oneDatum(tokens ...int64) wire.Datum {
	return wire.Datum{ModelInput: wire.ModelInput{Chunks: []wire.Chunk{wire.NewEncodedTextChunk(tokens)}}}
}

func TestTrainingRun_ForwardBackward_BarePayloadNormalizedToTerminal(t *testing.T) {
	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		bodyResponse(200, `{"request_id":"r1"}`),
		bodyResponse(200, `{"metrics":{"loss:sum":1.5}}`),
	}}
	sess := trainingTestSession(t, doer)
	run, err := sess.NewTrainingRun(context.Background(), "base-model", 0)
	require.NoError(t, err)
	defer run.Close()

	out, err := run.ForwardBackward(context.Background(), []wire.Datum{oneDatum(1, 2, 3)}, wire.LossCrossEntropy)
	require.NoError(t, err)
	assert.Equal(t, 1.5, out.Metrics["loss:sum"])
}

func TestTrainingRun_LoadState_RejectsMalformedPathLocally(t *testing.T) {
	doer := &scriptedDoer{responses: []func() (*http.Response, error){bodyResponse(200, `{}`)}}
	sess := trainingTestSession(t, doer)
	run, err := sess.NewTrainingRun(context.Background(), "base-model", 0)
	require.NoError(t, err)
	defer run.Close()

	_, err = run.LoadState(context.Background(), "not-a-tinker-path", false)
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, ErrorTypeValidation, werr.Type)
	assert.Equal(t, 0, doer.callCount(), "no RPC should be issued for a locally-invalid path")
}

func TestTrainingRun_ForwardBackwardChunked_SplitsAndMergesMetrics(t *testing.T) {
	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		bodyResponse(200, `{"request_id":"r1"}`),
		bodyResponse(200, `{"metrics":{"loss:sum":1.0}}`),
		bodyResponse(200, `{"request_id":"r2"}`),
		bodyResponse(200, `{"metrics":{"loss:sum":2.0}}`),
	}}
	sess := trainingTestSession(t, doer)
	run, err := sess.NewTrainingRun(context.Background(), "base-model", 0)
	require.NoError(t, err)
	defer run.Close()

	data := []wire.Datum{oneDatum(1, 2, 3, 4, 5), oneDatum(6, 7, 8, 9, 10)}
	out, err := run.ForwardBackwardChunked(context.Background(), data, wire.LossCrossEntropy, 5)
	require.NoError(t, err)
	assert.Equal(t, 3.0, out.Metrics["loss:sum"])
	assert.Equal(t, 4, doer.callCount(), "two batches => two forward_backward + two retrieve_future calls")
}

func TestTrainingRun_SeqIDsAreStrictlyIncreasingAndContiguous(t *testing.T) {
	var responses []func() (*http.Response, error)
	const n = 20
	// Concurrent calls interleave submits and polls in no fixed order, so
	// every response is one body that reads both as a submit's
	// AsyncFuture and as a bare terminal retrieve_future payload.
	for i := 0; i < 2*n; i++ {
		responses = append(responses, bodyResponse(200, `{"request_id":"r","metrics":{}}`))
	}
	doer := &scriptedDoer{responses: responses}
	sess := trainingTestSession(t, doer)
	run, err := sess.NewTrainingRun(context.Background(), "base-model", 0)
	require.NoError(t, err)
	defer run.Close()

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := run.ForwardBackward(context.Background(), []wire.Datum{oneDatum(1)}, wire.LossCrossEntropy)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	// 2 RPCs per call (submit + retrieve_future).
	assert.Equal(t, 2*n, doer.callCount())

	// Submissions leave the mailbox one at a time, so the bodies in call
	// order carry seq_ids 0, 1, ..., n-1.
	bodies := doer.bodiesFor("/forward_backward")
	require.Len(t, bodies, n)
	for i, b := range bodies {
		var req struct {
			SeqID uint64 `json:"seq_id"`
		}
		require.NoError(t, json.Unmarshal(b, &req))
		assert.Equal(t, uint64(i), req.SeqID)
	}
}
