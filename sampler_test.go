package tinker

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/retry"
	"github.com/North-Shore-AI/tinker-go/internal/transport"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplerTestSampler(t *testing.T, doer transport.Doer) *Sampler {
	t.Helper()
	cfg, err := NewConfig("test-key",
		WithBaseURL("https://api.example.com/services/test"),
		WithHeartbeat(time.Hour, 3*time.Hour),
		WithTelemetry(false),
		WithRetryConfig(retry.Config{BaseDelayMs: 1, MaxDelayMs: 5, JitterPct: 0, ProgressTimeoutMs: 5_000, EnableRetryLogic: true}),
		WithPollDefaults(2*time.Millisecond, time.Second),
	)
	require.NoError(t, err)
	// Session-pool traffic (create_sampling_session, heartbeats) gets
	// its own fake so the test's scripted responses stay aligned with
	// the sampling/futures hot path alone.
	sessionDoer := &scriptedDoer{responses: []func() (*http.Response, error){
		bodyResponse(200, `{"sampling_session_id":"samp-1"}`),
	}}
	doers := doersAll(doer)
	doers[transport.PoolSession] = sessionDoer
	cfg.Doers = doers
	c, err := NewClient(cfg)
	require.NoError(t, err)
	sess, err := c.NewSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Stop(context.Background()) })

	smp, err := sess.NewSampler(context.Background(), "base-model", "")
	require.NoError(t, err)
	return smp
}

// TestSampler_TransientRateLimitThenSuccess drives the full hot path:
// a 429 with an advisory retry_after_ms, then a successful asample,
// then a pending poll, then a terminal result.
func TestSampler_TransientRateLimitThenSuccess(t *testing.T) {
	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		bodyResponse(429, `{"retry_after_ms":5}`),
		bodyResponse(200, `{"request_id":"R"}`),
		bodyResponse(200, `{"status":"pending"}`),
		bodyResponse(200, `{"status":"completed","result":{"sequences":[{"tokens":[1,2,3],"logprobs":[-0.1,-0.2,-0.3],"stop_reason":"length"}]}}`),
	}}
	smp := samplerTestSampler(t, doer)

	prompt := wire.ModelInput{Chunks: []wire.Chunk{wire.NewEncodedTextChunk([]int64{7})}}
	fut, err := smp.Sample(context.Background(), prompt, nil, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "R", fut.RequestID())

	result, err := fut.Await(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Len(t, result.Sequences, 1)
	assert.Equal(t, "length", result.Sequences[0].StopReason)
}

func TestSampler_ComputeLogprobs_DecodesTerminalResult(t *testing.T) {
	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		bodyResponse(200, `{"request_id":"R2"}`),
		bodyResponse(200, `{"status":"completed","result":{"logprobs":[-0.5,-0.25]}}`),
	}}
	smp := samplerTestSampler(t, doer)

	prompt := wire.ModelInput{Chunks: []wire.Chunk{wire.NewEncodedTextChunk([]int64{1, 2})}}
	fut, err := smp.ComputeLogprobs(context.Background(), prompt)
	require.NoError(t, err)

	result, err := fut.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.5, -0.25}, result.Logprobs)
}

func TestFuture_Await_TimeoutSurfacesWithoutPanicking(t *testing.T) {
	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		bodyResponse(200, `{"request_id":"R3"}`),
		bodyResponse(200, `{"status":"pending"}`),
	}}
	smp := samplerTestSampler(t, doer)

	prompt := wire.ModelInput{Chunks: []wire.Chunk{wire.NewEncodedTextChunk([]int64{1})}}
	fut, err := smp.Sample(context.Background(), prompt, nil, 1, nil)
	require.NoError(t, err)

	_, err = fut.Await(context.Background(), 5*time.Millisecond)
	require.Error(t, err)
}
