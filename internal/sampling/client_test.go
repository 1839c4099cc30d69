package sampling

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/ratelimit"
	"github.com/North-Shore-AI/tinker-go/internal/retry"
	"github.com/North-Shore-AI/tinker-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedDoer struct {
	mu        sync.Mutex
	responses []func() (*http.Response, error)
	calls     int
	seqs      []uint64
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	var sent struct {
		SeqID *uint64 `json:"seq_id"`
	}
	if req.Body != nil {
		if b, err := io.ReadAll(req.Body); err == nil {
			_ = json.Unmarshal(b, &sent)
		}
	}
	d.mu.Lock()
	i := d.calls
	d.calls++
	if sent.SeqID != nil {
		d.seqs = append(d.seqs, *sent.SeqID)
	}
	d.mu.Unlock()
	if i >= len(d.responses) {
		i = len(d.responses) - 1
	}
	return d.responses[i]()
}

func bodyResponse(status int, body string) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       newBody(body),
			Header:     make(http.Header),
		}, nil
	}
}

func newBody(s string) *stringBodyReadCloser {
	return &stringBodyReadCloser{Reader: strings.NewReader(s)}
}

type stringBodyReadCloser struct{ *strings.Reader }

func (stringBodyReadCloser) Close() error { return nil }

func testEntry(doer *scriptedDoer) *Entry {
	return &Entry{
		ClientID:          "client-1",
		SamplingSessionID: "sess-1",
		BaseURL:           "https://api.example.com/",
		APIKey:            "key-1",
		Doer:              doer,
		Limiter:           ratelimit.New(),
		Executor: retry.NewExecutor(retry.Config{
			BaseDelayMs: 1, MaxDelayMs: 5, JitterPct: 0, ProgressTimeoutMs: 5_000, EnableRetryLogic: true,
		}, nil),
	}
}

func TestSample_AssignsMonotonicSeqIDs(t *testing.T) {
	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		bodyResponse(200, `{"request_id":"r1"}`),
		bodyResponse(200, `{"request_id":"r2"}`),
		bodyResponse(200, `{"request_id":"r3"}`),
	}}
	entry := testEntry(doer)
	prompt := wire.ModelInput{Chunks: []wire.Chunk{wire.NewEncodedTextChunk([]int64{1})}}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Sample(context.Background(), entry, prompt, nil, 1, nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	// seqs holds the seq_id of each request body the doer received.
	doer.mu.Lock()
	seqs := doer.seqs
	doer.mu.Unlock()
	assert.Len(t, seqs, 3)
	assert.ElementsMatch(t, []uint64{0, 1, 2}, seqs)
	seen := map[uint64]bool{}
	for _, s := range seqs {
		seen[s] = true
	}
	assert.Len(t, seen, 3, "seq ids must be distinct")
}

func TestSample_429ThenSuccess_SetsAndClearsBackoff(t *testing.T) {
	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		bodyResponse(429, `{"retry_after_ms":5}`),
		bodyResponse(200, `{"request_id":"r1"}`),
	}}
	entry := testEntry(doer)
	prompt := wire.ModelInput{Chunks: []wire.Chunk{wire.NewEncodedTextChunk([]int64{1})}}

	future, err := Sample(context.Background(), entry, prompt, nil, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "r1", future.RequestID)

	start := time.Now()
	require.NoError(t, entry.Limiter.WaitForBackoff(context.Background(), entry.BaseURL, entry.APIKey))
	assert.Less(t, time.Since(start), 20*time.Millisecond, "backoff should already be cleared")
}

func TestComputeLogprobs_NoSeqIDConsumedBySample(t *testing.T) {
	doer := &scriptedDoer{responses: []func() (*http.Response, error){
		bodyResponse(200, `{"request_id":"r1"}`),
	}}
	entry := testEntry(doer)
	prompt := wire.ModelInput{Chunks: []wire.Chunk{wire.NewEncodedTextChunk([]int64{1})}}
	_, err := ComputeLogprobs(context.Background(), entry, prompt)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), entry.seqCounter.Load())
}

func TestRegistry_RegisterLookupDeregister(t *testing.T) {
	reg := NewRegistry()
	entry := &Entry{ClientID: "c1"}
	reg.Register(entry)
	assert.Same(t, entry, reg.Lookup("c1"))
	reg.Deregister("c1")
	assert.Nil(t, reg.Lookup("c1"))
}

func TestNextSeqID_NeverSkipsOrReuses(t *testing.T) {
	e := &Entry{}
	var wg sync.WaitGroup
	n := 200
	seen := make([]int32, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := e.NextSeqID()
			atomic.AddInt32(&seen[id], 1)
		}()
	}
	wg.Wait()
	for i, count := range seen {
		assert.Equalf(t, int32(1), count, "seq id %d should be used exactly once", i)
	}
}
