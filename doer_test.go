package tinker

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/North-Shore-AI/tinker-go/internal/transport"
)

// doersAll builds a transport.Doers map where every pool is backed by
// the same fake doer, for tests that don't care about per-pool
// isolation.
func doersAll(d transport.Doer) transport.Doers {
	return transport.NewDoers(d)
}

// scriptedDoer and its helpers mirror the fake-transport pattern used
// throughout internal/*_test.go: a sequence of canned responses, one
// per call, the last one repeating once the script runs out.
type scriptedDoer struct {
	mu        sync.Mutex
	responses []func() (*http.Response, error)
	calls     int
	paths     []string
	bodies    [][]byte
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	d.mu.Lock()
	i := d.calls
	d.calls++
	d.paths = append(d.paths, req.URL.Path)
	d.bodies = append(d.bodies, body)
	d.mu.Unlock()
	if i >= len(d.responses) {
		i = len(d.responses) - 1
	}
	return d.responses[i]()
}

// bodiesFor returns the captured request bodies whose URL path ends in
// suffix, in call order.
func (d *scriptedDoer) bodiesFor(suffix string) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out [][]byte
	for i, p := range d.paths {
		if strings.HasSuffix(p, suffix) {
			out = append(out, d.bodies[i])
		}
	}
	return out
}

func (d *scriptedDoer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
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
