package retry

import (
	"net/http"

	"github.com/North-Shore-AI/tinker-go/internal/transport"
)

// admittingDoer gates every individual HTTP attempt through an
// Admission semaphore keyed by destination, so that retries of one
// logical call and concurrent calls to the same destination never
// exceed the configured connection width. The admission semaphore and
// the rate limiter each gate every attempt independently.
type admittingDoer struct {
	doer        transport.Doer
	admission   *Admission
	destination string
}

// WrapDoer returns a transport.Doer that acquires a permit from a
// before issuing each request to destination and releases it once the
// round trip (or its failure) completes.
func (a *Admission) WrapDoer(doer transport.Doer, destination string) transport.Doer {
	return &admittingDoer{doer: doer, admission: a, destination: destination}
}

func (d *admittingDoer) Do(req *http.Request) (*http.Response, error) {
	release, err := d.admission.Acquire(req.Context(), d.destination)
	if err != nil {
		return nil, err
	}
	defer release()
	return d.doer.Do(req)
}
