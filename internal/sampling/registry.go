// Package sampling implements the lock-free sampling client hot path:
// per-client configuration lives in a process-wide registry so that
// dozens of concurrent sample calls on one client never serialize
// behind a mailbox.
package sampling

import (
	"sync"
	"sync/atomic"

	"github.com/North-Shore-AI/tinker-go/internal/ratelimit"
	"github.com/North-Shore-AI/tinker-go/internal/retry"
	"github.com/North-Shore-AI/tinker-go/internal/transport"
)

// Entry is one sampling client's immutable-after-insert configuration.
// Only seqCounter mutates after insertion, and only via atomic
// fetch-add — never under a lock.
type Entry struct {
	ClientID          string
	SamplingSessionID string
	BaseURL           string
	APIKey            string
	Doer              transport.Doer
	Limiter           *ratelimit.Limiter
	Executor          *retry.Executor

	seqCounter atomic.Uint64
}

// NextSeqID atomically draws the next strictly-increasing sequence id
// for this client; ids are never reused or skipped.
func (e *Entry) NextSeqID() uint64 {
	return e.seqCounter.Add(1) - 1
}

// Registry is the process-wide, lock-free-on-the-read-path client
// table. Entries are inserted once on client init and never mutated
// afterward except for each entry's own atomic sequence counter.
type Registry struct {
	clients sync.Map // clientID -> *Entry
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register inserts entry, keyed by entry.ClientID. Registering the
// same ClientID twice replaces the prior entry; callers are expected
// to generate a fresh id per client (see github.com/google/uuid usage
// at construction time in the public sampler wrapper).
func (r *Registry) Register(entry *Entry) {
	r.clients.Store(entry.ClientID, entry)
}

// Lookup returns the entry for clientID, or nil if it was never
// registered.
func (r *Registry) Lookup(clientID string) *Entry {
	v, ok := r.clients.Load(clientID)
	if !ok {
		return nil
	}
	return v.(*Entry)
}

// Deregister removes clientID from the registry, e.g. on sampler
// close.
func (r *Registry) Deregister(clientID string) {
	r.clients.Delete(clientID)
}
