// Package tinker is a client SDK for a remote distributed machine-learning
// training and inference service. It drives RPC-style endpoints for
// creating training/sampling sessions, dispatching forward/backward
// passes, optimizer steps, weight save/load, and text sampling, with
// most write operations returning an asynchronous future that is polled
// to completion.
//
// The package is organized around a small public surface (Config,
// Client, Session, Sampler, TrainingRun) backed by internal packages that
// do the real work: internal/future (poll loop), internal/retry
// (backoff + admission), internal/ratelimit (shared 429 backoff),
// internal/sampling and internal/training (the two client hot paths),
// and internal/telemetry (batched event shipping).
package tinker
