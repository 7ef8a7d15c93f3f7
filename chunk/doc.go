// Package chunk provides a chunked, concurrency-bounded task-processing
// engine for large in-memory collections and open-ended streams.
//
// The engine never blocks the caller: work is dispatched from its own
// goroutines, bounded by a Limiter, and reported back through callbacks.
// It is built for the host-application case where a big dataset must be
// churned through (table population, batch transforms, streaming exports)
// while the surrounding program stays responsive.
//
// # Components
//
//   - Limiter: bounds in-flight tasks and enforces minimum spacing between
//     dispatches. FIFO dispatch; completion order is not guaranteed.
//   - Processor: splits an ordered collection into chunks, submits each
//     item through the Limiter, tracks per-item success/failure, retries
//     failures up to a bound, and exposes start/pause/resume/cancel.
//   - Stream: push-oriented variant for input that arrives incrementally.
//   - RunBatch: fire-and-collect variant for fallible remote operations
//     with per-item linear backoff.
//
// # Basic Usage
//
//	done := make(chan struct{})
//	p := chunk.NewProcessor(records, func(ctx context.Context, r Record, i int) error {
//	    return store.Insert(ctx, r)
//	}, chunk.WithChunkSize(50), chunk.WithConcurrency(4)).
//	    OnProgress(func(processed, total int) { bar.Set(processed) }).
//	    OnComplete(func() { close(done) })
//	p.Start()
//	<-done
//
// Or, when only the final outcome matters:
//
//	err := chunk.ProcessAll(ctx, records, insert, chunk.WithConcurrency(4))
//
// # Pause, Resume, Cancel
//
// All lifecycle control is cooperative: Pause stops scheduling new chunks
// but lets already-submitted tasks finish; Cancel drops queued work but
// never forcibly interrupts in-flight tasks. WithHardCancel additionally
// cancels the context passed to item functions, which still stop only at
// their own suspension points. Timeouts are not an engine primitive;
// wrap the item function when one is needed.
//
// # Retry Semantics
//
// An item that fails is recorded under its original index and retried in
// end-of-pass sweeps (single unchunked waves through the same Limiter)
// until its retry count reaches the bound, at which point it is reported
// through OnError exactly once and excluded until a fresh Start. Item
// failures never abort their chunk or the run.
//
// # Hybrid Mode
//
// With hybrid mode (the default) each chunk dispatch waits for an idle
// window first: a host-provided idle-notification primitive when one is
// installed via WithIdleSignal, otherwise a short fixed-budget timer
// simulation.
//
// The package is designed to be small and idiomatic for Go 1.18+ (generics).
package chunk
