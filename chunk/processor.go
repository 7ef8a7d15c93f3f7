package chunk

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

type procState int

const (
	stateIdle procState = iota
	stateRunning
	statePaused
	stateCompleted
	stateCancelled
)

// workItem pairs an item with its original index, the item's stable
// identity for retry and progress tracking.
type workItem[T any] struct {
	item  T
	index int
}

// Processor processes an ordered collection chunk by chunk under bounded
// concurrency, without blocking the caller. Each chunk's items are
// submitted through a Limiter; failures are recorded per original index
// and retried in end-of-pass sweeps until the retry bound is reached.
//
// A Processor is created once per collection and driven through its state
// machine: Idle → Running ⇄ Paused, Running → Completed, any → Cancelled.
// Control methods never return errors; calls that make no sense in the
// current state are silently ignored.
//
// All internal state is guarded by a single mutex; the instance itself is
// safe for concurrent control calls but is not meant to be shared across
// datasets; build a new one per run.
//
// Type parameters:
//   - T: The item type
type Processor[T any] struct {
	items []T
	fn    ItemFunc[T]
	conf  *config
	log   *slog.Logger

	mu          sync.Mutex
	state       procState
	gen         uint64
	loopRunning bool
	current     int
	processed   int
	failures    map[int]*Failure[T]
	exhausted   []Failure[T]
	limiter     *Limiter[struct{}]
	yield       YieldStrategy
	runCtx      context.Context
	runCancel   context.CancelFunc

	onProgress func(processed, total int)
	onComplete func()
	onCancel   func()
	onError    func(err error, item T, index int)
}

// NewProcessor creates a processor over items. Nothing runs until Start.
//
// Example:
//
//	p := chunk.NewProcessor(records, loadRecord,
//	    chunk.WithChunkSize(50),
//	    chunk.WithConcurrency(4),
//	).OnComplete(func() { close(done) })
//	p.Start()
func NewProcessor[T any](items []T, fn ItemFunc[T], opts ...Option) *Processor[T] {
	cfg := newConfig(opts...)
	return &Processor[T]{
		items:    items,
		fn:       fn,
		conf:     cfg,
		log:      cfg.log(),
		failures: make(map[int]*Failure[T]),
	}
}

// OnProgress sets the callback invoked after each chunk and each retry
// sweep with the current processed count and the collection size.
func (p *Processor[T]) OnProgress(fn func(processed, total int)) *Processor[T] {
	p.mu.Lock()
	p.onProgress = fn
	p.mu.Unlock()
	return p
}

// OnComplete sets the callback invoked once when a run reaches Completed,
// including runs where some items exhausted their retries.
func (p *Processor[T]) OnComplete(fn func()) *Processor[T] {
	p.mu.Lock()
	p.onComplete = fn
	p.mu.Unlock()
	return p
}

// OnCancel sets the callback invoked when Cancel is called.
func (p *Processor[T]) OnCancel(fn func()) *Processor[T] {
	p.mu.Lock()
	p.onCancel = fn
	p.mu.Unlock()
	return p
}

// OnError sets the callback invoked exactly once per item that fails on
// every attempt up to the retry bound. Item-level failures below the bound
// are not reported; they are retried.
func (p *Processor[T]) OnError(fn func(err error, item T, index int)) *Processor[T] {
	p.mu.Lock()
	p.onError = fn
	p.mu.Unlock()
	return p
}

// Start begins a fresh run. All counters and the failure map are reset and
// chunk dispatch begins from index 0. No-op when already Running.
func (p *Processor[T]) Start() {
	p.mu.Lock()
	if p.state == stateRunning {
		p.mu.Unlock()
		return
	}
	p.gen++
	gen := p.gen
	p.state = stateRunning
	p.current = 0
	p.processed = 0
	p.failures = make(map[int]*Failure[T])
	p.exhausted = nil
	oldYield := p.yield
	p.limiter = newLimiter[struct{}](p.conf)
	p.yield = newYieldStrategy(p.conf.idleSignal)
	p.runCtx, p.runCancel = context.WithCancel(context.Background())
	p.loopRunning = true
	p.mu.Unlock()

	if oldYield != nil {
		oldYield.Dispose()
	}
	go p.run(gen)
}

// Pause stops scheduling new chunk dispatches. Tasks already submitted to
// the limiter run to completion and are counted; this is a cooperative
// pause, not a hard stop. No-op unless Running.
func (p *Processor[T]) Pause() {
	p.mu.Lock()
	if p.state != stateRunning {
		p.mu.Unlock()
		return
	}
	p.state = statePaused
	lim := p.limiter
	cancelRun := p.runCancel
	p.mu.Unlock()

	cancelRun()
	lim.Stop(false)
	if p.conf.debug {
		p.log.Debug("processor paused", slog.Int("currentIndex", p.CurrentIndex()))
	}
}

// Resume continues a paused run from the current index. The limiter is
// rebuilt, since a stopped limiter cannot be restarted in place. No-op unless
// Paused.
func (p *Processor[T]) Resume() {
	p.mu.Lock()
	if p.state != statePaused {
		p.mu.Unlock()
		return
	}
	p.state = stateRunning
	p.limiter = newLimiter[struct{}](p.conf)
	p.runCtx, p.runCancel = context.WithCancel(context.Background())
	if !p.loopRunning {
		p.loopRunning = true
		gen := p.gen
		p.mu.Unlock()
		go p.run(gen)
		return
	}
	p.mu.Unlock()
}

// Cancel aborts the run from any state: queued work is dropped, the cancel
// callback fires, and the processor goes inert. A subsequent Start begins
// a fresh run with counters reset. In-flight tasks are not forcibly
// interrupted unless the processor was built with WithHardCancel.
func (p *Processor[T]) Cancel() {
	p.mu.Lock()
	if p.state == stateCancelled {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.state = stateCancelled
	p.loopRunning = false
	lim := p.limiter
	yield := p.yield
	cancelRun := p.runCancel
	onCancel := p.onCancel
	p.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
	}
	if lim != nil {
		lim.Stop(true)
	}
	if yield != nil {
		yield.Dispose()
	}
	if onCancel != nil {
		onCancel()
	}
}

// IsProcessing reports whether a run is actively dispatching.
func (p *Processor[T]) IsProcessing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateRunning
}

// CurrentIndex returns the index the next chunk would start from.
func (p *Processor[T]) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Progress returns a snapshot recomputed from the live counters.
func (p *Processor[T]) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progressLocked()
}

func (p *Processor[T]) progressLocked() Progress {
	total := len(p.items)
	pct := 100.0
	if total > 0 {
		pct = float64(p.processed) / float64(total) * 100
	}
	return Progress{Processed: p.processed, Total: total, Percentage: pct}
}

// QueueStats returns the limiter's queued/running counters plus the pause
// flag. Zero-valued before the first Start.
func (p *Processor[T]) QueueStats() QueueStats {
	p.mu.Lock()
	lim := p.limiter
	paused := p.state == statePaused
	p.mu.Unlock()

	stats := QueueStats{IsPaused: paused}
	if lim != nil {
		ls := lim.Stats()
		stats.Size = int(ls.Queued)
		stats.Pending = int(ls.Running)
	}
	return stats
}

// FailedItems returns the items that exhausted their retries in the
// current run, in the order they were reported.
func (p *Processor[T]) FailedItems() []Failure[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Failure[T], len(p.exhausted))
	copy(out, p.exhausted)
	return out
}

// run drives one generation of the processor: chunked dispatch, then retry
// sweeps, then completion. It abandons silently when the generation is
// superseded (Cancel or a fresh Start) and parks when paused.
func (p *Processor[T]) run(gen uint64) {
	if !p.runChunks(gen) {
		return
	}
	if !p.runRetrySweeps(gen) {
		return
	}
	p.finish(gen)
}

// runChunks dispatches chunk after chunk until the collection is consumed.
// Returns false if the loop should abandon (pause, cancel, stale gen).
func (p *Processor[T]) runChunks(gen uint64) bool {
	for {
		p.mu.Lock()
		if p.gen != gen || p.state == stateCancelled {
			p.mu.Unlock()
			return false
		}
		if p.state == statePaused {
			p.loopRunning = false
			p.mu.Unlock()
			return false
		}
		total := len(p.items)
		start := p.current
		if start >= total {
			p.mu.Unlock()
			return true
		}
		end := min(start+p.conf.chunkSize, total)
		lim := p.limiter
		yield := p.yield
		runCtx := p.runCtx
		p.mu.Unlock()

		if p.conf.hybrid {
			if _, err := yield.YieldUntilIdle(runCtx); err != nil {
				// Pause or cancel interrupted the wait; the next pass of
				// the loop observes the state change and parks or exits.
				continue
			}
		}

		if p.conf.debug {
			p.log.Debug("dispatching chunk",
				slog.Int("start", start), slog.Int("end", end))
		}

		wave := make([]workItem[T], 0, end-start)
		for i := start; i < end; i++ {
			wave = append(wave, workItem[T]{item: p.items[i], index: i})
		}
		undispatched := p.runWave(gen, lim, wave)

		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return false
		}
		// A pause can stop the limiter mid-wave; items it dropped never ran,
		// so the cursor must not advance past them. The next pass (after
		// Resume rebuilds the limiter) re-dispatches from the first one.
		if undispatched >= 0 {
			p.current = start + undispatched
		} else {
			p.current = end
		}
		p.mu.Unlock()

		p.reportProgress(gen)
	}
}

// runRetrySweeps retries outstanding failures in unchunked waves until no
// failure is still below the retry bound, then reports the exhausted ones
// exactly once each. Returns false if the loop should abandon.
func (p *Processor[T]) runRetrySweeps(gen uint64) bool {
	for {
		p.mu.Lock()
		if p.gen != gen || p.state == stateCancelled {
			p.mu.Unlock()
			return false
		}
		if p.state == statePaused {
			p.loopRunning = false
			p.mu.Unlock()
			return false
		}

		var wave []workItem[T]
		for _, f := range p.failures {
			if f.Retries < p.conf.maxRetries {
				wave = append(wave, workItem[T]{item: f.Item, index: f.Index})
			}
		}

		if len(wave) == 0 {
			var exhausted []Failure[T]
			for idx, f := range p.failures {
				exhausted = append(exhausted, *f)
				delete(p.failures, idx)
			}
			sort.Slice(exhausted, func(i, j int) bool {
				return exhausted[i].Index < exhausted[j].Index
			})
			p.exhausted = append(p.exhausted, exhausted...)
			onError := p.onError
			p.mu.Unlock()

			for _, f := range exhausted {
				if onError != nil {
					onError(f.LastErr, f.Item, f.Index)
				}
			}
			return true
		}

		lim := p.limiter
		p.mu.Unlock()

		sort.Slice(wave, func(i, j int) bool { return wave[i].index < wave[j].index })
		if p.conf.debug {
			p.log.Debug("retry sweep", slog.Int("items", len(wave)))
		}
		p.runWave(gen, lim, wave)
		p.reportProgress(gen)
	}
}

// engineDropped distinguishes settlements the limiter injected for tasks
// that never ran from errors the item function returned. An item function
// surfacing its own wrapped cancellation is a real processing failure and
// must not match here.
func engineDropped(err error) bool {
	return errors.Is(err, ErrTaskDropped) || errors.Is(err, ErrLimiterStopped)
}

// runWave submits one wave through the limiter and waits for every item to
// settle. One item's failure never stops its wave-siblings. Returns the
// wave position of the first item the limiter dropped without running, or
// -1 when every item was dispatched.
func (p *Processor[T]) runWave(gen uint64, lim *Limiter[struct{}], wave []workItem[T]) int {
	futures := make([]*Future[struct{}], len(wave))
	for i, w := range wave {
		w := w
		futures[i] = lim.Schedule(func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.fn(ctx, w.item, w.index)
		})
	}
	undispatched := -1
	for i, f := range futures {
		_, err := f.Get()
		if err != nil && engineDropped(err) {
			if undispatched < 0 {
				undispatched = i
			}
			continue
		}
		p.settle(gen, wave[i].item, wave[i].index, err)
	}
	return undispatched
}

// settle books one item's outcome. Settlements from superseded generations
// are ignored.
func (p *Processor[T]) settle(gen uint64, item T, index int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	if err == nil {
		p.processed++
		delete(p.failures, index)
		return
	}
	if f, ok := p.failures[index]; ok {
		f.Retries++
		f.LastErr = err
		return
	}
	p.failures[index] = &Failure[T]{Item: item, Index: index, LastErr: err}
}

func (p *Processor[T]) finish(gen uint64) {
	p.mu.Lock()
	if p.gen != gen || p.state != stateRunning {
		p.mu.Unlock()
		return
	}
	p.state = stateCompleted
	p.loopRunning = false
	lim := p.limiter
	yield := p.yield
	cancelRun := p.runCancel
	onComplete := p.onComplete
	p.mu.Unlock()

	cancelRun()
	lim.Stop(false)
	yield.Dispose()
	p.reportProgress(gen)
	if onComplete != nil {
		onComplete()
	}
}

func (p *Processor[T]) reportProgress(gen uint64) {
	p.mu.Lock()
	if p.gen != gen || p.onProgress == nil {
		p.mu.Unlock()
		return
	}
	snap := p.progressLocked()
	fn := p.onProgress
	p.mu.Unlock()
	fn(snap.Processed, snap.Total)
}
