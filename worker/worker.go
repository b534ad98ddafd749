// Package worker implements the per-event-type background consumer
// (spec.md C5): a loop bound to one queue and one processor function, that
// batch-takes events, splits each batch into heavy and light sub-batches,
// processes light inline and heavy on the I/O thread pool, and reports
// failures as alerts without halting.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/ioisolate/alert"
	"github.com/joeycumines/ioisolate/event"
	"github.com/joeycumines/ioisolate/internal/telemetry"
	"github.com/joeycumines/ioisolate/queue"
	"github.com/joeycumines/ioisolate/respool"
)

// Processor handles a single event. It must stamp no metadata itself; the
// Worker stamps processing-start/status around the call. A Processor that
// wants scratch space backed by the shared buffer pool (C3) instead of
// allocating its own can retrieve one via BufferFromContext.
type Processor func(ctx context.Context, e *event.Event) error

type ctxBufferKey struct{}

// BufferFromContext returns the pool-borrowed scratch buffer a Worker seeded
// with a copy of the event's payload before invoking the Processor, or nil if
// none was borrowed (empty payload, or the Worker has no respool.Pool
// wired in). The buffer is returned to the pool when the Processor call
// returns, so it must not be retained past that point.
func BufferFromContext(ctx context.Context) []byte {
	buf, _ := ctx.Value(ctxBufferKey{}).([]byte)
	return buf
}

// IOPool is the subset of the I/O thread pool (C6) a worker offloads heavy
// sub-batches to.
type IOPool interface {
	Submit(ctx context.Context, task func(ctx context.Context) error) error
}

// Stats is a point-in-time snapshot of a Worker's counters.
type Stats struct {
	Processed      uint64
	Failed         uint64
	BatchesHandled uint64
	HeavyTimeouts  uint64
	AvgProcessTime time.Duration
}

const (
	batchSize         = 10
	batchTimeout      = 16 * time.Millisecond
	idleBackoff       = time.Millisecond
	heavyBatchTimeout = 30 * time.Second
	userInputMaxPar   = 2

	heavyFileReadPayload  = 1 << 20 // 1 MiB
	heavyFileWritePayload = 512 << 10
	heavyTexturePayload   = 256 << 10
)

// Worker consumes events of one event.Type from a single queue.
type Worker struct {
	eventType event.Type
	queue     *queue.PriorityQueue
	process   Processor
	pool      *respool.Pool
	ioPool    IOPool
	log       *telemetry.Logger
	alerts    *alert.Bus

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	stats Stats
	totalProcessTime time.Duration
}

// New constructs a Worker. Call Start to begin consuming.
func New(eventType event.Type, q *queue.PriorityQueue, process Processor, pool *respool.Pool, ioPool IOPool, logger *telemetry.Logger, alerts *alert.Bus) *Worker {
	return &Worker{
		eventType: eventType,
		queue:     q,
		process:   process,
		pool:      pool,
		ioPool:    ioPool,
		log:       telemetry.OrDisabled(logger),
		alerts:    alerts,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the worker's main loop in its own goroutine.
func (w *Worker) Start() {
	w.emit(alert.WorkerStarted, "worker started", nil)
	w.log.Info().Str(`event_type`, string(w.eventType)).Log(`worker started`)
	go w.loop()
}

func (w *Worker) loop() {
	defer close(w.doneCh)
	ctx, cancel := contextWithStop(w.stopCh)
	defer cancel()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		if !w.queue.Processing() {
			select {
			case <-w.stopCh:
				return
			case <-time.After(idleBackoff):
			}
			continue
		}

		batch := w.queue.TakeBatch(ctx, batchSize, batchTimeout)
		if len(batch) == 0 {
			select {
			case <-w.stopCh:
				return
			case <-time.After(idleBackoff):
			}
			continue
		}

		w.processBatch(ctx, batch)
	}
}

// contextWithStop builds a context.Context that is cancelled when stopCh
// closes, so blocking queue takes unblock promptly on Stop/ForceStop.
func contextWithStop(stopCh <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (w *Worker) processBatch(ctx context.Context, batch []*event.Event) {
	w.mu.Lock()
	w.stats.BatchesHandled++
	w.mu.Unlock()

	heavy, light := splitHeavyLight(w.eventType, batch)

	if len(light) > 0 {
		w.processGroup(ctx, light)
	}

	if len(heavy) > 0 && w.ioPool != nil {
		hctx, hcancel := context.WithTimeout(ctx, heavyBatchTimeout)
		err := w.ioPool.Submit(hctx, func(ctx context.Context) error {
			w.processGroup(ctx, heavy)
			return nil
		})
		hcancel()
		if err != nil {
			w.mu.Lock()
			w.stats.HeavyTimeouts++
			w.mu.Unlock()
			w.emit(alert.HeavyIOProcessingTimeout, "heavy sub-batch timed out or failed", map[string]any{"event_type": string(w.eventType), "error": err.Error()})
		}
	} else if len(heavy) > 0 {
		// no dedicated I/O pool wired; fall back to inline processing rather
		// than dropping the events.
		w.processGroup(ctx, heavy)
	}
}

// splitHeavyLight applies spec.md §4.3's per-type thresholds.
func splitHeavyLight(t event.Type, batch []*event.Event) (heavy, light []*event.Event) {
	for _, e := range batch {
		if isHeavy(t, e) {
			heavy = append(heavy, e)
		} else {
			light = append(light, e)
		}
	}
	return
}

func isHeavy(t event.Type, e *event.Event) bool {
	switch t {
	case event.TypeFileRead:
		return len(e.Payload) > heavyFileReadPayload
	case event.TypeFileWrite:
		return len(e.Payload) > heavyFileWritePayload
	case event.TypeNetwork:
		return true
	case event.TypeTextureShare:
		return len(e.Payload) > heavyTexturePayload
	default:
		return false
	}
}

// tolerance reports how a worker should fan out a priority group: fully
// parallel, capped, or strictly sequential (to preserve temporal order).
type tolerance int

const (
	parallel tolerance = iota
	cappedParallel
	sequential
)

func toleranceFor(t event.Type) tolerance {
	switch t {
	case event.TypeFileRead, event.TypeFileWrite, event.TypeNetwork, event.TypeTextureShare, event.TypeCacheUpdate, event.TypeMetadataUpdate:
		return parallel
	case event.TypeUserInput:
		return cappedParallel
	default:
		return sequential
	}
}

// processGroup groups events by priority and fans out per toleranceFor.
func (w *Worker) processGroup(ctx context.Context, events []*event.Event) {
	byPriority := map[event.Priority][]*event.Event{}
	var order []event.Priority
	for _, e := range events {
		if _, ok := byPriority[e.Priority]; !ok {
			order = append(order, e.Priority)
		}
		byPriority[e.Priority] = append(byPriority[e.Priority], e)
	}

	for _, p := range order {
		group := byPriority[p]
		switch toleranceFor(w.eventType) {
		case sequential:
			for _, e := range group {
				w.processOne(ctx, e)
			}
		case cappedParallel:
			w.processParallel(ctx, group, userInputMaxPar)
		default:
			w.processParallel(ctx, group, len(group))
		}
	}
}

func (w *Worker) processParallel(ctx context.Context, events []*event.Event, maxPar int) {
	if maxPar < 1 {
		maxPar = 1
	}
	sem := make(chan struct{}, maxPar)
	var wg sync.WaitGroup
	for _, e := range events {
		e := e
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.processOne(ctx, e)
		}()
	}
	wg.Wait()
}

// processOne stamps metadata, borrows a buffer, invokes the processor, and
// stamps the outcome, per spec.md §4.3's "Per-event processing".
func (w *Worker) processOne(ctx context.Context, e *event.Event) {
	e.SetMetadata("processing-start", time.Now().Format(time.RFC3339Nano))

	if w.pool != nil && len(e.Payload) > 0 {
		buf := w.pool.Get(len(e.Payload))
		copy(buf, e.Payload)
		ctx = context.WithValue(ctx, ctxBufferKey{}, buf)
		defer w.pool.Put(buf)
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker: panic processing event %s: %v", e.ID, r)
			}
		}()
		return w.process(ctx, e)
	}()
	elapsed := time.Since(start)

	w.mu.Lock()
	w.stats.Processed++
	w.totalProcessTime += elapsed
	w.stats.AvgProcessTime = w.totalProcessTime / time.Duration(w.stats.Processed)
	w.mu.Unlock()

	if err != nil {
		e.SetMetadata("status", "failed")
		e.SetMetadata("error", err.Error())
		w.mu.Lock()
		w.stats.Failed++
		w.mu.Unlock()
		w.emit(alert.EventProcessingFailed, "event processing failed", map[string]any{
			"event_id": e.ID, "event_type": string(e.Type), "error": err.Error(),
		})
		w.log.Err().Str(`event_id`, e.ID).Err(err).Log(`event processing failed`)
		return
	}
	e.SetMetadata("status", "success")
}

// Stop requests the worker stop, waiting up to timeout for the current
// batch to drain. It reports a WorkerStopTimeout alert (but still returns)
// if the worker doesn't exit in time.
func (w *Worker) Stop(timeout time.Duration) {
	w.stopOnce.Do(func() { close(w.stopCh) })
	select {
	case <-w.doneCh:
	case <-time.After(timeout):
		w.emit(alert.WorkerStopTimeout, "worker did not stop within timeout", map[string]any{"event_type": string(w.eventType)})
	}
}

// ForceStop requests the worker stop without waiting.
func (w *Worker) ForceStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) emit(t alert.Type, msg string, ctxData map[string]any) {
	if w.alerts == nil {
		return
	}
	w.alerts.Emit(alert.New(t, msg, ctxData))
}
