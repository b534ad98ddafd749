// Package isolate implements the top-level I/O isolation manager (spec.md
// C7): it owns the three priority queues, the worker registry, the resource
// pool, the I/O thread pool, and the async file engine, and is the single
// entry point a latency-sensitive host embeds to offload blocking work.
package isolate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/ioisolate/alert"
	"github.com/joeycumines/ioisolate/event"
	"github.com/joeycumines/ioisolate/fileio"
	"github.com/joeycumines/ioisolate/internal/telemetry"
	"github.com/joeycumines/ioisolate/iopool"
	"github.com/joeycumines/ioisolate/queue"
	"github.com/joeycumines/ioisolate/respool"
	"github.com/joeycumines/ioisolate/result"
	"github.com/joeycumines/ioisolate/worker"
)

// Tier is one of the three manager-level queues events route to.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

const (
	defaultHighCapacity   = 1000
	defaultMediumCapacity = 2000
	defaultLowCapacity    = 5000

	enqueueTimeout  = 100 * time.Millisecond
	frameBudget     = 16 * time.Millisecond
	cleanupInterval = 30 * time.Second
	metricsInterval = time.Second / 60

	highPriorityBacklogAlertThreshold = 100
	avgWorkerLatencyAlertThreshold    = 10 * time.Millisecond
)

// routing is the event-type → tier binding table from spec.md §4.5.
var routing = map[event.Type]Tier{
	event.TypeAudioIn:        TierHigh,
	event.TypeAudioOut:       TierHigh,
	event.TypeMIDIIn:         TierHigh,
	event.TypeMIDIOut:        TierHigh,
	event.TypeUserInput:      TierHigh,
	event.TypeFileRead:       TierMedium,
	event.TypeFileWrite:      TierMedium,
	event.TypeNetwork:        TierMedium,
	event.TypeTextureShare:   TierMedium,
	event.TypeCacheUpdate:    TierLow,
	event.TypeMetadataUpdate: TierLow,
}

// Config configures a Manager. Zero values fall back to spec.md defaults.
type Config struct {
	HighCapacity   int
	MediumCapacity int
	LowCapacity    int
	FileIO         fileio.Config
	IOPoolSize     int
	ResourceTTL    time.Duration
	Logger         *telemetry.Logger
	Alerts         *alert.Bus
}

// QueueResult is returned by QueueEvent.
type QueueResult struct {
	QueuedForNextFrame bool
}

// Manager is the single embedding point for the isolation runtime.
type Manager struct {
	cfg    Config
	log    *telemetry.Logger
	alerts *alert.Bus

	queues map[Tier]*queue.PriorityQueue

	pool  *respool.Pool
	io    *iopool.Pool
	files *fileio.Engine

	workers   map[event.Type]*worker.Worker
	workersMu sync.RWMutex

	resources   map[string]resourceHandle
	resourcesMu sync.Mutex

	metrics   Metrics
	metricsMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type resourceHandle struct {
	id      string
	expires time.Time
	dispose func()
}

// Metrics is the snapshot the ≈60Hz timer accumulates and Stats() reports.
type Metrics struct {
	TotalProcessed   uint64
	TotalBatched     uint64
	FrameSavings     uint64
	ActiveWorkers    int
	AvgWorkerLatency time.Duration
}

// New constructs a Manager with the three tiered queues, resource pool,
// I/O thread pool, and file engine wired together, and starts its
// background cleanup and metrics timers.
func New(cfg Config) *Manager {
	if cfg.HighCapacity <= 0 {
		cfg.HighCapacity = defaultHighCapacity
	}
	if cfg.MediumCapacity <= 0 {
		cfg.MediumCapacity = defaultMediumCapacity
	}
	if cfg.LowCapacity <= 0 {
		cfg.LowCapacity = defaultLowCapacity
	}

	log := telemetry.OrDisabled(cfg.Logger)
	alerts := cfg.Alerts
	if alerts == nil {
		alerts = &alert.Bus{}
	}

	pool := respool.New(cfg.ResourceTTL)
	io := iopool.New(cfg.IOPoolSize, cfg.Logger, alerts)

	fcfg := cfg.FileIO
	fcfg.Pool = pool
	fcfg.IOPool = io
	fcfg.Logger = cfg.Logger
	files := fileio.New(fcfg)

	m := &Manager{
		cfg:    cfg,
		log:    log,
		alerts: alerts,
		queues: map[Tier]*queue.PriorityQueue{
			TierHigh:   queue.New("high", cfg.HighCapacity, alerts),
			TierMedium: queue.New("medium", cfg.MediumCapacity, alerts),
			TierLow:    queue.New("low", cfg.LowCapacity, alerts),
		},
		pool:      pool,
		io:        io,
		files:     files,
		workers:   make(map[event.Type]*worker.Worker),
		resources: make(map[string]resourceHandle),
		stopCh:    make(chan struct{}),
	}

	m.wg.Add(2)
	go m.cleanupLoop()
	go m.metricsLoop()

	return m
}

// RegisterWorker binds a Processor to an event.Type, on the tier the
// routing table assigns it, and starts its consumption loop.
func (m *Manager) RegisterWorker(t event.Type, process worker.Processor) *worker.Worker {
	tier, ok := routing[t]
	if !ok {
		tier = TierLow
	}
	w := worker.New(t, m.queues[tier], process, m.pool, m.io, m.cfg.Logger, m.alerts)
	m.workersMu.Lock()
	m.workers[t] = w
	m.workersMu.Unlock()
	w.Start()
	return w
}

// QueueEvent enriches and enqueues e on its type's tier, waiting up to
// enqueueTimeout for room. On timeout the event is dropped and a
// KindCapacity Result is returned, per spec.md §4.5.
func (m *Manager) QueueEvent(e *event.Event, source string) result.Result[QueueResult] {
	start := time.Now()
	e.SetMetadata("queued-timestamp", start.Format(time.RFC3339Nano))
	e.SetMetadata("source", source)
	e.SetMetadata("data-size", fmt.Sprintf("%d", len(e.Payload)))

	tier, ok := routing[e.Type]
	if !ok {
		tier = TierLow
	}
	q := m.queues[tier]

	if !q.TryAdd(e, enqueueTimeout) {
		return result.Err[QueueResult](result.KindCapacity, "queue timeout", nil, e.ID, time.Since(start))
	}
	return result.Ok(QueueResult{}, e.ID, time.Since(start))
}

// ProcessBatch enqueues each event on its target tier in the order given
// (events are not grouped by tier first), tracking wall-clock spend against
// frameBudget; once exceeded, the
// remaining events are enqueued with zero wait and reported as shed to the
// next frame, preserving the host's frame pacing.
func (m *Manager) ProcessBatch(events []*event.Event, source string) []result.Result[QueueResult] {
	results := make([]result.Result[QueueResult], len(events))
	deadline := time.Now().Add(frameBudget)

	for i, e := range events {
		if time.Now().After(deadline) {
			tier, ok := routing[e.Type]
			if !ok {
				tier = TierLow
			}
			e.SetMetadata("queued-timestamp", time.Now().Format(time.RFC3339Nano))
			e.SetMetadata("source", source)
			added := m.queues[tier].TryAdd(e, 0)
			m.metricsMu.Lock()
			m.metrics.FrameSavings++
			m.metricsMu.Unlock()
			if added {
				results[i] = result.Ok(QueueResult{QueuedForNextFrame: true}, e.ID, 0)
			} else {
				results[i] = result.Err[QueueResult](result.KindCapacity, "queue timeout", nil, e.ID, 0)
			}
			continue
		}
		results[i] = m.QueueEvent(e, source)
	}

	m.metricsMu.Lock()
	m.metrics.TotalBatched += uint64(len(events))
	m.metricsMu.Unlock()

	return results
}

// Alerts returns the Bus components emit alerts on, for host subscription.
func (m *Manager) Alerts() *alert.Bus { return m.alerts }

// ExecuteOnIOPool runs fn on the manager-level I/O thread pool.
func (m *Manager) ExecuteOnIOPool(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.io.Submit(ctx, fn)
}

// QueueAsyncFileOp runs op against the manager's file engine on the calling
// goroutine and returns op's error. It does not route op through the I/O
// thread pool.
func (m *Manager) QueueAsyncFileOp(ctx context.Context, op func(e *fileio.Engine) error) error {
	return op(m.files)
}

// RegisterResource tracks a handle for later cleanup; expires is when the
// cleanup timer should dispose it absent a matching UnregisterResource.
func (m *Manager) RegisterResource(id string, expires time.Time, dispose func()) {
	m.resourcesMu.Lock()
	m.resources[id] = resourceHandle{id: id, expires: expires, dispose: dispose}
	m.resourcesMu.Unlock()
}

// UnregisterResource removes and disposes a tracked resource immediately.
func (m *Manager) UnregisterResource(id string) {
	m.resourcesMu.Lock()
	h, ok := m.resources[id]
	delete(m.resources, id)
	m.resourcesMu.Unlock()
	if ok && h.dispose != nil {
		h.dispose()
	}
}

// Stats is the externally-visible snapshot spec.md §6 calls for.
type Stats struct {
	Queues          map[Tier]queue.Stats
	Workers         map[event.Type]worker.Stats
	Metrics         Metrics
	ActiveResources int
}

// Stats returns a snapshot of queue stats, worker stats, the
// active-resource count, and cumulative counters. It carries no
// resource-pool statistics.
func (m *Manager) Stats() Stats {
	qs := make(map[Tier]queue.Stats, len(m.queues))
	for tier, q := range m.queues {
		qs[tier] = q.Stats()
	}

	m.workersMu.RLock()
	ws := make(map[event.Type]worker.Stats, len(m.workers))
	for t, w := range m.workers {
		ws[t] = w.Stats()
	}
	m.workersMu.RUnlock()

	m.resourcesMu.Lock()
	activeResources := len(m.resources)
	m.resourcesMu.Unlock()

	m.metricsMu.Lock()
	metrics := m.metrics
	metrics.ActiveWorkers = len(ws)
	m.metricsMu.Unlock()

	return Stats{Queues: qs, Workers: ws, Metrics: metrics, ActiveResources: activeResources}
}

// Close stops the cleanup/metrics timers, every registered worker, and the
// I/O thread pool.
func (m *Manager) Close() {
	close(m.stopCh)
	m.wg.Wait()

	m.workersMu.RLock()
	workers := make([]*worker.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workersMu.RUnlock()
	for _, w := range workers {
		w.Stop(5 * time.Second)
	}

	for _, q := range m.queues {
		q.Shutdown()
	}
	m.pool.Close()
	_ = m.io.Dispose()
}
