// Package queue implements the bounded, priority-ordered event buffer
// (spec.md C2) a worker drains and a producer feeds. Each PriorityQueue
// holds one FIFO deque per event.Priority class; that per-class deque is the
// sole store (no parallel "total list" the source kept for throughput) —
// see DESIGN.md for why that's a safe simplification of the source's
// two-view design.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/ioisolate/alert"
	"github.com/joeycumines/ioisolate/event"
)

// Stats is a point-in-time snapshot of queue occupancy.
type Stats struct {
	Capacity int
	Size     int
	PerClass [4]int
	Added    uint64
	Taken    uint64
	Rejected uint64
}

// PriorityQueue is a bounded, multi-class FIFO buffer. The zero value is not
// usable; construct with New. A PriorityQueue is safe for concurrent use by
// multiple producers and consumers.
type PriorityQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	capacity int
	classes  [4]deque
	closed   bool
	paused   bool

	added    uint64
	taken    uint64
	rejected uint64

	alerts *alert.Bus
	name   string
}

type deque struct {
	items []*event.Event
}

func (d *deque) pushBack(e *event.Event) { d.items = append(d.items, e) }

func (d *deque) popFront() *event.Event {
	if len(d.items) == 0 {
		return nil
	}
	e := d.items[0]
	d.items[0] = nil
	d.items = d.items[1:]
	return e
}

func (d *deque) len() int { return len(d.items) }

// New constructs a PriorityQueue with the given total capacity (shared
// across all four priority classes). name identifies the queue in emitted
// alerts (e.g. "high", "medium", "low"). alerts may be nil.
func New(name string, capacity int, alerts *alert.Bus) *PriorityQueue {
	q := &PriorityQueue{capacity: capacity, alerts: alerts, name: name}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func classIndex(p event.Priority) int {
	switch p {
	case event.Critical:
		return 0
	case event.High:
		return 1
	case event.Medium:
		return 2
	default:
		return 3
	}
}

func (q *PriorityQueue) size() int {
	n := 0
	for i := range q.classes {
		n += q.classes[i].len()
	}
	return n
}

// TryAdd appends e, blocking until capacity is available or timeout elapses.
// It returns false (and emits a QueueFull alert, exactly once per failed
// call) if the queue is still at capacity when timeout expires.
func (q *PriorityQueue) TryAdd(e *event.Event, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size() >= q.capacity && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			q.rejected++
			q.mu.Unlock()
			q.emitQueueFull()
			q.mu.Lock()
			return false
		}
		q.waitWithTimeout(remaining)
	}
	if q.closed {
		return false
	}
	q.classes[classIndex(e.Priority)].pushBack(e)
	q.added++
	q.notEmpty.Broadcast()
	return true
}

func (q *PriorityQueue) emitQueueFull() {
	if q.alerts == nil {
		return
	}
	q.alerts.Emit(alert.New(alert.QueueFull, "queue "+q.name+" is at capacity", map[string]any{"queue": q.name}))
}

// waitWithTimeout releases q.mu, waits on q.notEmpty for at most d, then
// reacquires q.mu. Since sync.Cond has no timed wait, a helper goroutine
// performs the wake-on-timeout.
func (q *PriorityQueue) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()
	q.notEmpty.Wait()
}

// TakePriority blocks for at most timeout, returning the single highest-priority
// event available (FIFO within its class), or nil if none arrived in time.
func (q *PriorityQueue) TakePriority(timeout time.Duration) *event.Event {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for i := range q.classes {
			if e := q.classes[i].popFront(); e != nil {
				q.taken++
				q.notEmpty.Broadcast()
				return e
			}
		}
		if q.closed {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		q.waitWithTimeout(remaining)
	}
}

// TakeBatch collects up to maxSize events, spending at most batchTimeout
// total once the first event is available. Events are merged across classes
// by each class head's Created timestamp, oldest first (no cross-class
// priority ordering on the batch path); within a class the order is FIFO by
// enqueue. Across classes this is not enqueue order when events are enqueued
// in a different order than they were created.
func (q *PriorityQueue) TakeBatch(ctx context.Context, maxSize int, batchTimeout time.Duration) []*event.Event {
	if maxSize <= 0 {
		return nil
	}
	batch := make([]*event.Event, 0, maxSize)

	first := q.takeOneBlocking(ctx)
	if first == nil {
		return nil
	}
	batch = append(batch, first)

	deadline := time.Now().Add(batchTimeout)
	for len(batch) < maxSize {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		e := q.takeOneWithTimeout(remaining)
		if e == nil {
			break
		}
		batch = append(batch, e)
	}
	return batch
}

func (q *PriorityQueue) takeOneBlocking(ctx context.Context) *event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if e := q.oldestAcrossClasses(); e != nil {
			q.taken++
			q.notEmpty.Broadcast()
			return e
		}
		if q.closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		q.waitWithTimeout(time.Millisecond)
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (q *PriorityQueue) takeOneWithTimeout(d time.Duration) *event.Event {
	deadline := time.Now().Add(d)
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if e := q.oldestAcrossClasses(); e != nil {
			q.taken++
			q.notEmpty.Broadcast()
			return e
		}
		if q.closed {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		q.waitWithTimeout(remaining)
	}
}

// oldestAcrossClasses finds the front-of-deque event with the earliest
// Created timestamp across all four classes, without allocating; callers
// hold q.mu.
func (q *PriorityQueue) oldestAcrossClasses() *event.Event {
	var oldestClass = -1
	var oldestTime time.Time
	for i := range q.classes {
		if q.classes[i].len() == 0 {
			continue
		}
		head := q.classes[i].items[0]
		if oldestClass == -1 || head.Created.Before(oldestTime) {
			oldestClass = i
			oldestTime = head.Created
		}
	}
	if oldestClass == -1 {
		return nil
	}
	return q.classes[oldestClass].popFront()
}

// Clear discards every pending event, returning the count discarded.
func (q *PriorityQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := range q.classes {
		n += q.classes[i].len()
		q.classes[i].items = nil
	}
	q.notEmpty.Broadcast()
	return n
}

// Shutdown closes the queue permanently: blocked TakePriority/TakeBatch/TryAdd calls
// return immediately, and future TryAdd calls fail. Unlike StopProcessing,
// this is not reversible.
func (q *PriorityQueue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// StartProcessing marks the queue as actively serving consumers. Queues
// start in this state; StartProcessing only matters after StopProcessing.
func (q *PriorityQueue) StartProcessing() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
}

// StopProcessing pauses consumption: Processing reports false until
// StartProcessing is called again. Unlike Shutdown, queued events and
// producers are unaffected; a worker's main loop checks Processing and
// backs off while paused, per spec.md §4.3.
func (q *PriorityQueue) StopProcessing() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Processing reports whether the queue is currently serving consumers.
func (q *PriorityQueue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.paused && !q.closed
}

// Stats returns a snapshot of current occupancy and lifetime counters.
func (q *PriorityQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{Capacity: q.capacity, Added: q.added, Taken: q.taken, Rejected: q.rejected}
	for i := range q.classes {
		s.PerClass[i] = q.classes[i].len()
	}
	s.Size = s.PerClass[0] + s.PerClass[1] + s.PerClass[2] + s.PerClass[3]
	return s
}
