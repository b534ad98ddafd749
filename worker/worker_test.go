package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ioisolate/alert"
	"github.com/joeycumines/ioisolate/event"
	"github.com/joeycumines/ioisolate/queue"
	"github.com/joeycumines/ioisolate/respool"
	"github.com/joeycumines/ioisolate/worker"
)

func TestWorker_ProcessesQueuedEvents(t *testing.T) {
	q := queue.New("test", 10, nil)
	var processed int32
	w := worker.New(event.TypeCacheUpdate, q, func(ctx context.Context, e *event.Event) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, respool.New(time.Minute), nil, nil, nil)

	w.Start()
	defer w.Stop(time.Second)

	require.True(t, q.TryAdd(event.New(event.TypeCacheUpdate, event.Low, nil), time.Second))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&processed) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_StampsMetadataOnSuccess(t *testing.T) {
	q := queue.New("test", 10, nil)
	w := worker.New(event.TypeCacheUpdate, q, func(ctx context.Context, e *event.Event) error {
		return nil
	}, nil, nil, nil, nil)
	w.Start()
	defer w.Stop(time.Second)

	e := event.New(event.TypeCacheUpdate, event.Low, nil)
	require.True(t, q.TryAdd(e, time.Second))

	require.Eventually(t, func() bool {
		return e.Metadata["status"] == "success"
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, e.Metadata, "processing-start")
}

func TestWorker_EmitsAlertOnProcessingFailure(t *testing.T) {
	q := queue.New("test", 10, nil)
	var bus alert.Bus
	ch := make(chan alert.Alert, 4)
	bus.Subscribe(ch)

	w := worker.New(event.TypeCacheUpdate, q, func(ctx context.Context, e *event.Event) error {
		return errors.New("boom")
	}, nil, nil, nil, &bus)
	w.Start()
	defer w.Stop(time.Second)

	e := event.New(event.TypeCacheUpdate, event.Low, nil)
	require.True(t, q.TryAdd(e, time.Second))

	var startedSeen, failedSeen bool
	deadline := time.After(time.Second)
	for !failedSeen {
		select {
		case a := <-ch:
			if a.Type == alert.WorkerStarted {
				startedSeen = true
			}
			if a.Type == alert.EventProcessingFailed {
				failedSeen = true
			}
		case <-deadline:
			t.Fatal("expected an EventProcessingFailed alert")
		}
	}
	require.True(t, startedSeen)
	require.Equal(t, "failed", e.Metadata["status"])
}

func TestWorker_DoesNotHaltOnFailure(t *testing.T) {
	q := queue.New("test", 10, nil)
	var calls int32
	w := worker.New(event.TypeCacheUpdate, q, func(ctx context.Context, e *event.Event) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return errors.New("first fails")
		}
		return nil
	}, nil, nil, nil, nil)
	w.Start()
	defer w.Stop(time.Second)

	require.True(t, q.TryAdd(event.New(event.TypeCacheUpdate, event.Low, nil), time.Second))
	require.True(t, q.TryAdd(event.New(event.TypeCacheUpdate, event.Low, nil), time.Second))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_StopTimeoutAlertsButReturns(t *testing.T) {
	q := queue.New("test", 10, nil)
	block := make(chan struct{})
	var bus alert.Bus
	ch := make(chan alert.Alert, 4)
	bus.Subscribe(ch)

	w := worker.New(event.TypeCacheUpdate, q, func(ctx context.Context, e *event.Event) error {
		<-block
		return nil
	}, nil, nil, nil, &bus)
	w.Start()

	require.True(t, q.TryAdd(event.New(event.TypeCacheUpdate, event.Low, nil), time.Second))
	time.Sleep(20 * time.Millisecond) // let the worker pick it up and start processing

	start := time.Now()
	w.Stop(50 * time.Millisecond)
	require.Less(t, time.Since(start), time.Second)

	var timeoutSeen bool
	for len(ch) > 0 {
		if a := <-ch; a.Type == alert.WorkerStopTimeout {
			timeoutSeen = true
		}
	}
	require.True(t, timeoutSeen)
	close(block)
}
