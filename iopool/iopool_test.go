package iopool_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ioisolate/iopool"
)

func TestSubmit_RunsTaskAndReturnsError(t *testing.T) {
	p := iopool.New(2, nil, nil)
	defer p.Dispose()

	err := p.Submit(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	wantErr := errors.New("boom")
	err = p.Submit(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestSubmit_RunsOnDedicatedGoroutines(t *testing.T) {
	p := iopool.New(4, nil, nil)
	defer p.Dispose()

	var concurrent int32
	var maxConcurrent int32
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			p.Submit(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					old := atomic.LoadInt32(&maxConcurrent)
					if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	require.Greater(t, atomic.LoadInt32(&maxConcurrent), int32(1))
}

func TestSubmit_RespectsContextCancellation(t *testing.T) {
	p := iopool.New(1, nil, nil)
	defer p.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Submit(ctx, func(ctx context.Context) error {
		t.Fatal("task should not run with an already-cancelled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDispose_RejectsFurtherSubmissions(t *testing.T) {
	p := iopool.New(1, nil, nil)
	require.NoError(t, p.Dispose())

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, iopool.ErrClosed)
}
