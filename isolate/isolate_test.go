package isolate_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ioisolate/event"
	"github.com/joeycumines/ioisolate/fileio"
	"github.com/joeycumines/ioisolate/isolate"
)

func TestManager_QueueEventRoutesAndProcesses(t *testing.T) {
	mgr := isolate.New(isolate.Config{IOPoolSize: 2})
	defer mgr.Close()

	var processed int32
	mgr.RegisterWorker(event.TypeCacheUpdate, func(ctx context.Context, e *event.Event) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})

	e := event.New(event.TypeCacheUpdate, event.Low, nil)
	res := mgr.QueueEvent(e, "test")
	require.True(t, res.Success())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&processed) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManager_QueueEventEnrichesMetadata(t *testing.T) {
	mgr := isolate.New(isolate.Config{})
	defer mgr.Close()

	e := event.New(event.TypeCacheUpdate, event.Low, []byte("x"))
	mgr.QueueEvent(e, "unit-test")

	require.Equal(t, "unit-test", e.Metadata["source"])
	require.Contains(t, e.Metadata, "queued-timestamp")
	require.Equal(t, "1", e.Metadata["data-size"])
}

func TestManager_StatsReportsQueueDepths(t *testing.T) {
	mgr := isolate.New(isolate.Config{})
	defer mgr.Close()

	mgr.QueueEvent(event.New(event.TypeAudioIn, event.High, nil), "test")
	mgr.QueueEvent(event.New(event.TypeNetwork, event.Medium, nil), "test")

	stats := mgr.Stats()
	require.Equal(t, 1, stats.Queues[isolate.TierHigh].Size)
	require.Equal(t, 1, stats.Queues[isolate.TierMedium].Size)
}

func TestManager_RegisterAndUnregisterResource(t *testing.T) {
	mgr := isolate.New(isolate.Config{})
	defer mgr.Close()

	var disposed int32
	mgr.RegisterResource("res-1", time.Time{}, func() { atomic.AddInt32(&disposed, 1) })
	require.Equal(t, 1, mgr.Stats().ActiveResources)

	mgr.UnregisterResource("res-1")
	require.Equal(t, 0, mgr.Stats().ActiveResources)
	require.EqualValues(t, 1, disposed)
}

func TestManager_ExecuteOnIOPool(t *testing.T) {
	mgr := isolate.New(isolate.Config{})
	defer mgr.Close()

	var ran int32
	err := mgr.ExecuteOnIOPool(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, ran)
}

func TestManager_QueueAsyncFileOpWrite(t *testing.T) {
	mgr := isolate.New(isolate.Config{})
	defer mgr.Close()

	path := filepath.Join(t.TempDir(), "out.txt")
	err := mgr.QueueAsyncFileOp(context.Background(), func(e *fileio.Engine) error {
		res := e.Write(context.Background(), path, []byte("data"), false, "", nil)
		if !res.Success() {
			return res.Error()
		}
		return nil
	})
	require.NoError(t, err)
}
