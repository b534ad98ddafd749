// Package fileio implements the bounded, crash-safe async file engine
// (spec.md C4): read/write/copy/delete/enumerate with per-path mutual
// exclusion, chunked progress, cancellation, and atomic writes with
// backup/restore. Concurrency is capped by a single global semaphore
// (golang.org/x/sync/semaphore) behind a bounded admission queue, so a
// caller waiting for a slot blocks on ctx rather than spinning.
package fileio

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/joeycumines/ioisolate/internal/pathsafe"
	"github.com/joeycumines/ioisolate/internal/telemetry"
	"github.com/joeycumines/ioisolate/respool"
	"github.com/joeycumines/ioisolate/result"
)

// ChunkSize is the reference chunk size for streamed read/write/copy
// progress, per spec.md §4.2.
const ChunkSize = 8 * 1024

// LargeFileThreshold is the size above which a delete is dispatched to the
// I/O thread pool instead of being performed inline (spec.md §4.4).
const LargeFileThreshold = 10 * 1024 * 1024

// IOPool is the subset of the I/O thread pool (C6) the file engine needs:
// somewhere to hand off work that must not run on a caller's goroutine.
// Defined locally so this package doesn't import iopool directly; any
// *iopool.Pool satisfies it.
type IOPool interface {
	Submit(ctx context.Context, task func(ctx context.Context) error) error
}

// Progress describes the state of a long-running operation at a chunk or
// entry boundary.
type Progress struct {
	OperationID string
	Path        string
	Done        int64
	Total       int64
	Entries     int
}

// ProgressFunc receives Progress updates; it must not block significantly,
// since it's invoked from the goroutine performing the I/O.
type ProgressFunc func(Progress)

// Config configures an Engine. Zero values fall back to spec.md defaults.
type Config struct {
	MaxConcurrentOps    int
	InitialBackoff      time.Duration
	BackoffFactor       float64
	MaxAttempts         int
	MaxAttemptsCopyEnum int
	TempDir             string
	Pool                *respool.Pool
	IOPool              IOPool
	Logger              *telemetry.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentOps <= 0 {
		c.MaxConcurrentOps = 20
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxAttemptsCopyEnum <= 0 {
		c.MaxAttemptsCopyEnum = 2
	}
	return c
}

// Engine is the async file engine. Construct with New.
type Engine struct {
	cfg    Config
	sem    *semaphore.Weighted
	locks  *pathLockTable
	log    *telemetry.Logger
	queue  chan struct{} // bounded admission queue, capacity 2×MaxConcurrentOps
}

// New constructs an Engine ready to serve operations.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:   cfg,
		sem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentOps)),
		locks: newPathLockTable(4096),
		log:   telemetry.OrDisabled(cfg.Logger),
		queue: make(chan struct{}, cfg.MaxConcurrentOps*2),
	}
}

// admit blocks until there is room in the bounded admission queue and a
// semaphore slot, providing the backpressure spec.md §4.2 calls for
// ("FullMode = wait"). It returns a release func to call when the operation
// completes.
func (e *Engine) admit(ctx context.Context) (release func(), err error) {
	select {
	case e.queue <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		<-e.queue
		return nil, err
	}
	return func() {
		e.sem.Release(1)
		<-e.queue
	}, nil
}

func newOpID(opID string) string {
	if opID != "" {
		return opID
	}
	return uuid.NewString()
}

// ReadResult is the payload of a successful read.
type ReadResult struct {
	Path string
	Data []byte
}

// Read loads the full contents of path.
func (e *Engine) Read(ctx context.Context, path string, opID string, progress ProgressFunc) result.Result[ReadResult] {
	start := time.Now()
	opID = newOpID(opID)
	if err := pathsafe.Validate(path); err != nil {
		return result.Err[ReadResult](result.KindValidation, err.Error(), err, opID, time.Since(start))
	}

	var out ReadResult
	res := e.withRetry(ctx, opID, start, e.cfg.MaxAttempts, func() error {
		release, err := e.admit(ctx)
		if err != nil {
			return err
		}
		defer release()

		unlock := e.locks.lock(path)
		defer unlock()

		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return notFoundErr{path}
			}
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		buf := e.cfg.Pool.Get(ChunkSize)
		defer e.cfg.Pool.Put(buf)
		var written int64
		var all bytes.Buffer
		all.Grow(int(info.Size()))
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			n, rerr := f.Read(buf)
			if n > 0 {
				all.Write(buf[:n])
				written += int64(n)
				if progress != nil {
					progress(Progress{OperationID: opID, Path: path, Done: written, Total: info.Size()})
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return rerr
			}
		}
		out = ReadResult{Path: path, Data: all.Bytes()}
		return nil
	})
	if res != nil {
		return result.Err[ReadResult](res.kind, res.message, res.cause, opID, time.Since(start))
	}
	return result.Ok(out, opID, time.Since(start))
}

// WriteResult is the payload of a successful write.
type WriteResult struct {
	Path         string
	BytesWritten int
}

// Write atomically replaces path's contents with data, per spec.md §4.2's
// protocol: optional backup, temp file, rename over target, cleanup.
// createBackup requests the backup step.
func (e *Engine) Write(ctx context.Context, path string, data []byte, createBackup bool, opID string, progress ProgressFunc) result.Result[WriteResult] {
	start := time.Now()
	opID = newOpID(opID)
	if err := pathsafe.Validate(path); err != nil {
		return result.Err[WriteResult](result.KindValidation, err.Error(), err, opID, time.Since(start))
	}

	res := e.withRetry(ctx, opID, start, e.cfg.MaxAttempts, func() error {
		release, err := e.admit(ctx)
		if err != nil {
			return err
		}
		defer release()

		unlock := e.locks.lock(path)
		defer unlock()

		return atomicWrite(ctx, path, data, createBackup, e.cfg.TempDir, func(done int64) {
			if progress != nil {
				progress(Progress{OperationID: opID, Path: path, Done: done, Total: int64(len(data))})
			}
		})
	})
	if res != nil {
		return result.Err[WriteResult](res.kind, res.message, res.cause, opID, time.Since(start))
	}
	return result.Ok(WriteResult{Path: path, BytesWritten: len(data)}, opID, time.Since(start))
}

// Copy copies src to dst, acquiring both path locks in lexicographic order
// on their absolute paths to prevent deadlock against a concurrent reverse
// copy.
func (e *Engine) Copy(ctx context.Context, src, dst string, overwrite bool, opID string, progress ProgressFunc) result.Result[struct{}] {
	start := time.Now()
	opID = newOpID(opID)
	if err := pathsafe.Validate(src); err != nil {
		return result.Err[struct{}](result.KindValidation, err.Error(), err, opID, time.Since(start))
	}
	if err := pathsafe.Validate(dst); err != nil {
		return result.Err[struct{}](result.KindValidation, err.Error(), err, opID, time.Since(start))
	}

	res := e.withRetry(ctx, opID, start, e.cfg.MaxAttemptsCopyEnum, func() error {
		release, err := e.admit(ctx)
		if err != nil {
			return err
		}
		defer release()

		first, second := src, dst
		if second < first {
			first, second = second, first
		}
		unlockFirst := e.locks.lock(first)
		defer unlockFirst()
		if second != first {
			unlockSecond := e.locks.lock(second)
			defer unlockSecond()
		}

		if !overwrite {
			if _, statErr := os.Stat(dst); statErr == nil {
				return validationErr{"destination exists and overwrite is false"}
			}
		}

		in, err := os.Open(src)
		if err != nil {
			if os.IsNotExist(err) {
				return notFoundErr{src}
			}
			return err
		}
		defer in.Close()

		info, err := in.Stat()
		if err != nil {
			return err
		}

		return atomicWriteFromReader(ctx, dst, in, info.Size(), false, e.cfg.TempDir, func(done int64) {
			if progress != nil {
				progress(Progress{OperationID: opID, Path: dst, Done: done, Total: info.Size()})
			}
		})
	})
	if res != nil {
		return result.Err[struct{}](res.kind, res.message, res.cause, opID, time.Since(start))
	}
	return result.Ok(struct{}{}, opID, time.Since(start))
}

// Delete removes path. Files over LargeFileThreshold are deleted on the I/O
// thread pool rather than inline, per spec.md §4.4.
func (e *Engine) Delete(ctx context.Context, path string, verifyExists bool, opID string) result.Result[struct{}] {
	start := time.Now()
	opID = newOpID(opID)
	if err := pathsafe.Validate(path); err != nil {
		return result.Err[struct{}](result.KindValidation, err.Error(), err, opID, time.Since(start))
	}

	res := e.withRetry(ctx, opID, start, e.cfg.MaxAttempts, func() error {
		release, err := e.admit(ctx)
		if err != nil {
			return err
		}
		defer release()

		unlock := e.locks.lock(path)
		defer unlock()

		info, statErr := os.Stat(path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				if verifyExists {
					return notFoundErr{path}
				}
				return nil
			}
			return statErr
		}

		if info.Size() > LargeFileThreshold && e.cfg.IOPool != nil {
			return e.cfg.IOPool.Submit(ctx, func(ctx context.Context) error {
				return os.Remove(path)
			})
		}
		return os.Remove(path)
	})
	if res != nil {
		return result.Err[struct{}](res.kind, res.message, res.cause, opID, time.Since(start))
	}
	return result.Ok(struct{}{}, opID, time.Since(start))
}

// EnumerateResult is the payload of a successful enumeration.
type EnumerateResult struct {
	Paths []string
}

// Enumerate lists absolute file paths under dir matching pattern
// (filepath.Match syntax), descending into subdirectories when recursive.
// Progress is reported every 100 entries.
func (e *Engine) Enumerate(ctx context.Context, dir, pattern string, recursive bool, opID string, progress ProgressFunc) result.Result[EnumerateResult] {
	start := time.Now()
	opID = newOpID(opID)
	if err := pathsafe.ValidateDir(dir); err != nil {
		return result.Err[EnumerateResult](result.KindValidation, err.Error(), err, opID, time.Since(start))
	}

	var out EnumerateResult
	res := e.withRetry(ctx, opID, start, e.cfg.MaxAttemptsCopyEnum, func() error {
		release, err := e.admit(ctx)
		if err != nil {
			return err
		}
		defer release()

		out = EnumerateResult{}
		count := 0
		walkErr := enumerateDir(ctx, dir, pattern, recursive, func(path string) {
			out.Paths = append(out.Paths, path)
			count++
			if progress != nil && count%100 == 0 {
				progress(Progress{OperationID: opID, Path: dir, Entries: count})
			}
		})
		if walkErr != nil {
			return walkErr
		}
		sort.Strings(out.Paths)
		return nil
	})
	if res != nil {
		return result.Err[EnumerateResult](res.kind, res.message, res.cause, opID, time.Since(start))
	}
	return result.Ok(out, opID, time.Since(start))
}
