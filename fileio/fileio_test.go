package fileio_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ioisolate/fileio"
	"github.com/joeycumines/ioisolate/result"
)

func newTestEngine(t *testing.T) *fileio.Engine {
	t.Helper()
	return fileio.New(fileio.Config{
		MaxConcurrentOps: 4,
		TempDir:          t.TempDir(),
	})
}

func TestWrite_CreatesFileWithExactContent(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	res := e.Write(context.Background(), path, []byte("hello world"), false, "", nil)
	require.True(t, res.Success())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestWrite_EmptyPayload(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "empty.txt")

	res := e.Write(context.Background(), path, nil, false, "", nil)
	require.True(t, res.Success())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestWrite_WithBackup_ReplacesExistingContent(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	res := e.Write(context.Background(), path, []byte("updated"), true, "", nil)
	require.True(t, res.Success())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "updated", string(data))
}

func TestRead_NotFound(t *testing.T) {
	e := newTestEngine(t)
	res := e.Read(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), "", nil)
	require.False(t, res.Success())
	require.Equal(t, result.KindNotFound, res.Error().Kind)
}

func TestRead_ValidationRejectsBadExtension(t *testing.T) {
	e := newTestEngine(t)
	res := e.Read(context.Background(), filepath.Join(t.TempDir(), "file.exe"), "", nil)
	require.False(t, res.Success())
	require.Equal(t, result.KindValidation, res.Error().Kind)
}

func TestCopy_RoundTrip(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	res := e.Copy(context.Background(), src, dst, false, "", nil)
	require.True(t, res.Success())

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestCopy_RejectsOverwriteWhenDisallowed(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("b"), 0o644))

	res := e.Copy(context.Background(), src, dst, false, "", nil)
	require.False(t, res.Success())
	require.Equal(t, result.KindValidation, res.Error().Kind)
}

func TestDelete_VerifyExistsOnMissingFile(t *testing.T) {
	e := newTestEngine(t)
	res := e.Delete(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), true, "")
	require.False(t, res.Success())
	require.Equal(t, result.KindNotFound, res.Error().Kind)
}

func TestDelete_IgnoresMissingWhenNotVerifying(t *testing.T) {
	e := newTestEngine(t)
	res := e.Delete(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), false, "")
	require.True(t, res.Success())
}

func TestEnumerate_MatchesPattern(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte("{}"), 0o644))

	res := e.Enumerate(context.Background(), dir, "*.txt", false, "", nil)
	require.True(t, res.Success())
	data, _ := res.Data()
	require.Len(t, data.Paths, 1)
	require.Contains(t, data.Paths[0], "a.txt")
}

func TestEnumerate_Recursive(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.txt"), []byte("x"), 0o644))

	res := e.Enumerate(context.Background(), dir, "*.txt", true, "", nil)
	require.True(t, res.Success())
	data, _ := res.Data()
	require.Len(t, data.Paths, 1)
}

func TestWrite_CancellationRestoresBackup(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "cancel.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Write(ctx, path, []byte("new content"), true, "", nil)
	require.False(t, res.Success())
	require.Equal(t, result.KindCancelled, res.Error().Kind)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "original", string(data))
}

func TestProgress_ReportedDuringWrite(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "progress.txt")
	payload := make([]byte, fileio.ChunkSize*3)

	var updates []fileio.Progress
	res := e.Write(context.Background(), path, payload, false, "", func(p fileio.Progress) {
		updates = append(updates, p)
	})
	require.True(t, res.Success())
	require.NotEmpty(t, updates)
	require.Equal(t, int64(len(payload)), updates[len(updates)-1].Done)
}

func TestAdmission_BoundsConcurrency(t *testing.T) {
	e := fileio.New(fileio.Config{MaxConcurrentOps: 1, TempDir: t.TempDir()})
	dir := t.TempDir()

	done := make(chan struct{})
	go func() {
		e.Write(context.Background(), filepath.Join(dir, "a.txt"), []byte("a"), false, "", func(fileio.Progress) {
			time.Sleep(20 * time.Millisecond)
		})
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)

	start := time.Now()
	e.Write(context.Background(), filepath.Join(dir, "b.txt"), []byte("b"), false, "", nil)
	require.Greater(t, time.Since(start), 5*time.Millisecond)

	<-done
}
