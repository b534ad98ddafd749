package fileio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// atomicWrite writes data to path in four steps: (1) if createBackup and
// the target exists, copy it aside into tempDir (or the target's directory
// when tempDir is empty); (2) write the payload to a renameio temp file in
// tempDir; (3) rename the temp file over the target with renameio's single
// atomic rename; (4) on success, delete the backup. On any failure after
// (1), the target is restored from the backup.
func atomicWrite(ctx context.Context, path string, data []byte, createBackup bool, tempDir string, onProgress func(done int64)) error {
	var backupPath string
	if createBackup {
		if _, err := os.Stat(path); err == nil {
			bp, berr := backupAside(path, tempDir)
			if berr != nil {
				return berr
			}
			backupPath = bp
		}
	}

	t, err := renameio.TempFile(tempDir, path)
	if err != nil {
		return restoreOnFailure(backupPath, path, err)
	}
	defer t.Cleanup()

	const chunk = ChunkSize
	var written int64
	for written < int64(len(data)) {
		select {
		case <-ctx.Done():
			return restoreOnFailure(backupPath, path, ctx.Err())
		default:
		}
		end := written + chunk
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		n, werr := t.Write(data[written:end])
		written += int64(n)
		if onProgress != nil {
			onProgress(written)
		}
		if werr != nil {
			return restoreOnFailure(backupPath, path, werr)
		}
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return restoreOnFailure(backupPath, path, err)
	}

	if backupPath != "" {
		_ = os.Remove(backupPath)
	}
	return nil
}

// atomicWriteFromReader is the copy-path variant of atomicWrite, streaming
// from src rather than an in-memory buffer.
func atomicWriteFromReader(ctx context.Context, path string, src io.Reader, total int64, createBackup bool, tempDir string, onProgress func(done int64)) error {
	var backupPath string
	if createBackup {
		if _, err := os.Stat(path); err == nil {
			bp, berr := backupAside(path, tempDir)
			if berr != nil {
				return berr
			}
			backupPath = bp
		}
	}

	t, err := renameio.TempFile(tempDir, path)
	if err != nil {
		return restoreOnFailure(backupPath, path, err)
	}
	defer t.Cleanup()

	buf := make([]byte, ChunkSize)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return restoreOnFailure(backupPath, path, ctx.Err())
		default:
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := t.Write(buf[:n]); werr != nil {
				return restoreOnFailure(backupPath, path, werr)
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return restoreOnFailure(backupPath, path, rerr)
		}
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return restoreOnFailure(backupPath, path, err)
	}
	if backupPath != "" {
		_ = os.Remove(backupPath)
	}
	return nil
}

// rollbackSuffix formats now per spec.md §6's backup-artefact naming:
// .rollback_YYYYMMDD_HHMMSSfff
func rollbackSuffix(now time.Time) string {
	return fmt.Sprintf(".rollback_%s%03d", now.Format("20060102_150405"), now.Nanosecond()/1e6)
}

// backupAside copies path aside to path+rollbackSuffix(now), disambiguating
// with a numeric attempt counter in the unlikely event two backups of the
// same path land in the same millisecond.
func backupAside(path, tempDir string) (string, error) {
	dir := tempDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	base := filepath.Join(dir, filepath.Base(path)+rollbackSuffix(time.Now()))

	var bf *os.File
	name := base
	for attempt := 0; ; attempt++ {
		candidate := name
		if attempt > 0 {
			candidate = fmt.Sprintf("%s.%d", base, attempt)
		}
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			bf = f
			name = candidate
			break
		}
		if !os.IsExist(err) {
			return "", err
		}
	}
	defer bf.Close()

	src, err := os.Open(path)
	if err != nil {
		_ = os.Remove(name)
		return "", err
	}
	defer src.Close()

	if _, err := io.Copy(bf, src); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// restoreOnFailure restores path from backupPath (if any) and returns cause
// so the caller's error classification is preserved.
func restoreOnFailure(backupPath, path string, cause error) error {
	if backupPath != "" {
		if _, err := os.Stat(backupPath); err == nil {
			_ = os.Rename(backupPath, path)
		}
	}
	return cause
}
