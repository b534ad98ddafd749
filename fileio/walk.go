package fileio

import (
	"context"
	"os"
	"path/filepath"
)

// enumerateDir walks dir, invoking emit with the absolute path of every
// non-directory entry whose base name matches pattern, descending into
// subdirectories only when recursive. It checks ctx between entries so a
// cancellation is observed promptly even mid-enumeration (spec.md §4.2).
func enumerateDir(ctx context.Context, dir, pattern string, recursive bool, emit func(path string)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return notFoundErr{dir}
		}
		return err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}

	for _, ent := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		full := filepath.Join(abs, ent.Name())

		if ent.IsDir() {
			if recursive {
				if err := enumerateDir(ctx, full, pattern, recursive, emit); err != nil {
					return err
				}
			}
			continue
		}

		matched, err := filepath.Match(pattern, ent.Name())
		if err != nil {
			return validationErr{"invalid search pattern: " + err.Error()}
		}
		if matched {
			emit(full)
		}
	}
	return nil
}
