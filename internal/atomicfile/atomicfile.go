// Package atomicfile provides crash-safe JSON persistence: write to a
// temp file in the target directory, fsync, rename, fsync the parent
// directory. Adapted from the teacher's internal/storage.JSONStorage
// save/copy machinery, generalized to any JSON-encodable value so both
// the config store and the session checkpoint can share it.
package atomicfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// WriteJSON atomically writes v as indented JSON to path.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpFile := f.Name()

	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpFile)
		return fmt.Errorf("set temp file permissions: %w", err)
	}

	defer func() {
		if tmpFile != "" {
			_ = os.Remove(tmpFile)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	dirSynced := false
	if err := os.Rename(tmpFile, path); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if copyErr := copyFile(tmpFile, path); copyErr != nil {
				return fmt.Errorf("cross-device copy fallback: %w", copyErr)
			}
			dirSynced = true
		} else {
			return fmt.Errorf("rename temp file: %w", err)
		}
	}
	tmpFile = ""

	if !dirSynced {
		if err := syncDir(dir); err != nil {
			return fmt.Errorf("sync parent directory: %w", err)
		}
	}
	return nil
}

// ReadJSON reads and decodes path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-configured persistence file
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src) // #nosec G304 -- src is our own temp file
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	dstDir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dstDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("set temp file permissions: %w", err)
	}
	if _, err := io.Copy(tmp, srcFile); err != nil {
		return fmt.Errorf("copy to temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	closed = true

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename temp file to destination: %w", err)
	}
	tmpName = ""

	return syncDir(dstDir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 -- dir is our own storage directory
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
