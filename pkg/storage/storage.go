// Package storage provides the FileStore abstraction the session archiver
// writes finished-game records through. A store may be a local directory or
// an S3-compatible bucket; callers never see the difference.
package storage

import (
	"context"
	"fmt"
	"io"
)

// FileStore is file-oriented storage addressed by forward-slash paths
// relative to the store root. Implementations must be safe for concurrent
// use.
type FileStore interface {
	// Read opens the named file. The caller closes the returned reader.
	// A missing file yields an error wrapping os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing, truncating any previous
	// content and creating parents as needed. Data is not durable until
	// the returned writer is closed.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Deleting a missing file is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// WriteAll writes data to path in one shot and makes it durable.
func WriteAll(ctx context.Context, store FileStore, path string, data []byte) error {
	w, err := store.Write(ctx, path)
	if err != nil {
		return fmt.Errorf("storage: open %s for write: %w", path, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: flush %s: %w", path, err)
	}
	return nil
}

// ReadAll reads the whole named file.
func ReadAll(ctx context.Context, store FileStore, path string) ([]byte, error) {
	r, err := store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}
