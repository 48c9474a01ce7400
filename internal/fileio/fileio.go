// Package fileio provides file reads, writes and deletes that retry transient failures.
//
// Files holding cache payloads are opened concurrently by other local readers and
// occasionally held by antivirus scanners, so a single failed open is not treated
// as fatal. Not-found is never retried.
package fileio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default retry budget.
const (
	DefaultMaxAttempts = 20
	DefaultDelay       = 100 * time.Millisecond
)

// Option configures a FileIO.
type Option func(*FileIO)

// WithMaxAttempts sets the total number of attempts per operation.
func WithMaxAttempts(n uint) Option {
	return func(f *FileIO) {
		if n > 0 {
			f.maxAttempts = n
		}
	}
}

// WithDelay sets the pause between attempts.
func WithDelay(d time.Duration) Option {
	return func(f *FileIO) {
		if d > 0 {
			f.delay = d
		}
	}
}

// WithLogger sets the logger used to report retried failures.
func WithLogger(logger *slog.Logger) Option {
	return func(f *FileIO) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// FileIO performs retried file operations. The zero value is not usable; use New.
type FileIO struct {
	maxAttempts uint
	delay       time.Duration
	logger      *slog.Logger
}

// New creates a FileIO with the default retry budget.
func New(opts ...Option) *FileIO {
	f := &FileIO{
		maxAttempts: DefaultMaxAttempts,
		delay:       DefaultDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ReadFile returns the file contents. A missing file returns an error matching fs.ErrNotExist.
func (f *FileIO) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return retry(ctx, f, "read", path, func() ([]byte, error) {
		return os.ReadFile(path)
	})
}

// WriteFile atomically replaces path with data using temp file + rename.
// Parent directories are created with 0700 permissions.
func (f *FileIO) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	_, err := retry(ctx, f, "write", path, func() (struct{}, error) {
		return struct{}{}, atomicWriteFile(path, data, perm)
	})
	return err
}

// Remove deletes path. Removing a missing file succeeds.
func (f *FileIO) Remove(ctx context.Context, path string) error {
	_, err := retry(ctx, f, "remove", path, func() (struct{}, error) {
		err := os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

// Exists reports whether path exists. Stat failures other than not-found are retried.
func (f *FileIO) Exists(ctx context.Context, path string) (bool, error) {
	_, err := retry(ctx, f, "stat", path, func() (fs.FileInfo, error) {
		return os.Stat(path)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func retry[T any](ctx context.Context, f *FileIO, op, path string, fn func() (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.delay)),
		backoff.WithMaxTries(f.maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.DebugContext(ctx, "retrying file operation",
				"op", op, "path", path, "attempt", attempt, "next", next, "error", err)
		}),
	)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return v, err
		}
		return v, fmt.Errorf("%s %s after %d attempts: %w", op, path, attempt, err)
	}
	return v, nil
}

// atomicWriteFile writes data to a temp file in the same directory and renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	// Cleanup deferred for all exit paths; a no-op after a successful rename
	defer func() { _ = os.Remove(tmpName) }()
	defer func() { _ = tmp.Close() }()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
