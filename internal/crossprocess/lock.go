// Package crossprocess provides a named, polling, timeout-bounded lock shared by
// unrelated processes on one machine.
//
// The lock is an OS advisory lock on a companion file derived from the cache
// path. The OS drops it when the holding process exits, so a crashed holder never
// wedges other processes; no further stale-lock detection is attempted.
//
// Each acquisition opens its own file description, which makes the lock exclusive
// between goroutines of one process as well.
package crossprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/florianilch/tokencache/internal/cacheerr"
)

// Defaults bound a wait to roughly 60 seconds.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxAttempts  = 600

	// Suffix is appended to the cache path to name the lock file.
	Suffix = ".lockfile"
)

// errContended reports that another holder owns the lock.
var errContended = errors.New("lock held by another owner")

// Option configures a Lock.
type Option func(*Lock)

// WithPollInterval sets the pause between attempts.
func WithPollInterval(d time.Duration) Option {
	return func(l *Lock) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithMaxAttempts sets how many attempts are made before timing out.
func WithMaxAttempts(n int) Option {
	return func(l *Lock) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lock) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Lock is a cross-process lock scoped to one cache path.
type Lock struct {
	path        string
	poll        time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// New creates a Lock for the cache at cachePath. Nothing is touched on disk until Acquire.
func New(cachePath string, opts ...Option) *Lock {
	l := &Lock{
		path:        cachePath + Suffix,
		poll:        DefaultPollInterval,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire blocks until the lock is held, the attempt budget is exhausted
// (ErrLockTimeout) or ctx is done. No lock is held when an error is returned.
func (l *Lock) Acquire(ctx context.Context) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return nil, cacheerr.IO("lock", l.path, err)
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		f, err := l.tryAcquire()
		if err == nil {
			if attempt > 1 {
				l.logger.DebugContext(ctx, "lock acquired after contention",
					"path", l.path, "attempts", attempt, "waited", time.Since(start))
			}
			return &Handle{f: f, path: l.path}, nil
		}
		if !errors.Is(err, errContended) {
			return nil, cacheerr.IO("lock", l.path, err)
		}
		if attempt >= l.maxAttempts {
			l.logger.WarnContext(ctx, "lock timeout", "path", l.path, "attempts", attempt, "waited", time.Since(start))
			return nil, cacheerr.New(cacheerr.ErrLockTimeout, "lock", l.path,
				fmt.Errorf("not acquired after %d attempts over %s", attempt, time.Since(start).Round(time.Millisecond)))
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %s: %w", l.path, ctx.Err())
		case <-timer.C:
		}
	}
}

// tryAcquire makes one non-blocking attempt. It returns errContended if another
// owner holds the lock.
func (l *Lock) tryAcquire() (*os.File, error) {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	// A previous holder may have removed the file between our open and lock.
	// Holding a lock on an unlinked file would not exclude anyone.
	held, err := f.Stat()
	if err != nil {
		_ = unlockFile(f)
		_ = f.Close()
		return nil, err
	}
	current, err := os.Stat(l.path)
	if err != nil || !os.SameFile(held, current) {
		_ = unlockFile(f)
		_ = f.Close()
		return nil, errContended
	}

	// Record the owner for diagnostics; failure here does not affect exclusion.
	if err := f.Truncate(0); err == nil {
		exe, _ := os.Executable()
		_, _ = fmt.Fprintf(f, "%d %s\n", os.Getpid(), exe)
	}

	return f, nil
}

// Handle is a held lock. Release must be called on every exit path, typically via defer.
type Handle struct {
	f    *os.File
	path string

	once sync.Once
	err  error
}

// Release drops the lock. It is idempotent and safe on a nil Handle.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		// Remove before unlocking; a waiter that locks the unlinked file notices
		// the path no longer matches and retries.
		if removeOnRelease {
			_ = os.Remove(h.path)
		}

		var errs []error
		if err := unlockFile(h.f); err != nil {
			errs = append(errs, fmt.Errorf("unlock %s: %w", h.path, err))
		}
		if err := h.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", h.path, err))
		}
		h.err = errors.Join(errs...)
	})
	return h.err
}
