package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/tokencache/internal/accessor"
	"github.com/florianilch/tokencache/internal/crossprocess"
	"github.com/florianilch/tokencache/internal/fileio"
	"github.com/florianilch/tokencache/internal/synccache"
	"github.com/florianilch/tokencache/internal/verify"
	"github.com/florianilch/tokencache/internal/versioned"
)

// ErrRegistryClosed is returned by Open after Close.
var ErrRegistryClosed = errors.New("registry closed")

// Cache bundles the components serving one storage location.
type Cache struct {
	Kind        StorageKind
	Accessor    accessor.Accessor
	Storage     *versioned.Storage
	Coordinator *synccache.Coordinator
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger handed to every component.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAccessorOptions appends options to every accessor the registry creates.
func WithAccessorOptions(opts ...accessor.Option) RegistryOption {
	return func(r *Registry) {
		r.accessorOpts = append(r.accessorOpts, opts...)
	}
}

// Registry hands out one Cache per storage path, so all users of a location in
// this process share a coordinator.
type Registry struct {
	logger       *slog.Logger
	accessorOpts []accessor.Option

	mu     sync.Mutex
	caches map[string]*Cache
	closed bool
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: slog.Default(),
		caches: make(map[string]*Cache),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open returns the Cache for cfg's storage location, creating it on first use.
// No I/O is performed. Opening the same path with a different storage kind fails.
func (r *Registry) Open(cfg *Config) (*Cache, error) {
	path := cfg.Storage.Path()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if c, ok := r.caches[path]; ok {
		if c.Kind != cfg.Storage.Kind {
			return nil, fmt.Errorf("cache %s already open as %s, requested %s", path, c.Kind, cfg.Storage.Kind)
		}
		return c, nil
	}

	fio := fileio.New(
		fileio.WithMaxAttempts(cfg.Retry.MaxAttempts),
		fileio.WithDelay(cfg.Retry.Delay),
		fileio.WithLogger(r.logger),
	)

	opts := append([]accessor.Option{accessor.WithFileIO(fio), accessor.WithLogger(r.logger)}, r.accessorOpts...)
	acc, err := cfg.Storage.NewAccessor(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create accessor: %w", err)
	}

	storage := versioned.New(acc, versioned.WithFileIO(fio), versioned.WithLogger(r.logger))
	lock := crossprocess.New(path,
		crossprocess.WithPollInterval(cfg.Lock.PollInterval),
		crossprocess.WithMaxAttempts(cfg.Lock.MaxAttempts),
		crossprocess.WithLogger(r.logger),
	)

	c := &Cache{
		Kind:        cfg.Storage.Kind,
		Accessor:    acc,
		Storage:     storage,
		Coordinator: synccache.New(storage, lock, synccache.WithLogger(r.logger)),
	}
	r.caches[path] = c
	r.logger.Debug("opened token cache", "location", acc.Location().String(), "kind", string(c.Kind))
	return c, nil
}

// Len returns the number of open caches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.caches)
}

// VerifyAll probes every open cache concurrently and returns all failures joined.
func (r *Registry) VerifyAll(ctx context.Context) error {
	r.mu.Lock()
	caches := make([]*Cache, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.Unlock()

	verifier := verify.New(verify.WithLogger(r.logger))
	errs := make([]error, len(caches))

	var g errgroup.Group
	for i, c := range caches {
		g.Go(func() error {
			errs[i] = verifier.Verify(ctx, c.Accessor)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Close forgets all caches. Later Open calls fail with ErrRegistryClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	clear(r.caches)
	return nil
}
