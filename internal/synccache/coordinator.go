// Package synccache keeps in-process cache representations consistent with a
// shared persisted blob.
//
// Every access cycle runs under the location's cross-process lock:
//
//	acquire lock → reload if the version token changed → host access → flush if changed → release
//
// Register a client with a pair of hooks, then wrap each use of the in-memory
// cache in Client.Access:
//
//	client, _ := coord.Register(cache.Load, cache.Export)
//	_, err := client.Access(ctx, func(ctx context.Context) error {
//		cache.Put(key, token)
//		return nil
//	})
package synccache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/florianilch/tokencache/internal/cacheerr"
	"github.com/florianilch/tokencache/internal/crossprocess"
	"github.com/florianilch/tokencache/internal/versioned"
)

// BeforeAccessFunc replaces the client's in-memory state with blob.
// It is called only when the persisted state changed since the client last
// looked. An error means blob could not be deserialized; the hook is then called
// again with an empty blob and must reset to an empty cache.
type BeforeAccessFunc func(ctx context.Context, blob []byte) error

// AfterAccessFunc reports whether the in-memory state changed during the cycle
// and, if so, its serialized form.
type AfterAccessFunc func(ctx context.Context) (blob []byte, changed bool, err error)

// Outcome describes what happened during one access cycle.
type Outcome struct {
	// Reloaded is set when the persisted blob was loaded into the client.
	Reloaded bool

	// Discarded is set when the persisted blob was unreadable and the client
	// continued with an empty cache.
	Discarded bool

	// Flushed is set when the client's state was written back.
	Flushed bool

	// Token is the version the client holds after the cycle.
	Token versioned.Token
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator synchronizes any number of clients around one storage location.
type Coordinator struct {
	storage *versioned.Storage
	lock    *crossprocess.Lock
	logger  *slog.Logger

	// mu guards clients. It is unrelated to the cross-process lock.
	mu      sync.Mutex
	clients map[*Client]struct{}
}

// New creates a Coordinator for storage, serialized across processes by lock.
func New(storage *versioned.Storage, lock *crossprocess.Lock, opts ...Option) *Coordinator {
	c := &Coordinator{
		storage: storage,
		lock:    lock,
		logger:  slog.Default(),
		clients: make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Storage returns the versioned storage the coordinator manages.
func (c *Coordinator) Storage() *versioned.Storage {
	return c.storage
}

// Register creates a client with the given hooks.
func (c *Coordinator) Register(before BeforeAccessFunc, after AfterAccessFunc) (*Client, error) {
	if before == nil {
		return nil, cacheerr.InvalidArgument("register", c.storage.Location().String(), "missing before-access hook")
	}
	if after == nil {
		return nil, cacheerr.InvalidArgument("register", c.storage.Location().String(), "missing after-access hook")
	}

	cl := &Client{coord: c, before: before, after: after}

	c.mu.Lock()
	c.clients[cl] = struct{}{}
	c.mu.Unlock()

	return cl, nil
}

// Clients returns the number of registered clients.
func (c *Coordinator) Clients() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// Clear removes the persisted blob and its version marker under the
// cross-process lock. Clients notice on their next cycle and reload an empty cache.
func (c *Coordinator) Clear(ctx context.Context) error {
	handle, err := c.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer handle.Release()

	if err := c.storage.Clear(ctx); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "token cache cleared", "location", c.storage.Location().String())
	return nil
}

func (c *Coordinator) registered(cl *Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.clients[cl]
	return ok
}

func (c *Coordinator) unregister(cl *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, cl)
}

// Client is one in-process consumer of the shared cache.
type Client struct {
	coord  *Coordinator
	before BeforeAccessFunc
	after  AfterAccessFunc

	// mu serializes cycles of this client and guards the fields below.
	mu      sync.Mutex
	seen    versioned.Token
	started bool

	// pending holds a serialized state whose flush failed. It is written on the
	// next cycle unless the hook reports a newer state or a reload replaces it.
	pending []byte
}

// Unregister detaches the client. Later Access calls fail with ErrInvalidArgument.
func (cl *Client) Unregister() {
	cl.coord.unregister(cl)
}

// LastToken returns the version token the client last observed.
func (cl *Client) LastToken() versioned.Token {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.seen
}

// Access runs one full cycle. fn may be nil, which still reconciles the client
// and flushes if the after-access hook reports a change.
//
// If the lock cannot be acquired nothing is called and the error matches
// ErrLockTimeout (or the context error). If fn fails, the cycle ends without a
// flush and the error is returned. A failed flush is returned too, and the
// unwritten state is flushed again on the client's next cycle. The lock is released on every path,
// including panics in hooks.
func (cl *Client) Access(ctx context.Context, fn func(ctx context.Context) error) (Outcome, error) {
	c := cl.coord
	loc := c.storage.Location().String()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if !c.registered(cl) {
		return Outcome{}, cacheerr.InvalidArgument("access", loc, "client is not registered")
	}

	handle, err := c.lock.Acquire(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer func() {
		if err := handle.Release(); err != nil {
			c.logger.ErrorContext(ctx, "failed to release cache lock", "location", loc, "error", err)
		}
	}()

	out, err := cl.reconcile(ctx, loc)
	if err != nil {
		return out, err
	}
	span := trace.SpanFromContext(ctx)
	span.AddEvent("tokencache.reconciled", trace.WithAttributes(
		attribute.String("cache.location", loc),
		attribute.Bool("cache.reloaded", out.Reloaded),
		attribute.Bool("cache.discarded", out.Discarded),
	))

	if fn != nil {
		if err := fn(ctx); err != nil {
			return out, err
		}
	}

	blob, changed, err := cl.after(ctx)
	if err != nil {
		return out, fmt.Errorf("after access: %w", err)
	}
	if !changed {
		if cl.pending == nil {
			return out, nil
		}
		blob = cl.pending
	}

	token, err := c.storage.WriteData(ctx, blob)
	if err != nil {
		cl.pending = blob
		if !token.IsZero() {
			cl.seen = token
			out.Token = token
		}
		c.logger.WarnContext(ctx, "token cache flush failed, retrying on next access",
			"location", loc, "error", err)
		return out, err
	}
	cl.pending = nil
	cl.seen = token
	out.Flushed = true
	out.Token = token
	span.AddEvent("tokencache.flushed", trace.WithAttributes(attribute.String("cache.location", loc)))
	return out, nil
}

// reconcile reloads the client if the persisted version differs from what it last saw.
func (cl *Client) reconcile(ctx context.Context, loc string) (Outcome, error) {
	c := cl.coord

	token, err := c.storage.LastToken(ctx)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Token: token}
	if cl.started && token == cl.seen {
		return out, nil
	}

	blob, err := c.storage.ReadData(ctx)
	switch {
	case err == nil:
		err = cl.before(ctx, blob)
		if err != nil {
			err = cacheerr.Corrupt("deserialize", loc, err)
		}
	case errors.Is(err, cacheerr.ErrCorruptPayload):
	default:
		return out, err
	}

	if err != nil {
		// Record the token anyway so the same bad bytes are not retried every cycle.
		c.logger.WarnContext(ctx, "discarding unreadable token cache",
			"location", loc, "version", string(token), "cache.discarded", true, "error", err)
		if resetErr := cl.before(ctx, []byte{}); resetErr != nil {
			return out, fmt.Errorf("reset cache after discarded payload: %w", resetErr)
		}
		out.Discarded = true
	} else {
		out.Reloaded = true
	}

	if cl.pending != nil {
		c.logger.WarnContext(ctx, "dropping unflushed cache state superseded by a newer version",
			"location", loc, "version", string(token))
		cl.pending = nil
	}
	cl.seen = token
	cl.started = true
	return out, nil
}
