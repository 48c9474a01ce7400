package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/tokencache/internal/accessor"
	"github.com/florianilch/tokencache/internal/synccache"
	"github.com/florianilch/tokencache/internal/tokenset"
	"github.com/florianilch/tokencache/internal/versioned"
)

// App wires the configured token cache and exposes the operations of the admin CLI.
type App struct {
	cfg      *Config
	registry *Registry
	cache    *Cache
}

// New creates a new App instance. No I/O is performed.
func New(cfg *Config, opts ...RegistryOption) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	registry := NewRegistry(opts...)
	cache, err := registry.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open token cache: %w", err)
	}

	return &App{
		cfg:      cfg,
		registry: registry,
		cache:    cache,
	}, nil
}

// Location returns the configured storage location.
func (a *App) Location() accessor.Location {
	return a.cache.Accessor.Location()
}

// Verify runs the persistence probe against the configured store.
func (a *App) Verify(ctx context.Context) error {
	if err := a.registry.VerifyAll(ctx); err != nil {
		return err
	}
	slog.DebugContext(ctx, "persistence check passed", "location", a.Location().String())
	return nil
}

// Snapshot is a point-in-time view of the cache.
type Snapshot struct {
	Version versioned.Token
	Raw     []byte
	Tokens  map[string]*oauth2.Token

	// Discarded is set when the stored blob was unreadable.
	Discarded bool
}

// Snapshot reads the cache under the cross-process lock.
func (a *App) Snapshot(ctx context.Context) (*Snapshot, error) {
	set := tokenset.New()
	var raw []byte
	client, err := a.cache.Coordinator.Register(func(ctx context.Context, blob []byte) error {
		raw = blob
		return set.Load(ctx, blob)
	}, set.Export)
	if err != nil {
		return nil, err
	}
	defer client.Unregister()

	out, err := client.Access(ctx, nil)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Version:   out.Token,
		Raw:       raw,
		Tokens:    make(map[string]*oauth2.Token, set.Len()),
		Discarded: out.Discarded,
	}
	for _, name := range set.Names() {
		snap.Tokens[name], _ = set.Get(name)
	}
	return snap, nil
}

// PutToken stores tok under name in one locked cycle and returns the new version.
func (a *App) PutToken(ctx context.Context, name string, tok *oauth2.Token) (versioned.Token, error) {
	if name == "" || tok == nil {
		return "", errors.New("token name and value are required")
	}
	return a.update(ctx, func(set *tokenset.Set) { set.Put(name, tok) })
}

// DeleteToken removes name from the cache. Deleting a missing name is a no-op.
func (a *App) DeleteToken(ctx context.Context, name string) (versioned.Token, error) {
	return a.update(ctx, func(set *tokenset.Set) { set.Delete(name) })
}

func (a *App) update(ctx context.Context, mutate func(*tokenset.Set)) (versioned.Token, error) {
	set := tokenset.New()
	client, err := a.cache.Coordinator.Register(set.Load, set.Export)
	if err != nil {
		return "", err
	}
	defer client.Unregister()

	out, err := client.Access(ctx, func(context.Context) error {
		mutate(set)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.Token, nil
}

// Clear removes the persisted cache.
func (a *App) Clear(ctx context.Context) error {
	return a.cache.Coordinator.Clear(ctx)
}

// TokenSource returns a persistent source for the named token that refreshes
// through the configured OAuth endpoint.
func (a *App) TokenSource(name string) (*PersistentTokenSource, error) {
	return NewPersistentTokenSource(a.cache.Coordinator, name, OAuthRefresher(a.cfg.OAuth))
}

// Coordinator returns the coordinator serving the configured location so hosts
// can register their own cache clients.
func (a *App) Coordinator() *synccache.Coordinator {
	return a.cache.Coordinator
}

// Close releases the registry.
func (a *App) Close() error {
	return a.registry.Close()
}

// ExpiresIn formats the remaining lifetime of tok for display.
func ExpiresIn(tok *oauth2.Token, now time.Time) string {
	if tok.Expiry.IsZero() {
		return "never"
	}
	d := tok.Expiry.Sub(now).Round(time.Second)
	if d <= 0 {
		return "expired"
	}
	return d.String()
}
