package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/florianilch/tokencache/internal/synccache"
	"github.com/florianilch/tokencache/internal/tokenset"
)

// ErrNoRefresh is returned when a cached token expired and no upstream source is configured.
var ErrNoRefresh = errors.New("token expired and refreshing is not configured")

// TokenSourceFactory creates an oauth2.TokenSource that refreshes from the given
// cached token. The cached token is nil when nothing is stored under the name.
type TokenSourceFactory func(ctx context.Context, cached *oauth2.Token) oauth2.TokenSource

// PersistentTokenSource serves a named token from the synchronized cache.
// A valid token written by any process is reused; otherwise the upstream source
// is called while the cache is locked, so only one process refreshes at a time.
type PersistentTokenSource struct {
	coord   *synccache.Coordinator
	name    string
	factory TokenSourceFactory
	logger  *slog.Logger

	set    *tokenset.Set
	client func() (*synccache.Client, error)

	mu sync.Mutex
}

// Compile-time check to ensure PersistentTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*PersistentTokenSource)(nil)

// NewPersistentTokenSource creates a PersistentTokenSource for the named token.
// factory may be nil, in which case expired tokens cannot be refreshed.
// No I/O is performed until the first Token call.
func NewPersistentTokenSource(coord *synccache.Coordinator, name string, factory TokenSourceFactory) (*PersistentTokenSource, error) {
	if coord == nil {
		return nil, fmt.Errorf("missing cache coordinator")
	}
	if name == "" {
		return nil, fmt.Errorf("missing token name")
	}

	p := &PersistentTokenSource{
		coord:   coord,
		name:    name,
		factory: factory,
		logger:  slog.Default(),
		set:     tokenset.New(),
	}
	p.client = sync.OnceValues(func() (*synccache.Client, error) {
		return coord.Register(p.set.Load, p.set.Export)
	})

	return p, nil
}

// Token returns a valid token, refreshing and persisting it if necessary.
func (p *PersistentTokenSource) Token() (*oauth2.Token, error) {
	// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
	return p.TokenContext(context.Background())
}

// TokenContext is Token with a context bounding lock waits and storage I/O.
func (p *PersistentTokenSource) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	client, err := p.client()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var tok *oauth2.Token
	_, err = client.Access(ctx, func(ctx context.Context) error {
		cached, ok := p.set.Get(p.name)
		if ok && cached.Valid() {
			tok = cached
			return nil
		}
		if p.factory == nil {
			return ErrNoRefresh
		}

		fresh, err := p.factory(ctx, cached).Token()
		if err != nil {
			return fmt.Errorf("getting token from token source: %w", err)
		}
		// Token endpoints may omit the refresh token when it is unchanged.
		if fresh.RefreshToken == "" && cached != nil {
			fresh.RefreshToken = cached.RefreshToken
		}
		p.set.Put(p.name, fresh)
		p.logger.DebugContext(ctx, "refreshed token", "name", p.name, "expiry", fresh.Expiry)
		tok = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Close unregisters the source from the coordinator.
func (p *PersistentTokenSource) Close() {
	if client, err := p.client(); err == nil {
		client.Unregister()
	}
}

// OAuthRefresher returns a TokenSourceFactory that refreshes through cfg's token endpoint.
func OAuthRefresher(cfg OAuthConfig) TokenSourceFactory {
	if cfg.TokenURL == "" {
		return nil
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		Scopes:       cfg.Scopes,
	}
	return func(ctx context.Context, cached *oauth2.Token) oauth2.TokenSource {
		if cached == nil || cached.RefreshToken == "" {
			return errTokenSource{errors.New("no refresh token cached")}
		}
		// Drop the access token so the source refreshes immediately.
		return oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cached.RefreshToken})
	}
}

type errTokenSource struct{ err error }

func (e errTokenSource) Token() (*oauth2.Token, error) { return nil, e.err }
