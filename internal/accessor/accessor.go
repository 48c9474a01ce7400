package accessor

import (
	"context"
	"log/slog"

	"github.com/florianilch/tokencache/internal/cacheerr"
	"github.com/florianilch/tokencache/internal/fileio"
)

// probeSuffix derives the location used by ValidationAccessor.
const probeSuffix = ".probe"

// Accessor reads and writes one opaque cache blob in secure storage.
type Accessor interface {
	// Read returns the stored blob, or an empty slice if nothing is stored.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the stored blob. A nil blob is rejected with ErrInvalidArgument.
	Write(ctx context.Context, data []byte) error

	// Clear removes the backing artifact. Clearing an empty store succeeds.
	Clear(ctx context.Context) error

	// ValidationAccessor returns an accessor bound to a distinct location derived
	// from this one, used for persistence probing only.
	ValidationAccessor() (Accessor, error)

	// Location identifies where the blob lives.
	Location() Location
}

// Location is the immutable identity of a cache.
type Location struct {
	// Path anchors the payload file (file backends) and all companion artifacts.
	Path string

	// Store describes the backing store for diagnostics, e.g. "keychain:svc/acct".
	Store string
}

// String returns the store description, falling back to the path.
func (l Location) String() string {
	if l.Store != "" {
		return l.Store
	}
	return l.Path
}

// Option configures an accessor.
type Option func(*options)

type options struct {
	fileIO  *fileio.FileIO
	logger  *slog.Logger
	keyring Keyring
	opener  RingOpener
	session SessionChecker
}

// WithFileIO sets the retrying file layer used by file backends.
func WithFileIO(f *fileio.FileIO) Option {
	return func(o *options) {
		if f != nil {
			o.fileIO = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithKeyring replaces the OS keyring used by Keychain.
func WithKeyring(k Keyring) Option {
	return func(o *options) {
		if k != nil {
			o.keyring = k
		}
	}
}

// WithRingOpener replaces how SecretService opens its collection.
// Injected openers skip the D-Bus session check.
func WithRingOpener(open RingOpener) Option {
	return func(o *options) {
		if open != nil {
			o.opener = open
			o.session = func(context.Context) error { return nil }
		}
	}
}

// WithSessionChecker replaces the check for a reachable secret service session.
func WithSessionChecker(check SessionChecker) Option {
	return func(o *options) {
		if check != nil {
			o.session = check
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:  slog.Default(),
		keyring: osKeyring{},
		opener:  openRing,
		session: checkSecretServiceSession,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fileIO == nil {
		o.fileIO = fileio.New(fileio.WithLogger(o.logger))
	}
	return o
}

// checkPayload rejects nil payloads before any I/O.
func checkPayload(loc Location, data []byte) error {
	if data == nil {
		return cacheerr.InvalidArgument("write", loc.String(), "payload must not be nil")
	}
	return nil
}
