// Package versioned wraps an accessor with a cheap change marker.
//
// The marker is a small companion file next to the cache path. Reading it never
// touches the (possibly encrypted, possibly keystore-backed) payload, so callers
// can check for external changes on every access cycle.
package versioned

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/florianilch/tokencache/internal/accessor"
	"github.com/florianilch/tokencache/internal/cacheerr"
	"github.com/florianilch/tokencache/internal/fileio"
)

// MarkerSuffix is appended to the cache path to name the version marker.
const MarkerSuffix = ".version"

// Token identifies one persisted state. The zero Token means nothing is stored.
// Tokens are only compared for equality.
type Token string

// IsZero reports whether t is the "nothing stored" token.
func (t Token) IsZero() bool { return t == "" }

// Option configures a Storage.
type Option func(*Storage)

// WithFileIO sets the retrying file layer used for the marker.
func WithFileIO(f *fileio.FileIO) Option {
	return func(s *Storage) {
		if f != nil {
			s.io = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// withClock overrides the marker timestamp source in tests.
func withClock(now func() time.Time) Option {
	return func(s *Storage) { s.now = now }
}

// Storage pairs an accessor's payload with a version marker.
//
// Payload and marker are updated by one WriteData call, marker first. Callers
// coordinating across processes hold the location's cross-process lock around
// every call, so cooperating readers only ever see completed calls.
type Storage struct {
	acc    accessor.Accessor
	marker string
	io     *fileio.FileIO
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Storage for acc. The marker lives at acc.Location().Path + MarkerSuffix.
func New(acc accessor.Accessor, opts ...Option) *Storage {
	s := &Storage{
		acc:    acc,
		marker: acc.Location().Path + MarkerSuffix,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.io == nil {
		s.io = fileio.New(fileio.WithLogger(s.logger))
	}
	return s
}

// Location returns the underlying accessor location.
func (s *Storage) Location() accessor.Location {
	return s.acc.Location()
}

// MarkerPath returns the path of the version marker.
func (s *Storage) MarkerPath() string {
	return s.marker
}

// ReadData returns the stored payload.
func (s *Storage) ReadData(ctx context.Context) ([]byte, error) {
	return s.acc.Read(ctx)
}

// WriteData persists data and bumps the version token.
//
// The fresh marker is written before the payload, so a stored payload is never
// newer than the marker that names it. A nil payload is rejected before any I/O.
// If the marker write fails nothing is changed. If the payload write fails the
// returned token is the one already in the marker; it names whatever payload the
// accessor now holds, and every other reader will reload once.
func (s *Storage) WriteData(ctx context.Context, data []byte) (Token, error) {
	loc := s.acc.Location().String()
	if data == nil {
		return "", cacheerr.InvalidArgument("write", loc, "payload must not be nil")
	}

	token := s.newToken()
	if err := s.io.WriteFile(ctx, s.marker, []byte(token), 0600); err != nil {
		return "", cacheerr.IO("write version", s.marker, err)
	}

	if err := s.acc.Write(ctx, data); err != nil {
		s.logger.WarnContext(ctx, "cache payload write failed after version bump",
			"location", loc, "version", string(token), "error", err)
		return token, err
	}

	s.logger.DebugContext(ctx, "cache written",
		"location", loc, "bytes", len(data), "version", string(token))
	return token, nil
}

// Clear removes the payload and the marker.
func (s *Storage) Clear(ctx context.Context) error {
	var errs []error
	if err := s.acc.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.io.Remove(ctx, s.marker); err != nil {
		errs = append(errs, cacheerr.IO("clear version", s.marker, err))
	}
	return errors.Join(errs...)
}

// LastToken returns the current version token without reading the payload.
func (s *Storage) LastToken(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := s.io.ReadFile(ctx, s.marker)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", cacheerr.IO("read version", s.marker, err)
	}
	return Token(strings.TrimSpace(string(data))), nil
}

// newToken returns "<uuid>:<unix nanos>". The random component guarantees a new
// value even when clocks are coarse or skewed.
func (s *Storage) newToken() Token {
	return Token(uuid.NewString() + ":" + strconv.FormatInt(s.now().UnixNano(), 10))
}
