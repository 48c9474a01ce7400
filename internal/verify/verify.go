// Package verify probes whether a secure store can actually persist data.
//
// Hosts run it once at startup. A failed probe means the configured backend is
// unusable on this machine and the host should pick another one (or run without
// a persistent cache).
package verify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/florianilch/tokencache/internal/accessor"
	"github.com/florianilch/tokencache/internal/cacheerr"
)

// DefaultPayload is written to the validation location during a probe.
var DefaultPayload = []byte("tokencache persistence check")

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithPayload sets the probe payload. Empty payloads are ignored.
func WithPayload(payload []byte) Option {
	return func(v *Verifier) {
		if len(payload) > 0 {
			v.payload = bytes.Clone(payload)
		}
	}
}

// Verifier runs a write/read/compare/clear round trip against an accessor's
// validation location.
type Verifier struct {
	logger  *slog.Logger
	payload []byte
}

// New creates a Verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		logger:  slog.Default(),
		payload: DefaultPayload,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify probes acc with the default Verifier.
func Verify(ctx context.Context, acc accessor.Accessor) error {
	return New().Verify(ctx, acc)
}

// Verify returns nil if a payload written through acc's validation accessor can
// be read back unchanged. Every failure, including a panic inside the backend,
// matches cacheerr.ErrPersistenceUnavailable and names the failed step.
// The real cache location is never read or written.
func (v *Verifier) Verify(ctx context.Context, acc accessor.Accessor) (err error) {
	loc := acc.Location().String()

	step := "validation accessor"
	defer func() {
		if r := recover(); r != nil {
			err = cacheerr.Unavailable(step, loc, fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			v.logger.WarnContext(ctx, "persistence check failed", "location", loc, "step", step, "error", err)
		} else {
			v.logger.DebugContext(ctx, "persistence check passed", "location", loc)
		}
	}()

	probe, err := acc.ValidationAccessor()
	if err != nil {
		return cacheerr.Unavailable(step, loc, err)
	}
	loc = probe.Location().String()

	step = "write"
	if err := probe.Write(ctx, v.payload); err != nil {
		return cacheerr.Unavailable(step, loc, err)
	}

	step = "read"
	got, err := probe.Read(ctx)
	if err != nil {
		return cacheerr.Unavailable(step, loc, err)
	}

	step = "compare"
	if !bytes.Equal(got, v.payload) {
		// Leave nothing behind even when the round trip was lossy.
		_ = probe.Clear(ctx)
		return cacheerr.Unavailable(step, loc, fmt.Errorf("read back %d bytes, wrote %d", len(got), len(v.payload)))
	}

	step = "clear"
	if err := probe.Clear(ctx); err != nil {
		return cacheerr.Unavailable(step, loc, err)
	}
	return nil
}
