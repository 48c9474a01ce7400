package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/florianilch/tokencache/internal/accessor"
	"github.com/florianilch/tokencache/internal/cacheerr"
	"github.com/florianilch/tokencache/internal/fileio"
)

// fakeAccessor is an in-memory accessor whose probe location misbehaves on demand.
type fakeAccessor struct {
	data       []byte
	probeErr   error
	writeErr   error
	readBack   []byte
	panicWrite bool
	cleared    bool
	lastWrite  []byte
	probe      *fakeAccessor
}

func (f *fakeAccessor) Read(context.Context) ([]byte, error) {
	if f.readBack != nil {
		return f.readBack, nil
	}
	return append([]byte{}, f.data...), nil
}

func (f *fakeAccessor) Write(_ context.Context, data []byte) error {
	if f.panicWrite {
		panic("native store crashed")
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.data = append([]byte{}, data...)
	f.lastWrite = f.data
	return nil
}

func (f *fakeAccessor) Clear(context.Context) error {
	f.cleared = true
	f.data = nil
	return nil
}

func (f *fakeAccessor) ValidationAccessor() (accessor.Accessor, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.probe, nil
}

func (f *fakeAccessor) Location() accessor.Location {
	return accessor.Location{Path: "/fake", Store: "fake"}
}

// Compile-time check to ensure fakeAccessor implements accessor.Accessor
var _ accessor.Accessor = (*fakeAccessor)(nil)

func fastFileIO() accessor.Option {
	return accessor.WithFileIO(fileio.New(fileio.WithMaxAttempts(2), fileio.WithDelay(time.Millisecond)))
}

func TestVerifyFileBackends(t *testing.T) {
	ctx := context.Background()

	constructors := map[string]func(string, ...accessor.Option) (accessor.Accessor, error){
		"encrypted": func(p string, o ...accessor.Option) (accessor.Accessor, error) { return accessor.NewEncryptedFile(p, o...) },
		"plaintext": func(p string, o ...accessor.Option) (accessor.Accessor, error) { return accessor.NewPlaintextFile(p, o...) },
	}

	for name, newAcc := range constructors {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.bin")
			acc, err := newAcc(path, fastFileIO())
			if err != nil {
				t.Fatal(err)
			}
			if err := acc.Write(ctx, []byte("real data")); err != nil {
				t.Fatal(err)
			}

			if err := Verify(ctx, acc); err != nil {
				t.Fatalf("Verify() error = %v", err)
			}

			got, err := acc.Read(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != "real data" {
				t.Errorf("real location changed to %q", got)
			}
			if _, err := os.Stat(path + ".probe"); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("probe file left behind: %v", err)
			}
		})
	}
}

func TestVerifyFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("backend refused")

	tests := []struct {
		name     string
		acc      *fakeAccessor
		wantStep string
		wantErr  error
	}{
		{
			name:     "no validation accessor",
			acc:      &fakeAccessor{probeErr: boom},
			wantStep: "validation accessor",
			wantErr:  boom,
		},
		{
			name:     "write fails",
			acc:      &fakeAccessor{probe: &fakeAccessor{writeErr: boom}},
			wantStep: "write",
			wantErr:  boom,
		},
		{
			name:     "read back differs",
			acc:      &fakeAccessor{probe: &fakeAccessor{readBack: []byte("garbled")}},
			wantStep: "compare",
		},
		{
			name:     "backend panics",
			acc:      &fakeAccessor{probe: &fakeAccessor{panicWrite: true}},
			wantStep: "write",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.acc.data = []byte("real")

			err := Verify(ctx, tt.acc)
			if !errors.Is(err, cacheerr.ErrPersistenceUnavailable) {
				t.Fatalf("Verify() error = %v, want ErrPersistenceUnavailable", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want wrapping %v", err, tt.wantErr)
			}
			var cerr *cacheerr.Error
			if !errors.As(err, &cerr) || cerr.Op != tt.wantStep {
				t.Errorf("failed step = %v, want %q", err, tt.wantStep)
			}
			if string(tt.acc.data) != "real" || tt.acc.cleared {
				t.Errorf("real location touched: data = %q, cleared = %v", tt.acc.data, tt.acc.cleared)
			}
		})
	}
}

func TestVerifyLossyProbeIsCleared(t *testing.T) {
	probe := &fakeAccessor{readBack: []byte("x")}
	_ = Verify(context.Background(), &fakeAccessor{probe: probe})
	if !probe.cleared {
		t.Errorf("probe not cleared after failed comparison")
	}
}

func TestVerifyUnreachableStores(t *testing.T) {
	ctx := context.Background()

	t.Run("secret service without session", func(t *testing.T) {
		acc, err := accessor.NewSecretService(filepath.Join(t.TempDir(), "cache"),
			accessor.SecretServiceConfig{Schema: "com.example.tokencache", Collection: "login"},
			accessor.WithSessionChecker(func(context.Context) error { return errors.New("no session bus") }))
		if err != nil {
			t.Fatal(err)
		}
		if err := Verify(ctx, acc); !errors.Is(err, cacheerr.ErrPersistenceUnavailable) {
			t.Errorf("Verify() error = %v, want ErrPersistenceUnavailable", err)
		}
	})

	t.Run("locked keychain", func(t *testing.T) {
		gokeyring.MockInitWithError(errors.New("keychain locked"))
		t.Cleanup(gokeyring.MockInit)

		acc, err := accessor.NewKeychain(filepath.Join(t.TempDir(), "cache"),
			accessor.KeychainConfig{Service: "tokencache", Account: "alice"})
		if err != nil {
			t.Fatal(err)
		}
		err = Verify(ctx, acc)
		if !errors.Is(err, cacheerr.ErrPersistenceUnavailable) {
			t.Fatalf("Verify() error = %v, want ErrPersistenceUnavailable", err)
		}
		if !strings.Contains(err.Error(), "keychain locked") {
			t.Errorf("error %q does not carry the cause", err)
		}
	})
}

func TestWithPayload(t *testing.T) {
	probe := &fakeAccessor{}
	payload := []byte("custom probe")
	if err := New(WithPayload(payload), WithPayload(nil)).Verify(context.Background(), &fakeAccessor{probe: probe}); err != nil {
		t.Fatal(err)
	}
	if string(probe.lastWrite) != "custom probe" {
		t.Errorf("probe payload = %q, want %q", probe.lastWrite, payload)
	}
	if !probe.cleared {
		t.Errorf("probe not cleared")
	}
}
