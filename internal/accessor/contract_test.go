package accessor

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/florianilch/tokencache/internal/cacheerr"
)

// testContract exercises the behaviour every Accessor must share.
func testContract(t *testing.T, acc Accessor) {
	t.Helper()
	ctx := context.Background()

	t.Run("read empty store", func(t *testing.T) {
		got, err := acc.Read(ctx)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Read() = %q, want empty", got)
		}
	})

	t.Run("last write wins", func(t *testing.T) {
		for _, payload := range [][]byte{[]byte("first"), []byte("second\x00\xff")} {
			if err := acc.Write(ctx, payload); err != nil {
				t.Fatalf("Write(%q) error = %v", payload, err)
			}
		}
		got, err := acc.Read(ctx)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if !bytes.Equal(got, []byte("second\x00\xff")) {
			t.Errorf("Read() = %q, want %q", got, "second\x00\xff")
		}
	})

	t.Run("nil write rejected", func(t *testing.T) {
		if err := acc.Write(ctx, []byte("kept")); err != nil {
			t.Fatal(err)
		}
		err := acc.Write(ctx, nil)
		if !errors.Is(err, cacheerr.ErrInvalidArgument) {
			t.Fatalf("Write(nil) error = %v, want ErrInvalidArgument", err)
		}
		got, err := acc.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "kept" {
			t.Errorf("Read() after Write(nil) = %q, want %q", got, "kept")
		}
	})

	t.Run("empty write", func(t *testing.T) {
		if err := acc.Write(ctx, []byte{}); err != nil {
			t.Fatalf("Write(empty) error = %v", err)
		}
		got, err := acc.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("Read() = %#v, want empty non-nil slice", got)
		}
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		if err := acc.Write(ctx, []byte("x")); err != nil {
			t.Fatal(err)
		}
		if err := acc.Clear(ctx); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if err := acc.Clear(ctx); err != nil {
			t.Fatalf("second Clear() error = %v", err)
		}
		got, err := acc.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("Read() after Clear() = %q, want empty", got)
		}
	})

	t.Run("validation accessor is distinct", func(t *testing.T) {
		if err := acc.Write(ctx, []byte("real")); err != nil {
			t.Fatal(err)
		}
		probe, err := acc.ValidationAccessor()
		if err != nil {
			t.Fatalf("ValidationAccessor() error = %v", err)
		}
		if probe.Location() == acc.Location() {
			t.Fatalf("probe location %v equals real location", probe.Location())
		}
		if err := probe.Write(ctx, []byte("probe")); err != nil {
			t.Fatal(err)
		}
		if err := probe.Clear(ctx); err != nil {
			t.Fatal(err)
		}
		got, err := acc.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "real" {
			t.Errorf("real payload = %q after probing, want %q", got, "real")
		}
		if err := acc.Clear(ctx); err != nil {
			t.Fatal(err)
		}
	})
}
