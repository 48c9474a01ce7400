package tokenset

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/oauth2"
)

func TestPutTracksChanges(t *testing.T) {
	s := New()
	if s.Dirty() {
		t.Fatal("new set is dirty")
	}

	tok := &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", TokenType: "Bearer"}
	s.Put("default", tok)
	if !s.Dirty() {
		t.Error("Put() of a new token did not mark the set dirty")
	}

	if _, changed, err := s.Export(context.Background()); err != nil || !changed {
		t.Fatalf("Export() = changed %v, err %v", changed, err)
	}
	if s.Dirty() {
		t.Error("Export() did not clear the dirty flag")
	}

	s.Put("default", &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", TokenType: "Bearer"})
	if s.Dirty() {
		t.Error("Put() of an identical token marked the set dirty")
	}

	tok.AccessToken = "mutated after Put"
	got, ok := s.Get("default")
	if !ok || got.AccessToken != "a1" {
		t.Errorf("Get() = %+v, %v; set shares memory with caller", got, ok)
	}

	if s.Delete("missing") {
		t.Error("Delete() of a missing token reported true")
	}
	if s.Dirty() {
		t.Error("Delete() of a missing token marked the set dirty")
	}
	s.Put("default", nil)
	if s.Len() != 0 || !s.Dirty() {
		t.Errorf("Put(nil) did not delete: len %d, dirty %v", s.Len(), s.Dirty())
	}
}

func TestExportLoad(t *testing.T) {
	ctx := context.Background()
	expiry := time.Date(2026, 3, 1, 12, 30, 0, 123_000_000, time.UTC)

	src := New()
	src.Put("work", &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: expiry})
	src.Put("personal", &oauth2.Token{AccessToken: "b"})

	blob, changed, err := src.Export(ctx)
	if err != nil || !changed {
		t.Fatalf("Export() = %v, %v", changed, err)
	}

	dst := New()
	dst.Put("stale", &oauth2.Token{AccessToken: "old"})
	if err := dst.Load(ctx, blob); err != nil {
		t.Fatal(err)
	}
	if dst.Dirty() {
		t.Error("Load() left the set dirty")
	}
	if got := dst.Names(); len(got) != 2 || got[0] != "personal" || got[1] != "work" {
		t.Errorf("Names() = %v", got)
	}
	work, _ := dst.Get("work")
	if !work.Expiry.Equal(expiry) || work.RefreshToken != "r" || work.TokenType != "Bearer" {
		t.Errorf("work = %+v", work)
	}
	personal, _ := dst.Get("personal")
	if !personal.Expiry.IsZero() {
		t.Errorf("token without expiry decoded with expiry %v", personal.Expiry)
	}

	again, err := dst.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, blob) {
		t.Error("re-encoding an identical set produced different bytes")
	}
}

func TestLoadEmptyResets(t *testing.T) {
	s := New()
	s.Put("x", &oauth2.Token{AccessToken: "x"})
	if err := s.Load(context.Background(), []byte{}); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 || s.Dirty() {
		t.Errorf("after empty Load: len %d, dirty %v", s.Len(), s.Dirty())
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	future, err := cbor.Marshal(document{Version: FormatVersion + 1})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		blob []byte
	}{
		{name: "not cbor", blob: []byte{0xff, 0x00, 0x13}},
		{name: "wrong shape", blob: []byte("\x63abc")},
		{name: "unknown version", blob: future},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.Put("keep", &oauth2.Token{AccessToken: "k"})
			if err := s.Load(context.Background(), tt.blob); err == nil {
				t.Fatal("Load() error = nil")
			}
			if err := s.Unmarshal(tt.blob); err == nil {
				t.Fatal("Unmarshal() error = nil")
			}
			if _, ok := s.Get("keep"); !ok || !s.Dirty() {
				t.Error("failed decode modified the set")
			}
		})
	}
}
