// Package tokenset is an in-memory set of named OAuth2 tokens that serializes
// to a compact CBOR blob.
//
// A Set plugs into a synccache.Coordinator through its Load and Export methods:
//
//	set := tokenset.New()
//	client, err := coord.Register(set.Load, set.Export)
package tokenset

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/oauth2"
)

// FormatVersion is written into every encoded set.
const FormatVersion = 1

// encMode sorts map keys so an unchanged set always encodes to the same bytes.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type document struct {
	Version uint              `cbor:"1,keyasint"`
	Tokens  map[string]record `cbor:"2,keyasint,omitempty"`
}

type record struct {
	AccessToken  string `cbor:"1,keyasint,omitempty"`
	TokenType    string `cbor:"2,keyasint,omitempty"`
	RefreshToken string `cbor:"3,keyasint,omitempty"`
	// ExpiryMillis is the Unix expiry in milliseconds; zero means no expiry.
	ExpiryMillis int64 `cbor:"4,keyasint,omitempty"`
}

func toRecord(t *oauth2.Token) record {
	r := record{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if !t.Expiry.IsZero() {
		r.ExpiryMillis = t.Expiry.UnixMilli()
	}
	return r
}

func (r record) token() *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
	}
	if r.ExpiryMillis != 0 {
		t.Expiry = time.UnixMilli(r.ExpiryMillis)
	}
	return t
}

// Set holds tokens by name. It is safe for concurrent use.
type Set struct {
	mu      sync.Mutex
	entries map[string]record
	dirty   bool
}

// New returns an empty Set.
func New() *Set {
	return &Set{entries: make(map[string]record)}
}

// Get returns a copy of the named token.
func (s *Set) Get(name string) (*oauth2.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return r.token(), true
}

// Put stores tok under name. The set only becomes dirty if the stored value changes.
func (s *Set) Put(name string, tok *oauth2.Token) {
	if tok == nil {
		s.Delete(name)
		return
	}
	r := toRecord(tok)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok && old == r {
		return
	}
	s.entries[name] = r
	s.dirty = true
}

// Delete removes the named token and reports whether it was present.
func (s *Set) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return false
	}
	delete(s.entries, name)
	s.dirty = true
	return true
}

// Names returns the token names in sorted order.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.entries))
}

// Len returns the number of tokens.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Dirty reports whether the set changed since it was last loaded or exported.
func (s *Set) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Marshal encodes the set.
func (s *Set) Marshal() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marshalLocked()
}

func (s *Set) marshalLocked() ([]byte, error) {
	data, err := encMode.Marshal(document{Version: FormatVersion, Tokens: s.entries})
	if err != nil {
		return nil, fmt.Errorf("encode token set: %w", err)
	}
	return data, nil
}

// Unmarshal replaces the set's contents with data. An empty blob yields an
// empty set. On error the set is left unchanged.
func (s *Set) Unmarshal(data []byte) error {
	entries, err := decode(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	return nil
}

func decode(data []byte) (map[string]record, error) {
	entries := make(map[string]record)
	if len(data) == 0 {
		return entries, nil
	}
	var doc document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode token set: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("decode token set: unsupported format version %d", doc.Version)
	}
	maps.Copy(entries, doc.Tokens)
	return entries, nil
}

// Load replaces the set with blob and clears the dirty flag.
// It has the shape of synccache.BeforeAccessFunc.
func (s *Set) Load(_ context.Context, blob []byte) error {
	entries, err := decode(blob)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.dirty = false
	return nil
}

// Export returns the encoded set if it changed and clears the dirty flag.
// It has the shape of synccache.AfterAccessFunc.
func (s *Set) Export(context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil, false, nil
	}
	data, err := s.marshalLocked()
	if err != nil {
		return nil, false, err
	}
	s.dirty = false
	return data, true, nil
}
