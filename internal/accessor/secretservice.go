package accessor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/99designs/keyring"

	"github.com/florianilch/tokencache/internal/cacheerr"
)

// RingOpener opens a secret service collection.
type RingOpener func(cfg keyring.Config) (keyring.Keyring, error)

func openRing(cfg keyring.Config) (keyring.Keyring, error) {
	return keyring.Open(cfg)
}

// Attribute is a caller-defined key/value pair tagging a secret item.
type Attribute struct {
	Key   string
	Value string
}

// SecretServiceConfig describes a freedesktop secret service item.
type SecretServiceConfig struct {
	Schema     string
	Collection string
	Label      string

	// Attributes disambiguate items sharing a schema. At most two are used.
	Attributes []Attribute
}

// itemKey derives the exact-lookup key from the schema and attributes.
// Attributes are sorted so their order in the configuration does not matter.
func (c SecretServiceConfig) itemKey() string {
	attrs := make([]string, 0, len(c.Attributes))
	for _, a := range c.Attributes {
		if a.Key == "" {
			continue
		}
		attrs = append(attrs, a.Key+"="+a.Value)
	}
	sort.Strings(attrs)

	return strings.Join(append([]string{c.Schema}, attrs...), ";")
}

// SecretService stores the payload as an attribute-tagged item in a desktop
// secret service. The collection is opened on first use; an unreachable service
// surfaces as ErrUnderlyingIO from every operation.
type SecretService struct {
	cfg  SecretServiceConfig
	loc  Location
	key  string
	o    *options
	opts []Option

	mu   sync.Mutex
	ring keyring.Keyring
}

// Compile-time check to ensure SecretService implements Accessor
var _ Accessor = (*SecretService)(nil)

// NewSecretService creates a SecretService accessor. path anchors the companion
// version marker and lock file.
func NewSecretService(path string, cfg SecretServiceConfig, opts ...Option) (*SecretService, error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if cfg.Schema == "" {
		return nil, fmt.Errorf("schema cannot be empty")
	}
	if len(cfg.Attributes) > 2 {
		return nil, fmt.Errorf("at most two attributes are supported, got %d", len(cfg.Attributes))
	}
	if cfg.Label == "" {
		cfg.Label = cfg.Schema
	}

	key := cfg.itemKey()
	store := "secret_service:" + key
	if cfg.Collection != "" {
		store = "secret_service:" + cfg.Collection + "/" + key
	}

	return &SecretService{
		cfg:  cfg,
		loc:  Location{Path: path, Store: store},
		key:  key,
		o:    newOptions(opts),
		opts: opts,
	}, nil
}

// collection returns the opened collection, opening it if needed.
// A failed open is retried on the next call.
func (s *SecretService) collection(ctx context.Context) (keyring.Keyring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ring != nil {
		return s.ring, nil
	}

	if err := s.o.session(ctx); err != nil {
		return nil, cacheerr.IO("open", s.loc.String(), err)
	}

	ring, err := s.o.opener(keyring.Config{
		ServiceName:             s.cfg.Schema,
		AllowedBackends:         []keyring.BackendType{keyring.SecretServiceBackend},
		LibSecretCollectionName: s.cfg.Collection,
	})
	if err != nil {
		return nil, cacheerr.IO("open", s.loc.String(), fmt.Errorf("open secret service: %w", err))
	}

	s.ring = ring
	return ring, nil
}

// Read returns the item payload, or empty if there is no matching item.
func (s *SecretService) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ring, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	item, err := ring.Get(s.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, cacheerr.IO("read", s.loc.String(), err)
	}
	if item.Data == nil {
		return []byte{}, nil
	}
	return item.Data, nil
}

// Write replaces the item payload, creating the item if absent.
func (s *SecretService) Write(ctx context.Context, data []byte) error {
	if err := checkPayload(s.loc, data); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ring, err := s.collection(ctx)
	if err != nil {
		return err
	}

	return cacheerr.IO("write", s.loc.String(), ring.Set(keyring.Item{
		Key:         s.key,
		Data:        data,
		Label:       s.cfg.Label,
		Description: s.key,
	}))
}

// Clear removes the item. A missing item is not an error.
func (s *SecretService) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ring, err := s.collection(ctx)
	if err != nil {
		return err
	}

	err = ring.Remove(s.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return cacheerr.IO("clear", s.loc.String(), err)
}

// Location returns the item location.
func (s *SecretService) Location() Location { return s.loc }

// ValidationAccessor returns a SecretService bound to a probe schema and label.
func (s *SecretService) ValidationAccessor() (Accessor, error) {
	cfg := s.cfg
	cfg.Schema += probeSuffix
	cfg.Label += probeSuffix
	cfg.Attributes = append([]Attribute(nil), s.cfg.Attributes...)
	return NewSecretService(s.loc.Path+probeSuffix, cfg, s.opts...)
}
