package accessor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/florianilch/tokencache/internal/cacheerr"
)

// Keyring is the subset of the OS credential store used by Keychain.
type Keyring interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	Delete(service, account string) error
}

// osKeyring forwards to zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, account string) (string, error) { return keyring.Get(service, account) }
func (osKeyring) Set(service, account, secret string) error  { return keyring.Set(service, account, secret) }
func (osKeyring) Delete(service, account string) error       { return keyring.Delete(service, account) }

// KeychainConfig addresses one keystore entry.
type KeychainConfig struct {
	// Namespace optionally groups entries of related applications.
	Namespace string
	Service   string
	Account   string
}

// service returns the keystore service name, prefixed with the namespace when set.
func (c KeychainConfig) service() string {
	if c.Namespace == "" {
		return c.Service
	}
	return c.Namespace + "/" + c.Service
}

// Keychain stores the payload in OS-native credential storage
// (macOS Keychain, Windows Credential Manager, Linux Secret Service).
// Payloads are base64-encoded since keystores hold strings.
type Keychain struct {
	cfg     KeychainConfig
	loc     Location
	keyring Keyring
	opts    []Option
}

// Compile-time check to ensure Keychain implements Accessor
var _ Accessor = (*Keychain)(nil)

// NewKeychain creates a Keychain accessor. path anchors the companion version
// marker and lock file.
func NewKeychain(path string, cfg KeychainConfig, opts ...Option) (*Keychain, error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if cfg.Service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if cfg.Account == "" {
		return nil, fmt.Errorf("account cannot be empty")
	}

	o := newOptions(opts)
	return &Keychain{
		cfg:     cfg,
		loc:     Location{Path: path, Store: "keychain:" + cfg.service() + "/" + cfg.Account},
		keyring: o.keyring,
		opts:    opts,
	}, nil
}

// Read returns the payload from the keystore, or empty if there is no entry.
func (k *Keychain) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := k.keyring.Get(k.cfg.service(), k.cfg.Account)
	if errors.Is(err, keyring.ErrNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, cacheerr.IO("read", k.loc.String(), err)
	}

	data, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, cacheerr.Corrupt("read", k.loc.String(), err)
	}
	return data, nil
}

// Write updates the entry in place, creating it if absent.
func (k *Keychain) Write(ctx context.Context, data []byte) error {
	if err := checkPayload(k.loc, data); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	secret := base64.StdEncoding.EncodeToString(data)
	return cacheerr.IO("write", k.loc.String(), k.keyring.Set(k.cfg.service(), k.cfg.Account, secret))
}

// Clear removes the entry. A missing entry is not an error.
func (k *Keychain) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := k.keyring.Delete(k.cfg.service(), k.cfg.Account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return cacheerr.IO("clear", k.loc.String(), err)
}

// Location returns the entry location.
func (k *Keychain) Location() Location { return k.loc }

// ValidationAccessor returns a Keychain bound to a probe service name.
func (k *Keychain) ValidationAccessor() (Accessor, error) {
	cfg := k.cfg
	cfg.Service += probeSuffix
	return NewKeychain(k.loc.Path+probeSuffix, cfg, k.opts...)
}
