package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/tokencache/internal/accessor"
	"github.com/florianilch/tokencache/internal/crossprocess"
	"github.com/florianilch/tokencache/internal/fileio"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText     LogFormat = "text"
	LogFormatJSON     LogFormat = "json"
	LogFormatOTel     LogFormat = "otel"
	LogFormatOTLPHTTP LogFormat = "otlp-http"
	LogFormatOTLPGRPC LogFormat = "otlp-grpc"
)

// StorageKind represents the secure store backing the token cache.
type StorageKind string

const (
	StorageKindEncryptedFile StorageKind = "encrypted_file"
	StorageKindKeychain      StorageKind = "keychain"
	StorageKindSecretService StorageKind = "secret_service"
	StorageKindPlaintextFile StorageKind = "plaintext_file"
)

// Default configuration values
const (
	DefaultConfigLogFormat          = LogFormatText
	DefaultConfigStorageKind        = StorageKindEncryptedFile
	DefaultConfigCacheFileName      = "tokencache.bin"
	DefaultConfigKeychainService    = "tokencache"
	DefaultConfigSecretSchema       = "io.github.florianilch.tokencache"
	// Collections are resolved by name, not through the "default" alias; desktop
	// sessions unlock "login" at sign-in.
	DefaultConfigSecretCollection   = "login"
	DefaultConfigSecretLabel        = "tokencache"
	DefaultConfigLockPollInterval   = crossprocess.DefaultPollInterval
	DefaultConfigLockMaxAttempts    = crossprocess.DefaultMaxAttempts
	DefaultConfigRetryMaxAttempts   = fileio.DefaultMaxAttempts
	DefaultConfigRetryDelay         = fileio.DefaultDelay
	DefaultConfigTokenName          = "default"
	defaultConfigCacheDirectoryName = "tokencache"
)

// KeychainConfig identifies the native keystore entry.
type KeychainConfig struct {
	Service   string `json:"service"`
	Account   string `json:"account"`
	Namespace string `json:"namespace,omitempty"`
}

// SecretServiceConfig identifies the desktop secret service item.
// Attributes are optional and come in key/value pairs.
type SecretServiceConfig struct {
	Schema          string `json:"schema"`
	Collection      string `json:"collection"`
	Label           string `json:"label"`
	Attribute1Key   string `json:"attribute1_key,omitempty"`
	Attribute1Value string `json:"attribute1_value,omitempty"`
	Attribute2Key   string `json:"attribute2_key,omitempty"`
	Attribute2Value string `json:"attribute2_value,omitempty"`
}

func (s SecretServiceConfig) attributes() []accessor.Attribute {
	var attrs []accessor.Attribute
	if s.Attribute1Key != "" {
		attrs = append(attrs, accessor.Attribute{Key: s.Attribute1Key, Value: s.Attribute1Value})
	}
	if s.Attribute2Key != "" {
		attrs = append(attrs, accessor.Attribute{Key: s.Attribute2Key, Value: s.Attribute2Value})
	}
	return attrs
}

// StorageConfig describes where the cache lives and which store protects it.
type StorageConfig struct {
	Kind          StorageKind `json:"kind" validate:"required,oneof=encrypted_file keychain secret_service plaintext_file"`
	CacheDir      string      `json:"cache_dir" validate:"required"`
	CacheFileName string      `json:"cache_file_name" validate:"required,excludesall=/\\"`

	// Unprotected must be set to store tokens in a plaintext file.
	Unprotected bool `json:"unprotected"`

	Keychain      KeychainConfig      `json:"keychain"`
	SecretService SecretServiceConfig `json:"secret_service"`
}

// Path returns the cache file path. Companion files (marker, lock, probe) derive from it.
func (s *StorageConfig) Path() string {
	return filepath.Join(s.CacheDir, s.CacheFileName)
}

// NewAccessor creates the accessor selected by Kind.
func (s *StorageConfig) NewAccessor(opts ...accessor.Option) (accessor.Accessor, error) {
	path := s.Path()
	switch s.Kind {
	case StorageKindEncryptedFile:
		return accessor.NewEncryptedFile(path, opts...)
	case StorageKindPlaintextFile:
		if !s.Unprotected {
			return nil, errors.New("plaintext_file storage requires storage.unprotected = true")
		}
		return accessor.NewPlaintextFile(path, opts...)
	case StorageKindKeychain:
		return accessor.NewKeychain(path, accessor.KeychainConfig{
			Namespace: s.Keychain.Namespace,
			Service:   s.Keychain.Service,
			Account:   s.Keychain.Account,
		}, opts...)
	case StorageKindSecretService:
		return accessor.NewSecretService(path, accessor.SecretServiceConfig{
			Schema:     s.SecretService.Schema,
			Collection: s.SecretService.Collection,
			Label:      s.SecretService.Label,
			Attributes: s.SecretService.attributes(),
		}, opts...)
	default:
		return nil, fmt.Errorf("unsupported storage kind: %s", s.Kind)
	}
}

// LockConfig holds cross-process lock polling settings.
type LockConfig struct {
	PollInterval time.Duration `json:"poll_interval" validate:"gt=0"`
	MaxAttempts  int           `json:"max_attempts" validate:"gte=1"`
}

// RetryConfig holds file I/O retry settings.
type RetryConfig struct {
	MaxAttempts uint          `json:"max_attempts" validate:"gte=1"`
	Delay       time.Duration `json:"delay" validate:"gte=0"`
}

// OAuthConfig describes the upstream token endpoint used to refresh cached tokens.
// Refreshing is disabled when TokenURL is empty.
type OAuthConfig struct {
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	TokenURL     string   `json:"token_url,omitempty" validate:"omitempty,url"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level    `json:"log_level"`
	LogFormat LogFormat     `json:"log_format" validate:"oneof=text json otel otlp-http otlp-grpc"`
	Storage   StorageConfig `json:"storage"`
	Lock      LockConfig    `json:"lock"`
	Retry     RetryConfig   `json:"retry"`
	OAuth     OAuthConfig   `json:"oauth"`

	// Verify runs the persistence probe before the cache is used (defaults to true).
	Verify *bool `json:"verify"`
}

// ShouldVerify reports whether the persistence probe is enabled.
func (c *Config) ShouldVerify() bool {
	return c.Verify == nil || *c.Verify
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = DefaultConfigStorageKind
	}
	if c.Storage.CacheFileName == "" {
		c.Storage.CacheFileName = DefaultConfigCacheFileName
	}
	if c.Storage.CacheDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("storage.cache_dir required (auto-detect failed: %w)", err)
		}
		c.Storage.CacheDir = filepath.Join(cacheDir, defaultConfigCacheDirectoryName)
	}
	if c.Lock.PollInterval == 0 {
		c.Lock.PollInterval = DefaultConfigLockPollInterval
	}
	if c.Lock.MaxAttempts == 0 {
		c.Lock.MaxAttempts = DefaultConfigLockMaxAttempts
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultConfigRetryMaxAttempts
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = DefaultConfigRetryDelay
	}
	if c.Verify == nil {
		verify := true
		c.Verify = &verify
	}

	// Dynamic defaults based on storage kind
	switch c.Storage.Kind {
	case StorageKindKeychain:
		if c.Storage.Keychain.Service == "" {
			c.Storage.Keychain.Service = DefaultConfigKeychainService
		}
		if c.Storage.Keychain.Account == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keychain.account required (auto-detect failed: %w)", err)
			}
			c.Storage.Keychain.Account = currentUser.Username
		}
	case StorageKindSecretService:
		if c.Storage.SecretService.Schema == "" {
			c.Storage.SecretService.Schema = DefaultConfigSecretSchema
		}
		if c.Storage.SecretService.Collection == "" {
			c.Storage.SecretService.Collection = DefaultConfigSecretCollection
		}
		if c.Storage.SecretService.Label == "" {
			c.Storage.SecretService.Label = DefaultConfigSecretLabel
		}
	case StorageKindEncryptedFile, StorageKindPlaintextFile:
		// file backends need nothing beyond the cache path
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Storage.Kind {
	case StorageKindPlaintextFile:
		if !c.Storage.Unprotected {
			return errors.New("plaintext_file storage requires storage.unprotected = true")
		}
	case StorageKindKeychain:
		if c.Storage.Keychain.Service == "" || c.Storage.Keychain.Account == "" {
			return errors.New("keychain storage requires storage.keychain.service and storage.keychain.account")
		}
	case StorageKindSecretService:
		ss := c.Storage.SecretService
		if ss.Schema == "" {
			return errors.New("secret_service storage requires storage.secret_service.schema")
		}
		if (ss.Attribute1Key == "" && ss.Attribute1Value != "") || (ss.Attribute2Key == "" && ss.Attribute2Value != "") {
			return errors.New("secret service attribute value set without a key")
		}
	}

	return nil
}
