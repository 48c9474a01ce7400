package accessor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/florianilch/tokencache/internal/cacheerr"
	"github.com/florianilch/tokencache/internal/fileio"
)

// fileStore holds the file mechanics shared by the file backends.
// seal and open transform the payload on its way to and from disk; nil means identity.
type fileStore struct {
	loc  Location
	io   *fileio.FileIO
	seal func([]byte) ([]byte, error)
	open func([]byte) ([]byte, error)
}

func newFileStore(path, kind string, o *options) (fileStore, error) {
	if path == "" {
		return fileStore{}, fmt.Errorf("file path cannot be empty")
	}
	return fileStore{
		loc: Location{Path: path, Store: kind + ":" + path},
		io:  o.fileIO,
	}, nil
}

func (f fileStore) read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := f.io.ReadFile(ctx, f.loc.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, cacheerr.IO("read", f.loc.String(), err)
	}
	// Empty payloads are stored as empty files without sealing.
	if len(data) == 0 || f.open == nil {
		return data, nil
	}

	plain, err := f.open(data)
	if err != nil {
		return nil, cacheerr.Corrupt("read", f.loc.String(), err)
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}

func (f fileStore) write(ctx context.Context, data []byte) error {
	if err := checkPayload(f.loc, data); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out := data
	if len(data) > 0 && f.seal != nil {
		sealed, err := f.seal(data)
		if err != nil {
			return cacheerr.IO("encrypt", f.loc.String(), err)
		}
		out = sealed
	}

	return cacheerr.IO("write", f.loc.String(), f.io.WriteFile(ctx, f.loc.Path, out, 0600))
}

func (f fileStore) clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return cacheerr.IO("clear", f.loc.String(), f.io.Remove(ctx, f.loc.Path))
}

// EncryptedFile stores the payload in a file encrypted for the current user.
// Encryption happens in memory so a single atomic write reaches disk.
type EncryptedFile struct {
	fileStore
	opts []Option
}

// Compile-time check to ensure EncryptedFile implements Accessor
var _ Accessor = (*EncryptedFile)(nil)

// NewEncryptedFile creates an EncryptedFile accessor for path.
func NewEncryptedFile(path string, opts ...Option) (*EncryptedFile, error) {
	store, err := newFileStore(path, "encrypted_file", newOptions(opts))
	if err != nil {
		return nil, err
	}
	store.seal = encryptValue
	store.open = decryptValue
	return &EncryptedFile{fileStore: store, opts: opts}, nil
}

// Read returns the decrypted payload.
func (e *EncryptedFile) Read(ctx context.Context) ([]byte, error) { return e.read(ctx) }

// Write encrypts and atomically persists data.
func (e *EncryptedFile) Write(ctx context.Context, data []byte) error { return e.write(ctx, data) }

// Clear deletes the payload file.
func (e *EncryptedFile) Clear(ctx context.Context) error { return e.clear(ctx) }

// Location returns the payload location.
func (e *EncryptedFile) Location() Location { return e.loc }

// ValidationAccessor returns an EncryptedFile at the probe path.
func (e *EncryptedFile) ValidationAccessor() (Accessor, error) {
	return NewEncryptedFile(e.loc.Path+probeSuffix, e.opts...)
}

// PlaintextFile stores the payload unencrypted. The caller is solely responsible
// for securing the file; it is only written with 0600 permissions.
type PlaintextFile struct {
	fileStore
	opts []Option
}

// Compile-time check to ensure PlaintextFile implements Accessor
var _ Accessor = (*PlaintextFile)(nil)

// NewPlaintextFile creates an unprotected file accessor for path.
func NewPlaintextFile(path string, opts ...Option) (*PlaintextFile, error) {
	o := newOptions(opts)
	store, err := newFileStore(path, "plaintext_file", o)
	if err != nil {
		return nil, err
	}
	o.logger.Warn("token cache stored unprotected", "path", path)
	return &PlaintextFile{fileStore: store, opts: opts}, nil
}

// Read returns the payload.
func (p *PlaintextFile) Read(ctx context.Context) ([]byte, error) { return p.read(ctx) }

// Write atomically persists data.
func (p *PlaintextFile) Write(ctx context.Context, data []byte) error { return p.write(ctx, data) }

// Clear deletes the payload file.
func (p *PlaintextFile) Clear(ctx context.Context) error { return p.clear(ctx) }

// Location returns the payload location.
func (p *PlaintextFile) Location() Location { return p.loc }

// ValidationAccessor returns a PlaintextFile at the probe path.
func (p *PlaintextFile) ValidationAccessor() (Accessor, error) {
	return NewPlaintextFile(p.loc.Path+probeSuffix, p.opts...)
}
