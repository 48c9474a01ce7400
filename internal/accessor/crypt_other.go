//go:build !windows

package accessor

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// Embedded secret mixed with the user's identity to derive the file key.
// This keeps tokens out of plain text and ties a file to the account that wrote
// it; it is not a substitute for an OS keystore, since anyone able to run code
// as that user can derive the same key.
var embeddedSecret = []byte{
	0x4c, 0x91, 0x2e, 0xd7, 0x05, 0xb8, 0x6a, 0xf3,
	0x1d, 0x7e, 0xc4, 0x39, 0x92, 0x0b, 0xe5, 0x58,
	0xa6, 0x23, 0x7f, 0xcc, 0x14, 0x8d, 0x61, 0xb0,
	0x3a, 0xef, 0x57, 0x09, 0xd2, 0x86, 0x4b, 0x1c,
}

const nonceSize = 24

var userKey = sync.OnceValues(deriveUserKey)

// deriveUserKey derives a 32-byte key from the embedded secret and the current
// user's uid, name and home directory.
func deriveUserKey() (*[32]byte, error) {
	info := "uid=" + strconv.Itoa(os.Getuid())
	if u, err := user.Current(); err == nil {
		info += ";user=" + u.Username + ";home=" + u.HomeDir
	} else if home, err := os.UserHomeDir(); err == nil {
		info += ";home=" + home
	}

	var key [32]byte
	r := hkdf.New(sha256.New, embeddedSecret, nil, []byte("tokencache/v1;"+info))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &key, nil
}

// encryptValue encrypts data using nacl/secretbox with the user key.
// Returns nonce (24 bytes) + ciphertext.
func encryptValue(plaintext []byte) ([]byte, error) {
	key, err := userKey()
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// decryptValue decrypts data produced by encryptValue.
func decryptValue(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("ciphertext too short")
	}
	key, err := userKey()
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("decrypt failed")
	}
	return plaintext, nil
}
