//go:build windows

package accessor

import (
	"github.com/billgraziano/dpapi"
)

// encryptValue protects data with DPAPI in the current user scope.
func encryptValue(plaintext []byte) ([]byte, error) {
	return dpapi.EncryptBytes(plaintext)
}

// decryptValue reverses encryptValue. Only the user who encrypted can decrypt.
func decryptValue(ciphertext []byte) ([]byte, error) {
	return dpapi.DecryptBytes(ciphertext)
}
