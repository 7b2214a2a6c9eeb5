// Package crypto provides authenticated encryption for secret values using
// the master key held by internal/keymaterial.
package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	apperrors "github.com/allisson/sirrvault/internal/errors"
)

// NonceSize is the length, in bytes, of a ChaCha20-Poly1305 nonce.
const NonceSize = chacha20poly1305.NonceSize

// Cipher encrypts and decrypts secret values with a single 256-bit key using
// ChaCha20-Poly1305: a 96-bit random nonce per call and a 128-bit
// authentication tag appended to the ciphertext.
type Cipher struct {
	aead cipherAEAD
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// New builds a Cipher from a 32-byte key.
func New(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, apperrors.Wrap(err, "create aead cipher")
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a freshly generated random nonce and returns
// the ciphertext (with the authentication tag appended) and the nonce used.
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, apperrors.Wrap(err, "generate nonce")
	}

	ciphertext = c.aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext using the given nonce. A failed tag verification
// is surfaced as ErrAuthFailure, never as ErrNotFound: it indicates
// corruption or a master-key mismatch, not a missing key.
func (c *Cipher) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperrors.ErrAuthFailure
	}
	return plaintext, nil
}
