// Package cryptox wraps the primitives pindrop uses for credentials:
// HKDF key derivation, AES-GCM sealing with the nonce carried in front of
// the ciphertext, and HMAC-SHA256 tags.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of every derived key (AES-256, HMAC-SHA256).
const KeySize = 32

// ErrMalformed is returned by Open when the blob cannot hold a nonce.
var ErrMalformed = errors.New("malformed sealed blob")

// DeriveKey expands secret into a KeySize key bound to info. Distinct info
// labels give unrelated keys even for the same secret.
func DeriveKey(secret []byte, salt []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty secret")
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewAEAD returns AES-GCM for a 16, 24 or 32 byte key.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under a fresh random nonce and returns nonce||ciphertext.
func Seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open splits blob into nonce and ciphertext and authenticates it.
func Open(aead cipher.AEAD, blob []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(blob) < ns+aead.Overhead() {
		return nil, ErrMalformed
	}
	return aead.Open(nil, blob[:ns], blob[ns:], nil)
}

// MAC returns HMAC-SHA256(key, msg).
func MAC(key, msg []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	return m.Sum(nil)
}

// EqualMAC compares two tags in constant time.
func EqualMAC(a, b []byte) bool {
	return hmac.Equal(a, b)
}
