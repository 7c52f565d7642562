// Package pincodec generates bucket PINs and converts them to and from their
// stored forms. It performs no I/O.
//
// A PIN is Prefix followed by characters from Alphabet, CurrentLength long
// for new buckets. LegacyLength PINs are still accepted for verification.
// PINs are case-insensitive; every entry point normalises to upper case.
package pincodec

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/cryptox"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
)

const (
	Prefix        = "PD"
	Alphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CurrentLength = 8
	LegacyLength  = 10
)

// Labels bind the derived keys to their single purpose.
const (
	encryptionInfo = "pindrop pin encryption v1"
	hashInfo       = "pindrop pin hash v1"
)

var keySalt = []byte("pindrop/pincodec")

// Codec holds the two independent keys. Compromise of the encryption key
// says nothing about the hash key and vice versa.
type Codec struct {
	aead    cipher.AEAD
	hashKey []byte
	random  io.Reader
}

// New derives the encryption and hash keys from two distinct secrets.
func New(encryptionSecret, hashSecret string) (*Codec, error) {
	if encryptionSecret == "" || hashSecret == "" {
		return nil, errors.New("pincodec: both secrets are required")
	}
	if encryptionSecret == hashSecret {
		return nil, errors.New("pincodec: encryption and hash secrets must differ")
	}

	encKey, err := cryptox.DeriveKey([]byte(encryptionSecret), keySalt, encryptionInfo)
	if err != nil {
		return nil, fmt.Errorf("pincodec: derive encryption key: %w", err)
	}
	defer common.WipeByteArray(encKey)

	aead, err := cryptox.NewAEAD(encKey)
	if err != nil {
		return nil, fmt.Errorf("pincodec: %w", err)
	}

	hashKey, err := cryptox.DeriveKey([]byte(hashSecret), keySalt, hashInfo)
	if err != nil {
		return nil, fmt.Errorf("pincodec: derive hash key: %w", err)
	}

	return &Codec{aead: aead, hashKey: hashKey, random: rand.Reader}, nil
}

// Normalize trims spaces and upper-cases a PIN as typed by a user.
func Normalize(pin string) string {
	return strings.ToUpper(strings.TrimSpace(pin))
}

// Valid reports whether pin (already normalised) has the PIN shape.
func Valid(pin string) bool {
	if len(pin) != CurrentLength && len(pin) != LegacyLength {
		return false
	}
	if !strings.HasPrefix(pin, Prefix) {
		return false
	}
	for _, r := range pin[len(Prefix):] {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}

// GeneratePin returns a fresh current-format PIN drawn from crypto/rand.
func (c *Codec) GeneratePin() (string, error) {
	out := make([]byte, 0, CurrentLength)
	out = append(out, Prefix...)

	// Reject bytes >= 252 so every alphabet symbol is equally likely.
	limit := byte(256 - 256%len(Alphabet))
	buf := make([]byte, 16)
	for len(out) < CurrentLength {
		if _, err := io.ReadFull(c.random, buf); err != nil {
			return "", fmt.Errorf("pincodec: random source: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == CurrentLength {
				break
			}
		}
	}
	return string(out), nil
}

// Protect seals the PIN for owner redisplay and computes its verification hash.
func (c *Codec) Protect(pin string) (models.Protected, error) {
	pin = Normalize(pin)
	blob, err := cryptox.Seal(c.aead, []byte(pin))
	if err != nil {
		return models.Protected{}, fmt.Errorf("pincodec: seal: %w", err)
	}
	return models.Protected{Blob: blob, Hash: c.hash(pin)}, nil
}

// Reveal opens a blob produced by Protect. Only the owner display path calls it.
func (c *Codec) Reveal(blob []byte) (string, error) {
	plain, err := cryptox.Open(c.aead, blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrorDecryption, err)
	}
	defer common.WipeByteArray(plain)
	return string(plain), nil
}

// Verify recomputes the keyed hash of candidate and compares it in constant time.
func (c *Codec) Verify(candidate string, hash []byte) bool {
	if len(hash) == 0 {
		return false
	}
	return cryptox.EqualMAC(c.hash(Normalize(candidate)), hash)
}

// VerifyLegacyPlain compares candidate with a verbatim legacy PIN.
func VerifyLegacyPlain(candidate, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Normalize(candidate)), []byte(Normalize(stored))) == 1
}

// Match checks candidate against any stored credential. Unknown or damaged
// credentials are simply "no match"; nothing here can fail a scan.
func (c *Codec) Match(candidate string, cred models.Credential) bool {
	switch v := cred.(type) {
	case models.LegacyPlain:
		return VerifyLegacyPlain(candidate, v.Pin)
	case models.Protected:
		return c.Verify(candidate, v.Hash)
	default:
		return false
	}
}

// Display returns the PIN behind cred for its owner.
func (c *Codec) Display(cred models.Credential) (string, error) {
	switch v := cred.(type) {
	case models.LegacyPlain:
		return v.Pin, nil
	case models.Protected:
		return c.Reveal(v.Blob)
	default:
		return "", common.ErrorDecryption
	}
}

func (c *Codec) hash(pin string) []byte {
	return cryptox.MAC(c.hashKey, []byte(pin))
}
