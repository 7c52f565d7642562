package models

// Credential is the stored form of a bucket PIN. It is exactly one of
// LegacyPlain or Protected; the unexported method keeps the set closed.
type Credential interface {
	credential()
}

// LegacyPlain is a PIN stored verbatim by the pre-encryption schema. New
// buckets never get one; it is only read back for verification.
type LegacyPlain struct {
	Pin string
}

// Protected is the current format: the PIN sealed with an AEAD (nonce
// prepended) so the owner can redisplay it, plus a keyed hash computed with
// an independent secret for verification.
type Protected struct {
	Blob []byte
	Hash []byte
}

func (LegacyPlain) credential() {}
func (Protected) credential()   {}
