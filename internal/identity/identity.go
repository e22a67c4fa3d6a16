// Package identity derives irreversible digests from account and profile
// identifiers so no personally identifying value is ever forwarded to the
// vendor billing client.
package identity

import (
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost factors. The salt is configured, not random: the vendor
// correlates purchases by obfuscated id, so the digest must be stable for a
// given installation.
const (
	iterations  = 3
	memoryKiB   = 64 * 1024
	parallelism = 2
	keyLength   = 32
)

// ErrEmptySalt is returned when an Obfuscator is created without a salt.
var ErrEmptySalt = errors.New("identity: salt must not be empty")

// Obfuscator produces deterministic one-way digests of identity values.
type Obfuscator struct {
	salt []byte
}

// New creates an Obfuscator using the given salt.
func New(salt string) (*Obfuscator, error) {
	if salt == "" {
		return nil, ErrEmptySalt
	}
	return &Obfuscator{salt: []byte(salt)}, nil
}

// Obfuscate returns the digest of raw. The result is stable for a given
// salt and never equals the input.
func (o *Obfuscator) Obfuscate(raw string) string {
	digest := argon2.IDKey([]byte(raw), o.salt, iterations, memoryKiB, parallelism, keyLength)
	return base64.RawURLEncoding.EncodeToString(digest)
}
