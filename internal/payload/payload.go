// Package payload handles at-rest protection of staged payload sources.
//
// Payload files sit on disk between the moment the host stages a run and
// the moment the confined runner hands control to them. They are stored
// XOR-encrypted under a random per-run key so that the plaintext only ever
// exists inside the sandbox.
package payload

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// KeySize is the per-run key length in bytes.
const KeySize = 64

// NewKey generates a random per-run key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating payload key: %w", err)
	}
	return key, nil
}

// Seal encrypts src with a repeating-key XOR cipher.
func Seal(src, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("empty payload key")
	}
	out := make([]byte, len(src))
	for i := range src {
		out[i] = src[i] ^ key[i%len(key)]
	}
	return out, nil
}

// Open decrypts data sealed with Seal. The cipher is symmetric.
func Open(enc, key []byte) ([]byte, error) {
	return Seal(enc, key)
}

// EncodeKey renders a key for transport in an environment variable.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey reverses EncodeKey.
func DecodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding payload key: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty payload key")
	}
	return key, nil
}

// Zero overwrites key material in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
