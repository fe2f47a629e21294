// ABOUTME: Atomically swappable holder for the current verification key
// ABOUTME: Written by the key rotation watcher, read by every authenticating request

package auth

import (
	"crypto/ed25519"
	"sync/atomic"
)

// verificationKey pairs the raw file bytes with the parsed key. key is nil
// when raw is empty or could not be parsed.
type verificationKey struct {
	raw []byte
	key ed25519.PublicKey
}

// KeyCell holds the verification key. Readers always observe a complete
// old or new value because the whole struct is swapped.
type KeyCell struct {
	current atomic.Pointer[verificationKey]
}

// NewKeyCell returns an empty cell; it rejects every token until Store succeeds.
func NewKeyCell() *KeyCell {
	c := &KeyCell{}
	c.current.Store(&verificationKey{})
	return c
}

// Store parses raw and swaps it in. A parse failure still replaces the
// previous key, leaving the cell empty, and returns the parse error.
func (c *KeyCell) Store(raw []byte) error {
	next := &verificationKey{raw: append([]byte(nil), raw...)}
	if len(raw) == 0 {
		c.current.Store(next)
		return nil
	}

	key, err := ParsePublicKey(raw)
	if err == nil {
		next.key = key
	}
	c.current.Store(next)
	return err
}

// Clear empties the cell.
func (c *KeyCell) Clear() {
	c.current.Store(&verificationKey{})
}

// Current returns the parsed key, or nil.
func (c *KeyCell) Current() ed25519.PublicKey {
	return c.current.Load().key
}

// Raw returns a copy of the bytes last stored.
func (c *KeyCell) Raw() []byte {
	return append([]byte(nil), c.current.Load().raw...)
}
