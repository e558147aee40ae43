// Package codec encrypts chat message text for storage.
//
// Ciphertexts are "v1." followed by the base64url encoding of a random
// 12-byte nonce and the AES-256-GCM sealed plaintext. The conversation id is
// bound as associated data, so a row copied into another conversation does
// not decode.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Placeholder is shown in place of text that cannot be decoded.
const Placeholder = "[Cannot decrypt]"

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

const versionPrefix = "v1."

var (
	// ErrMalformed is returned for input that is not a ciphertext this
	// codec understands.
	ErrMalformed = errors.New("codec: malformed ciphertext")

	// ErrDecrypt is returned when authentication or unpadding fails,
	// usually because of a wrong key.
	ErrDecrypt = errors.New("codec: decryption failed")
)

var encoding = base64.RawURLEncoding

// Codec encodes and decodes message text with one key.
type Codec struct {
	aead   cipher.AEAD
	aad    []byte
	legacy *LegacyCodec
}

// New creates a Codec for a 32-byte key. associatedData is authenticated
// with every message, normally the conversation id.
func New(key []byte, associatedData string) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: got %d want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Codec{aead: aead, aad: []byte(associatedData)}, nil
}

// Encode encrypts plaintext. Two calls with the same input produce
// different ciphertexts.
func (c *Codec) Encode(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), c.aad)
	return versionPrefix + encoding.EncodeToString(sealed), nil
}

// Decode decrypts a ciphertext produced by Encode, or a legacy ciphertext
// when the codec has a legacy passphrase attached.
func (c *Codec) Decode(ciphertext string) (string, error) {
	if body, ok := strings.CutPrefix(ciphertext, versionPrefix); ok {
		return c.decodeV1(body)
	}
	if c.legacy != nil && IsLegacy(ciphertext) {
		return c.legacy.Decode(ciphertext)
	}
	return "", ErrMalformed
}

// Display decodes ciphertext for presentation, returning Placeholder on
// any failure.
func (c *Codec) Display(ciphertext string) string {
	plaintext, err := c.Decode(ciphertext)
	if err != nil {
		return Placeholder
	}
	return plaintext
}

func (c *Codec) decodeV1(body string) (string, error) {
	raw, err := encoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", ErrMalformed
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], c.aad)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// IsCurrent reports whether ciphertext uses the current format.
func IsCurrent(ciphertext string) bool {
	return strings.HasPrefix(ciphertext, versionPrefix)
}
