package codec

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const keyInfoPrefix = "joakey/messages/v1:"

// maxCachedCodecs bounds the per-conversation codec cache.
const maxCachedCodecs = 4096

// KeyRing derives a separate message key for every conversation from one
// master key.
type KeyRing struct {
	master []byte
	legacy *LegacyCodec

	mu     sync.Mutex
	codecs map[string]*Codec
}

// NewKeyRing creates a KeyRing. legacyPassphrase may be empty.
func NewKeyRing(master []byte, legacyPassphrase string) (*KeyRing, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("invalid master key length: got %d want %d", len(master), KeySize)
	}
	r := &KeyRing{
		master: append([]byte(nil), master...),
		codecs: make(map[string]*Codec),
	}
	if legacyPassphrase != "" {
		r.legacy = NewLegacy(legacyPassphrase)
	}
	return r, nil
}

// DeriveKey returns the HKDF-SHA256 key for a conversation.
func DeriveKey(master []byte, conversationID string) ([]byte, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, nil, []byte(keyInfoPrefix+conversationID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive conversation key: %w", err)
	}
	return key, nil
}

// ForConversation returns the codec for a conversation.
func (r *KeyRing) ForConversation(conversationID string) (*Codec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.codecs[conversationID]; ok {
		return c, nil
	}

	key, err := DeriveKey(r.master, conversationID)
	if err != nil {
		return nil, err
	}
	c, err := New(key, conversationID)
	if err != nil {
		return nil, err
	}
	c.legacy = r.legacy

	if len(r.codecs) >= maxCachedCodecs {
		r.codecs = make(map[string]*Codec)
	}
	r.codecs[conversationID] = c
	return c, nil
}

// HasLegacy reports whether legacy ciphertexts can be decoded.
func (r *KeyRing) HasLegacy() bool {
	return r.legacy != nil
}
