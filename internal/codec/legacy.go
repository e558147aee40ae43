package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Passphrase ciphertexts start with base64("Salted__").
const legacyPrefix = "U2FsdGVkX1"

var saltedMagic = []byte("Salted__")

// LegacyCodec reads passphrase ciphertexts written by the old web client:
// base64 of "Salted__" + 8-byte salt + AES-256-CBC body, with key and IV
// derived from the passphrase by OpenSSL's EVP_BytesToKey over MD5.
// It only decodes; new messages always use the current format.
type LegacyCodec struct {
	passphrase []byte
}

// NewLegacy returns a LegacyCodec for passphrase.
func NewLegacy(passphrase string) *LegacyCodec {
	return &LegacyCodec{passphrase: []byte(passphrase)}
}

// IsLegacy reports whether ciphertext looks like a passphrase ciphertext.
func IsLegacy(ciphertext string) bool {
	return strings.HasPrefix(ciphertext, legacyPrefix)
}

// Decode decrypts a passphrase ciphertext.
func (l *LegacyCodec) Decode(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < 16 || !bytes.Equal(raw[:8], saltedMagic) {
		return "", ErrMalformed
	}
	salt, body := raw[8:16], raw[16:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return "", ErrMalformed
	}

	key, iv := evpBytesToKey(l.passphrase, salt, 32, aes.BlockSize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create AES cipher: %w", err)
	}
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)

	out, ok := pkcs7Unpad(out, aes.BlockSize)
	if !ok || !utf8.Valid(out) {
		return "", ErrDecrypt
	}
	return string(out), nil
}

func evpBytesToKey(passphrase, salt []byte, keyLen, ivLen int) ([]byte, []byte) {
	var derived, prev []byte
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
