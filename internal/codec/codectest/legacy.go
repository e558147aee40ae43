// Package codectest produces fixtures for tests of code that reads stored
// messages.
package codectest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
)

// LegacyEncrypt returns plaintext encrypted the way the old web client
// stored messages: OpenSSL "Salted__" framing, EVP_BytesToKey with MD5,
// AES-256-CBC and PKCS#7 padding, base64 encoded. salt must be 8 bytes.
func LegacyEncrypt(passphrase, plaintext string, salt []byte) (string, error) {
	var derived, prev []byte
	for len(derived) < 32+aes.BlockSize {
		h := md5.New()
		h.Write(prev)
		h.Write([]byte(passphrase))
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	key, iv := derived[:32], derived[32:32+aes.BlockSize]

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	data := []byte(plaintext)
	for i := 0; i < pad; i++ {
		data = append(data, byte(pad))
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)

	raw := append([]byte("Salted__"), salt...)
	raw = append(raw, out...)
	return base64.StdEncoding.EncodeToString(raw), nil
}
