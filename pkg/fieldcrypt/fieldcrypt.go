// Package fieldcrypt seals and opens individual PII columns. Profile contact
// fields are stored encrypted at rest; read paths open them before returning
// records to callers.
package fieldcrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher encrypts and decrypts short string fields with an AEAD.
type Cipher struct {
	key []byte
}

// New derives a cipher from the configured key material. An empty key yields
// a passthrough cipher so development environments can run unencrypted.
func New(keyMaterial string) *Cipher {
	if keyMaterial == "" {
		return &Cipher{}
	}
	sum := sha256.Sum256([]byte(keyMaterial))
	return &Cipher{key: sum[:]}
}

// Enabled reports whether encryption is active.
func (c *Cipher) Enabled() bool {
	return len(c.key) == chacha20poly1305.KeySize
}

// Seal encrypts a field value. Passthrough when no key is configured.
func (c *Cipher) Seal(plaintext string) (string, error) {
	if !c.Enabled() || plaintext == "" {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a field value. Values that do not parse as ciphertext are
// returned unchanged, so plaintext legacy rows keep working.
func (c *Cipher) Open(sealed string) string {
	if !c.Enabled() || sealed == "" {
		return sealed
	}
	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return sealed
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return sealed
	}
	if len(raw) < aead.NonceSize() {
		return sealed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return sealed
	}
	return string(plaintext)
}
