// Package crypto provides the optional at-rest cipher for Engram bucket
// files. A Cipher is constructed once and shared by the vector index and
// the metadata store; with no passphrase it degrades to identity
// transforms so callers never branch on encryption being enabled.
//
// Encrypted output is framed as magic || nonce || ciphertext so that
// legacy plaintext written before encryption was enabled can be detected
// and passed through unchanged. Decryption never touches storage: a
// failure falls back to returning the raw input and logs a warning, so
// old data stays readable and is upgraded to ciphertext on the next save.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// magic prefixes every encrypted payload. Version bump means a framing change.
var magic = []byte("EGR1")

// Cipher is an optional AES-256-GCM cipher. The zero-value-like inactive
// form (empty passphrase) performs identity transforms.
type Cipher struct {
	aead   cipher.AEAD
	active bool
	logger zerolog.Logger

	warnOnce sync.Once
}

// NewCipher derives a 256-bit key from the passphrase via SHA-256 and
// returns an active cipher. An empty passphrase returns an inactive
// cipher whose Encrypt/Decrypt are no-ops.
func NewCipher(passphrase string, logger zerolog.Logger) (*Cipher, error) {
	logger = logger.With().Str("component", "crypto").Logger()

	if passphrase == "" {
		return &Cipher{active: false, logger: logger}, nil
	}

	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to initialize GCM: %w", err)
	}

	return &Cipher{aead: aead, active: true, logger: logger}, nil
}

// Active reports whether encryption is enabled.
func (c *Cipher) Active() bool {
	return c.active
}

// IsEncrypted reports whether data carries the encrypted framing.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}

// Encrypt seals plaintext into magic || nonce || ciphertext.
// With an inactive cipher it returns the input unchanged.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	if !c.active {
		return plaintext, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(magic)+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, magic...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt. It never fails into the caller:
// unframed data (legacy plaintext), truncated framing, or a GCM
// authentication failure (wrong key or corruption) all fall back to
// returning the input bytes unchanged, with a warning logged once per
// cipher. An inactive cipher returns the input as-is.
func (c *Cipher) Decrypt(data []byte) []byte {
	if !c.active {
		return data
	}

	if !IsEncrypted(data) {
		c.warnFallback("payload is not encrypted; returning raw bytes")
		return data
	}

	body := data[len(magic):]
	nonceSize := c.aead.NonceSize()
	if len(body) < nonceSize {
		c.warnFallback("encrypted payload truncated; returning raw bytes")
		return data
	}

	plaintext, err := c.aead.Open(nil, body[:nonceSize], body[nonceSize:], nil)
	if err != nil {
		c.warnFallback("decryption failed (wrong key or corruption); returning raw bytes")
		return data
	}
	return plaintext
}

// EncryptString seals text and base64-encodes the result for storage in
// text columns. Identity when inactive.
func (c *Cipher) EncryptString(text string) (string, error) {
	if !c.active {
		return text, nil
	}
	sealed, err := c.Encrypt([]byte(text))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString with the same fallback contract as
// Decrypt: anything that does not round-trip comes back unchanged.
func (c *Cipher) DecryptString(text string) string {
	if !c.active {
		return text
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil || !IsEncrypted(raw) {
		c.warnFallback("text payload is not encrypted; returning raw value")
		return text
	}
	return string(c.Decrypt(raw))
}

func (c *Cipher) warnFallback(msg string) {
	c.warnOnce.Do(func() {
		c.logger.Warn().Msg(msg + " (legacy or foreign data; it will be re-encrypted on next save)")
	})
}
