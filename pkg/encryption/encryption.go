package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

var (
	ErrInvalidKey       = errors.New("encryption key must be exactly 32 bytes long")
	ErrCiphertextFormat = errors.New("ciphertext too short")
)

// Box seals and opens short secrets with AES-GCM. The sealed form is base64
// with a random nonce prefixed to the ciphertext, so encrypting the same
// plaintext twice yields different bytes.
type Box struct {
	gcm cipher.AEAD
}

// New builds a Box from a raw 32 byte key. Construct it once at startup so a
// missing or malformed key fails the process before any secret is stored.
func New(key string) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Box{gcm: gcm}, nil
}

// Encrypt seals a plaintext string and returns the base64 encoded result.
func (b *Box) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := b.gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)

	return out, nil
}

// Decrypt opens a base64 encoded nonce+ciphertext produced by Encrypt.
func (b *Box) Decrypt(encoded []byte) (string, error) {
	sealed := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(sealed, encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	sealed = sealed[:n]

	if len(sealed) < b.gcm.NonceSize() {
		return "", ErrCiphertextFormat
	}

	nonce, ciphertext := sealed[:b.gcm.NonceSize()], sealed[b.gcm.NonceSize():]

	plaintext, err := b.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
