// Package secretbox seals credential secrets before they reach a store.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
)

// prefix marks sealed values. Values without it are legacy cleartext and are
// returned unchanged by Open.
const prefix = "enc:v1:"

var (
	_ driven.SecretCipher = Noop{}
	_ driven.SecretCipher = (*AESGCM)(nil)
)

// ErrMalformed is returned when a sealed value cannot be decoded.
var ErrMalformed = errors.New("malformed sealed secret")

// Noop stores secrets in cleartext.
type Noop struct{}

func (Noop) Seal(plaintext string) (string, error) { return plaintext, nil }
func (Noop) Open(sealed string) (string, error)    { return sealed, nil }

// AESGCM seals secrets with AES-256-GCM. The stored form is the prefix
// followed by base64(nonce || ciphertext || tag).
type AESGCM struct {
	aead cipher.AEAD
}

// New creates an AESGCM from a 32-byte key.
func New(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

// FromHex creates an AESGCM from a 64-character hex key.
func FromHex(hexKey string) (*AESGCM, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	return New(key)
}

func (b *AESGCM) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(out), nil
}

func (b *AESGCM) Open(sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(sealed, prefix)
	if !ok {
		return sealed, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := b.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("%w: ciphertext too short", ErrMalformed)
	}

	plaintext, err := b.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}
	return string(plaintext), nil
}
