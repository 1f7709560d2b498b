// Package secrets unseals tenant adapter credentials. Ciphertexts are
// AES-256-GCM sealed as base64(nonce || ciphertext); the symmetric master
// key comes from the process environment and is never persisted.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

// MasterKeyEnv names the environment variable holding the base64-encoded
// 32-byte master key.
const MasterKeyEnv = "OPSDESK_MASTER_KEY"

// ErrMasterKeyMissing signals that no usable master key is present. Any
// tenant using a real (non-mock) adapter cannot execute without one.
var ErrMasterKeyMissing = errors.New("credential master key is not configured")

// Keyring holds the loaded master key.
type Keyring struct {
	key []byte
}

// LoadKeyring reads and validates the master key from the environment.
func LoadKeyring() (*Keyring, error) {
	encoded := strings.TrimSpace(os.Getenv(MasterKeyEnv))
	if encoded == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrMasterKeyMissing, MasterKeyEnv)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid base64", ErrMasterKeyMissing, MasterKeyEnv)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes, got %d", ErrMasterKeyMissing, len(key))
	}

	return &Keyring{key: key}, nil
}

// NewKeyring wraps a raw 32-byte key. Tests use it to avoid the
// environment.
func NewKeyring(key []byte) (*Keyring, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return &Keyring{key: append([]byte(nil), key...)}, nil
}

// Open unseals a base64 nonce||ciphertext credential blob.
func (k *Keyring) Open(sealed string) (string, error) {
	if k == nil || len(k.key) == 0 {
		return "", ErrMasterKeyMissing
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return "", fmt.Errorf("decode sealed credential: %w", err)
	}

	aead, err := newAEAD(k.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed credential is truncated")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("unseal credential: %w", err)
	}

	return string(plaintext), nil
}

// Seal encrypts a plaintext credential. The admin tooling uses it when
// provisioning tenants; the request path only ever opens.
func (k *Keyring) Seal(plaintext string) (string, error) {
	if k == nil || len(k.key) == 0 {
		return "", ErrMasterKeyMissing
	}

	aead, err := newAEAD(k.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
