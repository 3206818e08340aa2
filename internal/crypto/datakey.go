package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const dataKeyAADPrefix = "flood-app-data:v1:"

var (
	ErrInvalidDataKey       = errors.New("invalid data key")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// DataKey is the master key for at-rest encryption of app_data values. The
// raw key lives in a locked buffer for its whole lifetime; per-entry DEKs are
// derived from it with HKDF so that no two entries share a cipher key.
type DataKey struct {
	master *memguard.LockedBuffer
}

// LoadDataKey decodes a base64url-encoded 32-byte key, typically sourced
// from the DB_ENCRYPTION_KEY environment variable.
func LoadDataKey(encoded string) (*DataKey, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64url: %v", ErrInvalidDataKey, err)
	}
	if len(raw) != chacha20poly1305.KeySize {
		memguard.WipeBytes(raw)
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidDataKey, chacha20poly1305.KeySize, len(raw))
	}
	defer memguard.WipeBytes(raw)
	return &DataKey{master: memguard.NewBufferFromBytes(raw)}, nil
}

// GenerateDataKey returns a fresh random key in the encoding LoadDataKey
// accepts.
func GenerateDataKey() (string, error) {
	raw := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate data key: %w", err)
	}
	defer memguard.WipeBytes(raw)
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Seal encrypts plaintext for the app_data entry named name. The returned
// blob is nonce||ciphertext; the entry name is bound as associated data so a
// value copied onto another key fails to decrypt.
func (k *DataKey) Seal(name string, plaintext []byte) ([]byte, error) {
	if err := k.ensureReady(); err != nil {
		return nil, err
	}

	dek, err := k.deriveEntryDEK(name)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(dek)

	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20-poly1305: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, []byte(dataKeyAADPrefix+name)), nil
}

// Open decrypts a blob produced by Seal for the same entry name.
func (k *DataKey) Open(name string, blob []byte) ([]byte, error) {
	if err := k.ensureReady(); err != nil {
		return nil, err
	}
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: blob shorter than nonce", ErrAuthenticationFailed)
	}

	dek, err := k.deriveEntryDEK(name)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(dek)

	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20-poly1305: %w", err)
	}

	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(dataKeyAADPrefix+name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

// Destroy wipes the master key. The DataKey is unusable afterwards.
func (k *DataKey) Destroy() {
	if k == nil || k.master == nil {
		return
	}
	if k.master.IsAlive() {
		k.master.Destroy()
	}
	k.master = nil
}

func (k *DataKey) deriveEntryDEK(name string) ([]byte, error) {
	r := hkdf.New(sha256.New, k.master.Bytes(), nil, []byte(dataKeyAADPrefix+name))
	dek := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, dek); err != nil {
		return nil, fmt.Errorf("derive entry dek: %w", err)
	}
	return dek, nil
}

func (k *DataKey) ensureReady() error {
	if k == nil || k.master == nil || !k.master.IsAlive() {
		return fmt.Errorf("%w: key is nil or destroyed", ErrInvalidDataKey)
	}
	return nil
}
