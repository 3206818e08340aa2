package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltBytes is the per-user salt size: 128 bits of entropy.
	SaltBytes = 16

	// Argon2id parameters are fixed so that identical (password, salt)
	// inputs always produce identical digests, on any machine.
	argon2Iterations  uint32 = 3
	argon2MemoryKiB   uint32 = 64 * 1024
	argon2Parallelism uint8  = 2
	argon2KeyLen      uint32 = 32
)

// GenerateSalt returns a fresh hex-encoded random salt for a new user.
func GenerateSalt() (string, error) {
	salt := make([]byte, SaltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(salt), nil
}

// HashPassword derives a hex-encoded Argon2id digest of the password and
// salt. The digest is deterministic for a given (password, salt) pair, and
// different salts yield different digests for the same password.
func HashPassword(password, salt string) string {
	digest := argon2.IDKey([]byte(password), []byte(salt), argon2Iterations, argon2MemoryKiB, argon2Parallelism, argon2KeyLen)
	return hex.EncodeToString(digest)
}
