package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/aegisrt/core/internal/apierr"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltBytes     = 16
	hashBytes     = 32
	minIterations = 100_000
)

// HashPassword derives a PBKDF2-SHA256 hash with a fresh random salt and
// minIterations iterations (spec §4.5).
func HashPassword(password string) (PasswordRecord, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return PasswordRecord{}, apierr.Wrap(apierr.KindConfig, "auth: generate salt", err)
	}
	hash := pbkdf2.Key([]byte(password), salt, minIterations, hashBytes, sha256.New)
	return PasswordRecord{Salt: salt, Hash: hash, Iterations: minIterations}, nil
}

// VerifyPassword recomputes the hash with the stored salt/iterations and
// compares in constant time (spec §4.5).
func VerifyPassword(password string, rec PasswordRecord) bool {
	if len(rec.Salt) == 0 || len(rec.Hash) == 0 || rec.Iterations <= 0 {
		return false
	}
	candidate := pbkdf2.Key([]byte(password), rec.Salt, rec.Iterations, len(rec.Hash), sha256.New)
	return subtle.ConstantTimeCompare(candidate, rec.Hash) == 1
}
