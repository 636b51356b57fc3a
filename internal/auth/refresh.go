package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"github.com/aegisrt/core/internal/apierr"
)

const refreshTokenBytes = 32

// newRefreshToken generates 32 bytes of CSPRNG output, hex-encoded (spec
// §4.5).
func newRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", apierr.Wrap(apierr.KindConfig, "auth: generate refresh token", err)
	}
	return hex.EncodeToString(buf), nil
}

// constantTimeEqual compares two token strings without leaking timing
// information about where they first differ (spec §4.5: "verified with
// constant-time equality").
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
