package auth

import (
	"sync"
	"time"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// accessClaims is the JWT claim set spec §4.5/§6 specifies:
// {sub, role, iat, exp, sid}, plus a random jti so two tokens issued for
// the same session within the same second still differ.
type accessClaims struct {
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// clockSkew is the tolerance spec §6 allows around exp/iat.
const clockSkew = 30 * time.Second

// TokenIssuer signs and verifies HS256 access tokens, with a previous
// signing key honored for one accessTtl window after rotation (spec §6) —
// adapted from the teacher's TokenBroker current/previous-secret grace
// window (internal/security/token_broker.go), rebuilt on golang-jwt/jwt/v5
// instead of the teacher's hand-rolled HMAC token format.
type TokenIssuer struct {
	mu         sync.RWMutex
	secret     []byte
	prevSecret []byte
	graceUntil time.Time
	accessTTL  time.Duration
}

// NewTokenIssuer constructs an issuer. prevSecret may be empty if no
// rotation is in progress.
func NewTokenIssuer(secret, prevSecret string, accessTTL time.Duration) *TokenIssuer {
	ti := &TokenIssuer{secret: []byte(secret), accessTTL: accessTTL}
	if prevSecret != "" {
		ti.prevSecret = []byte(prevSecret)
		ti.graceUntil = time.Now().Add(accessTTL)
	}
	return ti
}

// RotateKey swaps in a new signing secret, keeping the old one valid for
// one accessTtl window (spec §6: "old key accepted for one accessTtl
// window").
func (ti *TokenIssuer) RotateKey(newSecret string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.prevSecret = ti.secret
	ti.graceUntil = time.Now().Add(ti.accessTTL)
	ti.secret = []byte(newSecret)
}

// Issue signs a new access token for (userID, role, sessionID).
func (ti *TokenIssuer) Issue(userID string, role Role, sessionID string) (string, time.Time, error) {
	ti.mu.RLock()
	secret := ti.secret
	ttl := ti.accessTTL
	ti.mu.RUnlock()

	now := time.Now()
	exp := now.Add(ttl)
	claims := accessClaims{
		Role:      string(role),
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, apierr.Wrap(apierr.KindConfig, "auth: sign access token", err)
	}
	return signed, exp, nil
}

// Verify parses and validates an access token, trying the current key and
// falling back to the previous key during the rotation grace window.
func (ti *TokenIssuer) Verify(tokenStr string) (*accessClaims, error) {
	ti.mu.RLock()
	secret := ti.secret
	prevSecret := ti.prevSecret
	hasPrev := len(prevSecret) > 0 && time.Now().Before(ti.graceUntil)
	ti.mu.RUnlock()

	claims, err := ti.parseWithKey(tokenStr, secret)
	if err == nil {
		return claims, nil
	}
	if hasPrev {
		if claims, prevErr := ti.parseWithKey(tokenStr, prevSecret); prevErr == nil {
			return claims, nil
		}
	}
	return nil, apierr.Wrap(apierr.KindTokenInvalid, "auth: token invalid", err)
}

func (ti *TokenIssuer) parseWithKey(tokenStr string, key []byte) (*accessClaims, error) {
	claims := &accessClaims{}
	parser := jwt.NewParser(jwt.WithLeeway(clockSkew), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
