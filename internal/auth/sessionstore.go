package auth

import (
	"sync"
	"time"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/google/uuid"
)

// sessionStore is the in-memory session map: one fine-grained lock, never
// held across I/O (spec §5). Refresh rotation holds the lock for the
// entire read-validate-rotate sequence so a refresh and a verify never
// observe a half-rotated session (spec §5's linearizability guarantee).
type sessionStore struct {
	mu  sync.RWMutex
	byID map[string]*Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{byID: make(map[string]*Session)}
}

func (s *sessionStore) create(userID, ip, userAgent string, accessToken string, accessExp time.Time, refreshToken string, refreshExp time.Time) *Session {
	sess := &Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		IssuedAt:         time.Now(),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		IP:               ip,
		UserAgent:        userAgent,
	}
	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	return sess, ok
}

// findByRefreshToken scans active sessions with constant-time comparison
// against each candidate, per spec §4.5's refresh contract.
func (s *sessionStore) findByRefreshToken(token string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.byID {
		if constantTimeEqual(sess.RefreshToken, token) {
			return sess, true
		}
	}
	return nil, false
}

// rotate atomically replaces both tokens on the named session, making the
// previous refresh token immediately invalid (spec §4.5).
func (s *sessionStore) rotate(id, accessToken string, accessExp time.Time, refreshToken string, refreshExp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return apierr.New(apierr.KindNotFound, "auth: session not found", map[string]any{"id": id})
	}
	// Replace the record instead of mutating it, so a *Session already
	// handed to a caller keeps the values it was read with.
	cp := *sess
	cp.AccessToken = accessToken
	cp.AccessExpiresAt = accessExp
	cp.RefreshToken = refreshToken
	cp.RefreshExpiresAt = refreshExp
	s.byID[id] = &cp
	return nil
}

// delete removes a session; idempotent (spec §4.5's Logout contract).
func (s *sessionStore) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// sweepExpired removes sessions whose refresh token has expired, run
// periodically by Manager.
func (s *sessionStore) sweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for id, sess := range s.byID {
		if now.After(sess.RefreshExpiresAt) {
			delete(s.byID, id)
			swept++
		}
	}
	return swept
}
