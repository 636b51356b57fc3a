package auth

import (
	"context"
	"time"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/aegisrt/core/internal/resilience"
)

// Config configures Manager (spec §4.5, §6).
type Config struct {
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	LockoutThreshold   int
	LockoutDuration    time.Duration
	AuthPerMinute      float64
	RefreshPerMinute   float64
}

func (c *Config) setDefaults() {
	if c.AccessTTL <= 0 {
		c.AccessTTL = 15 * time.Minute
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = time.Minute
	}
	if c.AuthPerMinute <= 0 {
		c.AuthPerMinute = 5
	}
	if c.RefreshPerMinute <= 0 {
		c.RefreshPerMinute = 10
	}
}

// Manager is the C5 façade: users, sessions, tokens, lockout, permission
// checks, and the audit log (spec §4.5).
type Manager struct {
	cfg     Config
	users   UserStore
	issuer  *TokenIssuer
	sess    *sessionStore
	audit   *auditLogger
	authRL  *resilience.KeyedSlidingWindow // keyed by username+ip
	refrRL  *resilience.KeyedSlidingWindow // keyed by session id
}

// NewManager constructs the auth façade.
func NewManager(cfg Config, users UserStore, issuer *TokenIssuer, audit AuditStore) *Manager {
	cfg.setDefaults()
	return &Manager{
		cfg:    cfg,
		users:  users,
		issuer: issuer,
		sess:   newSessionStore(),
		audit:  newAuditLogger(audit),
		authRL: resilience.NewKeyedSlidingWindow(int(cfg.AuthPerMinute), time.Minute),
		refrRL: resilience.NewKeyedSlidingWindow(int(cfg.RefreshPerMinute), time.Minute),
	}
}

// LogEvent is the public audit primitive spec §4.5 requires so other
// components (notably the façade, C7) can contribute entries without
// reaching into C5's internals.
func (m *Manager) LogEvent(ctx context.Context, action, resource string, details map[string]any) {
	m.audit.LogEvent(&AuditEntry{
		Action:   action,
		Resource: resource,
		Details:  details,
		Success:  true,
	})
}

// Login implements spec §4.5's Login contract.
func (m *Manager) Login(ctx context.Context, username, password, ip, userAgent string) (*Session, *User, error) {
	start := time.Now()

	if !m.authRL.Allow(username + "|" + ip) {
		return nil, nil, apierr.ErrRateLimited
	}

	user, err := m.users.GetByUsername(ctx, username)
	if err != nil {
		m.audit.LogEvent(&AuditEntry{
			Action: "login", Resource: "session", IP: ip, UserAgent: userAgent,
			Success: false, ErrorMsg: "invalid credentials", Duration: time.Since(start),
		})
		return nil, nil, apierr.ErrInvalidCreds
	}

	now := time.Now()
	if user.IsLocked(now) {
		m.audit.LogEvent(&AuditEntry{
			UserID: user.ID, Username: user.Username, Action: "login", Resource: "session",
			IP: ip, UserAgent: userAgent, Success: false, ErrorMsg: "account locked", Duration: time.Since(start),
		})
		return nil, nil, apierr.ErrAccountLocked
	}

	if !user.Enabled || !VerifyPassword(password, user.Password) {
		user.FailedLoginCount++
		if user.FailedLoginCount >= m.cfg.LockoutThreshold {
			user.LockedUntil = now.Add(m.cfg.LockoutDuration)
		}
		_ = m.users.Update(ctx, user)
		m.audit.LogEvent(&AuditEntry{
			UserID: user.ID, Username: user.Username, Action: "login", Resource: "session",
			IP: ip, UserAgent: userAgent, Success: false, ErrorMsg: "invalid credentials", Duration: time.Since(start),
		})
		return nil, nil, apierr.ErrInvalidCreds
	}

	user.FailedLoginCount = 0
	user.LockedUntil = time.Time{}
	if err := m.users.Update(ctx, user); err != nil {
		return nil, nil, err
	}

	session, err := m.issueSession(user, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	m.audit.LogEvent(&AuditEntry{
		UserID: user.ID, Username: user.Username, Action: "login", Resource: "session",
		SessionID: session.ID, IP: ip, UserAgent: userAgent, Success: true, Duration: time.Since(start),
	})
	return session, user, nil
}

func (m *Manager) issueSession(user *User, ip, userAgent string) (*Session, error) {
	_, _, _, refreshToken, refreshExp, err := m.mintTokens(user, "")
	if err != nil {
		return nil, err
	}
	sess := m.sess.create(user.ID, ip, userAgent, "", time.Time{}, refreshToken, refreshExp)
	// The session id is assigned by create; bind the access token's sid to it.
	accessToken, accessExp, err := m.issuer.Issue(user.ID, user.Role, sess.ID)
	if err != nil {
		m.sess.delete(sess.ID)
		return nil, err
	}
	if err := m.sess.rotate(sess.ID, accessToken, accessExp, refreshToken, refreshExp); err != nil {
		return nil, err
	}
	issued, _ := m.sess.get(sess.ID)
	return issued, nil
}

// mintTokens issues a fresh access+refresh token pair. sid, when non-empty,
// binds the access token's sid claim to an existing session id (used by
// Refresh); otherwise a placeholder is used until the new session's real
// id is known, corrected by the caller via sessionStore.create/rotate.
func (m *Manager) mintTokens(user *User, sid string) (sessionID, accessToken string, accessExp time.Time, refreshToken string, refreshExp time.Time, err error) {
	accessToken, accessExp, err = m.issuer.Issue(user.ID, user.Role, sid)
	if err != nil {
		return "", "", time.Time{}, "", time.Time{}, err
	}
	refreshToken, err = newRefreshToken()
	if err != nil {
		return "", "", time.Time{}, "", time.Time{}, err
	}
	refreshExp = time.Now().Add(m.cfg.RefreshTTL)
	return sid, accessToken, accessExp, refreshToken, refreshExp, nil
}

// Refresh implements spec §4.5's Refresh contract: atomically rotates both
// tokens, invalidating the previous refresh token immediately.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	sess, ok := m.sess.findByRefreshToken(refreshToken)
	if !ok {
		return nil, apierr.ErrTokenInvalid
	}
	if !m.refrRL.Allow(sess.ID) {
		return nil, apierr.ErrRateLimited
	}
	if time.Now().After(sess.RefreshExpiresAt) {
		m.sess.delete(sess.ID)
		return nil, apierr.ErrSessionExpired
	}

	user, err := m.users.Get(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	accessToken, accessExp, err := m.issuer.Issue(user.ID, user.Role, sess.ID)
	if err != nil {
		return nil, err
	}
	newRefresh, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	refreshExp := time.Now().Add(m.cfg.RefreshTTL)

	if err := m.sess.rotate(sess.ID, accessToken, accessExp, newRefresh, refreshExp); err != nil {
		return nil, err
	}

	rotated, _ := m.sess.get(sess.ID)
	m.audit.LogEvent(&AuditEntry{
		UserID: user.ID, Username: user.Username, Action: "refresh", Resource: "session",
		SessionID: sess.ID, Success: true,
	})
	return rotated, nil
}

// Verify implements spec §4.5's Verify contract.
func (m *Manager) Verify(ctx context.Context, accessToken string) (VerifyResult, error) {
	claims, err := m.issuer.Verify(accessToken)
	if err != nil {
		return VerifyResult{}, err
	}
	sess, ok := m.sess.get(claims.SessionID)
	if !ok {
		return VerifyResult{}, apierr.Wrap(apierr.KindSessionExpired, "auth: session revoked", nil)
	}
	if time.Now().After(sess.AccessExpiresAt) {
		return VerifyResult{}, apierr.ErrSessionExpired
	}
	user, err := m.users.Get(ctx, sess.UserID)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Valid: true, User: user, Session: sess}, nil
}

// Logout implements spec §4.5's Logout contract: idempotent session
// deletion.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	sess, _ := m.sess.get(sessionID)
	m.sess.delete(sessionID)
	if sess != nil {
		m.audit.LogEvent(&AuditEntry{
			UserID: sess.UserID, Action: "logout", Resource: "session", SessionID: sessionID, Success: true,
		})
	}
	return nil
}

// CheckPermission implements spec §4.5's permission check.
func (m *Manager) CheckPermission(ctx context.Context, userID, resource, action string, conditions map[string]string) (PermissionCheckResult, error) {
	user, err := m.users.Get(ctx, userID)
	if err != nil {
		return PermissionCheckResult{}, err
	}
	if user.Role == RoleAdmin {
		return PermissionCheckResult{Allowed: true, Reason: "admin role"}, nil
	}
	for _, p := range user.Permissions {
		if p.Resource != resource || p.Action != action {
			continue
		}
		if conditionsSubsetOf(conditions, p.Conditions) {
			return PermissionCheckResult{Allowed: true, Reason: "matched permission"}, nil
		}
	}
	return PermissionCheckResult{Allowed: false, Reason: "no matching permission"}, nil
}

// conditionsSubsetOf reports whether every key/value in requested also
// appears in granted (spec §4.5: "optional condition map must be a subset
// of the permission's condition map").
func conditionsSubsetOf(requested, granted map[string]string) bool {
	for k, v := range requested {
		if granted[k] != v {
			return false
		}
	}
	return true
}

// CreateUser implements spec §4.5's user lifecycle.
func (m *Manager) CreateUser(ctx context.Context, username, email, password string, role Role) (*User, error) {
	rec, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	u := &User{
		Username:  username,
		Email:     email,
		Role:      role,
		Password:  rec,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.users.Create(ctx, u); err != nil {
		return nil, err
	}
	m.audit.LogEvent(&AuditEntry{UserID: u.ID, Username: u.Username, Action: "create_user", Resource: "user", Success: true})
	return u, nil
}

// DisableUser implements spec §4.5's user lifecycle (users are never hard
// deleted, only disabled — spec §3).
func (m *Manager) DisableUser(ctx context.Context, userID string) error {
	u, err := m.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	u.Enabled = false
	u.UpdatedAt = time.Now()
	if err := m.users.Update(ctx, u); err != nil {
		return err
	}
	m.audit.LogEvent(&AuditEntry{UserID: u.ID, Username: u.Username, Action: "disable_user", Resource: "user", Success: true})
	return nil
}

// ChangePassword implements spec §4.5's user lifecycle.
func (m *Manager) ChangePassword(ctx context.Context, userID, newPassword string) error {
	u, err := m.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	rec, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	u.Password = rec
	u.UpdatedAt = time.Now()
	if err := m.users.Update(ctx, u); err != nil {
		return err
	}
	m.audit.LogEvent(&AuditEntry{UserID: u.ID, Username: u.Username, Action: "change_password", Resource: "user", Success: true})
	return nil
}

// ListUsers implements spec §4.5's user lifecycle.
func (m *Manager) ListUsers(ctx context.Context) ([]*User, error) {
	return m.users.List(ctx)
}

// SweepExpiredSessions removes sessions whose refresh token has expired.
// Intended to run on a ticker owned by the process wiring, not by Manager
// itself.
func (m *Manager) SweepExpiredSessions() int {
	return m.sess.sweepExpired(time.Now())
}
