// Package auth implements C5: the user store, JWT/refresh session
// manager, brute-force lockout, permission checks, and encrypted audit
// log (spec §4.5, §3). Grounded on the teacher's internal/security
// package — token_broker.go for the HS256-with-key-rotation-grace-window
// shape, session_audit.go for the AuditStore interface and non-blocking
// LogEvent pattern, and attack_mitigation.go's NonceStore/RateLimiter for
// the lockout counter's TTL-map idiom — generalized from the teacher's
// agent/tenant trust model to spec §4.5's classic username/password user
// model.
package auth

import "time"

// Role is one of the fixed roles spec §3 defines.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleUser     Role = "user"
	RoleAnalyst  Role = "analyst"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Permission grants an action on a resource, optionally scoped by a
// condition map that a caller's supplied conditions must be a subset of.
type Permission struct {
	Resource   string
	Action     string
	Conditions map[string]string
}

// PasswordRecord is the stored {salt, hash, iterations} triple (spec
// §4.5). Never serialized outside the user store.
type PasswordRecord struct {
	Salt       []byte
	Hash       []byte
	Iterations int
}

// User is the C5 data model (spec §3). passwordHash is mandatory; a
// record missing it must never load (no silent plaintext migration).
type User struct {
	ID                string
	Username          string
	Email             string
	Role              Role
	Password          PasswordRecord
	Permissions       []Permission
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Enabled           bool
	FailedLoginCount  int
	LockedUntil       time.Time
}

// IsLocked reports whether the user is currently locked out.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil.After(now)
}

// Session is the C5 data model (spec §3).
type Session struct {
	ID              string
	UserID          string
	AccessToken     string
	RefreshToken    string
	IssuedAt        time.Time
	AccessExpiresAt time.Time
	RefreshExpiresAt time.Time
	IP              string
	UserAgent       string
}

// AuditEntry is the append-only audit record (spec §3).
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	UserID    string
	Username  string
	Action    string
	Resource  string
	Target    string
	Details   map[string]any
	IP        string
	UserAgent string
	SessionID string
	Success   bool
	ErrorMsg  string
	Duration  time.Duration
}

// VerifyResult is the outcome of Verify (spec §4.5).
type VerifyResult struct {
	Valid   bool
	User    *User
	Session *Session
}

// PermissionCheckResult is the outcome of a permission check (spec §4.5).
type PermissionCheckResult struct {
	Allowed bool
	Reason  string
}
