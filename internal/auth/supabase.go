package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/aegisrt/core/internal/apierr"
	supabase "github.com/supabase-community/supabase-go"
)

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// SupabaseUserStore is the optional external-database UserStore backend,
// adapted from the teacher's internal/database/supabase.go
// SupabaseClient: same From(table).Select/Insert/Update/ExecuteTo idiom,
// narrowed to a single "users" table instead of the teacher's full
// marketplace schema.
type SupabaseUserStore struct {
	client *supabase.Client
	table  string
}

// userRow is the wire shape of one row in the "users" table.
type userRow struct {
	ID               string  `json:"id"`
	Username         string  `json:"username"`
	Email            string  `json:"email"`
	Role             string  `json:"role"`
	PasswordSalt     string  `json:"password_salt"`
	PasswordHash     string  `json:"password_hash"`
	PasswordIters    int     `json:"password_iterations"`
	Enabled          bool    `json:"enabled"`
	FailedLoginCount int     `json:"failed_login_count"`
	LockedUntil      int64   `json:"locked_until_unix"`
	CreatedAt        int64   `json:"created_at_unix"`
	UpdatedAt        int64   `json:"updated_at_unix"`
}

// NewSupabaseUserStore dials Supabase using SUPABASE_URL/SUPABASE_SERVICE_KEY
// exactly as the teacher's NewSupabaseClient does.
func NewSupabaseUserStore(url, serviceKey, table string) (*SupabaseUserStore, error) {
	if url == "" || serviceKey == "" {
		return nil, apierr.New(apierr.KindConfig, "auth: supabase url and service key are required", nil)
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("auth: create supabase client: %w", err)
	}
	if table == "" {
		table = "users"
	}
	return &SupabaseUserStore{client: client, table: table}, nil
}

func (s *SupabaseUserStore) Get(ctx context.Context, id string) (*User, error) {
	var rows []userRow
	_, err := s.client.From(s.table).Select("*", "", false).Eq("id", id).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("auth: get user: %w", err)
	}
	if len(rows) == 0 {
		return nil, apierr.New(apierr.KindNotFound, "auth: user not found", map[string]any{"id": id})
	}
	return rowToUser(rows[0]), nil
}

func (s *SupabaseUserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	var rows []userRow
	_, err := s.client.From(s.table).Select("*", "", false).Eq("username", username).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("auth: get user by username: %w", err)
	}
	if len(rows) == 0 {
		return nil, apierr.New(apierr.KindNotFound, "auth: user not found", map[string]any{"username": username})
	}
	return rowToUser(rows[0]), nil
}

func (s *SupabaseUserStore) Create(ctx context.Context, u *User) error {
	var result []userRow
	row := userToRow(u)
	_, err := s.client.From(s.table).Insert(row, false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("auth: create user: %w", err)
	}
	return nil
}

func (s *SupabaseUserStore) Update(ctx context.Context, u *User) error {
	var result []userRow
	row := userToRow(u)
	_, err := s.client.From(s.table).Update(row, "", "").Eq("id", u.ID).ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("auth: update user: %w", err)
	}
	return nil
}

func (s *SupabaseUserStore) List(ctx context.Context) ([]*User, error) {
	var rows []userRow
	_, err := s.client.From(s.table).Select("*", "", false).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("auth: list users: %w", err)
	}
	out := make([]*User, len(rows))
	for i, r := range rows {
		out[i] = rowToUser(r)
	}
	return out, nil
}

func rowToUser(r userRow) *User {
	return &User{
		ID:       r.ID,
		Username: r.Username,
		Email:    r.Email,
		Role:     Role(r.Role),
		Password: PasswordRecord{
			Salt:       []byte(r.PasswordSalt),
			Hash:       []byte(r.PasswordHash),
			Iterations: r.PasswordIters,
		},
		Enabled:          r.Enabled,
		FailedLoginCount: r.FailedLoginCount,
		CreatedAt:        unixTime(r.CreatedAt),
		UpdatedAt:        unixTime(r.UpdatedAt),
		LockedUntil:      unixTime(r.LockedUntil),
	}
}

func userToRow(u *User) userRow {
	return userRow{
		ID:               u.ID,
		Username:         u.Username,
		Email:            u.Email,
		Role:             string(u.Role),
		PasswordSalt:     string(u.Password.Salt),
		PasswordHash:     string(u.Password.Hash),
		PasswordIters:    u.Password.Iterations,
		Enabled:          u.Enabled,
		FailedLoginCount: u.FailedLoginCount,
		LockedUntil:      u.LockedUntil.Unix(),
		CreatedAt:        u.CreatedAt.Unix(),
		UpdatedAt:        u.UpdatedAt.Unix(),
	}
}

// SupabaseAuditStore persists audit entries to Supabase instead of a local
// encrypted rotating file — adapted from the teacher's
// SupabaseClient.InsertAuditLog.
type SupabaseAuditStore struct {
	client *supabase.Client
	table  string
}

func NewSupabaseAuditStore(url, serviceKey, table string) (*SupabaseAuditStore, error) {
	if url == "" || serviceKey == "" {
		return nil, apierr.New(apierr.KindConfig, "auth: supabase url and service key are required", nil)
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("auth: create supabase client: %w", err)
	}
	if table == "" {
		table = "audit_log"
	}
	return &SupabaseAuditStore{client: client, table: table}, nil
}

// InsertAuditLog matches the teacher's AuditStore interface shape
// (internal/security/session_audit.go) exactly.
func (s *SupabaseAuditStore) InsertAuditLog(entry interface{}) error {
	var result []map[string]interface{}
	_, err := s.client.From(s.table).Insert(entry, false, "", "", "").ExecuteTo(&result)
	return err
}
