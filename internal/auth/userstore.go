package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/aegisrt/core/internal/cryptostore"
	"github.com/google/uuid"
)

const usersFile = "users"

// UserStore persists the user table. The default implementation is a
// local encrypted file (LocalUserStore); SupabaseUserStore is the optional
// external-database alternative (spec §6: auth is pluggable the same way
// the vector store is).
type UserStore interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
	List(ctx context.Context) ([]*User, error)
}

// LocalUserStore keeps the user table in memory, persisted to a single
// encrypted blob via cryptostore. Grounded on the teacher's in-memory
// map-plus-mutex convention for the user/session maps spec §5 requires
// ("one fine-grained lock per map; never held across I/O").
type LocalUserStore struct {
	mu       sync.RWMutex
	byID     map[string]*User
	byName   map[string]string // username -> id
	store    *cryptostore.Store
	path     string
}

// NewLocalUserStore constructs an empty store. store/dir may be nil/"" to
// disable persistence (tests).
func NewLocalUserStore(store *cryptostore.Store, dir string) *LocalUserStore {
	path := ""
	if dir != "" {
		path = filepath.Join(dir, usersFile)
	}
	return &LocalUserStore{
		byID:   make(map[string]*User),
		byName: make(map[string]string),
		store:  store,
		path:   path,
	}
}

// Load restores the user table from disk. A user record missing
// passwordHash is a fatal ConfigError — no silent plaintext migration
// path (spec §4.5, §3).
func (s *LocalUserStore) Load() error {
	if s.store == nil || s.path == "" {
		return nil
	}
	data, err := s.store.ReadFile(s.path)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return nil
		}
		return err
	}
	var users []*User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("auth: unmarshal user store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		if len(u.Password.Hash) == 0 {
			return apierr.New(apierr.KindConfig, "auth: user record missing passwordHash, refusing to load", map[string]any{"username": u.Username})
		}
		s.byID[u.ID] = u
		s.byName[u.Username] = u.ID
	}
	return nil
}

func (s *LocalUserStore) persistLocked() error {
	if s.store == nil || s.path == "" {
		return nil
	}
	users := make([]*User, 0, len(s.byID))
	for _, u := range s.byID {
		users = append(users, u)
	}
	data, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("auth: marshal user store: %w", err)
	}
	return s.store.WriteFile(s.path, data)
}

func (s *LocalUserStore) Get(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "auth: user not found", map[string]any{"id": id})
	}
	cp := *u
	return &cp, nil
}

func (s *LocalUserStore) GetByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "auth: user not found", map[string]any{"username": username})
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *LocalUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[u.Username]; exists {
		return apierr.New(apierr.KindConfig, "auth: username already exists", map[string]any{"username": u.Username})
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := *u
	s.byID[u.ID] = &cp
	s.byName[u.Username] = u.ID
	return s.persistLocked()
}

func (s *LocalUserStore) Update(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[u.ID]; !ok {
		return apierr.New(apierr.KindNotFound, "auth: user not found", map[string]any{"id": u.ID})
	}
	cp := *u
	s.byID[u.ID] = &cp
	s.byName[u.Username] = u.ID
	return s.persistLocked()
}

func (s *LocalUserStore) List(_ context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.byID))
	for _, u := range s.byID {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}
