package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

// User is a stored account. TokenHash is the bcrypt hash of the secret
// half of the bearer token; the token wire format is "<username>:<secret>".
type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	TokenHash   string `json:"token_hash"`
}

// SeedUser seeds an account from configuration.
type SeedUser struct {
	Username    string
	DisplayName string
	TokenHash   string
}

// Store manages users stored on disk and implements Verifier.
type Store struct {
	path  string
	mu    sync.RWMutex
	users map[string]User
	log   pslog.Logger
}

// NewStore loads or seeds the user store.
func NewStore(path string, seeds []SeedUser) (*Store, error) {
	return NewStoreWithLogger(path, seeds, nil)
}

// NewStoreWithLogger loads or seeds the user store with logging.
func NewStoreWithLogger(path string, seeds []SeedUser, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("user file path is required")
	}
	if logger != nil {
		logger = logger.With("user_file", path)
	}
	store := &Store{path: path, users: make(map[string]User), log: logger}
	if err := store.ensureFile(seeds); err != nil {
		return nil, err
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Verify resolves a "<username>:<secret>" bearer token to an identity.
func (s *Store) Verify(_ context.Context, token string) (schema.Identity, error) {
	username, secret, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok || username == "" || secret == "" {
		return schema.Identity{}, schema.ErrInvalidCredential
	}
	s.mu.RLock()
	user, found := s.users[username]
	s.mu.RUnlock()
	if !found {
		return schema.Identity{}, schema.ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.TokenHash), []byte(secret)); err != nil {
		return schema.Identity{}, schema.ErrInvalidCredential
	}
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	return schema.Identity{UserID: schema.UserID(user.Username), DisplayName: name}, nil
}

// AddUser creates an account and returns its freshly minted bearer token.
// The secret is shown once; only its hash is stored.
func (s *Store) AddUser(username, displayName string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.Contains(username, ":") {
		return "", fmt.Errorf("%w: username", schema.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return "", schema.ErrUserExists
	}
	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	s.users[username] = User{Username: username, DisplayName: displayName, TokenHash: string(hash)}
	if err := s.saveLocked(); err != nil {
		delete(s.users, username)
		return "", err
	}
	if s.log != nil {
		s.log.Info("user added", "username", username)
	}
	return username + ":" + secret, nil
}

// RemoveUser deletes an account.
func (s *Store) RemoveUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; !exists {
		return schema.ErrUserNotFound
	}
	delete(s.users, username)
	if err := s.saveLocked(); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("user removed", "username", username)
	}
	return nil
}

// ResetToken replaces an account's token and returns the new one.
func (s *Store) ResetToken(username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, exists := s.users[username]
	if !exists {
		return "", schema.ErrUserNotFound
	}
	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	user.TokenHash = string(hash)
	s.users[username] = user
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return username + ":" + secret, nil
}

// Usernames returns all account names, sorted.
func (s *Store) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) ensureFile(seeds []SeedUser) error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	users := make([]User, 0, len(seeds))
	for _, seed := range seeds {
		if strings.TrimSpace(seed.Username) == "" || strings.TrimSpace(seed.TokenHash) == "" {
			continue
		}
		users = append(users, User{
			Username:    seed.Username,
			DisplayName: seed.DisplayName,
			TokenHash:   seed.TokenHash,
		})
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("user file seeded", "users", len(users))
	}
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]User, len(users))
	for _, user := range users {
		if user.Username == "" {
			continue
		}
		s.users[user.Username] = user
	}
	return nil
}

func (s *Store) saveLocked() error {
	users := make([]User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "users-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func newSecret() (string, error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
