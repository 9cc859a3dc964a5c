// Package filestore is a document store backed by JSON files on disk.
// One file per room and per user; writes are atomic via rename.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"context"

	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

// Store persists rooms and users under a state directory.
type Store struct {
	roomDir string
	userDir string
	mu      sync.Mutex
	log     pslog.Logger
}

// New constructs a file store rooted at dir.
func New(dir string) (*Store, error) {
	return NewWithLogger(dir, nil)
}

// NewWithLogger constructs a file store with logging.
func NewWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("store directory is required")
	}
	roomDir := filepath.Join(dir, "rooms")
	userDir := filepath.Join(dir, "users")
	for _, d := range []string{roomDir, userDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, err
		}
	}
	if logger != nil {
		logger = logger.With("store_dir", dir)
	}
	return &Store{roomDir: roomDir, userDir: userDir, log: logger}, nil
}

// CreateRoom writes a new room record.
func (s *Store) CreateRoom(_ context.Context, room schema.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.roomPath(room.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("room %s: already exists", room.ID)
	}
	return s.writeJSON(path, room)
}

// GetRoom reads a room record.
func (s *Store) GetRoom(_ context.Context, id schema.RoomID) (schema.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var room schema.Room
	if err := s.readJSON(s.roomPath(id), &room); err != nil {
		return schema.Room{}, err
	}
	return room, nil
}

// SaveRoom replaces a room record.
func (s *Store) SaveRoom(_ context.Context, room schema.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.UpdatedAt = time.Now().UTC()
	return s.writeJSON(s.roomPath(room.ID), room)
}

// DeleteRoom removes a room record.
func (s *Store) DeleteRoom(_ context.Context, id schema.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.roomPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return schema.ErrNotFound
	}
	return err
}

// RoomsByCreator lists rooms created by the given user, newest first.
func (s *Store) RoomsByCreator(_ context.Context, creator schema.UserID) ([]schema.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.roomDir)
	if err != nil {
		return nil, err
	}
	var rooms []schema.Room
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var room schema.Room
		if err := s.readJSON(filepath.Join(s.roomDir, entry.Name()), &room); err != nil {
			if s.log != nil {
				s.log.Warn("room list skip", "file", entry.Name(), "err", err)
			}
			continue
		}
		if room.CreatorID == creator {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
	return rooms, nil
}

// EnsureUser upserts a user record.
func (s *Store) EnsureUser(_ context.Context, identity schema.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.userPath(identity.UserID), identity)
}

// GetUser reads a user record.
func (s *Store) GetUser(_ context.Context, id schema.UserID) (schema.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var identity schema.Identity
	if err := s.readJSON(s.userPath(id), &identity); err != nil {
		return schema.Identity{}, err
	}
	return identity, nil
}

// Close is a no-op for the file store.
func (s *Store) Close() error { return nil }

func (s *Store) readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *Store) writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "store-*.json")
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
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if s.log != nil {
		s.log.Trace("store write ok", "path", path)
	}
	return nil
}

func (s *Store) roomPath(id schema.RoomID) string {
	return filepath.Join(s.roomDir, sanitize(string(id))+".json")
}

func (s *Store) userPath(id schema.UserID) string {
	return filepath.Join(s.userDir, sanitize(string(id))+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
