// Package pgstore is a document store backed by PostgreSQL via pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id      TEXT PRIMARY KEY,
	room_name    TEXT NOT NULL,
	creator_id   TEXT NOT NULL,
	creator_name TEXT NOT NULL DEFAULT '',
	document     TEXT NOT NULL DEFAULT '',
	language     TEXT NOT NULL DEFAULT 'javascript',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS rooms_creator_idx ON rooms (creator_id);
CREATE TABLE IF NOT EXISTS users (
	user_id      TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT ''
);
`

// Store persists rooms and users in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	log  pslog.Logger
}

// New connects to the database and bootstraps the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	return NewWithLogger(ctx, databaseURL, nil)
}

// NewWithLogger connects with logging.
func NewWithLogger(ctx context.Context, databaseURL string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg bootstrap: %w", err)
	}
	if logger != nil {
		logger.Info("pg store ready")
	}
	return &Store{pool: pool, log: logger}, nil
}

// CreateRoom inserts a new room record.
func (s *Store) CreateRoom(ctx context.Context, room schema.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (room_id, room_name, creator_id, creator_name, document, language, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		room.ID, room.Name, room.CreatorID, room.CreatorName, room.Document, room.Language, room.CreatedAt)
	return err
}

// GetRoom reads a room record.
func (s *Store) GetRoom(ctx context.Context, id schema.RoomID) (schema.Room, error) {
	var room schema.Room
	err := s.pool.QueryRow(ctx,
		`SELECT room_id, room_name, creator_id, creator_name, document, language, created_at, updated_at
		 FROM rooms WHERE room_id = $1`, id).
		Scan(&room.ID, &room.Name, &room.CreatorID, &room.CreatorName,
			&room.Document, &room.Language, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Room{}, schema.ErrNotFound
	}
	if err != nil {
		return schema.Room{}, err
	}
	return room, nil
}

// SaveRoom replaces the mutable room fields.
func (s *Store) SaveRoom(ctx context.Context, room schema.Room) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms SET room_name = $2, document = $3, language = $4, updated_at = now()
		 WHERE room_id = $1`,
		room.ID, room.Name, room.Document, room.Language)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return schema.ErrNotFound
	}
	return nil
}

// DeleteRoom removes a room record.
func (s *Store) DeleteRoom(ctx context.Context, id schema.RoomID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE room_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return schema.ErrNotFound
	}
	return nil
}

// RoomsByCreator lists rooms created by the given user, newest first.
func (s *Store) RoomsByCreator(ctx context.Context, creator schema.UserID) ([]schema.Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT room_id, room_name, creator_id, creator_name, document, language, created_at, updated_at
		 FROM rooms WHERE creator_id = $1 ORDER BY created_at DESC`, creator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rooms []schema.Room
	for rows.Next() {
		var room schema.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatorID, &room.CreatorName,
			&room.Document, &room.Language, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// EnsureUser upserts a user record.
func (s *Store) EnsureUser(ctx context.Context, identity schema.Identity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, display_name) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		identity.UserID, identity.DisplayName)
	return err
}

// GetUser reads a user record.
func (s *Store) GetUser(ctx context.Context, id schema.UserID) (schema.Identity, error) {
	var identity schema.Identity
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, display_name FROM users WHERE user_id = $1`, id).
		Scan(&identity.UserID, &identity.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Identity{}, schema.ErrNotFound
	}
	if err != nil {
		return schema.Identity{}, err
	}
	return identity, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}
