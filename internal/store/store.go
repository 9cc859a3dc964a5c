// Package store defines the document store gateway consumed by the core.
// The core treats it as an external collaborator: simple create/read/
// update/delete calls with no concurrency behavior of its own.
package store

import (
	"context"

	"pkt.systems/coderoom/schema"
)

// Store is the durable reader/writer for rooms and user records.
// Implementations return schema.ErrNotFound when a record is missing.
type Store interface {
	CreateRoom(ctx context.Context, room schema.Room) error
	GetRoom(ctx context.Context, id schema.RoomID) (schema.Room, error)
	SaveRoom(ctx context.Context, room schema.Room) error
	DeleteRoom(ctx context.Context, id schema.RoomID) error
	RoomsByCreator(ctx context.Context, creator schema.UserID) ([]schema.Room, error)

	EnsureUser(ctx context.Context, identity schema.Identity) error
	GetUser(ctx context.Context, id schema.UserID) (schema.Identity, error)

	Close() error
}
