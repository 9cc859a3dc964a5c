package filestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/coderoom/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestRoomRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	room := schema.Room{
		ID:        "r1",
		Name:      "scratch",
		CreatorID: "alice",
		Document:  "print(1)",
		Language:  "python",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	got, err := store.GetRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.Document != "print(1)" || got.Language != "python" {
		t.Fatalf("unexpected room: %+v", got)
	}

	room.Document = "print(2)"
	if err := store.SaveRoom(ctx, room); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	got, err = store.GetRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRoom after save: %v", err)
	}
	if got.Document != "print(2)" {
		t.Fatalf("save not visible: %+v", got)
	}
}

func TestGetRoomMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetRoom(context.Background(), "nope"); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRoom(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateRoom(ctx, schema.Room{ID: "r1"}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := store.DeleteRoom(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if err := store.DeleteRoom(ctx, "r1"); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestRoomsByCreator(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i, creator := range []schema.UserID{"alice", "bob", "alice"} {
		room := schema.Room{
			ID:        schema.RoomID([]string{"r1", "r2", "r3"}[i]),
			CreatorID: creator,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.CreateRoom(ctx, room); err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
	}
	rooms, err := store.RoomsByCreator(ctx, "alice")
	if err != nil {
		t.Fatalf("RoomsByCreator: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
	if rooms[0].ID != "r3" || rooms[1].ID != "r1" {
		t.Fatalf("expected newest first, got %v then %v", rooms[0].ID, rooms[1].ID)
	}
}

func TestUserRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.EnsureUser(ctx, schema.Identity{UserID: "alice", DisplayName: "Alice"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	got, err := store.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.DisplayName != "Alice" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if _, err := store.GetUser(ctx, "carol"); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
