package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/coderoom/schema"
)

// fakeStore is an in-memory store.Store for core tests.
type fakeStore struct {
	mu      sync.Mutex
	rooms   map[schema.RoomID]schema.Room
	saveErr error
	saves   int
}

func newFakeStore(rooms ...schema.Room) *fakeStore {
	fs := &fakeStore{rooms: make(map[schema.RoomID]schema.Room)}
	for _, r := range rooms {
		fs.rooms[r.ID] = r
	}
	return fs
}

func (f *fakeStore) CreateRoom(ctx context.Context, room schema.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[room.ID] = room
	return nil
}

func (f *fakeStore) GetRoom(ctx context.Context, id schema.RoomID) (schema.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return schema.Room{}, schema.ErrNotFound
	}
	return room, nil
}

func (f *fakeStore) SaveRoom(ctx context.Context, room schema.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	room.UpdatedAt = time.Now()
	f.rooms[room.ID] = room
	return nil
}

func (f *fakeStore) DeleteRoom(ctx context.Context, id schema.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[id]; !ok {
		return schema.ErrNotFound
	}
	delete(f.rooms, id)
	return nil
}

func (f *fakeStore) RoomsByCreator(ctx context.Context, creator schema.UserID) ([]schema.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []schema.Room
	for _, r := range f.rooms {
		if r.CreatorID == creator {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) EnsureUser(ctx context.Context, identity schema.Identity) error {
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id schema.UserID) (schema.Identity, error) {
	return schema.Identity{}, schema.ErrNotFound
}

func (f *fakeStore) Close() error { return nil }

// recordedEvent tags each sink callback so tests can assert ordering.
type recordedEvent struct {
	kind string
	ev   any
}

// recordingSink captures every event in emission order.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingSink) add(kind string, ev any) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{kind: kind, ev: ev})
	r.mu.Unlock()
}

func (r *recordingSink) OnJoined(ev schema.JoinedEvent)            { r.add("joined", ev) }
func (r *recordingSink) OnParticipantJoined(ev schema.PresenceEvent) { r.add("participantJoined", ev) }
func (r *recordingSink) OnParticipantLeft(ev schema.PresenceEvent)   { r.add("participantLeft", ev) }
func (r *recordingSink) OnDocument(ev schema.DocumentEvent)          { r.add("document", ev) }
func (r *recordingSink) OnLanguage(ev schema.LanguageEvent)          { r.add("language", ev) }
func (r *recordingSink) OnCursor(ev schema.CursorEvent)              { r.add("cursor", ev) }
func (r *recordingSink) OnCursorGone(ev schema.CursorGoneEvent)      { r.add("cursorGone", ev) }
func (r *recordingSink) OnRoomClosed(ev schema.RoomClosedEvent)      { r.add("roomClosed", ev) }

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

func (r *recordingSink) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func testRoom(id schema.RoomID) schema.Room {
	return schema.Room{
		ID:          id,
		Name:        "pairing",
		CreatorID:   "alice",
		CreatorName: "Alice",
		Document:    "// Start coding in javascript...",
		Language:    "javascript",
		CreatedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func newTestService(store *fakeStore, sink EventSink) Service {
	svc, err := NewService(ServiceDeps{Store: store, EventSink: sink})
	if err != nil {
		panic(err)
	}
	return svc
}

// errIs keeps test call sites short.
func errIs(err, target error) bool { return errors.Is(err, target) }
