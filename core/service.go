// Package core implements the collaborative session service: the session
// registry, the document synchronizer, and the presence broadcaster.
//
// All operations touching one room's shared state are serialized by that
// room's lock; different rooms proceed fully in parallel. Store writes are
// never performed while a room lock is held.
package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pkt.systems/coderoom/internal/store"
	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

// Service is the façade over the collaborative room core.
type Service interface {
	// Join admits a connection to a room and emits the document snapshot
	// plus a membership broadcast. A rejoin by the same user identity
	// replaces the prior connection rather than duplicating it.
	Join(ctx context.Context, roomID schema.RoomID, connID schema.ConnID, who schema.Identity) error
	// Leave evicts a connection, if attached, and broadcasts departure.
	// Safe to call for connections that never joined.
	Leave(ctx context.Context, connID schema.ConnID) (schema.RoomID, bool)
	// ListParticipants returns a point-in-time snapshot of a room's live set.
	ListParticipants(roomID schema.RoomID) []schema.Participant
	// ApplyEdit replaces the room document, last writer wins.
	ApplyEdit(ctx context.Context, roomID schema.RoomID, sender schema.ConnID, text string) error
	// ApplyLanguageChange replaces the room language tag, last writer wins.
	ApplyLanguageChange(ctx context.Context, roomID schema.RoomID, sender schema.ConnID, language schema.Language) error
	// ReportCursor stores and broadcasts a connection's latest cursor state.
	ReportCursor(ctx context.Context, cursor schema.CursorState) error
	// Snapshot returns the room's current document text and language.
	Snapshot(ctx context.Context, roomID schema.RoomID) (string, schema.Language, error)
	// CloseRoom evicts every live connection from a deleted room.
	CloseRoom(ctx context.Context, roomID schema.RoomID) error
}

// ServiceDeps captures the service's collaborators.
type ServiceDeps struct {
	Store     store.Store
	EventSink EventSink
	Logger    pslog.Logger
}

// NewService constructs the core service.
func NewService(deps ServiceDeps) (Service, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.EventSink == nil {
		deps.EventSink = NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = pslog.Ctx(context.Background())
	}
	return &service{
		store: deps.Store,
		sink:  deps.EventSink,
		log:   deps.Logger,
		rooms: make(map[schema.RoomID]*roomState),
		conns: make(map[schema.ConnID]schema.RoomID),
	}, nil
}

type service struct {
	store store.Store
	sink  EventSink
	log   pslog.Logger

	// mu guards the rooms and conns maps only. Room contents are guarded
	// by each roomState's own lock; lock order is roomState.mu before mu.
	mu    sync.Mutex
	rooms map[schema.RoomID]*roomState
	conns map[schema.ConnID]schema.RoomID
}

// roomState is the in-memory working state of one room with live members.
type roomState struct {
	mu           sync.Mutex
	id           schema.RoomID
	name         string
	creatorID    schema.UserID
	creatorName  string
	createdAt    time.Time
	document     string
	language     schema.Language
	participants map[schema.ConnID]schema.Participant
	cursors      map[schema.ConnID]schema.CursorState
}

// record assembles the durable room record from the live state.
// Caller holds the room lock.
func (rs *roomState) record() schema.Room {
	return schema.Room{
		ID:          rs.id,
		Name:        rs.name,
		CreatorID:   rs.creatorID,
		CreatorName: rs.creatorName,
		Document:    rs.document,
		Language:    rs.language,
		CreatedAt:   rs.createdAt,
	}
}

// resident returns the room's live state, or nil when no connection is
// currently attached to it.
func (s *service) resident(roomID schema.RoomID) *roomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID]
}

// load returns the room's live state, pulling the record from the store
// when the room is not yet resident.
func (s *service) load(ctx context.Context, roomID schema.RoomID) (*roomState, error) {
	if rs := s.resident(roomID); rs != nil {
		return rs, nil
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			return nil, schema.ErrRoomNotFound
		}
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs := s.rooms[roomID]; rs != nil {
		return rs, nil
	}
	rs := &roomState{
		id:           roomID,
		name:         room.Name,
		creatorID:    room.CreatorID,
		creatorName:  room.CreatorName,
		createdAt:    room.CreatedAt,
		document:     room.Document,
		language:     schema.NormalizeLanguage(room.Language),
		participants: make(map[schema.ConnID]schema.Participant),
		cursors:      make(map[schema.ConnID]schema.CursorState),
	}
	s.rooms[roomID] = rs
	return rs, nil
}

// bindConn records the connection's room in the side table.
// Called while holding the room lock; takes mu nested.
func (s *service) bindConn(connID schema.ConnID, roomID schema.RoomID) {
	s.mu.Lock()
	s.conns[connID] = roomID
	s.mu.Unlock()
}

func (s *service) unbindConn(connID schema.ConnID) {
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
}

// releaseIfEmpty drops the room's live state once the last member left.
// The durable record stays in the store; the next join reloads it.
func (s *service) releaseIfEmpty(rs *roomState) {
	if len(rs.participants) > 0 {
		return
	}
	s.mu.Lock()
	if current := s.rooms[rs.id]; current == rs {
		delete(s.rooms, rs.id)
	}
	s.mu.Unlock()
}

// participantList returns the room membership sorted for stable broadcasts.
// Caller holds the room lock.
func (rs *roomState) participantList() []schema.Participant {
	out := make([]schema.Participant, 0, len(rs.participants))
	for _, p := range rs.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ConnID < out[j].ConnID
	})
	return out
}
