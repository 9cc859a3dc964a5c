package core

import (
	"context"

	"pkt.systems/coderoom/internal/logx"
	"pkt.systems/coderoom/schema"
)

// Join implements Service.
func (s *service) Join(ctx context.Context, roomID schema.RoomID, connID schema.ConnID, who schema.Identity) error {
	log := logx.WithRoomConn(ctx, roomID, connID).With("user", who.UserID)

	// A connection attaches to at most one room. A join while attached
	// elsewhere evicts the connection from its prior room first, so no
	// participant entry outlives the move.
	s.mu.Lock()
	prior, attached := s.conns[connID]
	s.mu.Unlock()
	if attached && prior != roomID {
		if from, ok := s.Leave(ctx, connID); ok {
			log.Info("participant moved rooms", "from", from)
		}
	}

	rs, err := s.load(ctx, roomID)
	if err != nil {
		log.Warn("join rejected", "err", err)
		return err
	}

	rs.mu.Lock()
	// One live entry per user identity: a reconnect replaces the prior
	// connection id instead of adding a second participant.
	var replaced schema.ConnID
	for oldConn, p := range rs.participants {
		if p.UserID == who.UserID && oldConn != connID {
			replaced = oldConn
			delete(rs.participants, oldConn)
			delete(rs.cursors, oldConn)
			break
		}
	}
	actor := schema.Participant{ConnID: connID, UserID: who.UserID, DisplayName: who.DisplayName}
	rs.participants[connID] = actor
	s.bindConn(connID, roomID)
	if replaced != "" {
		s.unbindConn(replaced)
		s.sink.OnCursorGone(schema.CursorGoneEvent{RoomID: roomID, ConnID: replaced})
	}
	s.sink.OnJoined(schema.JoinedEvent{
		RoomID:      roomID,
		ConnID:      connID,
		RoomName:    rs.name,
		CreatorName: rs.creatorName,
		Document:    rs.document,
		Language:    rs.language,
	})
	s.sink.OnParticipantJoined(schema.PresenceEvent{
		RoomID:       roomID,
		Actor:        actor,
		Participants: rs.participantList(),
	})
	members := len(rs.participants)
	rs.mu.Unlock()

	if replaced != "" {
		log.Info("participant rejoined", "replaced_conn", replaced, "members", members)
	} else {
		log.Info("participant joined", "members", members)
	}
	return nil
}

// Leave implements Service.
func (s *service) Leave(ctx context.Context, connID schema.ConnID) (schema.RoomID, bool) {
	s.mu.Lock()
	roomID, attached := s.conns[connID]
	rs := s.rooms[roomID]
	s.mu.Unlock()
	if !attached || rs == nil {
		return "", false
	}

	rs.mu.Lock()
	actor, present := rs.participants[connID]
	if !present {
		rs.mu.Unlock()
		s.unbindConn(connID)
		return "", false
	}
	delete(rs.participants, connID)
	_, hadCursor := rs.cursors[connID]
	delete(rs.cursors, connID)
	s.unbindConn(connID)
	if hadCursor {
		s.sink.OnCursorGone(schema.CursorGoneEvent{RoomID: roomID, ConnID: connID})
	}
	s.sink.OnParticipantLeft(schema.PresenceEvent{
		RoomID:       roomID,
		Actor:        actor,
		Participants: rs.participantList(),
	})
	members := len(rs.participants)
	s.releaseIfEmpty(rs)
	rs.mu.Unlock()

	logx.WithRoomConn(ctx, roomID, connID).Info("participant left", "members", members)
	return roomID, true
}

// ListParticipants implements Service.
func (s *service) ListParticipants(roomID schema.RoomID) []schema.Participant {
	rs := s.resident(roomID)
	if rs == nil {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.participantList()
}

// CloseRoom implements Service.
func (s *service) CloseRoom(ctx context.Context, roomID schema.RoomID) error {
	rs := s.resident(roomID)
	if rs == nil {
		return nil
	}
	rs.mu.Lock()
	members := make([]schema.ConnID, 0, len(rs.participants))
	for connID := range rs.participants {
		members = append(members, connID)
		s.unbindConn(connID)
	}
	rs.participants = make(map[schema.ConnID]schema.Participant)
	rs.cursors = make(map[schema.ConnID]schema.CursorState)
	if len(members) > 0 {
		s.sink.OnRoomClosed(schema.RoomClosedEvent{RoomID: roomID, Members: members})
	}
	s.releaseIfEmpty(rs)
	rs.mu.Unlock()

	logx.WithRoom(ctx, roomID).Info("room closed", "evicted", len(members))
	return nil
}
