package gateway

import (
	"sync"

	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

// Hub fans core events out to websocket connections. It implements
// core.EventSink; the core invokes it while holding the room lock, so
// delivery order per room equals acceptance order. Enqueueing never
// blocks: a connection that cannot drain its queue is dropped.
type Hub struct {
	log pslog.Logger

	mu    sync.Mutex
	conns map[schema.ConnID]*wsConn
	rooms map[schema.RoomID]map[schema.ConnID]struct{}
}

// NewHub constructs an empty hub.
func NewHub(log pslog.Logger) *Hub {
	return &Hub{
		log:   log,
		conns: make(map[schema.ConnID]*wsConn),
		rooms: make(map[schema.RoomID]map[schema.ConnID]struct{}),
	}
}

func (h *Hub) register(conn *wsConn) {
	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()
}

func (h *Hub) unregister(connID schema.ConnID) {
	h.mu.Lock()
	delete(h.conns, connID)
	for roomID, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// members returns the live connections attached to a room, skipping the
// excluded connection ids.
func (h *Hub) members(roomID schema.RoomID, exclude ...schema.ConnID) []*wsConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.rooms[roomID]
	out := make([]*wsConn, 0, len(set))
outer:
	for connID := range set {
		for _, ex := range exclude {
			if connID == ex {
				continue outer
			}
		}
		if conn := h.conns[connID]; conn != nil {
			out = append(out, conn)
		}
	}
	return out
}

// reconcile rebuilds a room's connection set from the authoritative
// participant list. Replaced connections fall out of the set here.
func (h *Hub) reconcile(roomID schema.RoomID, participants []schema.Participant) {
	set := make(map[schema.ConnID]struct{}, len(participants))
	for _, p := range participants {
		set[p.ConnID] = struct{}{}
	}
	h.mu.Lock()
	if len(set) == 0 {
		delete(h.rooms, roomID)
	} else {
		h.rooms[roomID] = set
	}
	h.mu.Unlock()
}

func (h *Hub) sendTo(connID schema.ConnID, env envelope) {
	h.mu.Lock()
	conn := h.conns[connID]
	h.mu.Unlock()
	if conn != nil {
		conn.enqueue(env)
	}
}

func (h *Hub) broadcast(roomID schema.RoomID, env envelope, exclude ...schema.ConnID) {
	for _, conn := range h.members(roomID, exclude...) {
		conn.enqueue(env)
	}
}

// OnJoined implements core.EventSink. The joiner is attached to the room
// and receives the document snapshot before any later room broadcast.
func (h *Hub) OnJoined(ev schema.JoinedEvent) {
	h.mu.Lock()
	set := h.rooms[ev.RoomID]
	if set == nil {
		set = make(map[schema.ConnID]struct{})
		h.rooms[ev.RoomID] = set
	}
	set[ev.ConnID] = struct{}{}
	h.mu.Unlock()

	h.sendTo(ev.ConnID, mustEnvelope(evJoined, joinedPayload{
		RoomID:      ev.RoomID,
		ConnID:      ev.ConnID,
		RoomName:    ev.RoomName,
		CreatorName: ev.CreatorName,
		Document:    ev.Document,
		Language:    ev.Language,
	}))
}

// OnParticipantJoined implements core.EventSink.
func (h *Hub) OnParticipantJoined(ev schema.PresenceEvent) {
	h.reconcile(ev.RoomID, ev.Participants)
	h.broadcast(ev.RoomID, mustEnvelope(evParticipantJoined, presencePayload{
		RoomID:       ev.RoomID,
		Actor:        ev.Actor,
		Participants: ev.Participants,
	}))
}

// OnParticipantLeft implements core.EventSink.
func (h *Hub) OnParticipantLeft(ev schema.PresenceEvent) {
	h.reconcile(ev.RoomID, ev.Participants)
	h.broadcast(ev.RoomID, mustEnvelope(evParticipantLeft, presencePayload{
		RoomID:       ev.RoomID,
		Actor:        ev.Actor,
		Participants: ev.Participants,
	}))
}

// OnDocument implements core.EventSink. The sender already has the text.
func (h *Hub) OnDocument(ev schema.DocumentEvent) {
	h.broadcast(ev.RoomID, mustEnvelope(evDocumentUpdated, documentUpdatedPayload{
		RoomID: ev.RoomID,
		Sender: ev.Sender,
		Text:   ev.Text,
	}), ev.Sender)
}

// OnLanguage implements core.EventSink.
func (h *Hub) OnLanguage(ev schema.LanguageEvent) {
	h.broadcast(ev.RoomID, mustEnvelope(evLanguageUpdated, languageUpdatedPayload{
		RoomID:   ev.RoomID,
		Sender:   ev.Sender,
		Language: ev.Language,
	}), ev.Sender)
}

// OnCursor implements core.EventSink.
func (h *Hub) OnCursor(ev schema.CursorEvent) {
	h.broadcast(ev.RoomID, mustEnvelope(evCursorUpdated, cursorUpdatedPayload{
		RoomID: ev.RoomID,
		Cursor: ev.Cursor,
	}), ev.Cursor.ConnID)
}

// OnCursorGone implements core.EventSink.
func (h *Hub) OnCursorGone(ev schema.CursorGoneEvent) {
	h.broadcast(ev.RoomID, mustEnvelope(evCursorGone, cursorGonePayload{
		RoomID: ev.RoomID,
		ConnID: ev.ConnID,
	}), ev.ConnID)
}

// OnRoomClosed implements core.EventSink. Evicted connections stay open;
// they are just detached from the room.
func (h *Hub) OnRoomClosed(ev schema.RoomClosedEvent) {
	env := mustEnvelope(evRoomClosed, roomClosedPayload{RoomID: ev.RoomID})
	for _, connID := range ev.Members {
		h.sendTo(connID, env)
	}
	h.mu.Lock()
	delete(h.rooms, ev.RoomID)
	h.mu.Unlock()
}
