package gateway

import (
	"encoding/json"

	"pkt.systems/coderoom/schema"
)

// envelope is the wire frame for every websocket message, both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client to server events.
const (
	evJoin           = "join"
	evDocumentEdit   = "documentEdit"
	evLanguageChange = "languageChange"
	evCursorReport   = "cursorReport"
)

// Server to client events.
const (
	evJoined            = "joined"
	evJoinRejected      = "joinRejected"
	evDocumentUpdated   = "documentUpdated"
	evLanguageUpdated   = "languageUpdated"
	evCursorUpdated     = "cursorUpdated"
	evCursorGone        = "cursorGone"
	evParticipantJoined = "participantJoined"
	evParticipantLeft   = "participantLeft"
	evRoomClosed        = "roomClosed"
	evError             = "error"
)

type joinPayload struct {
	RoomID schema.RoomID `json:"room_id"`
}

type documentEditPayload struct {
	RoomID schema.RoomID `json:"room_id"`
	Text   string        `json:"text"`
}

type languageChangePayload struct {
	RoomID   schema.RoomID   `json:"room_id"`
	Language schema.Language `json:"language"`
}

type cursorReportPayload struct {
	RoomID         schema.RoomID `json:"room_id"`
	Position       int           `json:"position"`
	SelectionStart int           `json:"selection_start"`
	SelectionEnd   int           `json:"selection_end"`
}

type joinedPayload struct {
	RoomID      schema.RoomID   `json:"room_id"`
	ConnID      schema.ConnID   `json:"conn_id"`
	RoomName    string          `json:"room_name"`
	CreatorName string          `json:"creator_name"`
	Document    string          `json:"document"`
	Language    schema.Language `json:"language"`
}

type joinRejectedPayload struct {
	RoomID schema.RoomID `json:"room_id"`
	Error  string        `json:"error"`
}

type documentUpdatedPayload struct {
	RoomID schema.RoomID `json:"room_id"`
	Sender schema.ConnID `json:"sender"`
	Text   string        `json:"text"`
}

type languageUpdatedPayload struct {
	RoomID   schema.RoomID   `json:"room_id"`
	Sender   schema.ConnID   `json:"sender"`
	Language schema.Language `json:"language"`
}

type cursorUpdatedPayload struct {
	RoomID schema.RoomID      `json:"room_id"`
	Cursor schema.CursorState `json:"cursor"`
}

type cursorGonePayload struct {
	RoomID schema.RoomID `json:"room_id"`
	ConnID schema.ConnID `json:"conn_id"`
}

type presencePayload struct {
	RoomID       schema.RoomID        `json:"room_id"`
	Actor        schema.Participant   `json:"actor"`
	Participants []schema.Participant `json:"participants"`
}

type roomClosedPayload struct {
	RoomID schema.RoomID `json:"room_id"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func mustEnvelope(event string, payload any) envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		return envelope{Event: event}
	}
	return envelope{Event: event, Data: data}
}
