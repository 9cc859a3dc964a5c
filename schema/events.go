package schema

// Events emitted by the core service toward the connection boundary.
// Delivery order within one room equals acceptance order at the core.

// JoinedEvent is directed at a single connection after a successful join.
// It carries the room metadata plus the document snapshot the client
// must render before applying any later updates.
type JoinedEvent struct {
	RoomID      RoomID
	ConnID      ConnID
	RoomName    string
	CreatorName string
	Document    string
	Language    Language
}

// PresenceEvent reports a membership change in a room. Participants is the
// full room membership after the change, including the actor on join and
// excluding it on leave.
type PresenceEvent struct {
	RoomID       RoomID
	Actor        Participant
	Participants []Participant
}

// DocumentEvent reports an accepted whole-document replacement.
type DocumentEvent struct {
	RoomID RoomID
	Sender ConnID
	Text   string
}

// LanguageEvent reports an accepted language tag change.
type LanguageEvent struct {
	RoomID   RoomID
	Sender   ConnID
	Language Language
}

// CursorEvent reports the latest cursor state for one connection.
type CursorEvent struct {
	RoomID RoomID
	Cursor CursorState
}

// CursorGoneEvent tells remaining members to stop rendering a cursor.
type CursorGoneEvent struct {
	RoomID RoomID
	ConnID ConnID
}

// RoomClosedEvent reports that a room was deleted and its live
// connections evicted.
type RoomClosedEvent struct {
	RoomID  RoomID
	Members []ConnID
}
