package schema

import "time"

// UserID identifies a user as resolved by the identity provider.
type UserID string

// ConnID identifies one live realtime connection.
type ConnID string

// RoomID identifies a collaborative room.
type RoomID string

// Language identifies a runnable language tag (e.g. "python").
type Language string

// DefaultLanguage is assigned to rooms created without an explicit language.
const DefaultLanguage Language = "javascript"

// Identity is a verified user identity.
type Identity struct {
	UserID      UserID `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Participant is one user's live membership in a room. A user has at most
// one Participant per room; reconnects replace the ConnID in place.
type Participant struct {
	ConnID      ConnID `json:"conn_id"`
	UserID      UserID `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Room is the durable room record held by the document store.
type Room struct {
	ID          RoomID    `json:"room_id"`
	Name        string    `json:"room_name"`
	CreatorID   UserID    `json:"creator_id"`
	CreatorName string    `json:"creator_name"`
	Document    string    `json:"document"`
	Language    Language  `json:"language"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CursorState is the latest cursor/selection report for one connection.
// It is ephemeral: held in memory only and dropped on eviction.
type CursorState struct {
	ConnID         ConnID `json:"conn_id"`
	RoomID         RoomID `json:"room_id"`
	Position       int    `json:"position"`
	SelectionStart int    `json:"selection_start"`
	SelectionEnd   int    `json:"selection_end"`
	DisplayName    string `json:"display_name"`
}
