package core

import "pkt.systems/coderoom/schema"

// EventSink receives room events from the core service. Implementations
// must not block: events for one room are emitted in acceptance order
// while the room's lock is held.
type EventSink interface {
	OnJoined(event schema.JoinedEvent)
	OnParticipantJoined(event schema.PresenceEvent)
	OnParticipantLeft(event schema.PresenceEvent)
	OnDocument(event schema.DocumentEvent)
	OnLanguage(event schema.LanguageEvent)
	OnCursor(event schema.CursorEvent)
	OnCursorGone(event schema.CursorGoneEvent)
	OnRoomClosed(event schema.RoomClosedEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) OnJoined(schema.JoinedEvent)             {}
func (NopSink) OnParticipantJoined(schema.PresenceEvent) {}
func (NopSink) OnParticipantLeft(schema.PresenceEvent)   {}
func (NopSink) OnDocument(schema.DocumentEvent)          {}
func (NopSink) OnLanguage(schema.LanguageEvent)          {}
func (NopSink) OnCursor(schema.CursorEvent)              {}
func (NopSink) OnCursorGone(schema.CursorGoneEvent)      {}
func (NopSink) OnRoomClosed(schema.RoomClosedEvent)      {}
