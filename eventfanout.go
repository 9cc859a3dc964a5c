package coderoom

import (
	"pkt.systems/coderoom/core"
	"pkt.systems/coderoom/schema"
)

// eventFanout delivers every core event to each sink in order. The core
// emits under the room lock, so sinks must stay non-blocking.
type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnJoined(event schema.JoinedEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnJoined(event)
	}
}

func (f eventFanout) OnParticipantJoined(event schema.PresenceEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnParticipantJoined(event)
	}
}

func (f eventFanout) OnParticipantLeft(event schema.PresenceEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnParticipantLeft(event)
	}
}

func (f eventFanout) OnDocument(event schema.DocumentEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnDocument(event)
	}
}

func (f eventFanout) OnLanguage(event schema.LanguageEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnLanguage(event)
	}
}

func (f eventFanout) OnCursor(event schema.CursorEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnCursor(event)
	}
}

func (f eventFanout) OnCursorGone(event schema.CursorGoneEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnCursorGone(event)
	}
}

func (f eventFanout) OnRoomClosed(event schema.RoomClosedEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnRoomClosed(event)
	}
}
