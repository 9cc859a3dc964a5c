package core

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/coderoom/internal/logx"
	"pkt.systems/coderoom/schema"
)

// ApplyEdit implements Service. The room document is replaced wholesale:
// no diffing, no merge. When two members edit concurrently, the edit that
// arrives second fully wins.
//
// Broadcast happens before persistence: members see the accepted edit
// immediately, and a failed store write is reported to the editing
// connection only. This favors live responsiveness over persisted
// consistency and is applied uniformly to edits and language changes.
func (s *service) ApplyEdit(ctx context.Context, roomID schema.RoomID, sender schema.ConnID, text string) error {
	log := logx.WithRoomConn(ctx, roomID, sender)
	rs, err := s.load(ctx, roomID)
	if err != nil {
		log.Warn("edit rejected", "err", err)
		return err
	}

	rs.mu.Lock()
	rs.document = text
	s.sink.OnDocument(schema.DocumentEvent{RoomID: roomID, Sender: sender, Text: text})
	record := rs.record()
	// An edit against a member-less room must not pin the live state.
	s.releaseIfEmpty(rs)
	rs.mu.Unlock()

	log.Debug("edit accepted", "bytes", len(text))
	if err := s.store.SaveRoom(ctx, record); err != nil {
		log.Warn("edit persist failed", "err", err)
		return fmt.Errorf("%w: %v", schema.ErrPersistence, err)
	}
	return nil
}

// ApplyLanguageChange implements Service, with the same replace-and-
// broadcast semantics as ApplyEdit.
func (s *service) ApplyLanguageChange(ctx context.Context, roomID schema.RoomID, sender schema.ConnID, language schema.Language) error {
	log := logx.WithRoomConn(ctx, roomID, sender)
	rs, err := s.load(ctx, roomID)
	if err != nil {
		log.Warn("language change rejected", "err", err)
		return err
	}
	language = schema.NormalizeLanguage(language)

	rs.mu.Lock()
	rs.language = language
	s.sink.OnLanguage(schema.LanguageEvent{RoomID: roomID, Sender: sender, Language: language})
	record := rs.record()
	s.releaseIfEmpty(rs)
	rs.mu.Unlock()

	log.Info("language changed", "language", language)
	if err := s.store.SaveRoom(ctx, record); err != nil {
		log.Warn("language persist failed", "err", err)
		return fmt.Errorf("%w: %v", schema.ErrPersistence, err)
	}
	return nil
}

// Snapshot implements Service.
func (s *service) Snapshot(ctx context.Context, roomID schema.RoomID) (string, schema.Language, error) {
	if rs := s.resident(roomID); rs != nil {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		return rs.document, rs.language, nil
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			return "", "", schema.ErrRoomNotFound
		}
		return "", "", err
	}
	return room.Document, schema.NormalizeLanguage(room.Language), nil
}
