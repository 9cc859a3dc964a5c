package core

import (
	"context"

	"pkt.systems/coderoom/internal/logx"
	"pkt.systems/coderoom/schema"
)

// ReportCursor implements Service. Cursor state is latest-wins per
// connection, held only in memory, and never persisted. Offsets are
// normalized so start <= end always holds in stored and broadcast state;
// they are not re-validated against the current document length.
func (s *service) ReportCursor(ctx context.Context, cursor schema.CursorState) error {
	rs := s.resident(cursor.RoomID)
	if rs == nil {
		return schema.ErrRoomNotFound
	}
	cursor = schema.NormalizeCursor(cursor)

	rs.mu.Lock()
	if _, member := rs.participants[cursor.ConnID]; !member {
		rs.mu.Unlock()
		// Reports racing an eviction are dropped, not an error.
		logx.WithRoomConn(ctx, cursor.RoomID, cursor.ConnID).Debug("cursor dropped", "reason", "not a member")
		return nil
	}
	rs.cursors[cursor.ConnID] = cursor
	s.sink.OnCursor(schema.CursorEvent{RoomID: cursor.RoomID, Cursor: cursor})
	rs.mu.Unlock()
	return nil
}
