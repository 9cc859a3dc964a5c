// Package logx annotates context-bound loggers with room, connection, and
// user identifiers, de-duplicating fields already present on the context.
package logx

import (
	"context"

	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	userKey contextKey = iota
	roomKey
	connKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithUser annotates the logger with the user id if present.
func WithUser(ctx context.Context, userID schema.UserID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if userID != "" {
		if current, ok := ctx.Value(userKey).(schema.UserID); ok && current == userID {
			return log
		}
		log = log.With("user", userID)
	}
	return log
}

// WithRoom annotates the logger with the room id if present.
func WithRoom(ctx context.Context, roomID schema.RoomID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if roomID != "" {
		if current, ok := ctx.Value(roomKey).(schema.RoomID); ok && current == roomID {
			return log
		}
		log = log.With("room", roomID)
	}
	return log
}

// WithRoomConn annotates the logger with room and connection identifiers.
func WithRoomConn(ctx context.Context, roomID schema.RoomID, connID schema.ConnID) pslog.Logger {
	log := WithRoom(ctx, roomID)
	if connID != "" {
		if current, ok := ctx.Value(connKey).(schema.ConnID); ok && current == connID {
			return log
		}
		log = log.With("conn", connID)
	}
	return log
}

// ContextWithUser stores the user marker on the context for log de-duplication.
func ContextWithUser(ctx context.Context, userID schema.UserID) context.Context {
	if ctx == nil || userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}

// ContextWithRoom stores the room marker on the context for log de-duplication.
func ContextWithRoom(ctx context.Context, roomID schema.RoomID) context.Context {
	if ctx == nil || roomID == "" {
		return ctx
	}
	return context.WithValue(ctx, roomKey, roomID)
}

// ContextWithConn stores the connection marker on the context for log de-duplication.
func ContextWithConn(ctx context.Context, connID schema.ConnID) context.Context {
	if ctx == nil || connID == "" {
		return ctx
	}
	return context.WithValue(ctx, connKey, connID)
}

// ContextWithConnLogger attaches the logger and room/conn markers to the context.
func ContextWithConnLogger(ctx context.Context, log pslog.Logger, roomID schema.RoomID, connID schema.ConnID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithConn(ContextWithRoom(ctx, roomID), connID)
}
