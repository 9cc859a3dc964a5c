package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"pkt.systems/coderoom/internal/logx"
	"pkt.systems/coderoom/schema"
)

const maxRoomNameLen = 120

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, who schema.Identity) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Name     string `json:"name"`
		Language string `json:"language"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http room create decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, errors.New("room name is required"))
		return
	}
	if len(name) > maxRoomNameLen {
		writeError(w, http.StatusBadRequest, errors.New("room name too long"))
		return
	}
	language := schema.NormalizeLanguage(schema.Language(payload.Language))

	now := time.Now().UTC()
	room := schema.Room{
		ID:          schema.RoomID(uuid.NewString()),
		Name:        name,
		CreatorID:   who.UserID,
		CreatorName: who.DisplayName,
		Document:    defaultDocument(language),
		Language:    language,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateRoom(r.Context(), room); err != nil {
		log.Warn("http room create failed", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("room create failed"))
		return
	}
	writeJSON(w, http.StatusCreated, room)
	log.Info("http room created", "room", room.ID, "name", name, "language", language)
}

func (s *Server) handleMyRooms(w http.ResponseWriter, r *http.Request, who schema.Identity) {
	log := logx.Ctx(r.Context())
	rooms, err := s.store.RoomsByCreator(r.Context(), who.UserID)
	if err != nil {
		log.Warn("http room list failed", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("room list failed"))
		return
	}
	if rooms == nil {
		rooms = []schema.Room{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
	log.Debug("http room list ok", "count", len(rooms))
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request, who schema.Identity) {
	roomID := schema.RoomID(mux.Vars(r)["id"])
	log := logx.WithRoom(r.Context(), roomID)
	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("room not found"))
			return
		}
		log.Warn("http room get failed", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("room get failed"))
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// handleDeleteRoom deletes a room and evicts its live participants.
// Only the creator may delete.
func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request, who schema.Identity) {
	roomID := schema.RoomID(mux.Vars(r)["id"])
	log := logx.WithRoom(r.Context(), roomID)
	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("room not found"))
			return
		}
		log.Warn("http room delete failed", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("room delete failed"))
		return
	}
	if room.CreatorID != who.UserID {
		log.Warn("http room delete rejected", "reason", "not creator", "creator", room.CreatorID)
		writeError(w, http.StatusForbidden, errors.New("only the creator can delete a room"))
		return
	}
	if err := s.store.DeleteRoom(r.Context(), roomID); err != nil && !errors.Is(err, schema.ErrNotFound) {
		log.Warn("http room delete failed", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("room delete failed"))
		return
	}
	if err := s.service.CloseRoom(r.Context(), roomID); err != nil {
		log.Warn("http room close failed", "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http room deleted")
}

func defaultDocument(language schema.Language) string {
	return fmt.Sprintf("// Start coding in %s...", language)
}
