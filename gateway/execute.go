package gateway

import (
	"errors"
	"net/http"

	"pkt.systems/coderoom/internal/logx"
	"pkt.systems/coderoom/schema"
)

const maxCodeBytes = 256 << 10

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, who schema.Identity) {
	log := logx.Ctx(r.Context())
	if s.executor == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("code execution is disabled"))
		return
	}
	var payload struct {
		Code     string `json:"code"`
		Language string `json:"language"`
		Stdin    string `json:"stdin"`
		RoomID   string `json:"room_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http execute decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(payload.Code) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("code is required"))
		return
	}
	if len(payload.Code) > maxCodeBytes {
		writeError(w, http.StatusBadRequest, errors.New("code exceeds size limit"))
		return
	}
	result, err := s.executor.Execute(r.Context(), schema.ExecutionRequest{
		Code:     payload.Code,
		Language: schema.Language(payload.Language),
		Stdin:    payload.Stdin,
		UserID:   who.UserID,
		RoomID:   schema.RoomID(payload.RoomID),
	})
	if err != nil {
		if errors.Is(err, schema.ErrUnsupportedLanguage) {
			log.Warn("http execute rejected", "reason", "unsupported language", "language", payload.Language)
			writeError(w, http.StatusBadRequest, errors.New("language not supported"))
			return
		}
		log.Warn("http execute failed", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("execution failed"))
		return
	}
	// Completed runs answer 200 with the verdict in the status field,
	// including timeout and nonzero exit. A setup failure is the host's
	// fault, not the submission's, and answers 500.
	status := http.StatusOK
	if result.Status == schema.ExecSetupFailure {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
	log.Info("http execute ok", "language", payload.Language, "status", result.Status, "exit_code", result.ExitCode, "duration_ms", result.Duration.Milliseconds())
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request, _ schema.Identity) {
	if s.executor == nil {
		writeJSON(w, http.StatusOK, map[string]any{"languages": []schema.Language{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"languages": s.executor.Languages()})
}
