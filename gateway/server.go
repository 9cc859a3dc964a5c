// Package gateway exposes the collaborative editor over HTTP and
// websockets: room CRUD and code execution as a JSON API, live editing
// as an event stream per connection.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"pkt.systems/coderoom/core"
	"pkt.systems/coderoom/internal/auth"
	"pkt.systems/coderoom/internal/logx"
	"pkt.systems/coderoom/internal/store"
	"pkt.systems/coderoom/schema"
)

// Executor runs code submissions. Satisfied by sandbox.Service.
type Executor interface {
	Execute(ctx context.Context, req schema.ExecutionRequest) (schema.ExecutionResult, error)
	Languages() []schema.Language
}

// Config configures the gateway.
type Config struct {
	Addr string
}

// Server serves the HTTP API and the websocket endpoint.
type Server struct {
	cfg      Config
	service  core.Service
	store    store.Store
	verifier auth.Verifier
	executor Executor
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer constructs the gateway server.
func NewServer(cfg Config, service core.Service, st store.Store, verifier auth.Verifier, executor Executor, hub *Hub) *Server {
	return &Server{
		cfg:      cfg,
		service:  service,
		store:    st,
		verifier: verifier,
		executor: executor,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Tokens gate access, not origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/rooms", s.requireToken(s.handleCreateRoom)).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/mine", s.requireToken(s.handleMyRooms)).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}", s.requireToken(s.handleGetRoom)).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}", s.requireToken(s.handleDeleteRoom)).Methods(http.MethodDelete)
	r.HandleFunc("/api/execute", s.requireToken(s.handleExecute)).Methods(http.MethodPost)
	r.HandleFunc("/api/languages", s.requireToken(s.handleLanguages)).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebsocket)
	return withRequestLogging(r)
}

// requireToken authenticates the Bearer token and threads the caller's
// identity through the request context.
func (s *Server) requireToken(next func(http.ResponseWriter, *http.Request, schema.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", clientIP(r))
		token := bearerToken(r)
		if token == "" {
			log.Warn("http token missing")
			writeError(w, http.StatusUnauthorized, errors.New("missing token"))
			return
		}
		who, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			log.Warn("http token invalid", "err", err)
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		ctx := logx.ContextWithUser(r.Context(), who.UserID)
		next(w, r.WithContext(ctx), who)
	}
}

// handleWebsocket authenticates, upgrades, and hands the socket to its
// connection loop. Browsers cannot set headers on websocket dials, so
// the token may also ride in the query string.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		log.Warn("ws token missing")
		writeError(w, http.StatusUnauthorized, errors.New("missing token"))
		return
	}
	who, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		log.Warn("ws token invalid", "err", err)
		writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
		return
	}
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws upgrade failed", "err", err)
		return
	}
	conn := newWSConn(s, sock, who, log.With("user", who.UserID))
	conn.log.Info("ws connection opened")
	conn.serve(logx.ContextWithUser(r.Context(), who.UserID))
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
