// Package httpapi implements the REST surface plus the websocket
// handshake, fronting the Dispatcher, Store and Hub. Routing uses the
// stdlib method-pattern ServeMux (Go 1.22+); request logging is layered
// on with gorilla/handlers.
package httpapi

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinode/fanout/internal/auth"
	"github.com/tinode/fanout/internal/dispatcher"
	"github.com/tinode/fanout/internal/hub"
	"github.com/tinode/fanout/internal/media"
	"github.com/tinode/fanout/internal/store"
)

// Server bundles the collaborators the HTTP layer needs: Store for
// reads, Dispatcher for writes, Hub for the websocket handshake, auth
// for bearer-token validation/minting, and a media Signer for
// pre-signed uploads, passed explicitly rather than held in
// package-level globals.
type Server struct {
	store      store.Store
	dispatcher *dispatcher.Dispatcher
	hub        *hub.Hub
	tokens     *auth.TokenAuth
	media      *media.Signer

	upgrader websocket.Upgrader
}

// New constructs a Server wired to its collaborators.
func New(st store.Store, d *dispatcher.Dispatcher, h *hub.Hub, tokens *auth.TokenAuth, m *media.Signer) *Server {
	return &Server{
		store:      st,
		dispatcher: d,
		hub:        h,
		tokens:     tokens,
		media:      m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the complete routed, logged HTTP handler for the node.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWebsocket)

	mux.HandleFunc("POST /api/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	mux.HandleFunc("GET /api/users/me", s.withAuth(s.handleGetMe))
	mux.HandleFunc("PATCH /api/users/me", s.withAuth(s.handlePatchMe))
	mux.HandleFunc("GET /api/users/search", s.withAuth(s.handleSearchUsers))
	mux.HandleFunc("PATCH /api/users/me/status", s.withAuth(s.handlePatchStatus))

	mux.HandleFunc("GET /api/chats", s.withAuth(s.handleListChats))
	mux.HandleFunc("GET /api/chats/{chatID}", s.withAuth(s.handleGetChat))
	mux.HandleFunc("POST /api/chats/personal", s.withAuth(s.handleCreatePersonalChat))
	mux.HandleFunc("POST /api/chats/channel", s.withAuth(s.handleCreateChannel))
	mux.HandleFunc("GET /api/chats/{chatID}/messages", s.withAuth(s.handleListMessages))
	mux.HandleFunc("POST /api/chats/{chatID}/messages", s.withAuth(s.handleSendToChat))
	mux.HandleFunc("POST /api/users/{userID}/messages", s.withAuth(s.handleSendToUser))
	mux.HandleFunc("POST /api/chats/{chatID}/block", s.withAuth(s.handleBlock))
	mux.HandleFunc("POST /api/chats/{chatID}/unblock", s.withAuth(s.handleUnblock))
	mux.HandleFunc("POST /api/chats/{chatID}/messages/{msgID}/read", s.withAuth(s.handleMarkRead))

	mux.HandleFunc("GET /api/stories", s.withAuth(s.handleListStories))
	mux.HandleFunc("POST /api/stories", s.withAuth(s.handleCreateStory))

	mux.HandleFunc("POST /api/media/upload-url", s.withAuth(s.handleUploadURL))

	return handlers.CombinedLoggingHandler(os.Stdout, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebsocket validates the handshake bearer token before switching
// protocols, so a missing/invalid/expired token gets a plain 401 rather
// than a websocket connection that gets silently closed right after
// opening.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.hub.Authenticate(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Accept(ws, userID, r.UserAgent())
}
