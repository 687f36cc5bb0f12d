package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tinode/fanout/internal/corerr"
	"github.com/tinode/fanout/internal/store"
	"github.com/tinode/fanout/internal/types"
)

const (
	defaultMessagePageLimit = 50
	maxMessagePageLimit     = 100
)

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChatsForUser(r.Context(), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.store.GetChat(r.Context(), r.PathValue("chatID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

type createPersonalChatRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleCreatePersonalChat(w http.ResponseWriter, r *http.Request) {
	var req createPersonalChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	chatID, err := s.dispatcher.CreatePersonalChat(r.Context(), userIDFrom(r), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": chatID})
}

type createChannelRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	chatID, err := s.dispatcher.CreateChannel(r.Context(), userIDFrom(r), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	chat, err := s.store.GetChat(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")

	limit := defaultMessagePageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, corerr.Validationf("httpapi: invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	if limit > maxMessagePageLimit {
		limit = maxMessagePageLimit
	}
	if limit < 0 {
		limit = 0
	}

	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, corerr.Validationf("httpapi: invalid before timestamp %q", raw))
			return
		}
		before = parsed
	}

	messages, err := s.store.ListMessages(r.Context(), chatID, store.PageQuery{Limit: limit, Before: before})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Type     types.MessageKind `json:"type"`
	Content  string            `json:"content"`
	MediaURL string            `json:"mediaUrl"`
}

func (s *Server) handleSendToChat(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.dispatcher.SendToChat(r.Context(), r.PathValue("chatID"), userIDFrom(r), req.Type, req.Content, req.MediaURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleSendToUser(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.dispatcher.SendToUser(r.Context(), userIDFrom(r), r.PathValue("userID"), req.Type, req.Content, req.MediaURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Block(r.Context(), r.PathValue("chatID"), userIDFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Unblock(r.Context(), r.PathValue("chatID"), userIDFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")
	msgID := r.PathValue("msgID")
	if err := s.dispatcher.MarkRead(r.Context(), chatID, msgID, userIDFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
