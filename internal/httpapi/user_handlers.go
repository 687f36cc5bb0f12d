package httpapi

import (
	"net/http"

	"github.com/tinode/fanout/internal/corerr"
	"github.com/tinode/fanout/internal/types"
)

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.Context(), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type patchMeRequest struct {
	Name           *string `json:"name"`
	Email          *string `json:"email"`
	ProfilePicture *string `json:"profilePicture"`
}

func (s *Server) handlePatchMe(w http.ResponseWriter, r *http.Request) {
	var req patchMeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := s.store.UpdateUser(r.Context(), userIDFrom(r), req.Name, req.Email, req.ProfilePicture)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	users, err := s.store.SearchUsers(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type patchStatusRequest struct {
	Status types.PresenceStatus `json:"status"`
}

func (s *Server) handlePatchStatus(w http.ResponseWriter, r *http.Request) {
	var req patchStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status != types.PresenceOnline && req.Status != types.PresenceOffline {
		writeError(w, corerr.Validationf("httpapi: unrecognized status %q", req.Status))
		return
	}
	if err := s.store.UpdatePresence(r.Context(), userIDFrom(r), req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
