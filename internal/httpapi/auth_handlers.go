package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tinode/fanout/internal/auth"
	"github.com/tinode/fanout/internal/corerr"
	"github.com/tinode/fanout/internal/types"
)

type signupRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.Phone == "" || req.Password == "" {
		writeError(w, corerr.Validationf("httpapi: name, phone and password are required"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	u := &types.User{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		Status:    types.PresenceOffline,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), u, hash); err != nil {
		writeError(w, err)
		return
	}

	token, _, err := s.tokens.Mint(u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: *u})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, hash, err := s.store.GetUserByPhone(r.Context(), req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := auth.CheckPassword(hash, req.Password); err != nil {
		writeError(w, corerr.New(corerr.Unauthenticated, err))
		return
	}

	token, _, err := s.tokens.Mint(u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: *u})
}
