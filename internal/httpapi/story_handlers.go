package httpapi

import (
	"net/http"
	"time"
)

func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	stories, err := s.store.ListActiveStories(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stories)
}

type createStoryRequest struct {
	MediaURL string `json:"mediaUrl"`
}

func (s *Server) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	var req createStoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	story, err := s.dispatcher.CreateStory(r.Context(), userIDFrom(r), req.MediaURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}
