package httpapi

import (
	"net/http"

	"github.com/tinode/fanout/internal/corerr"
)

type uploadURLRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FileName == "" {
		writeError(w, corerr.Validationf("httpapi: fileName is required"))
		return
	}

	result, err := s.media.Sign(req.FileName, req.FileType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
