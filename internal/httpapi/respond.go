package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/tinode/fanout/internal/corerr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("httpapi: failed to encode response body: %v", err)
	}
}

// writeError maps a Dispatcher/Store error kind to an HTTP status and
// body.
func writeError(w http.ResponseWriter, err error) {
	kind := corerr.KindOf(err)
	status := statusFor(kind)

	body := map[string]interface{}{"error": err.Error()}
	if ce, ok := err.(*corerr.CoreError); ok && ce.Reason != "" {
		body["reason"] = string(ce.Reason)
	}

	if status == http.StatusInternalServerError {
		log.Printf("httpapi: internal error: %v", err)
	}
	writeJSON(w, status, body)
}

func statusFor(kind corerr.Kind) int {
	switch kind {
	case corerr.Unauthenticated:
		return http.StatusUnauthorized
	case corerr.Forbidden:
		return http.StatusForbidden
	case corerr.NotFound:
		return http.StatusNotFound
	case corerr.Conflict:
		return http.StatusConflict
	case corerr.Validation:
		return http.StatusBadRequest
	case corerr.StoreUnavailable, corerr.BusUnavailable, corerr.PubSubUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, corerr.Validationf("httpapi: malformed request body: %v", err))
		return false
	}
	return true
}
