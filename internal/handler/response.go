package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/pocketping/chat-server-go/internal/errors"
	"github.com/pocketping/chat-server-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON parses the request body into v. On failure it writes the
// error response and reports false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return false
	}
	return true
}
