package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pocketping/chat-server-go/internal/core"
)

// OperatorHandler is the operator-facing API (dashboard or automation).
type OperatorHandler struct {
	core *core.Core
}

func NewOperatorHandler(c *core.Core) *OperatorHandler {
	return &OperatorHandler{core: c}
}

func (h *OperatorHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/online", h.SetOnline)
	r.Post("/message", h.SendMessage)

	return r
}

// POST /api/operator/online
func (h *OperatorHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	h.core.SetOperatorOnline(r.Context(), req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"operatorOnline": req.Online})
}

// POST /api/operator/message
func (h *OperatorHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req core.OperatorMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.core.SendOperatorMessage(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}
