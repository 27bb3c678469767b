package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pocketping/chat-server-go/internal/core"
	apperrors "github.com/pocketping/chat-server-go/internal/errors"
	"github.com/pocketping/chat-server-go/internal/model"
)

// ChatHandler is the widget-facing API.
type ChatHandler struct {
	core *core.Core
}

func NewChatHandler(c *core.Core) *ChatHandler {
	return &ChatHandler{core: c}
}

func (h *ChatHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/connect", h.Connect)
	r.Post("/message", h.SendMessage)
	r.Get("/messages", h.GetMessages)
	r.Post("/typing", h.Typing)
	r.Post("/read", h.MarkRead)
	r.Get("/presence", h.Presence)
	r.Post("/event", h.CustomEvent)

	return r
}

// POST /api/chat/connect
func (h *ChatHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req core.ConnectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Geo enrichment from the proxy headers; the widget never sends
	// these itself.
	if req.Metadata != nil {
		if req.Metadata.IP == "" {
			req.Metadata.IP = r.RemoteAddr
		}
		if country := r.Header.Get("CF-IPCountry"); country != "" && req.Metadata.Country == "" {
			req.Metadata.Country = country
		}
	}

	resp, err := h.core.Connect(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("connect failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// POST /api/chat/message
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req core.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.core.SendMessage(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// GET /api/chat/messages?sessionId=&after=&limit=
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	after := r.URL.Query().Get("after")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperrors.InvalidInput("limit", "must be an integer"))
			return
		}
		limit = parsed
	}

	page, err := h.core.GetMessages(r.Context(), sessionID, after, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// POST /api/chat/typing
func (h *ChatHandler) Typing(w http.ResponseWriter, r *http.Request) {
	var req core.TypingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Sender == "" {
		req.Sender = model.SenderVisitor
	}

	if err := h.core.Typing(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// POST /api/chat/read
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req core.ReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.core.MarkRead(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// GET /api/chat/presence
func (h *ChatHandler) Presence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Presence())
}

// POST /api/chat/event
func (h *ChatHandler) CustomEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CustomEvent
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, apperrors.MissingRequired("name"))
		return
	}

	if err := h.core.HandleCustomEvent(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
