package model

import "time"

// CustomEvent is an ephemeral signal between the widget and the server.
// It is never persisted.
type CustomEvent struct {
	Name      string         `json:"name"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
}

// Realtime event names pushed to subscribers.
const (
	EventTypeMessage    = "message"
	EventTypeTyping     = "typing"
	EventTypePresence   = "presence"
	EventTypeAITakeover = "ai_takeover"
	EventTypeRead       = "read"
	EventTypeCustom     = "event"
)
