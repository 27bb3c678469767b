package core

import (
	"github.com/pocketping/chat-server-go/internal/model"
)

// ConnectRequest is the widget's connect (or reconnect) handshake.
type ConnectRequest struct {
	SessionID string                 `json:"sessionId,omitempty"`
	VisitorID string                 `json:"visitorId,omitempty"`
	Metadata  *model.SessionMetadata `json:"metadata,omitempty"`
	Identity  *model.UserIdentity    `json:"identity,omitempty"`
}

// ConnectResponse carries everything the widget needs to render the
// conversation. WelcomeMessage is only set for brand new sessions and
// is never persisted.
type ConnectResponse struct {
	Session        *model.Session  `json:"session"`
	Messages       []model.Message `json:"messages"`
	Resumed        bool            `json:"resumed"`
	WelcomeMessage string          `json:"welcomeMessage,omitempty"`
}

// SendMessageRequest is a visitor message.
type SendMessageRequest struct {
	SessionID string         `json:"sessionId"`
	Content   string         `json:"content"`
	ReplyTo   string         `json:"replyTo,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// OperatorMessageRequest is an operator (or AI) reply coming in through
// the HTTP API or through a bridge. SourceBridge names the bridge the
// reply came from so cross-bridge sync can skip it.
type OperatorMessageRequest struct {
	SessionID    string         `json:"sessionId"`
	Content      string         `json:"content"`
	Sender       model.Sender   `json:"sender,omitempty"`
	OperatorName string         `json:"operatorName,omitempty"`
	ReplyTo      string         `json:"replyTo,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	SourceBridge string         `json:"-"`
}

// ReadRequest marks messages delivered or read.
type ReadRequest struct {
	SessionID  string              `json:"sessionId"`
	MessageIDs []string            `json:"messageIds"`
	Status     model.MessageStatus `json:"status"`
}

// MessagesPage is one page of a session's history.
type MessagesPage struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

// PresenceResponse reports operator availability and the AI fallback
// settings. AIActiveAfter is the takeover delay in seconds, set only
// when an AI provider is wired.
type PresenceResponse struct {
	Online        bool `json:"online"`
	AIEnabled     bool `json:"aiEnabled"`
	AIActiveAfter *int `json:"aiActiveAfter,omitempty"`
}

// TypingRequest signals a typing indicator. Typing state is ephemeral
// and only fans out to realtime subscribers.
type TypingRequest struct {
	SessionID string       `json:"sessionId"`
	Sender    model.Sender `json:"sender"`
	IsTyping  bool         `json:"isTyping"`
}

// Callbacks the embedding application can hook. All callbacks run
// synchronously on the calling goroutine; panics are recovered and
// logged.
type (
	SessionCallback func(session *model.Session)
	MessageCallback func(msg *model.Message, session *model.Session)
	EventCallback   func(event model.CustomEvent, session *model.Session)
	EventHandler    func(event model.CustomEvent, session *model.Session)
)
