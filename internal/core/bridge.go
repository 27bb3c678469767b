package core

import (
	"context"

	"github.com/pocketping/chat-server-go/internal/model"
)

// Bridge relays conversations to an external operator channel (Telegram,
// Discord, ...). Implementations must be safe for concurrent use; the
// core never serializes calls to a bridge.
type Bridge interface {
	// Name identifies the bridge in logs and in operator message
	// attribution. It must be stable and unique per instance.
	Name() string

	// Init is called once before the bridge receives any traffic. The
	// core reference lets the bridge push operator replies back in.
	Init(ctx context.Context, c *Core) error

	// Destroy releases bridge resources. Called once on shutdown.
	Destroy(ctx context.Context) error

	OnNewSession(ctx context.Context, session *model.Session) error
	OnVisitorMessage(ctx context.Context, msg *model.Message, session *model.Session) error

	// OnOperatorMessage mirrors an operator (or AI) reply so every
	// channel sees the full conversation. sourceBridge is the Name of
	// the bridge the reply came through, or empty for API replies; the
	// originating bridge is never called with its own message.
	OnOperatorMessage(ctx context.Context, msg *model.Message, session *model.Session, sourceBridge, operatorName string) error
}

// ReadNotifier is implemented by bridges that surface read receipts.
type ReadNotifier interface {
	OnMessagesRead(ctx context.Context, session *model.Session, messageIDs []string, status model.MessageStatus) error
}

// TakeoverNotifier is implemented by bridges that want to announce an
// AI takeover to the operator channel.
type TakeoverNotifier interface {
	OnAITakeover(ctx context.Context, session *model.Session, reason string) error
}

// EventNotifier is implemented by bridges that want custom widget
// events forwarded to them.
type EventNotifier interface {
	OnEvent(ctx context.Context, event model.CustomEvent, session *model.Session) error
}

// AIProvider generates an assistant reply from the conversation so far.
// History is chronological and may contain visitor, operator and ai
// messages.
type AIProvider interface {
	GenerateResponse(ctx context.Context, history []model.Message, systemPrompt string) (string, error)
}
