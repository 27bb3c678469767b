package model

import "time"

// Sender identifies who produced a message.
type Sender string

const (
	SenderVisitor  Sender = "visitor"
	SenderOperator Sender = "operator"
	SenderAI       Sender = "ai"
)

// MessageStatus is the delivery status of a message. Status only moves
// forward: sending, sent, delivered, read.
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// MaxMessageContentLength bounds message content.
const MaxMessageContentLength = 4000

// Message is one chat turn. Content, sender and timestamp are immutable
// after creation; only status and its timestamps are updated in place.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Content   string         `json:"content"`
	Sender    Sender         `json:"sender"`
	Timestamp time.Time      `json:"timestamp"`
	ReplyTo   string         `json:"replyTo,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	Status      MessageStatus `json:"status,omitempty"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`
}
