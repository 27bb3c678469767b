package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketping/chat-server-go/internal/audit"
	apperrors "github.com/pocketping/chat-server-go/internal/errors"
	"github.com/pocketping/chat-server-go/internal/model"
)

const takeoverReason = "timeout"

// RunTakeoverSweep scans recently active sessions and lets the AI take
// over any conversation where the visitor's last message has waited
// past the configured delay without an operator or AI reply. No-op when
// no AI provider is configured.
func (c *Core) RunTakeoverSweep(ctx context.Context) {
	if c.ai == nil || c.takeoverDelay <= 0 {
		return
	}

	since := time.Now().UTC().Add(-takeoverScanWindow)
	sessions, err := c.sessions.FindActiveSince(ctx, since, takeoverScanLimit)
	if err != nil {
		log.Error().Err(err).Msg("takeover sweep: session scan failed")
		return
	}

	now := time.Now().UTC()
	for _, session := range sessions {
		if session.AIActive {
			continue
		}

		msgs, err := c.messages.FindRecentBySession(ctx, session.ID, takeoverScanDepth)
		if err != nil {
			log.Error().Err(err).Str("sessionId", session.ID).Msg("takeover sweep: message scan failed")
			continue
		}

		if !shouldTakeOver(msgs, c.takeoverDelay, now) {
			continue
		}
		if err := c.triggerTakeover(ctx, session); err != nil {
			log.Error().Err(err).Str("sessionId", session.ID).Msg("ai takeover failed")
		}
	}
}

// shouldTakeOver reports whether the conversation's most recent visitor
// message has been waiting at least delay without a later operator or
// AI reply. The boundary is inclusive.
func shouldTakeOver(msgs []model.Message, delay time.Duration, now time.Time) bool {
	var lastVisitor, lastReply *time.Time
	for i := len(msgs) - 1; i >= 0; i-- {
		switch msgs[i].Sender {
		case model.SenderVisitor:
			if lastVisitor == nil {
				t := msgs[i].Timestamp
				lastVisitor = &t
			}
		case model.SenderOperator, model.SenderAI:
			if lastReply == nil {
				t := msgs[i].Timestamp
				lastReply = &t
			}
		}
		if lastVisitor != nil && lastReply != nil {
			break
		}
	}

	if lastVisitor == nil {
		return false
	}
	if lastReply != nil && !lastReply.Before(*lastVisitor) {
		return false
	}
	return now.Sub(*lastVisitor) >= delay
}

// triggerTakeover flips the session to AI, announces it, and sends the
// first AI reply. The session stays AI-active even when the first
// generation fails; the operator can always reclaim it by replying.
func (c *Core) triggerTakeover(ctx context.Context, session *model.Session) error {
	session.AIActive = true
	if err := c.sessions.Update(ctx, session); err != nil {
		return apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventAITakeover,
		SessionID: session.ID,
		VisitorID: session.VisitorID,
	})
	log.Info().Str("sessionId", session.ID).Msg("ai takeover triggered")

	c.broadcast(ctx, session.ID, model.EventTypeAITakeover, map[string]any{
		"sessionId": session.ID,
		"reason":    takeoverReason,
	})
	c.eachBridge(ctx, "ai takeover", func(ctx context.Context, b Bridge) error {
		notifier, ok := b.(TakeoverNotifier)
		if !ok {
			return nil
		}
		return notifier.OnAITakeover(ctx, session, takeoverReason)
	})

	history, err := c.messages.FindBySession(ctx, session.ID, "", 0)
	if err != nil {
		return apperrors.Database(err)
	}

	reply, err := c.ai.GenerateResponse(ctx, history, c.systemPrompt)
	if err != nil {
		return apperrors.External("ai provider", err)
	}

	_, err = c.SendOperatorMessage(ctx, OperatorMessageRequest{
		SessionID: session.ID,
		Content:   reply,
		Sender:    model.SenderAI,
	})
	return err
}
