package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketping/chat-server-go/internal/model"
)

func msgAt(sender model.Sender, age time.Duration, now time.Time) model.Message {
	return model.Message{Sender: sender, Timestamp: now.Add(-age)}
}

func TestShouldTakeOver(t *testing.T) {
	now := time.Now().UTC()
	delay := 5 * time.Minute

	tests := []struct {
		name string
		msgs []model.Message
		want bool
	}{
		{
			name: "no messages",
			msgs: nil,
			want: false,
		},
		{
			name: "only operator messages",
			msgs: []model.Message{msgAt(model.SenderOperator, time.Hour, now)},
			want: false,
		},
		{
			name: "visitor waiting past the delay",
			msgs: []model.Message{msgAt(model.SenderVisitor, delay+time.Second, now)},
			want: true,
		},
		{
			name: "visitor waiting exactly the delay",
			msgs: []model.Message{msgAt(model.SenderVisitor, delay, now)},
			want: true,
		},
		{
			name: "visitor one second short of the delay",
			msgs: []model.Message{msgAt(model.SenderVisitor, delay-time.Second, now)},
			want: false,
		},
		{
			name: "operator already replied",
			msgs: []model.Message{
				msgAt(model.SenderVisitor, 10*time.Minute, now),
				msgAt(model.SenderOperator, 8*time.Minute, now),
			},
			want: false,
		},
		{
			name: "ai already replied",
			msgs: []model.Message{
				msgAt(model.SenderVisitor, 10*time.Minute, now),
				msgAt(model.SenderAI, 8*time.Minute, now),
			},
			want: false,
		},
		{
			name: "visitor followed up after the operator reply",
			msgs: []model.Message{
				msgAt(model.SenderVisitor, 20*time.Minute, now),
				msgAt(model.SenderOperator, 15*time.Minute, now),
				msgAt(model.SenderVisitor, 10*time.Minute, now),
			},
			want: true,
		},
		{
			name: "recent follow-up resets the clock",
			msgs: []model.Message{
				msgAt(model.SenderVisitor, 10*time.Minute, now),
				msgAt(model.SenderVisitor, time.Minute, now),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldTakeOver(tt.msgs, delay, now))
		})
	}
}

func TestRunTakeoverSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("takes over an unanswered session", func(t *testing.T) {
		ai := &fakeAI{reply: "hi, I'm the assistant"}
		f := newFixture(t, func(o *Options) {
			o.AI = ai
			o.TakeoverDelay = 5 * time.Minute
		})
		session := f.connect(t)
		seedMessage(t, f, session.ID, model.SenderVisitor, 10*time.Minute)

		f.core.RunTakeoverSweep(ctx)

		updated, err := f.sessions.FindByID(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, updated.AIActive)

		msgs, err := f.messages.FindBySession(ctx, session.ID, "", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, model.SenderAI, msgs[1].Sender)
		assert.Equal(t, "hi, I'm the assistant", msgs[1].Content)

		assert.Equal(t, []string{session.ID}, f.bridge.takeovers)
		assert.Contains(t, f.broker.eventTypes(session.ID), model.EventTypeAITakeover)
		payload := f.broker.lastPayload(t, session.ID, model.EventTypeAITakeover)
		assert.Equal(t, session.ID, payload["sessionId"])
		assert.Equal(t, "timeout", payload["reason"])
		// The AI sees the conversation so far.
		require.Len(t, ai.histories, 1)
		assert.Len(t, ai.histories[0], 1)
	})

	t.Run("skips answered sessions", func(t *testing.T) {
		ai := &fakeAI{reply: "should not fire"}
		f := newFixture(t, func(o *Options) {
			o.AI = ai
			o.TakeoverDelay = 5 * time.Minute
		})
		session := f.connect(t)
		seedMessage(t, f, session.ID, model.SenderVisitor, 10*time.Minute)
		seedMessage(t, f, session.ID, model.SenderOperator, 8*time.Minute)

		f.core.RunTakeoverSweep(ctx)

		updated, err := f.sessions.FindByID(ctx, session.ID)
		require.NoError(t, err)
		assert.False(t, updated.AIActive)
		assert.Empty(t, ai.histories)
	})

	t.Run("skips sessions already held by the ai", func(t *testing.T) {
		ai := &fakeAI{reply: "should not fire"}
		f := newFixture(t, func(o *Options) {
			o.AI = ai
			o.TakeoverDelay = 5 * time.Minute
		})
		session := f.connect(t)
		session.AIActive = true
		require.NoError(t, f.sessions.Update(ctx, session))
		seedMessage(t, f, session.ID, model.SenderVisitor, 10*time.Minute)

		f.core.RunTakeoverSweep(ctx)
		assert.Empty(t, ai.histories)
	})

	t.Run("no-op without an ai provider", func(t *testing.T) {
		f := newFixture(t, nil)
		session := f.connect(t)
		seedMessage(t, f, session.ID, model.SenderVisitor, time.Hour)

		f.core.RunTakeoverSweep(ctx)

		updated, err := f.sessions.FindByID(ctx, session.ID)
		require.NoError(t, err)
		assert.False(t, updated.AIActive)
	})

	t.Run("session stays ai-active when generation fails", func(t *testing.T) {
		ai := &fakeAI{err: errors.New("model overloaded")}
		f := newFixture(t, func(o *Options) {
			o.AI = ai
			o.TakeoverDelay = 5 * time.Minute
		})
		session := f.connect(t)
		seedMessage(t, f, session.ID, model.SenderVisitor, 10*time.Minute)

		f.core.RunTakeoverSweep(ctx)

		updated, err := f.sessions.FindByID(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, updated.AIActive)

		msgs, err := f.messages.FindBySession(ctx, session.ID, "", 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})
}

// TestVisitorScenario walks one conversation end to end: connect, first
// message, operator reply, and finally an unanswered follow-up that the
// AI picks up exactly once.
func TestVisitorScenario(t *testing.T) {
	ctx := context.Background()
	ai := &fakeAI{reply: "let me help with that"}
	f := newFixture(t, func(o *Options) {
		o.AI = ai
		o.TakeoverDelay = 5 * time.Minute
	})

	resp, err := f.core.Connect(ctx, ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	session := resp.Session
	assert.False(t, resp.Resumed)
	assert.False(t, session.OperatorOnline)
	assert.Empty(t, resp.Messages)

	hello, err := f.core.SendMessage(ctx, SendMessageRequest{
		SessionID: session.ID,
		Content:   "Hello",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{hello.ID}, f.bridge.visitorMsgs)
	assert.Contains(t, f.broker.eventTypes(session.ID), model.EventTypeMessage)

	hi, err := f.core.SendOperatorMessage(ctx, OperatorMessageRequest{
		SessionID: session.ID,
		Content:   "Hi",
	})
	require.NoError(t, err)

	// Everything is answered; the sweep must not fire.
	f.core.RunTakeoverSweep(ctx)
	assert.Empty(t, ai.histories)

	// Time passes. The early exchange recedes and the visitor's
	// follow-up sits unanswered past the delay.
	backdate := func(msg *model.Message, age time.Duration) {
		msg.Timestamp = time.Now().UTC().Add(-age)
		require.NoError(t, f.messages.Save(ctx, msg))
	}
	backdate(hello, 10*time.Minute)
	backdate(hi, 8*time.Minute)
	seedMessage(t, f, session.ID, model.SenderVisitor, 6*time.Minute)
	f.core.RunTakeoverSweep(ctx)
	f.core.RunTakeoverSweep(ctx)

	updated, err := f.sessions.FindByID(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, updated.AIActive)
	// Exactly one takeover despite two sweeps.
	require.Len(t, ai.histories, 1)
	assert.Equal(t, []string{session.ID}, f.bridge.takeovers)

	history, err := f.messages.FindBySession(ctx, session.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, model.SenderAI, history[3].Sender)
}
