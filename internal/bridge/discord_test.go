package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketping/chat-server-go/internal/model"
)

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func newTestDiscordBridge(t *testing.T) (*DiscordBridge, *[]discordPayload) {
	t.Helper()
	var mu sync.Mutex
	payloads := &[]discordPayload{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p discordPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		*payloads = append(*payloads, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	b, err := NewDiscordBridge(server.URL)
	require.NoError(t, err)
	return b, payloads
}

func TestNewDiscordBridgeValidation(t *testing.T) {
	_, err := NewDiscordBridge("")
	assert.Error(t, err)
}

func TestDiscordOnNewSession(t *testing.T) {
	b, payloads := newTestDiscordBridge(t)

	session := &model.Session{
		ID:        "sess-1",
		VisitorID: "vis-1",
		Metadata:  &model.SessionMetadata{URL: "https://example.com/", Country: "NL", City: "Delft"},
	}
	require.NoError(t, b.OnNewSession(context.Background(), session))

	require.Len(t, *payloads, 1)
	embed := (*payloads)[0].Embeds[0]
	assert.Contains(t, embed.Title, "New chat session")
	require.NotNil(t, embed.Footer)
	assert.Equal(t, "sess-1", embed.Footer.Text)
}

func TestDiscordOnVisitorMessage(t *testing.T) {
	b, payloads := newTestDiscordBridge(t)

	session := &model.Session{ID: "sess-1", VisitorID: "vis-1"}
	msg := &model.Message{Content: "is anyone there", Sender: model.SenderVisitor}
	require.NoError(t, b.OnVisitorMessage(context.Background(), msg, session))

	require.Len(t, *payloads, 1)
	assert.Equal(t, "is anyone there", (*payloads)[0].Embeds[0].Description)
}

func TestDiscordOnOperatorMessage(t *testing.T) {
	b, payloads := newTestDiscordBridge(t)
	session := &model.Session{ID: "sess-1", VisitorID: "vis-1"}
	msg := &model.Message{Content: "hello", Sender: model.SenderOperator}

	t.Run("skips its own messages", func(t *testing.T) {
		require.NoError(t, b.OnOperatorMessage(context.Background(), msg, session, "discord", ""))
		assert.Empty(t, *payloads)
	})

	t.Run("mirrors other channels", func(t *testing.T) {
		require.NoError(t, b.OnOperatorMessage(context.Background(), msg, session, "telegram", "Grace"))
		require.Len(t, *payloads, 1)
		assert.Contains(t, (*payloads)[0].Embeds[0].Title, "Grace")
		assert.Contains(t, (*payloads)[0].Embeds[0].Title, "via telegram")
	})
}

func TestDiscordOnAITakeover(t *testing.T) {
	b, payloads := newTestDiscordBridge(t)
	session := &model.Session{ID: "sess-1", VisitorID: "vis-1"}

	require.NoError(t, b.OnAITakeover(context.Background(), session, "timeout"))
	require.Len(t, *payloads, 1)
	assert.Contains(t, (*payloads)[0].Embeds[0].Description, "timeout")
}

func TestDiscordReportsAPIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	b, err := NewDiscordBridge(server.URL)
	require.NoError(t, err)

	session := &model.Session{ID: "sess-1", VisitorID: "vis-1"}
	msg := &model.Message{Content: "hi", Sender: model.SenderVisitor}
	err = b.OnVisitorMessage(context.Background(), msg, session)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
