package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketping/chat-server-go/internal/model"
)

type telegramCall struct {
	method string
	body   map[string]any
}

// fakeTelegramAPI records bot API calls and returns canned responses.
type fakeTelegramAPI struct {
	mu            sync.Mutex
	calls         []telegramCall
	nextMessageID int64
}

func (f *fakeTelegramAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		f.mu.Lock()
		f.calls = append(f.calls, telegramCall{method: method, body: body})
		f.nextMessageID++
		id := f.nextMessageID
		f.mu.Unlock()

		switch method {
		case "getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true}}`))
		case "sendMessage":
			resp := map[string]any{
				"ok":     true,
				"result": map[string]any{"message_id": id},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		case "getUpdates":
			// Block briefly like a long poll with nothing to report.
			time.Sleep(50 * time.Millisecond)
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
		}
	}
}

func (f *fakeTelegramAPI) callsFor(method string) []telegramCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []telegramCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestTelegramBridge(t *testing.T, api *fakeTelegramAPI) *TelegramBridge {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	b, err := NewTelegramBridge(TelegramConfig{BotToken: "token", ChatID: "42"}, nil)
	require.NoError(t, err)
	b.apiBase = server.URL + "/bot"
	return b
}

func TestNewTelegramBridgeValidation(t *testing.T) {
	_, err := NewTelegramBridge(TelegramConfig{ChatID: "42"}, nil)
	assert.Error(t, err)

	_, err = NewTelegramBridge(TelegramConfig{BotToken: "token"}, nil)
	assert.Error(t, err)
}

func TestTelegramOnVisitorMessage(t *testing.T) {
	api := &fakeTelegramAPI{}
	b := newTestTelegramBridge(t, api)

	session := &model.Session{
		ID:        "sess-1",
		VisitorID: "vis-1",
		Identity:  &model.UserIdentity{Name: "Ada"},
	}
	msg := &model.Message{ID: "m-1", SessionID: "sess-1", Content: "need help", Sender: model.SenderVisitor}

	require.NoError(t, b.OnVisitorMessage(context.Background(), msg, session))

	calls := api.callsFor("sendMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, "42", calls[0].body["chat_id"])
	text := calls[0].body["text"].(string)
	assert.Contains(t, text, "Ada")
	assert.Contains(t, text, "need help")
}

func TestTelegramOnOperatorMessage(t *testing.T) {
	api := &fakeTelegramAPI{}
	b := newTestTelegramBridge(t, api)
	ctx := context.Background()

	session := &model.Session{ID: "sess-1", VisitorID: "vis-1"}
	msg := &model.Message{ID: "m-1", SessionID: "sess-1", Content: "hello", Sender: model.SenderOperator}

	t.Run("skips its own messages", func(t *testing.T) {
		require.NoError(t, b.OnOperatorMessage(ctx, msg, session, "telegram", "Grace"))
		assert.Empty(t, api.callsFor("sendMessage"))
	})

	t.Run("mirrors messages from other channels", func(t *testing.T) {
		require.NoError(t, b.OnOperatorMessage(ctx, msg, session, "discord", "Grace"))
		calls := api.callsFor("sendMessage")
		require.Len(t, calls, 1)
		text := calls[0].body["text"].(string)
		assert.Contains(t, text, "Grace")
		assert.Contains(t, text, "via discord")
	})

	t.Run("labels ai replies", func(t *testing.T) {
		aiMsg := &model.Message{ID: "m-2", SessionID: "sess-1", Content: "auto", Sender: model.SenderAI}
		require.NoError(t, b.OnOperatorMessage(ctx, aiMsg, session, "", ""))
		calls := api.callsFor("sendMessage")
		text := calls[len(calls)-1].body["text"].(string)
		assert.Contains(t, text, "AI Assistant")
	})
}

func TestTelegramOnAITakeover(t *testing.T) {
	api := &fakeTelegramAPI{}
	b := newTestTelegramBridge(t, api)

	session := &model.Session{ID: "sess-1", VisitorID: "vis-1"}
	require.NoError(t, b.OnAITakeover(context.Background(), session, "timeout"))

	calls := api.callsFor("sendMessage")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].body["text"].(string), "timeout")
}

func TestTelegramOnEvent(t *testing.T) {
	api := &fakeTelegramAPI{}
	b := newTestTelegramBridge(t, api)

	session := &model.Session{ID: "sess-1", VisitorID: "vis-1"}
	event := model.CustomEvent{Name: "cart_abandoned", Data: map[string]any{"items": float64(3)}}
	require.NoError(t, b.OnEvent(context.Background(), event, session))

	calls := api.callsFor("sendMessage")
	require.Len(t, calls, 1)
	text := calls[0].body["text"].(string)
	assert.Contains(t, text, "cart_abandoned")
	assert.Contains(t, text, "items")
}

func TestTelegramInitAndDestroy(t *testing.T) {
	api := &fakeTelegramAPI{}
	b := newTestTelegramBridge(t, api)

	require.NoError(t, b.Init(context.Background(), nil))
	require.Len(t, api.callsFor("getMe"), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Destroy(ctx))
}

func TestVisitorName(t *testing.T) {
	tests := []struct {
		name    string
		session *model.Session
		want    string
	}{
		{"prefers identity name", &model.Session{VisitorID: "v", Identity: &model.UserIdentity{Name: "Ada", Email: "a@b.c"}}, "Ada"},
		{"falls back to email", &model.Session{VisitorID: "v", Identity: &model.UserIdentity{Email: "a@b.c"}}, "a@b.c"},
		{"falls back to visitor id", &model.Session{VisitorID: "v"}, "v"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, visitorName(tt.session))
		})
	}
}
