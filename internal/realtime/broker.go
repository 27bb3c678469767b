package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/pocketping/chat-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second

	clientBufferSize = 100
)

// Event is the wire envelope pushed to realtime subscribers.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client is one live subscriber for a session.
type Client struct {
	SessionID string
	Events    chan Event
	Done      chan struct{}
}

// sessionSub is one session's subscriber set plus the lifecycle of the
// redis pubsub goroutine feeding it. cancel stops the goroutine; done
// is closed when it has exited.
type sessionSub struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Broker fans events out to per-session subscriber sets. Events are
// published through redis pubsub so every process replica delivers to
// its own local subscribers.
type Broker struct {
	redis  *redisclient.Client
	subs   map[string]*sessionSub
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:  redisClient,
		subs:   make(map[string]*sessionSub),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Broker) Subscribe(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Events:    make(chan Event, clientBufferSize),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	sub, ok := b.subs[sessionID]
	if !ok {
		ctx, cancel := context.WithCancel(b.ctx)
		sub = &sessionSub{
			clients: make(map[*Client]bool),
			cancel:  cancel,
			done:    make(chan struct{}),
		}
		b.subs[sessionID] = sub
		go b.subscribeToRedis(ctx, sessionID, sub.done)
	}
	sub.clients[client] = true
	clientCount := len(sub.clients)
	b.mu.Unlock()

	log.Info().
		Str("sessionId", sessionID).
		Int("clientCount", clientCount).
		Msg("realtime client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(client)
}

// unsubscribeLocked removes the client and, when it was the session's
// last subscriber, stops the session's pubsub goroutine so the next
// Subscribe starts a single fresh one instead of stacking a duplicate
// subscription on the same channel.
func (b *Broker) unsubscribeLocked(client *Client) {
	sub, ok := b.subs[client.SessionID]
	if !ok || !sub.clients[client] {
		return
	}

	delete(sub.clients, client)
	close(client.Done)

	if len(sub.clients) == 0 {
		sub.cancel()
		delete(b.subs, client.SessionID)
	}

	log.Info().
		Str("sessionId", client.SessionID).
		Int("clientCount", len(sub.clients)).
		Msg("realtime client unsubscribed")
}

// Publish serializes the event once and hands it to redis; every replica
// (including this one) delivers it to its local subscribers.
func (b *Broker) Publish(ctx context.Context, sessionID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.SessionChannel(sessionID)
	return b.redis.Publish(ctx, channel, data).Err()
}

// SessionIDs returns the ids of all sessions with at least one live
// subscriber.
func (b *Broker) SessionIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	return ids
}

func (b *Broker) subscribeToRedis(ctx context.Context, sessionID string, done chan struct{}) {
	defer close(done)

	channel := redisclient.SessionChannel(sessionID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("sessionId", sessionID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.deliver(sessionID, event)
		}
	}
}

// deliver pushes the event to every local subscriber. Subscribers whose
// buffer is full are treated as dead and pruned after the delivery pass;
// the set is never mutated while iterating it.
func (b *Broker) deliver(sessionID string, event Event) {
	b.mu.RLock()
	var clients []*Client
	if sub, ok := b.subs[sessionID]; ok {
		clients = make([]*Client, 0, len(sub.clients))
		for client := range sub.clients {
			clients = append(clients, client)
		}
	}
	b.mu.RUnlock()

	var dead []*Client
	for _, client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("sessionId", sessionID).
				Msg("client event buffer full, pruning subscriber")
			dead = append(dead, client)
		}
	}

	if len(dead) > 0 {
		b.mu.Lock()
		for _, client := range dead {
			b.unsubscribeLocked(client)
		}
		b.mu.Unlock()
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		for client := range sub.clients {
			close(client.Done)
		}
	}
	b.subs = make(map[string]*sessionSub)
}

func (b *Broker) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subs[sessionID]; ok {
		return len(sub.clients)
	}
	return 0
}
