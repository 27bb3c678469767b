package core

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketping/chat-server-go/internal/audit"
	apperrors "github.com/pocketping/chat-server-go/internal/errors"
	"github.com/pocketping/chat-server-go/internal/model"
	"github.com/pocketping/chat-server-go/internal/realtime"
	"github.com/pocketping/chat-server-go/internal/repository"
	"github.com/pocketping/chat-server-go/internal/util"
)

const (
	// takeoverScanDepth is how many trailing messages the takeover
	// sweep inspects per session.
	takeoverScanDepth = 10

	// takeoverScanWindow bounds the sweep to recently active sessions
	// so it never turns into a full table scan.
	takeoverScanWindow = 24 * time.Hour
	takeoverScanLimit  = 1000

	// Message paging bounds for GetMessages.
	defaultPageSize = 50
	maxPageSize     = 100
)

// Broadcaster pushes realtime events to session subscribers. The SSE
// broker satisfies this; tests plug in a recorder.
type Broadcaster interface {
	Publish(ctx context.Context, sessionID string, event realtime.Event) error
	SessionIDs() []string
}

// Options wires the core's collaborators. Sessions and Messages are
// required; everything else is optional.
type Options struct {
	Sessions repository.SessionRepository
	Messages repository.MessageRepository
	Broker   Broadcaster

	AI            AIProvider
	SystemPrompt  string
	TakeoverDelay time.Duration

	WelcomeMessage string

	OnNewSession SessionCallback
	OnMessage    MessageCallback
	OnEvent      EventCallback
}

// Core coordinates sessions, messages, bridges and the AI fallback. It
// is safe for concurrent use.
type Core struct {
	sessions repository.SessionRepository
	messages repository.MessageRepository
	broker   Broadcaster

	ai            AIProvider
	systemPrompt  string
	takeoverDelay time.Duration

	welcomeMessage string

	onNewSession SessionCallback
	onMessage    MessageCallback
	onEvent      EventCallback

	mu             sync.RWMutex
	bridges        []Bridge
	started        bool
	operatorOnline bool

	handlersMu    sync.RWMutex
	eventHandlers map[string][]*eventRegistration
}

func New(opts Options) *Core {
	return &Core{
		sessions:       opts.Sessions,
		messages:       opts.Messages,
		broker:         opts.Broker,
		ai:             opts.AI,
		systemPrompt:   opts.SystemPrompt,
		takeoverDelay:  opts.TakeoverDelay,
		welcomeMessage: opts.WelcomeMessage,
		onNewSession:   opts.OnNewSession,
		onMessage:      opts.OnMessage,
		onEvent:        opts.OnEvent,
		eventHandlers:  make(map[string][]*eventRegistration),
	}
}

// AddBridge registers a bridge. Bridges added after Start are
// initialized immediately.
func (c *Core) AddBridge(ctx context.Context, b Bridge) error {
	c.mu.Lock()
	started := c.started
	c.bridges = append(c.bridges, b)
	c.mu.Unlock()

	if started {
		if err := b.Init(ctx, c); err != nil {
			return apperrors.External(b.Name(), err)
		}
	}
	log.Info().Str("bridge", b.Name()).Msg("bridge registered")
	return nil
}

// Start initializes all registered bridges. A bridge that fails to
// initialize aborts startup.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	c.started = true
	bridges := make([]Bridge, len(c.bridges))
	copy(bridges, c.bridges)
	c.mu.Unlock()

	for _, b := range bridges {
		if err := b.Init(ctx, c); err != nil {
			return apperrors.External(b.Name(), err)
		}
		log.Info().Str("bridge", b.Name()).Msg("bridge initialized")
	}
	return nil
}

// Stop tears down all bridges. Destroy errors are logged, not returned;
// shutdown always proceeds.
func (c *Core) Stop(ctx context.Context) {
	c.mu.Lock()
	c.started = false
	bridges := make([]Bridge, len(c.bridges))
	copy(bridges, c.bridges)
	c.mu.Unlock()

	for _, b := range bridges {
		if err := b.Destroy(ctx); err != nil {
			log.Error().Err(err).Str("bridge", b.Name()).Msg("bridge destroy failed")
		}
	}
}

// Connect resumes an existing session or creates a new one. Resolution
// order: explicit session id, then the visitor's most recent session,
// then a fresh session. Metadata geo fields survive reconnects.
func (c *Core) Connect(ctx context.Context, req ConnectRequest) (*ConnectResponse, error) {
	now := time.Now().UTC()

	session, err := c.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	if session != nil {
		if req.Metadata != nil {
			req.Metadata.MergeKnownGeo(session.Metadata)
			session.Metadata = req.Metadata
		}
		if req.Identity != nil {
			session.Identity = req.Identity
		}
		session.LastActivity = now
		session.OperatorOnline = c.IsOperatorOnline()
		if err := c.sessions.Update(ctx, session); err != nil {
			return nil, apperrors.Database(err)
		}

		messages, err := c.messages.FindBySession(ctx, session.ID, "", 0)
		if err != nil {
			return nil, apperrors.Database(err)
		}

		log.Info().
			Str("sessionId", session.ID).
			Str("visitorId", session.VisitorID).
			Int("messageCount", len(messages)).
			Msg("session resumed")

		return &ConnectResponse{Session: session, Messages: messages, Resumed: true}, nil
	}

	visitorID := req.VisitorID
	if visitorID == "" {
		visitorID = util.GenerateID()
	}
	session = &model.Session{
		ID:             util.GenerateID(),
		VisitorID:      visitorID,
		CreatedAt:      now,
		LastActivity:   now,
		OperatorOnline: c.IsOperatorOnline(),
		Metadata:       req.Metadata,
		Identity:       req.Identity,
	}
	if err := c.sessions.Create(ctx, session); err != nil {
		return nil, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionCreate,
		SessionID: session.ID,
		VisitorID: session.VisitorID,
	})
	log.Info().
		Str("sessionId", session.ID).
		Str("visitorId", session.VisitorID).
		Msg("session created")

	c.runSessionCallback(session)
	c.eachBridge(ctx, "new session", func(ctx context.Context, b Bridge) error {
		return b.OnNewSession(ctx, session)
	})

	return &ConnectResponse{
		Session:        session,
		Messages:       []model.Message{},
		WelcomeMessage: c.welcomeMessage,
	}, nil
}

func (c *Core) resolveSession(ctx context.Context, req ConnectRequest) (*model.Session, error) {
	if req.SessionID != "" {
		session, err := c.sessions.FindByID(ctx, req.SessionID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if session != nil {
			return session, nil
		}
	}
	if req.VisitorID != "" {
		session, err := c.sessions.FindLatestByVisitorID(ctx, req.VisitorID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if session != nil {
			return session, nil
		}
	}
	return nil, nil
}

// SendMessage persists a visitor message, relays it to every bridge and
// fans it out to realtime subscribers.
func (c *Core) SendMessage(ctx context.Context, req SendMessageRequest) (*model.Message, error) {
	if err := validateContent(req.Content); err != nil {
		return nil, err
	}

	session, err := c.requireSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ID:        util.GenerateID(),
		SessionID: session.ID,
		Content:   req.Content,
		Sender:    model.SenderVisitor,
		Timestamp: now,
		ReplyTo:   req.ReplyTo,
		Metadata:  req.Metadata,
		Status:    model.MessageStatusSent,
	}
	if err := c.messages.Save(ctx, msg); err != nil {
		return nil, apperrors.Database(err)
	}

	session.LastActivity = now
	if err := c.sessions.Update(ctx, session); err != nil {
		return nil, apperrors.Database(err)
	}

	c.eachBridge(ctx, "visitor message", func(ctx context.Context, b Bridge) error {
		return b.OnVisitorMessage(ctx, msg, session)
	})
	c.broadcast(ctx, session.ID, model.EventTypeMessage, msg)
	c.runMessageCallback(msg, session)

	return msg, nil
}

// SendOperatorMessage persists an operator or AI reply. An operator
// reply silences an active AI takeover. The reply is mirrored to every
// bridge except the one it arrived through.
func (c *Core) SendOperatorMessage(ctx context.Context, req OperatorMessageRequest) (*model.Message, error) {
	if err := validateContent(req.Content); err != nil {
		return nil, err
	}

	sender := req.Sender
	if sender == "" {
		sender = model.SenderOperator
	}
	if sender != model.SenderOperator && sender != model.SenderAI {
		return nil, apperrors.InvalidInput("sender", "must be operator or ai")
	}

	session, err := c.requireSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ID:        util.GenerateID(),
		SessionID: session.ID,
		Content:   req.Content,
		Sender:    sender,
		Timestamp: now,
		ReplyTo:   req.ReplyTo,
		Metadata:  req.Metadata,
		Status:    model.MessageStatusSent,
	}
	if req.OperatorName != "" {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]any)
		}
		msg.Metadata["operatorName"] = req.OperatorName
	}
	if err := c.messages.Save(ctx, msg); err != nil {
		return nil, apperrors.Database(err)
	}

	session.LastActivity = now
	if sender == model.SenderOperator && session.AIActive {
		// A human answered; the AI yields.
		session.AIActive = false
		log.Info().Str("sessionId", session.ID).Msg("operator reply, ai deactivated")
	}
	if err := c.sessions.Update(ctx, session); err != nil {
		return nil, apperrors.Database(err)
	}

	c.eachBridge(ctx, "operator message", func(ctx context.Context, b Bridge) error {
		if b.Name() == req.SourceBridge {
			return nil
		}
		return b.OnOperatorMessage(ctx, msg, session, req.SourceBridge, req.OperatorName)
	})
	c.broadcast(ctx, session.ID, model.EventTypeMessage, msg)
	c.runMessageCallback(msg, session)

	return msg, nil
}

// GetMessages returns one page of the session's messages in
// chronological order. after paginates past a known message id; limit
// is clamped. One extra message is fetched to learn whether more
// follow.
func (c *Core) GetMessages(ctx context.Context, sessionID, after string, limit int) (*MessagesPage, error) {
	if _, err := c.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	messages, err := c.messages.FindBySession(ctx, sessionID, after, limit+1)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	page := &MessagesPage{Messages: messages, HasMore: len(messages) > limit}
	if page.HasMore {
		page.Messages = messages[:limit]
	}
	return page, nil
}

// Typing fans a typing indicator out to the session's subscribers.
// Nothing is persisted.
func (c *Core) Typing(ctx context.Context, req TypingRequest) error {
	if _, err := c.requireSession(ctx, req.SessionID); err != nil {
		return err
	}
	c.broadcast(ctx, req.SessionID, model.EventTypeTyping, map[string]any{
		"sessionId": req.SessionID,
		"sender":    req.Sender,
		"isTyping":  req.IsTyping,
	})
	return nil
}

// MarkRead updates message statuses. A read receipt backfills the
// delivered timestamp when the delivery receipt never arrived. The
// receipt only fans out when at least one message actually changed.
func (c *Core) MarkRead(ctx context.Context, req ReadRequest) (int, error) {
	if req.Status != model.MessageStatusDelivered && req.Status != model.MessageStatusRead {
		return 0, apperrors.InvalidInput("status", "must be delivered or read")
	}

	session, err := c.requireSession(ctx, req.SessionID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	updated := 0
	changedIDs := make([]string, 0, len(req.MessageIDs))

	for _, id := range req.MessageIDs {
		msg, err := c.messages.FindByID(ctx, id)
		if err != nil {
			return updated, apperrors.Database(err)
		}
		if msg == nil || msg.SessionID != req.SessionID || msg.Status == req.Status {
			continue
		}

		msg.Status = req.Status
		switch req.Status {
		case model.MessageStatusDelivered:
			msg.DeliveredAt = &now
		case model.MessageStatusRead:
			msg.ReadAt = &now
			if msg.DeliveredAt == nil {
				msg.DeliveredAt = &now
			}
		}
		if err := c.messages.Save(ctx, msg); err != nil {
			return updated, apperrors.Database(err)
		}
		updated++
		changedIDs = append(changedIDs, id)
	}

	if updated > 0 {
		payload := map[string]any{
			"sessionId":   req.SessionID,
			"messageIds":  changedIDs,
			"status":      req.Status,
			"deliveredAt": now,
		}
		if req.Status == model.MessageStatusRead {
			payload["readAt"] = now
		}
		c.broadcast(ctx, req.SessionID, model.EventTypeRead, payload)
		c.eachBridge(ctx, "read receipt", func(ctx context.Context, b Bridge) error {
			notifier, ok := b.(ReadNotifier)
			if !ok {
				return nil
			}
			return notifier.OnMessagesRead(ctx, session, changedIDs, req.Status)
		})
	}

	return updated, nil
}

// Presence reports operator availability and the AI fallback settings.
func (c *Core) Presence() PresenceResponse {
	resp := PresenceResponse{
		Online:    c.IsOperatorOnline(),
		AIEnabled: c.ai != nil,
	}
	if c.ai != nil {
		after := int(c.takeoverDelay / time.Second)
		resp.AIActiveAfter = &after
	}
	return resp
}

// GetSession returns the session, or NotFound when it does not exist.
func (c *Core) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return c.requireSession(ctx, sessionID)
}

// SetOperatorOnline flips global operator presence and pushes the new
// state to every session with a live subscriber.
func (c *Core) SetOperatorOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	changed := c.operatorOnline != online
	c.operatorOnline = online
	c.mu.Unlock()

	if !changed {
		return
	}

	eventType := audit.EventOperatorOffline
	if online {
		eventType = audit.EventOperatorOnline
	}
	audit.Log(ctx, audit.Event{Type: eventType})
	log.Info().Bool("online", online).Msg("operator presence changed")

	if c.broker == nil {
		return
	}
	for _, sessionID := range c.broker.SessionIDs() {
		c.broadcast(ctx, sessionID, model.EventTypePresence, map[string]any{
			"online": online,
		})
	}
}

func (c *Core) IsOperatorOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.operatorOnline
}

func (c *Core) requireSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	session, err := c.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("session")
	}
	return session, nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperrors.MissingRequired("content")
	}
	if len(content) > model.MaxMessageContentLength {
		return apperrors.ContentTooLong(model.MaxMessageContentLength)
	}
	return nil
}

// broadcast fans one event out to the session's realtime subscribers.
// Fan-out failure never fails the operation that produced the event.
func (c *Core) broadcast(ctx context.Context, sessionID, eventType string, payload any) {
	if c.broker == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("failed to marshal event payload")
		return
	}
	if err := c.broker.Publish(ctx, sessionID, realtime.Event{Type: eventType, Data: data}); err != nil {
		log.Warn().Err(err).
			Str("sessionId", sessionID).
			Str("eventType", eventType).
			Msg("realtime publish failed")
	}
}

// eachBridge calls fn for every registered bridge. One bridge failing
// (error or panic) never stops delivery to the others.
func (c *Core) eachBridge(ctx context.Context, action string, fn func(ctx context.Context, b Bridge) error) {
	c.mu.RLock()
	bridges := make([]Bridge, len(c.bridges))
	copy(bridges, c.bridges)
	c.mu.RUnlock()

	for _, b := range bridges {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("bridge", b.Name()).
						Interface("panic", r).
						Msgf("bridge panicked on %s", action)
				}
			}()
			if err := fn(ctx, b); err != nil {
				log.Error().Err(err).
					Str("bridge", b.Name()).
					Msgf("bridge failed on %s", action)
			}
		}()
	}
}

func (c *Core) runSessionCallback(session *model.Session) {
	if c.onNewSession == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("new session callback panicked")
		}
	}()
	c.onNewSession(session)
}

func (c *Core) runMessageCallback(msg *model.Message, session *model.Session) {
	if c.onMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("message callback panicked")
		}
	}()
	c.onMessage(msg, session)
}
