package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketping/chat-server-go/internal/model"
)

// eventWildcard matches every event name.
const eventWildcard = "*"

type eventRegistration struct {
	name    string
	handler EventHandler
}

// OnEvent registers a handler for a named widget event. The name "*"
// matches everything. The returned function removes the registration.
func (c *Core) OnEvent(name string, handler EventHandler) func() {
	reg := &eventRegistration{name: name, handler: handler}

	c.handlersMu.Lock()
	c.eventHandlers[name] = append(c.eventHandlers[name], reg)
	c.handlersMu.Unlock()

	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		regs := c.eventHandlers[name]
		for i, r := range regs {
			if r == reg {
				c.eventHandlers[name] = append(regs[:i:i], regs[i+1:]...)
				break
			}
		}
		if len(c.eventHandlers[name]) == 0 {
			delete(c.eventHandlers, name)
		}
	}
}

// OffEvent removes every handler registered for the name.
func (c *Core) OffEvent(name string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.eventHandlers, name)
}

// HandleCustomEvent dispatches a widget event. Delivery order: exact
// handlers, wildcard handlers, the global event callback, then bridges
// that opted in. A failing consumer never blocks the rest.
func (c *Core) HandleCustomEvent(ctx context.Context, req model.CustomEvent) error {
	session, err := c.requireSession(ctx, req.SessionID)
	if err != nil {
		return err
	}

	event := model.CustomEvent{
		Name:      req.Name,
		Data:      req.Data,
		Timestamp: time.Now().UTC(),
		SessionID: session.ID,
	}

	c.handlersMu.RLock()
	regs := make([]*eventRegistration, 0,
		len(c.eventHandlers[event.Name])+len(c.eventHandlers[eventWildcard]))
	regs = append(regs, c.eventHandlers[event.Name]...)
	if event.Name != eventWildcard {
		regs = append(regs, c.eventHandlers[eventWildcard]...)
	}
	c.handlersMu.RUnlock()

	for _, reg := range regs {
		c.runEventHandler(reg, event, session)
	}

	c.runEventCallback(event, session)

	c.eachBridge(ctx, "custom event", func(ctx context.Context, b Bridge) error {
		notifier, ok := b.(EventNotifier)
		if !ok {
			return nil
		}
		return notifier.OnEvent(ctx, event, session)
	})

	return nil
}

// EmitEvent pushes a named event from the server to one session's
// widget.
func (c *Core) EmitEvent(ctx context.Context, sessionID, name string, data map[string]any) error {
	if _, err := c.requireSession(ctx, sessionID); err != nil {
		return err
	}
	c.broadcast(ctx, sessionID, model.EventTypeCustom, model.CustomEvent{
		Name:      name,
		Data:      data,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
	})
	return nil
}

// BroadcastEvent pushes a named event to every session with a live
// subscriber.
func (c *Core) BroadcastEvent(ctx context.Context, name string, data map[string]any) {
	if c.broker == nil {
		return
	}
	now := time.Now().UTC()
	for _, sessionID := range c.broker.SessionIDs() {
		c.broadcast(ctx, sessionID, model.EventTypeCustom, model.CustomEvent{
			Name:      name,
			Data:      data,
			Timestamp: now,
			SessionID: sessionID,
		})
	}
}

func (c *Core) runEventHandler(reg *eventRegistration, event model.CustomEvent, session *model.Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", event.Name).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	reg.handler(event, session)
}

func (c *Core) runEventCallback(event model.CustomEvent, session *model.Session) {
	if c.onEvent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", event.Name).
				Interface("panic", r).
				Msg("event callback panicked")
		}
	}()
	c.onEvent(event, session)
}
