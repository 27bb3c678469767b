package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pocketping/chat-server-go/internal/model"
)

// MemorySessionRepository is an in-memory SessionRepository. It is the
// reference storage for development and tests; data is lost on restart.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*model.Session),
	}
}

func (r *MemorySessionRepository) Create(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *session
	r.sessions[session.ID] = &stored
	return nil
}

func (r *MemorySessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (r *MemorySessionRepository) FindLatestByVisitorID(ctx context.Context, visitorID string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.Session
	for _, session := range r.sessions {
		if session.VisitorID != visitorID {
			continue
		}
		if latest == nil || session.LastActivity.After(latest.LastActivity) {
			latest = session
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (r *MemorySessionRepository) Update(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *session
	r.sessions[session.ID] = &stored
	return nil
}

func (r *MemorySessionRepository) FindActiveSince(ctx context.Context, since time.Time, limit int) ([]*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*model.Session
	for _, session := range r.sessions {
		if session.LastActivity.Before(since) {
			continue
		}
		copied := *session
		sessions = append(sessions, &copied)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (r *MemorySessionRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, session := range r.sessions {
		if session.LastActivity.Before(cutoff) {
			delete(r.sessions, id)
			count++
		}
	}
	return count, nil
}

var _ SessionRepository = (*MemorySessionRepository)(nil)

// MemoryMessageRepository is an in-memory MessageRepository.
type MemoryMessageRepository struct {
	mu        sync.RWMutex
	bySession map[string][]model.Message
	byID      map[string]*model.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		bySession: make(map[string][]model.Message),
		byID:      make(map[string]*model.Message),
	}
}

func (r *MemoryMessageRepository) Save(ctx context.Context, message *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[message.ID]; ok {
		// Update in place, keeping session ordering intact.
		msgs := r.bySession[message.SessionID]
		for i := range msgs {
			if msgs[i].ID == message.ID {
				msgs[i] = *message
				break
			}
		}
		stored := *message
		r.byID[message.ID] = &stored
		return nil
	}

	r.bySession[message.SessionID] = append(r.bySession[message.SessionID], *message)
	stored := *message
	r.byID[message.ID] = &stored
	return nil
}

func (r *MemoryMessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *msg
	return &copied, nil
}

func (r *MemoryMessageRepository) FindBySession(ctx context.Context, sessionID, after string, limit int) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.bySession[sessionID]

	start := 0
	if after != "" {
		for i, msg := range msgs {
			if msg.ID == after {
				start = i + 1
				break
			}
		}
	}

	end := len(msgs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	result := make([]model.Message, end-start)
	copy(result, msgs[start:end])
	return result, nil
}

func (r *MemoryMessageRepository) FindRecentBySession(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.bySession[sessionID]

	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}

	result := make([]model.Message, len(msgs)-start)
	copy(result, msgs[start:])
	return result, nil
}

var _ MessageRepository = (*MemoryMessageRepository)(nil)
