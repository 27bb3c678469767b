package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pocketping/chat-server-go/internal/database"
	"github.com/pocketping/chat-server-go/internal/model"
)

type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindLatestByVisitorID(ctx context.Context, visitorID string) (*model.Session, error)
	Update(ctx context.Context, session *model.Session) error
	// FindActiveSince returns sessions whose last activity is at or after
	// the given time, bounded by limit. The AI-takeover sweep uses this
	// instead of a full table scan.
	FindActiveSince(ctx context.Context, since time.Time, limit int) ([]*model.Session, error)
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type sessionRepo struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepo{db: db}
}

type sessionRow struct {
	ID             string          `db:"id"`
	VisitorID      string          `db:"visitor_id"`
	CreatedAt      time.Time       `db:"created_at"`
	LastActivity   time.Time       `db:"last_activity"`
	OperatorOnline bool            `db:"operator_online"`
	AIActive       bool            `db:"ai_active"`
	Metadata       json.RawMessage `db:"metadata"`
	Identity       json.RawMessage `db:"identity"`
}

func (r sessionRow) toModel() (*model.Session, error) {
	s := &model.Session{
		ID:             r.ID,
		VisitorID:      r.VisitorID,
		CreatedAt:      r.CreatedAt,
		LastActivity:   r.LastActivity,
		OperatorOnline: r.OperatorOnline,
		AIActive:       r.AIActive,
	}
	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		s.Metadata = &model.SessionMetadata{}
		if err := json.Unmarshal(r.Metadata, s.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	if len(r.Identity) > 0 && string(r.Identity) != "null" {
		s.Identity = &model.UserIdentity{}
		if err := json.Unmarshal(r.Identity, s.Identity); err != nil {
			return nil, fmt.Errorf("decode session identity: %w", err)
		}
	}
	return s, nil
}

func encodeJSONField(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (r *sessionRepo) Create(ctx context.Context, session *model.Session) error {
	metadata, err := encodeJSONField(session.Metadata)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	identity, err := encodeJSONField(session.Identity)
	if err != nil {
		return fmt.Errorf("encode session identity: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, visitor_id, created_at, last_activity, operator_online, ai_active, metadata, identity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.VisitorID, session.CreatedAt, session.LastActivity,
		session.OperatorOnline, session.AIActive, metadata, identity)
	return err
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = $1`, id)
	found, err := HandleNotFound(&row, err)
	if found == nil || err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *sessionRepo) FindLatestByVisitorID(ctx context.Context, visitorID string) (*model.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM sessions
		WHERE visitor_id = $1
		ORDER BY last_activity DESC
		LIMIT 1
	`, visitorID)
	found, err := HandleNotFound(&row, err)
	if found == nil || err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *sessionRepo) Update(ctx context.Context, session *model.Session) error {
	metadata, err := encodeJSONField(session.Metadata)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	identity, err := encodeJSONField(session.Identity)
	if err != nil {
		return fmt.Errorf("encode session identity: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE sessions SET
			last_activity = $2,
			operator_online = $3,
			ai_active = $4,
			metadata = $5,
			identity = $6
		WHERE id = $1
	`, session.ID, session.LastActivity, session.OperatorOnline,
		session.AIActive, metadata, identity)
	return err
}

func (r *sessionRepo) FindActiveSince(ctx context.Context, since time.Time, limit int) ([]*model.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM sessions
		WHERE last_activity >= $1
		ORDER BY last_activity DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}

	sessions := make([]*model.Session, 0, len(rows))
	for _, row := range rows {
		s, err := row.toModel()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *sessionRepo) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages
			WHERE session_id IN (SELECT id FROM sessions WHERE last_activity < $1)
		`, cutoff); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			DELETE FROM sessions WHERE last_activity < $1
		`, cutoff)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}
