package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketping/chat-server-go/internal/database"
	"github.com/pocketping/chat-server-go/internal/model"
)

type MessageRepository interface {
	// Save inserts the message, or updates its mutable fields (status,
	// delivered_at, read_at, metadata) when the id already exists.
	Save(ctx context.Context, message *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	// FindBySession returns messages in chronological order. When after
	// is a known message id, only messages following it are returned.
	// A non-positive limit returns everything.
	FindBySession(ctx context.Context, sessionID, after string, limit int) ([]model.Message, error)
	// FindRecentBySession returns the last limit messages of the
	// session, still in chronological order.
	FindRecentBySession(ctx context.Context, sessionID string, limit int) ([]model.Message, error)
}

type messageRepo struct {
	db *database.DB
}

func NewMessageRepository(db *database.DB) MessageRepository {
	return &messageRepo{db: db}
}

type messageRow struct {
	ID          string              `db:"id"`
	SessionID   string              `db:"session_id"`
	Content     string              `db:"content"`
	Sender      model.Sender        `db:"sender"`
	Timestamp   time.Time           `db:"timestamp"`
	ReplyTo     *string             `db:"reply_to"`
	Metadata    json.RawMessage     `db:"metadata"`
	Status      model.MessageStatus `db:"status"`
	DeliveredAt *time.Time          `db:"delivered_at"`
	ReadAt      *time.Time          `db:"read_at"`
}

func (r messageRow) toModel() (model.Message, error) {
	m := model.Message{
		ID:          r.ID,
		SessionID:   r.SessionID,
		Content:     r.Content,
		Sender:      r.Sender,
		Timestamp:   r.Timestamp,
		Status:      r.Status,
		DeliveredAt: r.DeliveredAt,
		ReadAt:      r.ReadAt,
	}
	if r.ReplyTo != nil {
		m.ReplyTo = *r.ReplyTo
	}
	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		if err := json.Unmarshal(r.Metadata, &m.Metadata); err != nil {
			return model.Message{}, fmt.Errorf("decode message metadata: %w", err)
		}
	}
	return m, nil
}

func (r *messageRepo) Save(ctx context.Context, message *model.Message) error {
	metadata, err := encodeJSONField(message.Metadata)
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}

	var replyTo *string
	if message.ReplyTo != "" {
		replyTo = &message.ReplyTo
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, session_id, content, sender, timestamp, reply_to, metadata, status, delivered_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			delivered_at = EXCLUDED.delivered_at,
			read_at = EXCLUDED.read_at
	`, message.ID, message.SessionID, message.Content, message.Sender,
		message.Timestamp, replyTo, metadata, message.Status,
		message.DeliveredAt, message.ReadAt)
	return err
}

func (r *messageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM messages WHERE id = $1`, id)
	found, err := HandleNotFound(&row, err)
	if found == nil || err != nil {
		return nil, err
	}
	m, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepo) FindBySession(ctx context.Context, sessionID, after string, limit int) ([]model.Message, error) {
	var rows []messageRow
	var err error

	switch {
	case after != "" && limit > 0:
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM messages
			WHERE session_id = $1
			AND timestamp > (SELECT timestamp FROM messages WHERE id = $2)
			ORDER BY timestamp ASC
			LIMIT $3
		`, sessionID, after, limit)
	case after != "":
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM messages
			WHERE session_id = $1
			AND timestamp > (SELECT timestamp FROM messages WHERE id = $2)
			ORDER BY timestamp ASC
		`, sessionID, after)
	case limit > 0:
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM messages
			WHERE session_id = $1
			ORDER BY timestamp ASC
			LIMIT $2
		`, sessionID, limit)
	default:
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM messages
			WHERE session_id = $1
			ORDER BY timestamp ASC
		`, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return rowsToModels(rows)
}

func (r *messageRepo) FindRecentBySession(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM (
			SELECT * FROM messages
			WHERE session_id = $1
			ORDER BY timestamp DESC
			LIMIT $2
		) recent
		ORDER BY timestamp ASC
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return rowsToModels(rows)
}

func rowsToModels(rows []messageRow) ([]model.Message, error) {
	messages := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}
