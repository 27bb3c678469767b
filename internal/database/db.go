package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/pocketping/chat-server-go/internal/config"
)

type DB struct {
	*sqlx.DB
}

func Connect(databaseURL string) (*DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(config.DBMaxOpenConns)
	db.SetMaxIdleConns(config.DBMaxIdleConns)
	db.SetConnMaxLifetime(config.DBConnMaxLifetime)

	return &DB{db}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// EnsureSchema creates the tables if they do not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id              TEXT PRIMARY KEY,
			visitor_id      TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			last_activity   TIMESTAMPTZ NOT NULL,
			operator_online BOOLEAN NOT NULL DEFAULT FALSE,
			ai_active       BOOLEAN NOT NULL DEFAULT FALSE,
			metadata        JSONB,
			identity        JSONB
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_visitor_activity
			ON sessions (visitor_id, last_activity DESC);
		CREATE INDEX IF NOT EXISTS idx_sessions_last_activity
			ON sessions (last_activity);

		CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL REFERENCES sessions (id),
			content      TEXT NOT NULL,
			sender       TEXT NOT NULL,
			timestamp    TIMESTAMPTZ NOT NULL,
			reply_to     TEXT,
			metadata     JSONB,
			status       TEXT NOT NULL DEFAULT 'sent',
			delivered_at TIMESTAMPTZ,
			read_at      TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_timestamp
			ON messages (session_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TxFunc is a function that runs within a transaction.
type TxFunc func(tx *sqlx.Tx) error

// WithTx executes fn within a database transaction.
// If fn returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func (db *DB) WithTx(ctx context.Context, fn TxFunc) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
