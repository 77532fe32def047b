package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(ctx context.Context, dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// migrations run in order on every start; each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE TABLE IF NOT EXISTS conversations (
            id UUID PRIMARY KEY,
            is_group BOOLEAN NOT NULL DEFAULT FALSE,
            direct_key TEXT UNIQUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            last_message_at TIMESTAMPTZ,
            last_message_id UUID
        )`,

	`CREATE TABLE IF NOT EXISTS participants (
            conversation_id UUID REFERENCES conversations(id) ON DELETE CASCADE,
            user_id UUID REFERENCES users(id) ON DELETE CASCADE,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            last_read_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (conversation_id, user_id)
        )`,

	`CREATE INDEX IF NOT EXISTS participants_user_idx ON participants (user_id)`,

	`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            content TEXT NOT NULL CHECK (char_length(content) <= 2000),
            type VARCHAR(20) NOT NULL DEFAULT 'text' CHECK (type IN ('text', 'shared_content')),
            created_at TIMESTAMPTZ NOT NULL,
            delivered_at TIMESTAMPTZ,
            read_at TIMESTAMPTZ,
            is_deleted BOOLEAN NOT NULL DEFAULT FALSE
        )`,

	`CREATE INDEX IF NOT EXISTS messages_conversation_created_idx
            ON messages (conversation_id, created_at DESC, id DESC)`,

	`CREATE TABLE IF NOT EXISTS notifications (
            id UUID PRIMARY KEY,
            recipient_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            sender_id UUID REFERENCES users(id) ON DELETE SET NULL,
            type VARCHAR(20) NOT NULL,
            payload JSONB NOT NULL DEFAULT '{}'::jsonb,
            read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE INDEX IF NOT EXISTS notifications_recipient_created_idx
            ON notifications (recipient_id, created_at DESC)`,
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	for i, query := range migrations {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
