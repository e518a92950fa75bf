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

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) AutoMigrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            user_id UUID PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            last_active TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		// One row per user pair. Participants are stored sorted so a pair
		// maps to exactly one conversation.
		`CREATE TABLE IF NOT EXISTS conversations (
            conversation_id UUID PRIMARY KEY,
            participant_low UUID NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
            participant_high UUID NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
            last_message TEXT DEFAULT '',
            last_message_time TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            last_sender_id UUID,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (participant_low, participant_high)
        )`,

		`CREATE TABLE IF NOT EXISTS messages (
            message_id UUID PRIMARY KEY,
            conversation_id UUID REFERENCES conversations(conversation_id) ON DELETE CASCADE,
            sender_id UUID NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
            recipient_id UUID NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
            content TEXT NOT NULL,
            timestamp TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            is_read BOOLEAN DEFAULT FALSE
        )`,

		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
            ON messages (conversation_id, timestamp)`,
	}

	for _, query := range queries {
		_, err := d.Conn.Exec(query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
