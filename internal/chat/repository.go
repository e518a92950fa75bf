package chat

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chatwire/internal/wire"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// pair returns the participant ids in sorted order so every (a,b) and (b,a)
// lands on the same conversation row.
func pair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func (r *Repository) getOrCreateConversation(ctx context.Context, tx *sql.Tx, userA, userB string) (string, error) {
	low, high := pair(userA, userB)

	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT conversation_id FROM conversations
		 WHERE participant_low = $1 AND participant_high = $2`, low, high).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id = uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, participant_low, participant_high)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (participant_low, participant_high) DO NOTHING`, id, low, high)
	if err != nil {
		return "", err
	}

	// A concurrent insert may have won the conflict; re-read either way.
	err = tx.QueryRowContext(ctx,
		`SELECT conversation_id FROM conversations
		 WHERE participant_low = $1 AND participant_high = $2`, low, high).Scan(&id)
	return id, err
}

func (r *Repository) SaveMessage(ctx context.Context, senderID, recipientID, content string) (wire.MessageRecord, string, error) {
	var rec wire.MessageRecord

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return rec, "", err
	}
	defer tx.Rollback()

	convID, err := r.getOrCreateConversation(ctx, tx, senderID, recipientID)
	if err != nil {
		return rec, "", err
	}

	rec = wire.MessageRecord{
		MessageID:   uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Timestamp:   time.Now().UTC(),
		IsRead:      false,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, sender_id, recipient_id, content, timestamp, is_read)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.MessageID, convID, rec.SenderID, rec.RecipientID, rec.Content, rec.Timestamp, rec.IsRead)
	if err != nil {
		return rec, "", err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations
		 SET last_message = $1, last_message_time = $2, last_sender_id = $3
		 WHERE conversation_id = $4`,
		rec.Content, rec.Timestamp, rec.SenderID, convID)
	if err != nil {
		return rec, "", err
	}

	return rec, convID, tx.Commit()
}

func (r *Repository) ListConversations(ctx context.Context, userID string) ([]wire.ConversationRecord, error) {
	query := `
		SELECT c.conversation_id,
		       u.user_id, u.username,
		       c.last_message, c.last_message_time,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.conversation_id
		          AND m.recipient_id = $1 AND m.is_read = FALSE)
		FROM conversations c
		JOIN users u ON u.user_id = CASE WHEN c.participant_low = $1
		                                 THEN c.participant_high
		                                 ELSE c.participant_low END
		WHERE c.participant_low = $1 OR c.participant_high = $1
		ORDER BY c.last_message_time DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []wire.ConversationRecord
	for rows.Next() {
		var c wire.ConversationRecord
		if err := rows.Scan(&c.ConversationID, &c.OtherUserID, &c.OtherUsername,
			&c.LastMessage, &c.LastMessageTime, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (r *Repository) ListMessages(ctx context.Context, userID, conversationID string) ([]wire.MessageRecord, error) {
	var low, high string
	err := r.db.QueryRowContext(ctx,
		`SELECT participant_low, participant_high FROM conversations
		 WHERE conversation_id = $1`, conversationID).Scan(&low, &high)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotParticipant
	}
	if err != nil {
		return nil, err
	}
	if userID != low && userID != high {
		return nil, ErrNotParticipant
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT message_id, sender_id, recipient_id, content, timestamp, is_read
		 FROM messages WHERE conversation_id = $1 ORDER BY timestamp ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []wire.MessageRecord
	for rows.Next() {
		var m wire.MessageRecord
		if err := rows.Scan(&m.MessageID, &m.SenderID, &m.RecipientID,
			&m.Content, &m.Timestamp, &m.IsRead); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Fetching history is what marks inbound messages as read.
	_, err = r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE
		 WHERE conversation_id = $1 AND recipient_id = $2 AND is_read = FALSE`,
		conversationID, userID)
	if err != nil {
		return nil, err
	}

	return msgs, nil
}
