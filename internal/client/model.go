package client

import (
	"time"

	"chatwire/internal/wire"
)

// Message is the client-side view of one direct message.
type Message struct {
	ID          MessageID
	SenderID    string
	RecipientID string
	Content     string
	Timestamp   time.Time
	IsRead      bool
}

// Conversation is one entry of the local conversation directory.
type Conversation struct {
	ID              ConversationID
	OtherUserID     string
	OtherUsername   string
	LastMessage     string
	LastMessageTime time.Time
	UnreadCount     int
}

func messageFromRecord(rec wire.MessageRecord) Message {
	return Message{
		ID:          ConfirmedMessageID(rec.MessageID),
		SenderID:    rec.SenderID,
		RecipientID: rec.RecipientID,
		Content:     rec.Content,
		Timestamp:   rec.Timestamp,
		IsRead:      rec.IsRead,
	}
}

func messagesFromRecords(recs []wire.MessageRecord) []Message {
	out := make([]Message, 0, len(recs))
	for _, rec := range recs {
		out = append(out, messageFromRecord(rec))
	}
	return out
}

func conversationFromRecord(rec wire.ConversationRecord) Conversation {
	return Conversation{
		ID:              ConfirmedConversationID(rec.ConversationID),
		OtherUserID:     rec.OtherUserID,
		OtherUsername:   rec.OtherUsername,
		LastMessage:     rec.LastMessage,
		LastMessageTime: rec.LastMessageTime,
		UnreadCount:     rec.UnreadCount,
	}
}

func conversationsFromRecords(recs []wire.ConversationRecord) []Conversation {
	out := make([]Conversation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, conversationFromRecord(rec))
	}
	return out
}
