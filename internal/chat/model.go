package chat

import (
	"context"
	"errors"

	"chatwire/internal/wire"
)

var ErrNotParticipant = errors.New("conversation not found")

// Store is what the chat feature needs from persistence.
// This keeps the hub and handlers testable without a database.
type Store interface {
	// SaveMessage persists a direct message, creating the conversation for
	// the pair on first contact, and returns the stored record plus the
	// conversation id.
	SaveMessage(ctx context.Context, senderID, recipientID, content string) (wire.MessageRecord, string, error)
	ListConversations(ctx context.Context, userID string) ([]wire.ConversationRecord, error)
	// ListMessages returns the conversation history oldest-first and marks
	// the caller's inbound messages as read.
	ListMessages(ctx context.Context, userID, conversationID string) ([]wire.MessageRecord, error)
}

// TokenValidator is what the hub needs from the user service to handle the
// in-band authenticate event.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, string, error)
}

// Outbound is a send_message read off a client's socket, waiting for the hub.
type Outbound struct {
	Client  *Client
	Payload wire.SendMessagePayload
}
