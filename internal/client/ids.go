package client

import "github.com/google/uuid"

// MessageID tags a message identifier as either server-confirmed or a local
// provisional id awaiting its message_sent ack. Keeping the tag in the type
// means reconciliation never has to sniff string prefixes.
type MessageID struct {
	value       string
	provisional bool
}

func NewProvisionalMessageID() MessageID {
	return MessageID{value: uuid.NewString(), provisional: true}
}

func ConfirmedMessageID(serverID string) MessageID {
	return MessageID{value: serverID}
}

func (id MessageID) Value() string     { return id.value }
func (id MessageID) Provisional() bool { return id.provisional }
func (id MessageID) IsZero() bool      { return id.value == "" }

// ConversationID likewise tags server-issued conversation ids apart from
// ephemeral placeholders created before the first message is persisted.
type ConversationID struct {
	value     string
	ephemeral bool
}

func NewEphemeralConversationID() ConversationID {
	return ConversationID{value: uuid.NewString(), ephemeral: true}
}

func ConfirmedConversationID(serverID string) ConversationID {
	return ConversationID{value: serverID}
}

func (id ConversationID) Value() string   { return id.value }
func (id ConversationID) Ephemeral() bool { return id.ephemeral }
func (id ConversationID) IsZero() bool    { return id.value == "" }
