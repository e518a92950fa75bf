// Package wire defines the JSON payloads shared by the chat server and the
// sync client: the websocket event envelope and the REST request/response
// bodies. Both sides import this package so the contract lives in one place.
package wire

import (
	"encoding/json"
	"time"
)

// Websocket event names.
const (
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"
	EventAuthError     = "auth_error"
	EventSendMessage   = "send_message"
	EventMessageSent   = "message_sent"
	EventNewMessage    = "new_message"
	EventUserStatus    = "user_status"
	EventError         = "error"
)

// User presence values carried by user_status events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope wraps every websocket frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode builds a marshaled envelope around the given payload.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode unmarshals the envelope's payload into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// AuthPayload is sent by the client right after the socket opens.
type AuthPayload struct {
	Token string `json:"token"`
}

// AuthResult acknowledges a successful authenticate event.
type AuthResult struct {
	Status string `json:"status"`
}

// ErrorPayload carries error and auth_error event bodies. ClientRef is set
// when the error is the outcome of a specific send_message, so the sender can
// settle the matching optimistic entry.
type ErrorPayload struct {
	Message   string `json:"message"`
	ClientRef string `json:"client_ref,omitempty"`
}

// SendMessagePayload is the client's send_message body. ClientRef is a
// client-chosen correlation id echoed back in message_sent so overlapping
// sends reconcile to the right optimistic entry.
type SendMessagePayload struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	ClientRef   string `json:"client_ref,omitempty"`
}

// MessageSentPayload confirms a send to its originator.
type MessageSentPayload struct {
	MessageID      string    `json:"message_id"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	ClientRef      string    `json:"client_ref,omitempty"`
}

// NewMessagePayload notifies a recipient of an inbound message.
type NewMessagePayload struct {
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
}

// UserStatusPayload broadcasts presence changes.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// ---------------------------------------------
// REST bodies
// ---------------------------------------------

// Credentials is the register/login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
}

// UserProfile is the /api/me response.
type UserProfile struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// UserSummary is a search result entry.
type UserSummary struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ConversationRecord is one entry of the /api/conversations response.
type ConversationRecord struct {
	ConversationID  string    `json:"conversation_id"`
	OtherUserID     string    `json:"other_user_id"`
	OtherUsername   string    `json:"other_username"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	UnreadCount     int       `json:"unread_count"`
}

// MessageRecord is one entry of the /api/messages response.
type MessageRecord struct {
	MessageID   string    `json:"message_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	IsRead      bool      `json:"is_read"`
}

// SendResult is the fallback send endpoint's response.
type SendResult struct {
	MessageID      string    `json:"message_id"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
}
