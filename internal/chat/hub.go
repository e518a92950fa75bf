package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"chatwire/internal/wire"
)

// Hub owns the per-user socket registry. Messages flow:
//
//	socket -> readPump -> Publish -> store + broker
//	broker -> Run -> recipient's socket (if connected here)
type Hub struct {
	Register   chan *Client   // client passed authenticate
	Unregister chan *Client   // socket closed
	Publish    chan *Outbound // client sent send_message over the socket

	clients map[string]*Client // user_id -> active socket
	store   Store
	broker  Broker
	log     *slog.Logger
}

func NewHub(store Store, broker Broker, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Publish:    make(chan *Outbound),
		clients:    make(map[string]*Client),
		store:      store,
		broker:     broker,
		log:        log,
	}
}

// Run is the hub's single event loop; all registry mutation happens here.
func (h *Hub) Run(ctx context.Context) {
	events := h.broker.Subscribe(ctx)

	for {
		select {
		case client := <-h.Register:
			// One socket per user; a fresh login bumps the stale one.
			if old, ok := h.clients[client.userID]; ok {
				old.shutdown()
			}
			h.clients[client.userID] = client
			h.publishStatus(ctx, client.userID, wire.StatusOnline)

		case client := <-h.Unregister:
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				client.shutdown()
				h.publishStatus(ctx, client.userID, wire.StatusOffline)
			}

		case out := <-h.Publish:
			h.handleSend(ctx, out)

		case payload, ok := <-events:
			if !ok {
				return
			}
			h.deliver(payload)

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleSend(ctx context.Context, out *Outbound) {
	rec, convID, err := h.store.SaveMessage(ctx, out.Client.userID, out.Payload.RecipientID, out.Payload.Content)
	if err != nil {
		h.log.Error("save message", "error", err)
		// Carry the ref so the sender can roll back the right entry.
		out.Client.trySend(wire.EventError, wire.ErrorPayload{
			Message:   "failed to send message",
			ClientRef: out.Payload.ClientRef,
		})
		return
	}

	// Ack the sender first so its optimistic entry settles.
	out.Client.trySend(wire.EventMessageSent, wire.MessageSentPayload{
		MessageID:      rec.MessageID,
		Timestamp:      rec.Timestamp,
		ConversationID: convID,
		ClientRef:      out.Payload.ClientRef,
	})

	h.publishNewMessage(ctx, rec, convID)
}

// NotifyNewMessage lets the REST fallback path push a freshly stored message
// to an online recipient, whichever instance it is connected to.
func (h *Hub) NotifyNewMessage(ctx context.Context, rec wire.MessageRecord, conversationID string) {
	h.publishNewMessage(ctx, rec, conversationID)
}

func (h *Hub) publishNewMessage(ctx context.Context, rec wire.MessageRecord, conversationID string) {
	payload, err := wire.Encode(wire.EventNewMessage, wire.NewMessagePayload{
		MessageID:      rec.MessageID,
		SenderID:       rec.SenderID,
		RecipientID:    rec.RecipientID,
		Content:        rec.Content,
		Timestamp:      rec.Timestamp,
		ConversationID: conversationID,
	})
	if err != nil {
		h.log.Error("encode new_message", "error", err)
		return
	}
	if err := h.broker.Publish(ctx, payload); err != nil {
		h.log.Error("publish new_message", "error", err)
	}
}

func (h *Hub) publishStatus(ctx context.Context, userID, status string) {
	payload, err := wire.Encode(wire.EventUserStatus, wire.UserStatusPayload{UserID: userID, Status: status})
	if err != nil {
		return
	}
	if err := h.broker.Publish(ctx, payload); err != nil {
		h.log.Error("publish user_status", "error", err)
	}
}

// deliver routes one broker event to locally connected sockets.
func (h *Hub) deliver(payload []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		h.log.Warn("malformed broker event dropped", "error", err)
		return
	}

	switch env.Event {
	case wire.EventNewMessage:
		var msg wire.NewMessagePayload
		if err := env.Decode(&msg); err != nil {
			h.log.Warn("malformed new_message dropped", "error", err)
			return
		}
		if target, ok := h.clients[msg.RecipientID]; ok {
			target.trySendRaw(payload)
		}

	case wire.EventUserStatus:
		// Presence goes to everyone connected here.
		for _, client := range h.clients {
			client.trySendRaw(payload)
		}

	default:
		h.log.Warn("unknown broker event dropped", "event", env.Event)
	}
}
