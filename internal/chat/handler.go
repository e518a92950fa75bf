package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	myMiddleware "chatwire/internal/middleware"
	"chatwire/internal/wire"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

type Handler struct {
	hub       *Hub
	store     Store
	validator TokenValidator
	log       *slog.Logger
}

func NewHandler(hub *Hub, store Store, validator TokenValidator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{hub: hub, store: store, validator: validator, log: log}
}

// ServeWs upgrades the connection and starts the pumps. Authentication is an
// in-band event (the first frame must be authenticate), so no middleware runs
// on this route.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}

	client := newClient(h.hub, h.validator, conn, h.log)

	go client.writePump()
	go client.readPump()
}

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	convs, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []wire.ConversationRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(convs)
}

func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID := chi.URLParam(r, "conversationID")
	msgs, err := h.store.ListMessages(r.Context(), userID, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotParticipant) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []wire.MessageRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

// SendMessage is the REST fallback path used when the websocket is
// unavailable. Online recipients are still notified through the hub.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var payload wire.SendMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.RecipientID == "" || payload.Content == "" {
		http.Error(w, "Missing recipient_id or content", http.StatusBadRequest)
		return
	}

	rec, convID, err := h.store.SaveMessage(r.Context(), userID, payload.RecipientID, payload.Content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.hub.NotifyNewMessage(r.Context(), rec, convID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wire.SendResult{
		MessageID:      rec.MessageID,
		Timestamp:      rec.Timestamp,
		ConversationID: convID,
		Status:         "sent",
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
