package chat

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"chatwire/internal/wire"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.
	authWait       = 30 * time.Second    // Time allowed for the authenticate event to arrive.
)

// Client is a middleman between one websocket connection and the hub. It is
// anonymous until the peer sends a valid authenticate event.
type Client struct {
	hub       *Hub
	validator TokenValidator
	conn      *websocket.Conn
	log       *slog.Logger

	// Buffered channel of outbound frames. Never closed; shutdown is
	// signalled through done so the read and write pumps can both keep
	// sending without racing a close.
	Send chan []byte

	done     chan struct{}
	closeOne sync.Once

	authed   bool
	userID   string
	username string
}

func newClient(hub *Hub, validator TokenValidator, conn *websocket.Conn, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		hub:       hub,
		validator: validator,
		conn:      conn,
		log:       log,
		Send:      make(chan []byte, 256),
		done:      make(chan struct{}),
	}
}

// shutdown signals both pumps to stop. Safe to call from the hub and from
// the pumps themselves, any number of times.
func (c *Client) shutdown() {
	c.closeOne.Do(func() { close(c.done) })
}

// trySend encodes an envelope and queues it without blocking the hub.
func (c *Client) trySend(event string, payload any) {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		c.log.Error("encode frame", "event", event, "error", err)
		return
	}
	c.trySendRaw(frame)
}

func (c *Client) trySendRaw(frame []byte) {
	select {
	case c.Send <- frame:
	case <-c.done:
		// Socket already being torn down; nobody will read this.
	default:
		// Slow consumer; drop the frame rather than stall the hub.
		c.log.Warn("outbound frame dropped", "user_id", c.userID, "username", c.username)
	}
}

// readPump pumps frames from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		if c.authed {
			c.hub.Unregister <- c
		} else {
			c.shutdown()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	// Until the peer authenticates, give it a short window instead of the
	// full pong-based keepalive.
	c.conn.SetReadDeadline(time.Now().Add(authWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("socket closed", "user_id", c.userID, "username", c.username, "error", err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.log.Warn("malformed frame dropped", "error", err)
			continue
		}

		if !c.authed {
			if env.Event != wire.EventAuthenticate {
				c.trySend(wire.EventError, wire.ErrorPayload{Message: "Not authenticated"})
				continue
			}
			if !c.authenticate(&env) {
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		switch env.Event {
		case wire.EventSendMessage:
			var payload wire.SendMessagePayload
			if err := env.Decode(&payload); err != nil || payload.RecipientID == "" || payload.Content == "" {
				c.trySend(wire.EventError, wire.ErrorPayload{Message: "Missing recipient_id or content"})
				continue
			}
			c.hub.Publish <- &Outbound{Client: c, Payload: payload}

		default:
			c.log.Warn("unknown event dropped", "event", env.Event, "user_id", c.userID)
		}
	}
}

// authenticate handles the in-band auth handshake. Returns false when the
// socket must be torn down.
func (c *Client) authenticate(env *wire.Envelope) bool {
	var payload wire.AuthPayload
	if err := env.Decode(&payload); err != nil || payload.Token == "" {
		c.trySend(wire.EventAuthError, wire.ErrorPayload{Message: "No token provided"})
		return false
	}

	userID, username, err := c.validator.ValidateToken(payload.Token)
	if err != nil {
		c.trySend(wire.EventAuthError, wire.ErrorPayload{Message: "Invalid token"})
		return false
	}

	c.userID = userID
	c.username = username
	c.authed = true
	c.hub.Register <- c
	c.trySend(wire.EventAuthenticated, wire.AuthResult{Status: "success"})
	return true
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-c.done:
			// Flush whatever is already queued, then say goodbye.
			for {
				select {
				case frame := <-c.Send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
