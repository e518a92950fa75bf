package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatwire/internal/client/api"
	"chatwire/internal/wire"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a frame to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong from the peer.
	pingPeriod = (pongWait * 9) / 10 // Send pings with this period. Must be less than pongWait.
)

// ConnState is the connection lifecycle:
// Disconnected -> Connecting -> Authenticating -> ActivePush | ActiveFallback.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateActivePush
	StateActiveFallback
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActivePush:
		return "live"
	case StateActiveFallback:
		return "polling"
	default:
		return "disconnected"
	}
}

// TransportMode says which delivery path is serving the session right now.
type TransportMode int

const (
	ModePush TransportMode = iota
	ModeFallback
)

func (s ConnState) Mode() TransportMode {
	if s == StateActivePush {
		return ModePush
	}
	return ModeFallback
}

// Event is a transport notification delivered to the client run loop.
type Event interface{ isEvent() }

// PushConnected fires when the authenticate handshake succeeds.
type PushConnected struct{}

// FellBack fires when the push channel fails or drops; polling takes over
// while reconnect attempts continue in the background.
type FellBack struct{ Reason error }

// AuthRejected is fatal: the service refused the credential on the push
// channel. No reconnects follow.
type AuthRejected struct{ Message string }

// InboundMessage wraps a new_message event from either transport direction.
type InboundMessage struct{ Msg wire.NewMessagePayload }

// InboundStatus wraps a user_status presence event.
type InboundStatus struct{ Status wire.UserStatusPayload }

// SendAck confirms a send on whichever transport served it.
type SendAck struct{ Ack wire.MessageSentPayload }

// SendFailed reports a send that failed on every transport.
type SendFailed struct {
	ClientRef string
	Err       error
}

func (PushConnected) isEvent()  {}
func (FellBack) isEvent()       {}
func (AuthRejected) isEvent()   {}
func (InboundMessage) isEvent() {}
func (InboundStatus) isEvent()  {}
func (SendAck) isEvent()        {}
func (SendFailed) isEvent()     {}

// ConnConfig bounds the connect attempt and the reconnect backoff.
type ConnConfig struct {
	ConnectTimeout time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
}

func (c *ConnConfig) fill() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 20 * time.Second
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// ConnectionManager owns the push channel handle and decides which transport
// is active. Sends go over the channel when it is up and through the REST
// fallback otherwise; the caller never needs to know which one served it.
type ConnectionManager struct {
	api    *api.Client
	wsURL  string
	cfg    ConnConfig
	log    *slog.Logger
	events chan Event

	mu      sync.Mutex
	state   ConnState
	cred    Credential
	sess    *pushSession
	closed  bool
	backoff time.Duration
	retry   *time.Timer
	gen     int

	// Sends queued on the push channel and not yet acked. When the session
	// dies these can no longer resolve, so lost() fails them explicitly.
	inflight map[string]struct{}
}

type pushSession struct {
	conn *websocket.Conn
	out  chan []byte
}

func NewConnectionManager(apiClient *api.Client, wsURL string, cfg ConnConfig, log *slog.Logger) *ConnectionManager {
	cfg.fill()
	if log == nil {
		log = slog.Default()
	}
	return &ConnectionManager{
		api:      apiClient,
		wsURL:    wsURL,
		cfg:      cfg,
		log:      log,
		events:   make(chan Event, 256),
		inflight: make(map[string]struct{}),
	}
}

func (m *ConnectionManager) Events() <-chan Event { return m.events }

func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) Mode() TransportMode { return m.State().Mode() }

// Connect starts the initial push attempt. The outcome is always one of
// PushConnected, FellBack, or AuthRejected within the connect timeout.
func (m *ConnectionManager) Connect(cred Credential) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.cred = cred
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.attempt(gen, true)
}

// Close tears the channel down for good (explicit logout). Client-initiated,
// so no reconnection follows.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.gen++
	m.state = StateDisconnected
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()

	if sess != nil {
		sess.conn.Close()
	}
}

func (m *ConnectionManager) attempt(gen int, initial bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		m.fallBack(gen, err)
		return
	}

	if initial {
		m.mu.Lock()
		if gen == m.gen && !m.closed {
			m.state = StateAuthenticating
		}
		m.mu.Unlock()
	}

	pending, err := m.handshake(conn)
	if err != nil {
		conn.Close()
		if rej, ok := err.(*authRejectedError); ok {
			m.rejected(gen, rej.message)
			return
		}
		m.fallBack(gen, err)
		return
	}

	m.activate(gen, conn, pending)
}

type authRejectedError struct{ message string }

func (e *authRejectedError) Error() string { return "authentication rejected: " + e.message }

// handshake sends the authenticate event and waits for its outcome. Events
// that arrive before the ack (presence broadcasts race it) are buffered and
// replayed after activation.
func (m *ConnectionManager) handshake(conn *websocket.Conn) ([]Event, error) {
	deadline := time.Now().Add(m.cfg.ConnectTimeout)

	m.mu.Lock()
	token := m.cred.Token
	m.mu.Unlock()

	frame, err := wire.Encode(wire.EventAuthenticate, wire.AuthPayload{Token: token})
	if err != nil {
		return nil, err
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return nil, err
	}

	var pending []Event
	conn.SetReadDeadline(deadline)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.log.Warn("malformed frame during handshake dropped", "error", err)
			continue
		}
		switch env.Event {
		case wire.EventAuthenticated:
			return pending, nil
		case wire.EventAuthError:
			var p wire.ErrorPayload
			_ = env.Decode(&p)
			return nil, &authRejectedError{message: p.Message}
		default:
			if ev, ok := m.decodeInbound(&env); ok {
				pending = append(pending, ev)
			}
		}
	}
}

func (m *ConnectionManager) activate(gen int, conn *websocket.Conn, pending []Event) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	sess := &pushSession{conn: conn, out: make(chan []byte, 64)}
	m.sess = sess
	m.state = StateActivePush
	m.backoff = 0
	m.mu.Unlock()

	m.emit(PushConnected{})
	for _, ev := range pending {
		m.emit(ev)
	}

	go m.readPump(gen, sess)
	go m.writePump(sess)
}

func (m *ConnectionManager) readPump(gen int, sess *pushSession) {
	defer sess.conn.Close()

	sess.conn.SetReadLimit(64 * 1024)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			m.lost(gen, err)
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.log.Warn("malformed inbound frame dropped", "error", err)
			continue
		}
		if ev, ok := m.decodeInbound(&env); ok {
			m.emit(ev)
		}
	}
}

// decodeInbound maps a wire envelope to a transport event. Unknown and
// malformed events are logged and dropped, never fatal.
func (m *ConnectionManager) decodeInbound(env *wire.Envelope) (Event, bool) {
	switch env.Event {
	case wire.EventNewMessage:
		var p wire.NewMessagePayload
		if err := env.Decode(&p); err != nil {
			m.log.Warn("malformed new_message dropped", "error", err)
			return nil, false
		}
		return InboundMessage{Msg: p}, true
	case wire.EventMessageSent:
		var p wire.MessageSentPayload
		if err := env.Decode(&p); err != nil {
			m.log.Warn("malformed message_sent dropped", "error", err)
			return nil, false
		}
		m.settle(p.ClientRef)
		return SendAck{Ack: p}, true
	case wire.EventUserStatus:
		var p wire.UserStatusPayload
		if err := env.Decode(&p); err != nil {
			m.log.Warn("malformed user_status dropped", "error", err)
			return nil, false
		}
		return InboundStatus{Status: p}, true
	case wire.EventError:
		var p wire.ErrorPayload
		_ = env.Decode(&p)
		if p.ClientRef != "" {
			// The error is a send outcome; settle that optimistic entry.
			m.settle(p.ClientRef)
			return SendFailed{ClientRef: p.ClientRef, Err: errors.New(p.Message)}, true
		}
		m.log.Warn("server error event", "message", p.Message)
		return nil, false
	default:
		m.log.Warn("unknown event dropped", "event", env.Event)
		return nil, false
	}
}

func (m *ConnectionManager) writePump(sess *pushSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-sess.out:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send delivers a message over whichever transport is active. The outcome
// arrives as a SendAck or SendFailed event carrying the clientRef.
func (m *ConnectionManager) Send(recipientID, content, clientRef string) {
	m.mu.Lock()
	sess := m.sess
	token := m.cred.Token
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return
	}

	if sess != nil {
		frame, err := wire.Encode(wire.EventSendMessage, wire.SendMessagePayload{
			RecipientID: recipientID,
			Content:     content,
			ClientRef:   clientRef,
		})
		if err == nil {
			select {
			case sess.out <- frame:
				m.mu.Lock()
				if m.sess == sess {
					m.inflight[clientRef] = struct{}{}
				}
				m.mu.Unlock()
				return // ack comes back over the channel
			default:
				// Outbound queue jammed; fall through to the REST path.
			}
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		res, err := m.api.SendMessage(ctx, token, recipientID, content)
		if err != nil {
			m.emit(SendFailed{ClientRef: clientRef, Err: err})
			return
		}
		m.emit(SendAck{Ack: wire.MessageSentPayload{
			MessageID:      res.MessageID,
			Timestamp:      res.Timestamp,
			ConversationID: res.ConversationID,
			ClientRef:      clientRef,
		}})
	}()
}

// fallBack records a recoverable transport failure: polling serves the
// session while reconnects continue with bounded backoff.
func (m *ConnectionManager) fallBack(gen int, reason error) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.state = StateActiveFallback
	m.sess = nil
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.log.Info("push channel unavailable, polling", "reason", reason)
	m.emit(FellBack{Reason: reason})
}

// lost handles a server-initiated disconnect of an active push channel.
func (m *ConnectionManager) lost(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.sess == nil {
		m.mu.Unlock()
		return
	}
	m.gen++ // invalidate the dead session's pumps
	m.sess = nil
	m.state = StateActiveFallback
	unresolved := m.inflight
	m.inflight = make(map[string]struct{})
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.log.Info("push channel lost, polling", "error", err)
	// Sends queued on the dead channel will never be acked; fail them so
	// their optimistic entries roll back instead of hanging forever.
	for ref := range unresolved {
		m.emit(SendFailed{ClientRef: ref, Err: err})
	}
	m.emit(FellBack{Reason: err})
}

// settle forgets an in-flight push send once its outcome arrived.
func (m *ConnectionManager) settle(ref string) {
	if ref == "" {
		return
	}
	m.mu.Lock()
	delete(m.inflight, ref)
	m.mu.Unlock()
}

// scheduleReconnectLocked arms the next attempt; callers hold m.mu.
func (m *ConnectionManager) scheduleReconnectLocked() {
	if m.backoff == 0 {
		m.backoff = m.cfg.BackoffMin
	} else {
		m.backoff *= 2
		if m.backoff > m.cfg.BackoffMax {
			m.backoff = m.cfg.BackoffMax
		}
	}
	if m.retry != nil {
		m.retry.Stop()
	}
	m.retry = time.AfterFunc(m.backoff, func() {
		m.mu.Lock()
		if m.closed || m.state != StateActiveFallback {
			m.mu.Unlock()
			return
		}
		m.gen++
		gen := m.gen
		m.mu.Unlock()
		m.attempt(gen, false)
	})
}

// rejected handles a fatal authentication rejection from the push channel.
func (m *ConnectionManager) rejected(gen int, message string) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.sess = nil
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.mu.Unlock()

	m.emit(AuthRejected{Message: message})
}

func (m *ConnectionManager) emit(ev Event) {
	m.events <- ev
}
