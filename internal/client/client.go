// Package client keeps a local view of conversations and messages in sync
// with the chat service. Delivery arrives over a persistent push channel when
// it is up and over polled REST reads when it is not; sent messages show up
// immediately as provisional entries and are reconciled once the service
// acknowledges them.
//
// All state lives behind a single run loop: user actions, transport events,
// and poll ticks are applied one at a time, in arrival order.
package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chatwire/internal/client/api"
	"chatwire/internal/wire"

	"github.com/google/uuid"
)

// Config tunes the sync client. Zero values fall back to the defaults.
type Config struct {
	ServerURL      string
	ConnectTimeout time.Duration // push connect + handshake budget (default 20s)
	PollInterval   time.Duration // fallback poll period (default 3s)
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	TokenStore     TokenStore // default: file under the user config dir
	Logger         *slog.Logger
}

// Snapshot is the immutable view handed to the presentation layer after
// every state change.
type Snapshot struct {
	Authenticated bool
	UserID        string
	Username      string

	State ConnState
	Mode  TransportMode

	Conversations []Conversation
	Messages      []Message
	Active        *Conversation

	SearchResults []wire.UserSummary
	Presence      map[string]string

	// Err is the latest transient per-action failure; AuthErr forces the
	// login screen.
	Err     string
	AuthErr string
}

type pendingSend struct {
	provisional MessageID
	peerID      string
	content     string
}

// Client is the top-level synchronizer. Construct with New, drive with Run,
// observe through Updates.
type Client struct {
	cfg     Config
	api     *api.Client
	session *AuthSession
	log     *slog.Logger

	cmds    chan func()
	updates chan Snapshot
	closed  chan struct{}

	// Everything below is owned by the run loop.
	conn     *ConnectionManager
	poller   *PollScheduler
	store    *MessageStore
	dir      *ConversationDirectory
	pending  map[string]pendingSend
	presence map[string]string
	search   []wire.UserSummary
	lastErr  string
	authErr  string
	authBusy bool
}

func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 20 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TokenStore == nil {
		if path, err := DefaultTokenStorePath(); err == nil {
			cfg.TokenStore = NewFileTokenStore(path)
		} else {
			cfg.Logger.Warn("no config dir, credential will not persist", "error", err)
			cfg.TokenStore = NewMemoryTokenStore()
		}
	}

	apiClient := api.New(cfg.ServerURL)
	return &Client{
		cfg:      cfg,
		api:      apiClient,
		session:  NewAuthSession(apiClient, cfg.TokenStore, cfg.Logger),
		log:      cfg.Logger,
		cmds:     make(chan func(), 64),
		updates:  make(chan Snapshot, 1),
		closed:   make(chan struct{}),
		store:    NewMessageStore(),
		dir:      NewConversationDirectory(),
		pending:  make(map[string]pendingSend),
		presence: make(map[string]string),
	}
}

// Updates delivers a fresh snapshot after every state change. Only the
// latest snapshot is retained; slow consumers skip intermediate states.
func (c *Client) Updates() <-chan Snapshot { return c.updates }

// Run owns all state mutation until the context ends.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.closed)
	c.emit()

	for {
		var events <-chan Event
		if c.conn != nil {
			events = c.conn.Events()
		}

		select {
		case cmd := <-c.cmds:
			cmd()
		case ev := <-events:
			c.handleEvent(ev)
		case <-ctx.Done():
			c.shutdownSession()
			return ctx.Err()
		}
	}
}

func (c *Client) post(cmd func()) {
	select {
	case c.cmds <- cmd:
	case <-c.closed:
	}
}

// ---------------------------------------------
// Action entry points (presentation layer)
// ---------------------------------------------

func (c *Client) Login(username, password string) {
	c.authenticate(func(ctx context.Context) (Credential, error) {
		return c.session.Login(ctx, username, password)
	})
}

func (c *Client) Register(username, password string) {
	c.authenticate(func(ctx context.Context) (Credential, error) {
		return c.session.Register(ctx, username, password)
	})
}

// Restore resumes a persisted session, if one exists and still validates.
func (c *Client) Restore() {
	c.authenticate(func(ctx context.Context) (Credential, error) {
		return c.session.Restore(ctx)
	})
}

func (c *Client) authenticate(auth func(context.Context) (Credential, error)) {
	c.post(func() {
		if c.authBusy {
			return
		}
		c.authBusy = true
		c.authErr = ""
		c.emit()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			cred, err := auth(ctx)
			c.post(func() {
				c.authBusy = false
				if err != nil {
					c.authErr = authErrorText(err)
					c.emit()
					return
				}
				c.begin(cred)
			})
		}()
	})
}

func (c *Client) Logout() {
	c.post(func() {
		c.shutdownSession()
		c.session.Logout()
		c.emit()
	})
}

// Send posts a message to the active conversation's peer. The message shows
// up immediately as provisional and settles (or rolls back) when the
// transport outcome arrives.
func (c *Client) Send(content string) {
	c.post(func() {
		cred, ok := c.session.Credential()
		if !ok || c.conn == nil || content == "" {
			return
		}
		active, ok := c.dir.Active()
		if !ok {
			return
		}

		msg := c.store.AppendOptimistic(cred.UserID, active.OtherUserID, content, time.Now())
		ref := uuid.NewString()
		c.pending[ref] = pendingSend{provisional: msg.ID, peerID: active.OtherUserID, content: content}
		c.conn.Send(active.OtherUserID, content, ref)
		c.emit()
	})
}

func (c *Client) SelectConversation(id ConversationID) {
	c.post(func() {
		c.selectConversation(id)
		c.emit()
	})
}

// StartConversation opens (or reuses) a conversation with the peer. Nothing
// touches the network until the first message is sent.
func (c *Client) StartConversation(peer wire.UserSummary) {
	c.post(func() {
		conv := c.dir.UpsertEphemeral(peer)
		c.selectConversation(conv.ID)
		c.search = nil
		c.emit()
	})
}

func (c *Client) Search(query string) {
	c.post(func() {
		cred, ok := c.session.Credential()
		if !ok {
			return
		}
		if query == "" {
			c.search = nil
			c.emit()
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			res, err := c.api.SearchUsers(ctx, cred.Token, query)
			c.post(func() {
				if err != nil {
					c.lastErr = "search failed"
					c.emit()
					return
				}
				c.search = res
				c.emit()
			})
		}()
	})
}

// ---------------------------------------------
// Run-loop internals
// ---------------------------------------------

// begin wires up a fresh authenticated session.
func (c *Client) begin(cred Credential) {
	c.shutdownSession()

	wsURL, err := c.api.WebsocketURL()
	if err != nil {
		c.authErr = "invalid server URL"
		c.emit()
		return
	}

	c.conn = NewConnectionManager(c.api, wsURL, ConnConfig{
		ConnectTimeout: c.cfg.ConnectTimeout,
		BackoffMin:     c.cfg.BackoffMin,
		BackoffMax:     c.cfg.BackoffMax,
	}, c.log)
	c.poller = NewPollScheduler(c.cfg.PollInterval, c.pollTick)

	c.conn.Connect(cred)
	c.refreshDirectory()
	c.emit()
}

// shutdownSession is the lifecycle anchor: tearing down the credential tears
// down the transport, the poller, and every piece of synced state.
func (c *Client) shutdownSession() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
	c.store = NewMessageStore()
	c.dir = NewConversationDirectory()
	c.pending = make(map[string]pendingSend)
	c.presence = make(map[string]string)
	c.search = nil
	c.lastErr = ""
}

func (c *Client) selectConversation(id ConversationID) {
	conv, ok := c.dir.SetActive(id)
	if !ok {
		return
	}
	c.store.SetActive(conv.ID)
	c.dir.ResetUnread(conv.ID)
	if !conv.ID.Ephemeral() {
		c.reloadMessages(conv.ID)
	}
}

// reloadMessages fetches the history for the given conversation. A result
// arriving after the user switched away is discarded.
func (c *Client) reloadMessages(id ConversationID) {
	cred, ok := c.session.Credential()
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		recs, err := c.api.Messages(ctx, cred.Token, id.Value())
		c.post(func() {
			if c.store.Active() != id {
				return // stale reload for a deselected conversation
			}
			if err != nil {
				// Existing state stays; the next poll tick or navigation retries.
				c.log.Warn("history reload failed", "error", err)
				return
			}
			c.store.ReplaceAll(messagesFromRecords(recs))
			c.emit()
		})
	}()
}

func (c *Client) refreshDirectory() {
	cred, ok := c.session.Credential()
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		recs, err := c.api.Conversations(ctx, cred.Token)
		c.post(func() {
			if err != nil {
				c.log.Warn("directory refresh failed", "error", err)
				return
			}
			c.applyDirectory(conversationsFromRecords(recs))
			c.emit()
		})
	}()
}

func (c *Client) applyDirectory(convs []Conversation) {
	before := c.dir.ActiveID()
	after, changed := c.dir.Refresh(convs)
	if !changed {
		return
	}
	// Selection moved (ephemeral confirmed) or vanished; the store follows.
	if after.IsZero() {
		c.store.SetActive(ConversationID{})
		return
	}
	if before.Ephemeral() && !after.Ephemeral() {
		c.store.AdoptActiveID(after)
		c.reloadMessages(after)
	}
}

// pollTick runs one fallback reload: active history plus the directory.
// done must fire when the reload settles; the scheduler skips ticks while it
// is outstanding.
func (c *Client) pollTick(done func()) {
	c.post(func() {
		cred, ok := c.session.Credential()
		if !ok {
			done()
			return
		}
		active := c.store.Active()

		go func() {
			defer done()
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			var msgs []wire.MessageRecord
			var msgsErr error
			if !active.IsZero() && !active.Ephemeral() {
				msgs, msgsErr = c.api.Messages(ctx, cred.Token, active.Value())
			}
			convs, convsErr := c.api.Conversations(ctx, cred.Token)

			c.post(func() {
				if msgsErr == nil && !active.IsZero() && !active.Ephemeral() && c.store.Active() == active {
					c.store.ReplaceAll(messagesFromRecords(msgs))
				}
				if convsErr == nil {
					c.applyDirectory(conversationsFromRecords(convs))
				}
				if msgsErr != nil || convsErr != nil {
					c.log.Warn("poll reload incomplete", "messages", msgsErr, "directory", convsErr)
				}
				c.emit()
			})
		}()
	})
}

func (c *Client) handleEvent(ev Event) {
	switch ev := ev.(type) {
	case PushConnected:
		if c.poller != nil {
			c.poller.Stop()
		}
		// Catch up on anything that happened while the channel was down.
		if active := c.store.Active(); !active.IsZero() && !active.Ephemeral() {
			c.reloadMessages(active)
		}
		c.refreshDirectory()
		c.emit()

	case FellBack:
		if c.poller != nil {
			c.poller.Start()
		}
		c.emit()

	case AuthRejected:
		c.log.Warn("push channel rejected credential", "message", ev.Message)
		c.shutdownSession()
		c.session.Logout()
		c.authErr = "session rejected, please sign in again"
		c.emit()

	case InboundMessage:
		c.applyInbound(ev.Msg)
		c.emit()

	case InboundStatus:
		c.presence[ev.Status.UserID] = ev.Status.Status
		c.emit()

	case SendAck:
		c.applySendAck(ev.Ack)
		c.emit()

	case SendFailed:
		if p, ok := c.pending[ev.ClientRef]; ok {
			delete(c.pending, ev.ClientRef)
			c.store.Rollback(p.provisional)
		}
		c.log.Warn("send failed on all transports", "error", ev.Err)
		c.lastErr = "message could not be sent"
		c.emit()
	}
}

// applyInbound applies a new_message event: the sequence only if it belongs
// to the conversation on screen, the directory always.
func (c *Client) applyInbound(msg wire.NewMessagePayload) {
	cred, _ := c.session.Credential()

	if active, ok := c.dir.Active(); ok {
		belongs := msg.SenderID == active.OtherUserID ||
			(msg.SenderID == cred.UserID && msg.RecipientID == active.OtherUserID)
		if belongs {
			c.store.ApplyInbound(messageFromRecord(wire.MessageRecord{
				MessageID:   msg.MessageID,
				SenderID:    msg.SenderID,
				RecipientID: msg.RecipientID,
				Content:     msg.Content,
				Timestamp:   msg.Timestamp,
			}))
		}
	}

	fromSelf := msg.SenderID == cred.UserID
	if !c.dir.ApplyMessageEvent(msg.ConversationID, msg.Content, msg.Timestamp, !fromSelf) {
		// No local entry yet (first message of a new conversation); pull
		// the authoritative directory instead of synthesizing an orphan.
		c.refreshDirectory()
	}
}

func (c *Client) applySendAck(ack wire.MessageSentPayload) {
	p, ok := c.pending[ack.ClientRef]
	if !ok {
		return
	}
	delete(c.pending, ack.ClientRef)
	c.lastErr = ""

	if !c.store.Reconcile(p.provisional, ack.MessageID, ack.Timestamp) {
		// The provisional entry was replaced by a full reload that already
		// contains the confirmed record; nothing to rewrite.
		c.log.Debug("ack for already-settled send", "message_id", ack.MessageID)
	}

	// First ack for an ephemeral conversation carries its real identifier.
	if active := c.dir.ActiveID(); active.Ephemeral() {
		if conv, ok := c.dir.Active(); ok && conv.OtherUserID == p.peerID {
			if confirmed, ok := c.dir.ConfirmEphemeral(active, ack.ConversationID); ok {
				c.store.AdoptActiveID(confirmed)
			}
		}
	}

	c.dir.ApplyMessageEvent(ack.ConversationID, p.content, ack.Timestamp, false)
}

func (c *Client) snapshot() Snapshot {
	snap := Snapshot{
		Conversations: c.dir.Conversations(),
		Messages:      c.store.Messages(),
		SearchResults: append([]wire.UserSummary(nil), c.search...),
		Presence:      make(map[string]string, len(c.presence)),
		Err:           c.lastErr,
		AuthErr:       c.authErr,
		State:         StateDisconnected,
		Mode:          ModeFallback,
	}
	for k, v := range c.presence {
		snap.Presence[k] = v
	}
	if cred, ok := c.session.Credential(); ok {
		snap.Authenticated = true
		snap.UserID = cred.UserID
		snap.Username = cred.Username
	}
	if c.conn != nil {
		snap.State = c.conn.State()
		snap.Mode = snap.State.Mode()
	}
	if conv, ok := c.dir.Active(); ok {
		snap.Active = &conv
	}
	return snap
}

// emit publishes the current snapshot, replacing any unconsumed one.
func (c *Client) emit() {
	snap := c.snapshot()
	for {
		select {
		case c.updates <- snap:
			return
		default:
			select {
			case <-c.updates:
			default:
			}
		}
	}
}

func authErrorText(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoCredential) {
		// Nothing stored is not an error worth surfacing.
		return ""
	}
	return err.Error()
}
