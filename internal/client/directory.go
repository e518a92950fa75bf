package client

import (
	"sort"
	"time"

	"chatwire/internal/wire"
)

// ConversationDirectory is the merged set of server-confirmed and locally
// created ephemeral conversations, newest-first. Owned by the client run
// loop; not safe for concurrent use.
type ConversationDirectory struct {
	list   []Conversation
	active ConversationID
}

func NewConversationDirectory() *ConversationDirectory {
	return &ConversationDirectory{}
}

// Refresh replaces the server-confirmed portion of the directory wholesale.
// Ephemeral entries survive only while no confirmed conversation exists for
// their peer; once one arrives it supersedes the placeholder, and if the
// placeholder was active the selection follows the peer onto the confirmed
// conversation. Returns the active id and whether it changed.
func (d *ConversationDirectory) Refresh(confirmed []Conversation) (ConversationID, bool) {
	byPeer := make(map[string]ConversationID, len(confirmed))
	next := make([]Conversation, len(confirmed))
	copy(next, confirmed)
	for _, c := range confirmed {
		byPeer[c.OtherUserID] = c.ID
	}

	var activePeer string
	for _, c := range d.list {
		if c.ID == d.active {
			activePeer = c.OtherUserID
		}
		if c.ID.Ephemeral() {
			if _, superseded := byPeer[c.OtherUserID]; !superseded {
				next = append(next, c)
			}
		}
	}

	sortByRecency(next)
	d.list = next

	if d.active.IsZero() {
		return d.active, false
	}
	for _, c := range d.list {
		if c.ID == d.active {
			return d.active, false
		}
	}
	// The active entry is gone. An ephemeral one may have been confirmed:
	// selection follows the peer, not the identifier.
	if d.active.Ephemeral() && activePeer != "" {
		if id, ok := byPeer[activePeer]; ok {
			d.active = id
			return d.active, true
		}
	}
	d.active = ConversationID{}
	return d.active, true
}

// UpsertEphemeral returns the existing conversation for the peer, confirmed
// or ephemeral, or synthesizes a fresh ephemeral placeholder. Either way the
// result becomes the active conversation. No network call happens here.
func (d *ConversationDirectory) UpsertEphemeral(peer wire.UserSummary) Conversation {
	for _, c := range d.list {
		if c.OtherUserID == peer.UserID {
			d.active = c.ID
			return c
		}
	}

	conv := Conversation{
		ID:            NewEphemeralConversationID(),
		OtherUserID:   peer.UserID,
		OtherUsername: peer.Username,
	}
	d.list = append([]Conversation{conv}, d.list...)
	d.active = conv.ID
	return conv
}

// ApplyMessageEvent updates the preview fields of the conversation an
// inbound or acked message belongs to. countUnread increments the unread
// counter (inbound messages for a conversation that is not on screen).
// Returns false when no entry matches; the caller is expected to refresh.
func (d *ConversationDirectory) ApplyMessageEvent(conversationID, content string, at time.Time, countUnread bool) bool {
	for i := range d.list {
		if d.list[i].ID == ConfirmedConversationID(conversationID) {
			d.list[i].LastMessage = content
			d.list[i].LastMessageTime = at
			if countUnread && d.list[i].ID != d.active {
				d.list[i].UnreadCount++
			}
			sortByRecency(d.list)
			return true
		}
	}
	return false
}

// ConfirmEphemeral rewrites an ephemeral conversation's identifier to the
// server-issued one, first send acked. Selection follows the rewrite.
func (d *ConversationDirectory) ConfirmEphemeral(id ConversationID, serverID string) (ConversationID, bool) {
	if !id.Ephemeral() {
		return id, false
	}
	for i := range d.list {
		if d.list[i].ID == id {
			confirmed := ConfirmedConversationID(serverID)
			d.list[i].ID = confirmed
			if d.active == id {
				d.active = confirmed
			}
			return confirmed, true
		}
	}
	return id, false
}

// SetActive selects a conversation by identifier.
func (d *ConversationDirectory) SetActive(id ConversationID) (Conversation, bool) {
	for _, c := range d.list {
		if c.ID == id {
			d.active = id
			return c, true
		}
	}
	return Conversation{}, false
}

func (d *ConversationDirectory) Active() (Conversation, bool) {
	for _, c := range d.list {
		if c.ID == d.active {
			return c, true
		}
	}
	return Conversation{}, false
}

func (d *ConversationDirectory) ActiveID() ConversationID { return d.active }

// ResetUnread zeroes the unread counter, done when the user opens the
// conversation (the server clears its side on the history fetch).
func (d *ConversationDirectory) ResetUnread(id ConversationID) {
	for i := range d.list {
		if d.list[i].ID == id {
			d.list[i].UnreadCount = 0
			return
		}
	}
}

// Conversations returns a copy of the directory, newest-first.
func (d *ConversationDirectory) Conversations() []Conversation {
	out := make([]Conversation, len(d.list))
	copy(out, d.list)
	return out
}

func sortByRecency(list []Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastMessageTime.After(list[j].LastMessageTime)
	})
}
