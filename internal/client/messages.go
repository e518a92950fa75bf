package client

import (
	"sort"
	"time"
)

// MessageStore holds the ordered, deduplicated message sequence for the
// currently active conversation. It is owned by the client run loop; none of
// its methods are safe for concurrent use.
type MessageStore struct {
	active ConversationID
	seq    []Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// SetActive switches the store to another conversation, discarding the
// previous sequence. The caller is expected to trigger a reload.
func (s *MessageStore) SetActive(id ConversationID) {
	s.active = id
	s.seq = nil
}

// AdoptActiveID rewrites the active conversation identifier in place,
// keeping the sequence. Used when an ephemeral conversation is confirmed by
// the server mid-flight.
func (s *MessageStore) AdoptActiveID(id ConversationID) {
	s.active = id
}

func (s *MessageStore) Active() ConversationID { return s.active }

// AppendOptimistic inserts a provisional message at the tail and returns it
// so the caller can reconcile or roll it back later.
func (s *MessageStore) AppendOptimistic(senderID, recipientID, content string, now time.Time) Message {
	msg := Message{
		ID:          NewProvisionalMessageID(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Timestamp:   now,
		IsRead:      false,
	}
	s.seq = append(s.seq, msg)
	return msg
}

// Reconcile rewrites the matching provisional entry's identifier and
// timestamp to the confirmed values, preserving its position. The confirmed
// timestamp is assumed consistent with send order, so no re-sort happens.
func (s *MessageStore) Reconcile(provisional MessageID, confirmedID string, timestamp time.Time) bool {
	if !provisional.Provisional() {
		return false
	}
	for i := range s.seq {
		if s.seq[i].ID == provisional {
			s.seq[i].ID = ConfirmedMessageID(confirmedID)
			s.seq[i].Timestamp = timestamp
			return true
		}
	}
	return false
}

// Rollback removes a provisional entry after a send failed on every
// transport.
func (s *MessageStore) Rollback(provisional MessageID) bool {
	for i := range s.seq {
		if s.seq[i].ID == provisional {
			s.seq = append(s.seq[:i], s.seq[i+1:]...)
			return true
		}
	}
	return false
}

// ApplyInbound appends a message unless its identifier is already present.
// The dedup guard keeps a message delivered by both transports during a
// switch from appearing twice.
func (s *MessageStore) ApplyInbound(msg Message) bool {
	for i := range s.seq {
		if s.seq[i].ID == msg.ID {
			return false
		}
	}
	s.seq = append(s.seq, msg)
	return true
}

// ReplaceAll swaps in a full reload from the fallback path, sorted by
// timestamp ascending.
func (s *MessageStore) ReplaceAll(msgs []Message) {
	seq := make([]Message, len(msgs))
	copy(seq, msgs)
	sort.SliceStable(seq, func(i, j int) bool {
		return seq[i].Timestamp.Before(seq[j].Timestamp)
	})
	s.seq = seq
}

// Messages returns a copy of the current sequence.
func (s *MessageStore) Messages() []Message {
	out := make([]Message, len(s.seq))
	copy(out, s.seq)
	return out
}

func (s *MessageStore) Len() int { return len(s.seq) }
