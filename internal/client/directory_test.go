package client

import (
	"testing"
	"time"

	"chatwire/internal/wire"
)

func confirmedConv(id, peer string, at time.Time) Conversation {
	return Conversation{
		ID:              ConfirmedConversationID(id),
		OtherUserID:     peer,
		OtherUsername:   "user-" + peer,
		LastMessage:     "last",
		LastMessageTime: at,
	}
}

func TestUpsertEphemeralIdempotent(t *testing.T) {
	d := NewConversationDirectory()
	peer := wire.UserSummary{UserID: "p-1", Username: "bea"}

	first := d.UpsertEphemeral(peer)
	if !first.ID.Ephemeral() {
		t.Fatal("new conversation not ephemeral")
	}
	second := d.UpsertEphemeral(peer)
	if first.ID != second.ID {
		t.Fatal("second upsert created a fresh placeholder")
	}
	if len(d.Conversations()) != 1 {
		t.Fatalf("directory has %d entries, want 1", len(d.Conversations()))
	}
	if d.ActiveID() != first.ID {
		t.Fatal("upsert did not activate the conversation")
	}
}

func TestUpsertEphemeralPrefersConfirmed(t *testing.T) {
	d := NewConversationDirectory()
	d.Refresh([]Conversation{confirmedConv("c-1", "p-1", time.Now())})

	got := d.UpsertEphemeral(wire.UserSummary{UserID: "p-1", Username: "bea"})
	if got.ID != ConfirmedConversationID("c-1") {
		t.Fatalf("got %+v, want existing confirmed conversation", got.ID)
	}
}

func TestRefreshRetainsUnmatchedEphemeral(t *testing.T) {
	d := NewConversationDirectory()
	eph := d.UpsertEphemeral(wire.UserSummary{UserID: "p-2", Username: "cal"})

	_, changed := d.Refresh([]Conversation{confirmedConv("c-1", "p-1", time.Now())})
	if changed {
		t.Fatal("active id should be untouched")
	}
	found := false
	for _, c := range d.Conversations() {
		if c.ID == eph.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("ephemeral entry for unrelated peer dropped by refresh")
	}
}

func TestRefreshSupersedesEphemeralSelectionFollowsPeer(t *testing.T) {
	d := NewConversationDirectory()
	eph := d.UpsertEphemeral(wire.UserSummary{UserID: "p-1", Username: "bea"})
	if d.ActiveID() != eph.ID {
		t.Fatal("ephemeral not active")
	}

	active, changed := d.Refresh([]Conversation{confirmedConv("c-1", "p-1", time.Now())})
	if !changed {
		t.Fatal("selection should have moved to the confirmed conversation")
	}
	if active != ConfirmedConversationID("c-1") {
		t.Fatalf("active = %+v, want c-1", active)
	}
	for _, c := range d.Conversations() {
		if c.ID.Ephemeral() {
			t.Fatal("superseded ephemeral entry survived refresh")
		}
	}
}

func TestRefreshClearsVanishedActive(t *testing.T) {
	d := NewConversationDirectory()
	d.Refresh([]Conversation{confirmedConv("c-1", "p-1", time.Now())})
	d.SetActive(ConfirmedConversationID("c-1"))

	active, changed := d.Refresh(nil)
	if !changed || !active.IsZero() {
		t.Fatalf("active = %+v changed = %v, want cleared", active, changed)
	}
}

func TestApplyMessageEventUpdatesPreviewAndUnread(t *testing.T) {
	d := NewConversationDirectory()
	base := time.Now()
	d.Refresh([]Conversation{
		confirmedConv("c-1", "p-1", base),
		confirmedConv("c-2", "p-2", base.Add(time.Second)),
	})
	d.SetActive(ConfirmedConversationID("c-2"))

	at := base.Add(time.Minute)
	if !d.ApplyMessageEvent("c-1", "hello", at, true) {
		t.Fatal("event for known conversation unmatched")
	}

	convs := d.Conversations()
	if convs[0].ID != ConfirmedConversationID("c-1") {
		t.Fatal("conversation with newest message not first")
	}
	if convs[0].LastMessage != "hello" || !convs[0].LastMessageTime.Equal(at) {
		t.Fatalf("preview not updated: %+v", convs[0])
	}
	if convs[0].UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", convs[0].UnreadCount)
	}
}

func TestApplyMessageEventActiveNotCounted(t *testing.T) {
	d := NewConversationDirectory()
	d.Refresh([]Conversation{confirmedConv("c-1", "p-1", time.Now())})
	d.SetActive(ConfirmedConversationID("c-1"))

	d.ApplyMessageEvent("c-1", "hello", time.Now(), true)
	conv, _ := d.Active()
	if conv.UnreadCount != 0 {
		t.Fatalf("unread = %d for on-screen conversation, want 0", conv.UnreadCount)
	}
}

func TestApplyMessageEventUnknownConversation(t *testing.T) {
	d := NewConversationDirectory()
	if d.ApplyMessageEvent("c-9", "hi", time.Now(), true) {
		t.Fatal("event for unknown conversation matched")
	}
}

func TestConfirmEphemeral(t *testing.T) {
	d := NewConversationDirectory()
	eph := d.UpsertEphemeral(wire.UserSummary{UserID: "p-1", Username: "bea"})

	confirmed, ok := d.ConfirmEphemeral(eph.ID, "c-7")
	if !ok || confirmed != ConfirmedConversationID("c-7") {
		t.Fatalf("confirm = %+v, %v", confirmed, ok)
	}
	if d.ActiveID() != confirmed {
		t.Fatal("selection did not follow the rewrite")
	}
	if _, ok := d.ConfirmEphemeral(confirmed, "c-8"); ok {
		t.Fatal("confirming a confirmed id succeeded")
	}
}

func TestResetUnread(t *testing.T) {
	d := NewConversationDirectory()
	d.Refresh([]Conversation{confirmedConv("c-1", "p-1", time.Now())})
	d.ApplyMessageEvent("c-1", "hi", time.Now(), true)

	d.ResetUnread(ConfirmedConversationID("c-1"))
	if d.Conversations()[0].UnreadCount != 0 {
		t.Fatal("unread counter not reset")
	}
}
