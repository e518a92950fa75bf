package client

import (
	"fmt"
	"testing"
	"time"
)

func confirmedMsg(id string, at time.Time) Message {
	return Message{
		ID:        ConfirmedMessageID(id),
		SenderID:  "peer",
		Content:   "msg " + id,
		Timestamp: at,
	}
}

func TestApplyInboundDeduplicates(t *testing.T) {
	s := NewMessageStore()
	base := time.Now()

	for i := 0; i < 5; i++ {
		msg := confirmedMsg(fmt.Sprintf("m-%d", i), base.Add(time.Duration(i)*time.Second))
		if !s.ApplyInbound(msg) {
			t.Fatalf("first delivery of m-%d rejected", i)
		}
		// Same message arriving again over the other transport.
		if s.ApplyInbound(msg) {
			t.Fatalf("duplicate m-%d accepted", i)
		}
	}

	seen := map[string]bool{}
	for _, m := range s.Messages() {
		if seen[m.ID.Value()] {
			t.Fatalf("duplicate id %s in sequence", m.ID.Value())
		}
		seen[m.ID.Value()] = true
	}
	if s.Len() != 5 {
		t.Fatalf("len = %d, want 5", s.Len())
	}
}

func TestReconcilePreservesPosition(t *testing.T) {
	s := NewMessageStore()
	base := time.Now()
	s.ApplyInbound(confirmedMsg("a", base))
	prov := s.AppendOptimistic("me", "peer", "hi", base.Add(time.Second))
	s.ApplyInbound(confirmedMsg("b", base.Add(2*time.Second)))

	if !s.Reconcile(prov.ID, "42", base.Add(90*time.Second)) {
		t.Fatal("reconcile failed")
	}

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	// Position held even though the confirmed timestamp is later than b's.
	if msgs[1].ID.Value() != "42" || msgs[1].ID.Provisional() {
		t.Fatalf("middle entry = %+v, want confirmed 42", msgs[1].ID)
	}

	count := 0
	for _, m := range msgs {
		if m.ID.Value() == "42" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("confirmed id appears %d times, want 1", count)
	}
}

func TestReconcileUnknownProvisional(t *testing.T) {
	s := NewMessageStore()
	if s.Reconcile(NewProvisionalMessageID(), "42", time.Now()) {
		t.Fatal("reconcile of unknown provisional succeeded")
	}
	if s.Reconcile(ConfirmedMessageID("42"), "43", time.Now()) {
		t.Fatal("reconcile accepted a confirmed id")
	}
}

func TestRollbackRemovesProvisional(t *testing.T) {
	s := NewMessageStore()
	s.ApplyInbound(confirmedMsg("a", time.Now()))
	prov := s.AppendOptimistic("me", "peer", "oops", time.Now())

	if !s.Rollback(prov.ID) {
		t.Fatal("rollback failed")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	if s.Rollback(prov.ID) {
		t.Fatal("second rollback succeeded")
	}
}

func TestReplaceAllSortsAscending(t *testing.T) {
	s := NewMessageStore()
	base := time.Now()
	s.ReplaceAll([]Message{
		confirmedMsg("c", base.Add(2*time.Second)),
		confirmedMsg("a", base),
		confirmedMsg("b", base.Add(time.Second)),
	})

	msgs := s.Messages()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Fatalf("sequence not sorted at %d", i)
		}
	}
	if msgs[0].ID.Value() != "a" || msgs[2].ID.Value() != "c" {
		t.Fatalf("unexpected order: %v %v %v", msgs[0].ID.Value(), msgs[1].ID.Value(), msgs[2].ID.Value())
	}
}

func TestSetActiveClearsSequence(t *testing.T) {
	s := NewMessageStore()
	s.SetActive(ConfirmedConversationID("c-1"))
	s.ApplyInbound(confirmedMsg("a", time.Now()))

	s.SetActive(ConfirmedConversationID("c-2"))
	if s.Len() != 0 {
		t.Fatalf("len = %d after switch, want 0", s.Len())
	}
	if s.Active() != ConfirmedConversationID("c-2") {
		t.Fatalf("active = %+v", s.Active())
	}
}

func TestAdoptActiveIDKeepsSequence(t *testing.T) {
	s := NewMessageStore()
	eph := NewEphemeralConversationID()
	s.SetActive(eph)
	prov := s.AppendOptimistic("me", "peer", "hi", time.Now())

	s.AdoptActiveID(ConfirmedConversationID("c-9"))
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	if s.Active().Ephemeral() {
		t.Fatal("active id still ephemeral")
	}
	if !s.Reconcile(prov.ID, "42", time.Now()) {
		t.Fatal("provisional lost across id adoption")
	}
}
