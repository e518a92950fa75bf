package wire

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sent := NewMessagePayload{
		MessageID:      "m-1",
		SenderID:       "u-1",
		RecipientID:    "u-2",
		Content:        "hello",
		Timestamp:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ConversationID: "c-1",
	}

	frame, err := Encode(EventNewMessage, sent)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != EventNewMessage {
		t.Fatalf("event = %q, want %q", env.Event, EventNewMessage)
	}

	var got NewMessagePayload
	if err := env.Decode(&got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got != sent {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, sent)
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	raw := []byte(`{"event":"message_sent","data":{"message_id":"42","client_ref":"r1","some_future_field":true}}`)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var ack MessageSentPayload
	if err := env.Decode(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack.MessageID != "42" || ack.ClientRef != "r1" {
		t.Fatalf("unexpected payload: %+v", ack)
	}
}

func TestEnvelopeMalformedData(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"event":"new_message","data":"not-an-object"}`), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var msg NewMessagePayload
	if err := env.Decode(&msg); err == nil {
		t.Fatal("expected decode error for malformed data")
	}
}
