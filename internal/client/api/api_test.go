package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatwire/internal/wire"
)

func TestStatusCodeMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/me":
			http.Error(w, "invalid token", http.StatusUnauthorized)
		case "/api/messages/c-9":
			http.Error(w, "conversation not found", http.StatusNotFound)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)

	if _, err := c.Me(context.Background(), "tok"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("me err = %v, want ErrUnauthorized", err)
	}
	if _, err := c.Messages(context.Background(), "tok", "c-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("messages err = %v, want ErrNotFound", err)
	}
	_, err := c.Conversations(context.Background(), "tok")
	if err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) {
		t.Fatalf("conversations err = %v, want plain server error", err)
	}
}

func TestBearerHeaderAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization header = %q", got)
		}
		json.NewEncoder(w).Encode([]wire.ConversationRecord{
			{ConversationID: "c-1", OtherUserID: "u-2", OtherUsername: "bea"},
		})
	}))
	defer srv.Close()

	convs, err := New(srv.URL).Conversations(context.Background(), "tok")
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ConversationID != "c-1" {
		t.Fatalf("convs = %+v", convs)
	}
}

func TestSendMessageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload wire.SendMessagePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if payload.RecipientID != "u-2" || payload.Content != "hi" {
			t.Errorf("payload = %+v", payload)
		}
		json.NewEncoder(w).Encode(wire.SendResult{MessageID: "42", ConversationID: "c-1", Status: "sent"})
	}))
	defer srv.Close()

	res, err := New(srv.URL).SendMessage(context.Background(), "tok", "u-2", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.MessageID != "42" || res.Status != "sent" {
		t.Fatalf("result = %+v", res)
	}
}

func TestSearchUsersEscapesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "a b&c" {
			t.Errorf("q = %q", got)
		}
		json.NewEncoder(w).Encode([]wire.UserSummary{{UserID: "u-2", Username: "bea"}})
	}))
	defer srv.Close()

	users, err := New(srv.URL).SearchUsers(context.Background(), "tok", "a b&c")
	if err != nil || len(users) != 1 {
		t.Fatalf("search = %+v, %v", users, err)
	}
}

func TestWebsocketURL(t *testing.T) {
	cases := []struct {
		base, want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://chat.example.com", "wss://chat.example.com/ws"},
		{"http://chat.example.com/prefix/", "ws://chat.example.com/prefix/ws"},
	}
	for _, tc := range cases {
		got, err := New(tc.base).WebsocketURL()
		if err != nil {
			t.Fatalf("%s: %v", tc.base, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.base, got, tc.want)
		}
	}
	if _, err := New("ftp://example.com").WebsocketURL(); err == nil {
		t.Fatal("unsupported scheme accepted")
	}
}
