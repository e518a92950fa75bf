// Load generator: registers user pairs and spams direct messages over the
// websocket channel, verifying every send gets its message_sent ack.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"chatwire/internal/wire"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	baseURL   = flag.String("url", "http://localhost:8080", "server base URL")
	wsURL     = flag.String("ws", "ws://localhost:8080/ws", "websocket URL")
	pairCount = flag.Int("pairs", 50, "user pairs (2 users each)")
	msgCount  = flag.Int("messages", 20, "messages per user")
)

func main() {
	flag.Parse()
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", *pairCount*2, *msgCount)
	var wg sync.WaitGroup

	// Pairs: user 0 talks to user 1, user 2 talks to user 3...
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a_%s", pairID, uuid.NewString()[:8])
	userB := fmt.Sprintf("u_%d_b_%s", pairID, uuid.NewString()[:8])
	pass := "password123"

	authA := register(userA, pass)
	authB := register(userB, pass)
	if authA == nil || authB == nil {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, authA, authB.UserID)
	go spamChat(&wsWg, authB, authA.UserID)
	wsWg.Wait()
}

func register(username, password string) *wire.AuthResponse {
	body, _ := json.Marshal(wire.Credentials{Username: username, Password: password})
	resp, err := http.Post(*baseURL+"/api/register", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("❌ Register Failed [%s]: %v", username, err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		log.Printf("❌ Register Failed [%s]: status %d", username, resp.StatusCode)
		return nil
	}

	var data wire.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		log.Printf("❌ Register Decode Failed [%s]: %v", username, err)
		return nil
	}
	return &data
}

func spamChat(wg *sync.WaitGroup, auth *wire.AuthResponse, recipientID string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL, nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", auth.Username, err)
		return
	}
	defer conn.Close()

	// In-band handshake: first frame must authenticate.
	frame, _ := wire.Encode(wire.EventAuthenticate, wire.AuthPayload{Token: auth.AccessToken})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("❌ Auth Send Fail [%s]: %v", auth.Username, err)
		return
	}
	if !awaitEvent(conn, wire.EventAuthenticated) {
		log.Printf("❌ Auth Rejected [%s]", auth.Username)
		return
	}

	acked := 0
	for i := 0; i < *msgCount; i++ {
		frame, _ := wire.Encode(wire.EventSendMessage, wire.SendMessagePayload{
			RecipientID: recipientID,
			Content:     fmt.Sprintf("LoadTest Msg %d from %s", i, auth.Username),
			ClientRef:   uuid.NewString(),
		})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", auth.Username, err)
			break
		}
		if awaitEvent(conn, wire.EventMessageSent) {
			acked++
		}
		// Small sleep to prevent an instant localhost bottleneck.
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished: %d/%d sends acked", auth.Username, acked, *msgCount)
}

// awaitEvent reads frames until the wanted event arrives, skipping the
// new_message and user_status traffic interleaved with it.
func awaitEvent(conn *websocket.Conn, want string) bool {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Event {
		case want:
			return true
		case wire.EventAuthError, wire.EventError:
			return false
		}
	}
}
