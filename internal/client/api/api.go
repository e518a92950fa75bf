// Package api is the REST client for the chat service: auth, directory,
// history, user search, and the fallback send path.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatwire/internal/wire"
)

// ErrUnauthorized marks a 401 from the service: the token was rejected, as
// opposed to the request not getting through at all.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotFound marks a 404 (e.g. history for a conversation the caller is not
// part of).
var ErrNotFound = errors.New("not found")

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Register(ctx context.Context, username, password string) (wire.AuthResponse, error) {
	var out wire.AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/register", "", wire.Credentials{Username: username, Password: password}, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, username, password string) (wire.AuthResponse, error) {
	var out wire.AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/login", "", wire.Credentials{Username: username, Password: password}, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context, token string) (wire.UserProfile, error) {
	var out wire.UserProfile
	err := c.do(ctx, http.MethodGet, "/api/me", token, nil, &out)
	return out, err
}

func (c *Client) Conversations(ctx context.Context, token string) ([]wire.ConversationRecord, error) {
	var out []wire.ConversationRecord
	err := c.do(ctx, http.MethodGet, "/api/conversations", token, nil, &out)
	return out, err
}

func (c *Client) Messages(ctx context.Context, token, conversationID string) ([]wire.MessageRecord, error) {
	var out []wire.MessageRecord
	err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(conversationID), token, nil, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, token, recipientID, content string) (wire.SendResult, error) {
	var out wire.SendResult
	err := c.do(ctx, http.MethodPost, "/api/send-message", token,
		wire.SendMessagePayload{RecipientID: recipientID, Content: content}, &out)
	return out, err
}

func (c *Client) SearchUsers(ctx context.Context, token, query string) ([]wire.UserSummary, error) {
	var out []wire.UserSummary
	err := c.do(ctx, http.MethodGet, "/api/users/search?q="+url.QueryEscape(query), token, nil, &out)
	return out, err
}

// WebsocketURL derives the push channel endpoint from the REST base URL.
func (c *Client) WebsocketURL() (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := strings.TrimSpace(string(msg))
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, detail)
		default:
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, detail)
		}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
