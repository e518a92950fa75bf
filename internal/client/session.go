package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatwire/internal/client/api"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrExpired            = errors.New("session expired")
	ErrNoCredential       = errors.New("no stored credential")
)

// Credential is the bearer token plus the authenticated identity. It is
// owned by the AuthSession; everything else reads it through the session.
type Credential struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// AuthSession anchors the authenticated lifecycle: it holds the current
// credential and persists it so a restart can resume without re-prompting.
// Persistence is best effort; nothing else may depend on it succeeding.
type AuthSession struct {
	api   *api.Client
	store TokenStore
	log   *slog.Logger

	mu   sync.Mutex
	cred *Credential
}

func NewAuthSession(apiClient *api.Client, store TokenStore, log *slog.Logger) *AuthSession {
	if log == nil {
		log = slog.Default()
	}
	return &AuthSession{api: apiClient, store: store, log: log}
}

func (s *AuthSession) Login(ctx context.Context, username, password string) (Credential, error) {
	res, err := s.api.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return Credential{}, ErrInvalidCredentials
		}
		return Credential{}, err
	}
	return s.adopt(Credential{Token: res.AccessToken, UserID: res.UserID, Username: res.Username}), nil
}

func (s *AuthSession) Register(ctx context.Context, username, password string) (Credential, error) {
	res, err := s.api.Register(ctx, username, password)
	if err != nil {
		return Credential{}, err
	}
	return s.adopt(Credential{Token: res.AccessToken, UserID: res.UserID, Username: res.Username}), nil
}

// Restore resumes from the persisted token. An expired token is rejected
// locally without a round trip; an unexpired one is still provisional until
// the whoami call confirms it.
func (s *AuthSession) Restore(ctx context.Context) (Credential, error) {
	cred, err := s.store.Load()
	if err != nil {
		return Credential{}, err
	}

	if expired, err := tokenExpired(cred.Token, time.Now()); err != nil || expired {
		s.clear()
		return Credential{}, ErrExpired
	}

	profile, err := s.api.Me(ctx, cred.Token)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			s.clear()
			return Credential{}, ErrExpired
		}
		// Service unreachable: the stored token stays, the caller may retry.
		return Credential{}, fmt.Errorf("validate session: %w", err)
	}

	cred.UserID = profile.UserID
	cred.Username = profile.Username
	return s.adopt(cred), nil
}

// Logout drops the credential and clears the persisted copy.
func (s *AuthSession) Logout() {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	s.clear()
}

func (s *AuthSession) Credential() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

func (s *AuthSession) adopt(cred Credential) Credential {
	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()
	if err := s.store.Save(cred); err != nil {
		s.log.Warn("persist credential", "error", err)
	}
	return cred
}

func (s *AuthSession) clear() {
	if err := s.store.Clear(); err != nil {
		s.log.Warn("clear credential", "error", err)
	}
}

// tokenExpired checks the JWT exp claim without verifying the signature;
// only the server can do that, this just avoids a doomed round trip.
func tokenExpired(token string, now time.Time) (bool, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false, err
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return false, err
	}
	if exp == nil {
		return false, nil
	}
	return exp.Before(now), nil
}
