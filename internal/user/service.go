package user

import (
	"context"
	"errors"
	"time"

	"chatwire/internal/wire"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Store is what the service needs from the repository.
// This keeps the service testable without a database.
type Store interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, userID string) (*User, error)
	TouchLastActive(ctx context.Context, userID string) error
	SearchUsers(ctx context.Context, query, excludeID string) ([]wire.UserSummary, error)
}

type Service struct {
	repo      Store
	jwtSecret string
}

type MyJWTClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo Store, secret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
	}
}

func (s *Service) Register(ctx context.Context, creds wire.Credentials) (*wire.AuthResponse, error) {
	if _, err := s.repo.GetUserByUsername(ctx, creds.Username); err == nil {
		return nil, ErrUsernameTaken
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		UserID:   uuid.NewString(),
		Username: creds.Username,
		Password: string(hashedPwd),
	}

	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return s.issueToken(u)
}

func (s *Service) Login(ctx context.Context, creds wire.Credentials) (*wire.AuthResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, creds.Username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(creds.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// Best effort; login must not fail on this.
	_ = s.repo.TouchLastActive(ctx, u.UserID)

	return s.issueToken(u)
}

func (s *Service) issueToken(u *User) (*wire.AuthResponse, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		UserID:   u.UserID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chatwire",
			Subject:   u.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * 24 * time.Hour)),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	return &wire.AuthResponse{
		AccessToken: ss,
		TokenType:   "bearer",
		UserID:      u.UserID,
		Username:    u.Username,
	}, nil
}

func (s *Service) ValidateToken(tokenString string) (string, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})

	if err != nil || !token.Valid {
		return "", "", errors.New("invalid token")
	}

	return claims.UserID, claims.Username, nil
}

func (s *Service) WhoAmI(ctx context.Context, userID string) (*wire.UserProfile, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &wire.UserProfile{
		UserID:     u.UserID,
		Username:   u.Username,
		CreatedAt:  u.CreatedAt,
		LastActive: u.LastActive,
	}, nil
}

func (s *Service) SearchUsers(ctx context.Context, query, callerID string) ([]wire.UserSummary, error) {
	return s.repo.SearchUsers(ctx, query, callerID)
}
