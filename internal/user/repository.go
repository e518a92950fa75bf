package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chatwire/internal/wire"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	query := `INSERT INTO users (user_id, username, password) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, query, user.UserID, user.Username, user.Password)
	// Two concurrent registrations can both pass the pre-insert lookup; the
	// unique index on username settles the race here.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUsernameTaken
	}
	return err
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := `SELECT user_id, username, password, created_at, last_active
	          FROM users WHERE username = $1`

	err := r.db.QueryRowContext(ctx, query, username).
		Scan(&u.UserID, &u.Username, &u.Password, &u.CreatedAt, &u.LastActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return u, nil
}

func (r *Repository) GetUserByID(ctx context.Context, userID string) (*User, error) {
	u := &User{}
	query := `SELECT user_id, username, password, created_at, last_active
	          FROM users WHERE user_id = $1`

	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&u.UserID, &u.Username, &u.Password, &u.CreatedAt, &u.LastActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return u, nil
}

func (r *Repository) TouchLastActive(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_active = $1 WHERE user_id = $2`, time.Now().UTC(), userID)
	return err
}

// SearchUsers matches usernames case-insensitively, excluding the caller.
// We limit to 10 to keep it fast.
func (r *Repository) SearchUsers(ctx context.Context, query, excludeID string) ([]wire.UserSummary, error) {
	q := `SELECT user_id, username FROM users
	      WHERE username ILIKE $1 AND user_id <> $2 LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []wire.UserSummary
	for rows.Next() {
		var u wire.UserSummary
		if err := rows.Scan(&u.UserID, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
