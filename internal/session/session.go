// Package session tracks which account each chat identity is logged in
// as. Sessions live in SQLite and expire after a fixed TTL.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is used when NewSQLiteStore is given a non-positive TTL.
const DefaultTTL = 30 * 24 * time.Hour

// ErrNoSession is returned when a chat has no active session.
var ErrNoSession = errors.New("session: no active session")

// timeLayout is fixed-width so stored times compare as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Session binds a chat identity to an account.
type Session struct {
	ChatID    int64     `json:"chat_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists sessions.
type Store interface {
	// Login starts or replaces the session of chatID.
	Login(ctx context.Context, chatID int64, userID string) (*Session, error)

	// Logout ends the session of chatID, or returns ErrNoSession.
	Logout(ctx context.Context, chatID int64) error

	// UserFor returns the account chatID is logged in as, or ErrNoSession.
	UserFor(ctx context.Context, chatID int64) (string, error)

	// IsAuthenticated reports whether chatID has an active session.
	IsAuthenticated(ctx context.Context, chatID int64) (bool, error)

	// DeleteExpired removes expired sessions and returns how many.
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteStore implements Store on the sessions table.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore creates a session store.
func NewSQLiteStore(db *sql.DB, ttl time.Duration) *SQLiteStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}
}

// Login starts or replaces the session of chatID.
func (s *SQLiteStore) Login(ctx context.Context, chatID int64, userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session: user id is required")
	}
	now := s.now().UTC()
	sess := &Session{ChatID: chatID, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (chat_id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			user_id = excluded.user_id,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		chatID, userID, sess.CreatedAt.Format(timeLayout), sess.ExpiresAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	return sess, nil
}

// Logout ends the session of chatID.
func (s *SQLiteStore) Logout(ctx context.Context, chatID int64) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE chat_id = ? AND expires_at > ?",
		chatID, s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: chat %d", ErrNoSession, chatID)
	}
	return nil
}

// UserFor returns the account chatID is logged in as.
func (s *SQLiteStore) UserFor(ctx context.Context, chatID int64) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id FROM sessions WHERE chat_id = ? AND expires_at > ?",
		chatID, s.now().UTC().Format(timeLayout),
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: chat %d", ErrNoSession, chatID)
	}
	if err != nil {
		return "", fmt.Errorf("querying session: %w", err)
	}
	return userID, nil
}

// IsAuthenticated reports whether chatID has an active session.
func (s *SQLiteStore) IsAuthenticated(ctx context.Context, chatID int64) (bool, error) {
	_, err := s.UserFor(ctx, chatID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoSession):
		return false, nil
	}
	return false, err
}

// DeleteExpired removes expired sessions.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?",
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return result.RowsAffected()
}
