package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vbonduro/wohnmap/internal/domain"
)

// SessionStore persists signed-in browser sessions. Rows are keyed by the
// opaque id carried in the session cookie.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, email, access_token, refresh_token, token_expires_at, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.Email, sess.AccessToken, sess.RefreshToken,
		dbTime(sess.TokenExpiresAt), dbTime(sess.ExpiresAt), dbTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get returns the session with the given id, or nil when it does not exist or
// has expired.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	sess := &domain.Session{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, access_token, refresh_token, token_expires_at, expires_at, created_at
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.UserID, &sess.Email, &sess.AccessToken, &sess.RefreshToken,
		&sess.TokenExpiresAt, &sess.ExpiresAt, &sess.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if !sess.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return sess, nil
}

// UpdateTokens stores a refreshed token pair. The local expiry is unchanged.
func (s *SessionStore) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, tokenExpiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET access_token = ?, refresh_token = ?, token_expires_at = ?
		WHERE id = ?
	`, accessToken, refreshToken, dbTime(tokenExpiresAt), id)
	if err != nil {
		return fmt.Errorf("failed to update session tokens: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry and returns how many were
// removed.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at <= ?
	`, dbTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
