package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vbonduro/wohnmap/internal/backend"
	"github.com/vbonduro/wohnmap/internal/domain"
)

// refreshSkew renews access tokens shortly before the backend would reject them.
const refreshSkew = time.Minute

type SessionRepository interface {
	Create(ctx context.Context, sess *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, tokenExpiresAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// IdentityFactory returns the auth API acting with accessToken, or
// anonymously for an empty token.
type IdentityFactory func(accessToken string) backend.Identity

type AuthService struct {
	sessions   SessionRepository
	identity   IdentityFactory
	ttl        time.Duration
	configured bool
	logger     *slog.Logger
	now        func() time.Time
}

// NewAuthService creates the sign-in gate. configured is false when the
// backend URL or key is missing; every login then fails locally.
func NewAuthService(sessions SessionRepository, identity IdentityFactory, ttl time.Duration, configured bool, logger *slog.Logger) *AuthService {
	return &AuthService{
		sessions:   sessions,
		identity:   identity,
		ttl:        ttl,
		configured: configured,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *AuthService) Configured() bool {
	return s.configured
}

// Login signs in with email and password and opens a local session whose id
// becomes the browser's cookie. Use LoginMessage to present a failure.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	if !s.configured {
		return nil, &ValidationError{Message: MsgConfigMissing}
	}

	email = strings.TrimSpace(email)
	signed, err := s.identity("").SignIn(ctx, email, password)
	if err != nil {
		s.logger.Warn("sign in failed", "email", email, "error", err)
		return nil, err
	}

	userID, tokenExpiresAt := signed.UserID, signed.ExpiresAt
	if sub, exp, ok := tokenClaims(signed.AccessToken); ok {
		if userID == "" {
			userID = sub
		}
		if !exp.IsZero() {
			tokenExpiresAt = exp
		}
	}

	sess := &domain.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Email:          signed.Email,
		AccessToken:    signed.AccessToken,
		RefreshToken:   signed.RefreshToken,
		TokenExpiresAt: tokenExpiresAt,
		ExpiresAt:      s.now().Add(s.ttl),
	}
	if sess.Email == "" {
		sess.Email = email
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Info("signed in", "user_id", sess.UserID)
	return sess, nil
}

// Session returns the live session for a cookie value, or nil when the
// browser is anonymous. An access token about to expire is refreshed; a
// refresh token the backend rejects ends the session.
func (s *AuthService) Session(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, nil
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}

	if sess.RefreshToken == "" || s.now().Add(refreshSkew).Before(sess.TokenExpiresAt) {
		return sess, nil
	}

	fresh, err := s.identity("").Refresh(ctx, sess.RefreshToken)
	if err != nil {
		if !refreshRejected(err) {
			s.logger.Warn("token refresh failed, keeping session", "user_id", sess.UserID, "error", err)
			return sess, nil
		}
		s.logger.Warn("refresh token rejected, ending session", "user_id", sess.UserID, "error", err)
		if err := s.sessions.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}

	tokenExpiresAt := fresh.ExpiresAt
	if _, exp, ok := tokenClaims(fresh.AccessToken); ok && !exp.IsZero() {
		tokenExpiresAt = exp
	}
	if err := s.sessions.UpdateTokens(ctx, id, fresh.AccessToken, fresh.RefreshToken, tokenExpiresAt); err != nil {
		return nil, err
	}

	sess.AccessToken = fresh.AccessToken
	sess.RefreshToken = fresh.RefreshToken
	sess.TokenExpiresAt = tokenExpiresAt
	s.logger.Debug("session refreshed", "user_id", sess.UserID)
	return sess, nil
}

// Logout revokes the backend session and forgets the local one. A failed
// revocation is logged and the local session is removed anyway.
func (s *AuthService) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess != nil {
		if err := s.identity(sess.AccessToken).SignOut(ctx); err != nil {
			s.logger.Warn("backend sign out failed", "user_id", sess.UserID, "error", err)
		}
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("signed out")
	return nil
}

// refreshRejected reports whether the backend refused the refresh token
// itself. Transport failures and server errors are not a rejection.
func refreshRejected(err error) bool {
	be, ok := backend.AsError(err)
	return ok && be.Status >= 400 && be.Status < 500
}

// tokenClaims reads subject and expiry from an access token. The signature is
// not checked here; the backend verifies the token on every call.
func tokenClaims(accessToken string) (string, time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", time.Time{}, false
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return claims.Subject, exp, true
}
