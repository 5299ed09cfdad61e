package supabase

import (
	"context"
	"time"

	"github.com/vbonduro/wohnmap/internal/backend"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	var tok tokenResponse
	resp, err := c.request(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&tok).
		Post(authPrefix + "/token")
	if err := checkResponse("sign in", resp, err); err != nil {
		return nil, err
	}

	c.logger.Debug("signed in", "user_id", tok.User.ID)
	return tok.session(), nil
}

// Refresh exchanges a refresh token for a new session. Refresh tokens are
// single use; the returned session carries the replacement.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*backend.Session, error) {
	var tok tokenResponse
	resp, err := c.request(ctx).
		SetQueryParam("grant_type", "refresh_token").
		SetBody(map[string]string{"refresh_token": refreshToken}).
		SetResult(&tok).
		Post(authPrefix + "/token")
	if err := checkResponse("refresh session", resp, err); err != nil {
		return nil, err
	}
	return tok.session(), nil
}

func (t *tokenResponse) session() *backend.Session {
	expiresAt := time.Unix(t.ExpiresAt, 0)
	if t.ExpiresAt == 0 {
		expiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return &backend.Session{
		UserID:       t.User.ID,
		Email:        t.User.Email,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}

// SignOut revokes the client's session. Anonymous clients have nothing to revoke.
func (c *Client) SignOut(ctx context.Context) error {
	if c.token == "" {
		return nil
	}
	resp, err := c.request(ctx).Post(authPrefix + "/logout")
	return checkResponse("sign out", resp, err)
}

func (c *Client) UserID(ctx context.Context) (string, error) {
	if c.token == "" {
		return "", nil
	}
	var user struct {
		ID string `json:"id"`
	}
	resp, err := c.request(ctx).
		SetResult(&user).
		Get(authPrefix + "/user")
	if err := checkResponse("get user", resp, err); err != nil {
		return "", err
	}
	return user.ID, nil
}
