// Package supabase talks to a Supabase-compatible backend: PostgREST for
// tables, the Storage API for photo objects and GoTrue for sign-in.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/vbonduro/wohnmap/internal/backend"
)

const (
	restPrefix    = "/rest/v1"
	authPrefix    = "/auth/v1"
	storagePrefix = "/storage/v1"
)

// Client is safe for concurrent use. The zero-token client calls the backend
// with the anonymous key; As returns a copy that acts as a signed-in user.
type Client struct {
	http    *resty.Client
	cfg     backend.Config
	baseURL string
	token   string
	logger  *slog.Logger
}

func New(cfg backend.Config, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.URL, "/")
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetRetryCount(0).
		SetHeader("apikey", cfg.AnonKey).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		cfg:     cfg,
		baseURL: baseURL,
		logger:  logger,
	}
}

// As returns a client that authenticates with the given user access token.
// An empty token yields an anonymous client.
func (c *Client) As(accessToken string) *Client {
	cp := *c
	cp.token = accessToken
	return &cp
}

func (c *Client) request(ctx context.Context) *resty.Request {
	bearer := c.token
	if bearer == "" {
		bearer = c.cfg.AnonKey
	}
	return c.http.R().SetContext(ctx).SetAuthToken(bearer)
}

// errorBody covers the error shapes of PostgREST, Storage and GoTrue.
type errorBody struct {
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	ErrorDescription string          `json:"error_description"`
	Error            string          `json:"error"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %w", op, decodeError(resp.StatusCode(), resp.Body()))
	}
	return nil
}

func decodeError(status int, body []byte) *backend.Error {
	be := &backend.Error{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		be.Message = strings.TrimSpace(string(body))
		if be.Message == "" {
			be.Message = http.StatusText(status)
		}
		return be
	}

	switch {
	case eb.Msg != "":
		be.Message = eb.Msg
	case eb.Message != "":
		be.Message = eb.Message
	case eb.ErrorDescription != "":
		be.Message = eb.ErrorDescription
	case eb.Error != "":
		be.Message = eb.Error
	default:
		be.Message = http.StatusText(status)
	}

	switch {
	case eb.ErrorCode != "":
		be.Code = eb.ErrorCode
	case len(eb.Code) > 0:
		be.Code = strings.Trim(string(eb.Code), `"`)
	}
	return be
}
