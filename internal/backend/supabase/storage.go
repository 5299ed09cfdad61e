package supabase

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// objectPath escapes each segment of a bucket-relative object path.
func objectPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func (c *Client) objectURL(kind, path string) string {
	return fmt.Sprintf("%s/%s/%s/%s", storagePrefix, kind, url.PathEscape(c.cfg.PhotoBucket), objectPath(path))
}

func (c *Client) Upload(ctx context.Context, path, mimeType string, r io.Reader) error {
	resp, err := c.request(ctx).
		SetHeader("Content-Type", mimeType).
		SetHeader("x-upsert", "false").
		SetBody(r).
		Post(c.objectURL("object", path))
	return checkResponse("upload photo", resp, err)
}

func (c *Client) Remove(ctx context.Context, path string) error {
	resp, err := c.request(ctx).
		Delete(c.objectURL("object", path))
	return checkResponse("remove photo", resp, err)
}

func (c *Client) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	resp, err := c.request(ctx).
		SetBody(map[string]int64{"expiresIn": int64(ttl / time.Second)}).
		SetResult(&signed).
		Post(c.objectURL("object/sign", path))
	if err := checkResponse("sign photo url", resp, err); err != nil {
		return "", err
	}
	if signed.SignedURL == "" {
		return "", fmt.Errorf("sign photo url: empty url returned")
	}
	return c.baseURL + storagePrefix + signed.SignedURL, nil
}
