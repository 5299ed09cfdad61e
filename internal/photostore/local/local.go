package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vbonduro/wohnmap/internal/photostore"
)

// URLPrefix is the route under which the web server serves locally stored
// photos. Signed URLs point below it.
const URLPrefix = "/photos/local/"

// LocalPhotoStore keeps photos on disk and signs URLs with an HS256 token
// whose subject is the object path.
type LocalPhotoStore struct {
	basePath   string
	signingKey []byte
	now        func() time.Time
}

func NewLocalPhotoStore(basePath string, signingKey []byte) (*LocalPhotoStore, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("photo signing key required")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}
	return &LocalPhotoStore{basePath: basePath, signingKey: signingKey, now: time.Now}, nil
}

func (s *LocalPhotoStore) Upload(ctx context.Context, path, mimeType string, r io.Reader) error {
	filePath, err := s.safeJoin(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create photo directory: %w", err)
	}

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("photo already exists: %s", path)
		}
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after close error", "error", rerr)
		}
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

func (s *LocalPhotoStore) Get(ctx context.Context, path string) (io.ReadCloser, string, error) {
	filePath, err := s.safeJoin(path)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", photostore.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	return f, extToMimeType(filePath), nil
}

func (s *LocalPhotoStore) Remove(ctx context.Context, path string) error {
	filePath, err := s.safeJoin(path)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return photostore.ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (s *LocalPhotoStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if _, err := s.safeJoin(path); err != nil {
		return "", err
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   path,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign photo url: %w", err)
	}
	return URLPrefix + path + "?token=" + url.QueryEscape(signed), nil
}

// Verify checks that token is an unexpired signature for path.
func (s *LocalPhotoStore) Verify(path, token string) error {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("invalid photo token: %w", err)
	}
	if claims.Subject != path {
		return fmt.Errorf("photo token does not match path")
	}
	return nil
}

// safeJoin resolves path relative to basePath and rejects directory traversal.
func (s *LocalPhotoStore) safeJoin(path string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, filepath.FromSlash(path)))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}

func extToMimeType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
