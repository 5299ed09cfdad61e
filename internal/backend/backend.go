// Package backend describes the contract of the hosted backend-as-a-service
// that owns all persistent data: tables with row-level security, password
// authentication and a photo bucket.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vbonduro/wohnmap/internal/domain"
)

type Config struct {
	URL     string
	AnonKey string

	StreetsTable   string
	AddressesTable string
	PhotosTable    string
	PhotoBucket    string
}

// Error is a rejection reported by the backend. Message is the backend's own
// text and is shown to users verbatim unless it is remapped.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// AsError unwraps err to a *Error if it carries one.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Session is the result of a successful password sign-in.
type Session struct {
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type Tables interface {
	ListStreets(ctx context.Context) ([]domain.Street, error)
	ListAddresses(ctx context.Context) ([]domain.Address, error)
	ListFavorites(ctx context.Context) ([]domain.Address, error)
	InsertAddress(ctx context.Context, a domain.NewAddress) (*domain.Address, error)
	UpdateAddress(ctx context.Context, id int64, changes map[string]any) error
	ListPhotos(ctx context.Context, addressID int64) ([]domain.AddressPhoto, error)
	InsertPhoto(ctx context.Context, p domain.NewPhoto) (*domain.AddressPhoto, error)
	DeletePhoto(ctx context.Context, id int64) error
}

type Identity interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context) error
	// UserID returns the id of the user the client is authenticated as, or ""
	// when the client is anonymous.
	UserID(ctx context.Context) (string, error)
}
