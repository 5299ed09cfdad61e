package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbonduro/wohnmap/internal/backend"
	"github.com/vbonduro/wohnmap/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventLog records backend calls across fakes in call order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeTables struct {
	log *eventLog

	streets      []domain.Street
	addresses    []domain.Address
	favorites    []domain.Address
	photos       map[int64][]domain.AddressPhoto
	streetsErr   error
	addressesErr error
	favoritesErr error
	insertErr    error
	updateErr    error
	photoRowErr  error
	deleteErr    error

	listAddressesCalls int
	inserted           []domain.NewAddress
	updates            []map[string]any
	insertedPhotos     []domain.NewPhoto
	deletedPhotos      []int64
	nextID             int64
}

func newFakeTables(log *eventLog) *fakeTables {
	return &fakeTables{log: log, photos: map[int64][]domain.AddressPhoto{}, nextID: 1000}
}

func (f *fakeTables) ListStreets(ctx context.Context) ([]domain.Street, error) {
	if f.streetsErr != nil {
		return nil, f.streetsErr
	}
	return f.streets, nil
}

func (f *fakeTables) ListAddresses(ctx context.Context) ([]domain.Address, error) {
	f.listAddressesCalls++
	if f.addressesErr != nil {
		return nil, f.addressesErr
	}
	return append([]domain.Address(nil), f.addresses...), nil
}

func (f *fakeTables) ListFavorites(ctx context.Context) ([]domain.Address, error) {
	if f.favoritesErr != nil {
		return nil, f.favoritesErr
	}
	return f.favorites, nil
}

func (f *fakeTables) InsertAddress(ctx context.Context, a domain.NewAddress) (*domain.Address, error) {
	f.inserted = append(f.inserted, a)
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.nextID++
	created := domain.Address{ID: f.nextID, StreetID: a.StreetID, HouseNumber: a.HouseNumber, Lat: a.Lat, Lon: a.Lon}
	f.addresses = append(f.addresses, created)
	return &created, nil
}

func (f *fakeTables) UpdateAddress(ctx context.Context, id int64, changes map[string]any) error {
	f.updates = append(f.updates, changes)
	return f.updateErr
}

func (f *fakeTables) ListPhotos(ctx context.Context, addressID int64) ([]domain.AddressPhoto, error) {
	return f.photos[addressID], nil
}

func (f *fakeTables) InsertPhoto(ctx context.Context, p domain.NewPhoto) (*domain.AddressPhoto, error) {
	f.log.add("insert %s", p.StoragePath)
	if f.photoRowErr != nil {
		return nil, f.photoRowErr
	}
	f.nextID++
	f.insertedPhotos = append(f.insertedPhotos, p)
	return &domain.AddressPhoto{ID: f.nextID, AddressID: p.AddressID, StoragePath: p.StoragePath, Caption: p.Caption}, nil
}

func (f *fakeTables) DeletePhoto(ctx context.Context, id int64) error {
	f.log.add("delete row %d", id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedPhotos = append(f.deletedPhotos, id)
	return nil
}

type fakeIdentity struct {
	userID     string
	userErr    error
	signIn     *backend.Session
	signInErr  error
	refresh    *backend.Session
	refreshErr error
	signOutErr error

	signInCalls  int
	refreshCalls int
	signOutCalls int
}

func (f *fakeIdentity) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	f.signInCalls++
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.signIn, nil
}

func (f *fakeIdentity) Refresh(ctx context.Context, refreshToken string) (*backend.Session, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refresh, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context) error {
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeIdentity) UserID(ctx context.Context) (string, error) {
	return f.userID, f.userErr
}

type fakePhotos struct {
	log *eventLog

	// failOn makes the upload of the path containing this text fail.
	failOn    string
	removeErr error
	// gate, when set, blocks every upload until it is closed.
	gate    chan struct{}
	started chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	removed     []string
}

func (f *fakePhotos) Upload(ctx context.Context, path, mimeType string, r io.Reader) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if _, err := io.ReadAll(r); err != nil {
		return err
	}
	f.log.add("upload %s", path)
	if f.failOn != "" && strings.Contains(path, f.failOn) {
		return &backend.Error{Status: 400, Message: "The object exceeded the maximum allowed size"}
	}
	return nil
}

func (f *fakePhotos) Remove(ctx context.Context, path string) error {
	f.log.add("remove %s", path)
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakePhotos) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return "https://cdn.example.org/signed/" + path, nil
}

type fakeCaptioner struct {
	text string
	err  error
}

func (f *fakeCaptioner) Caption(ctx context.Context, r io.Reader, mimeType string) (string, error) {
	return f.text, f.err
}

type fakeSessions struct {
	rows    map[string]*domain.Session
	getErr  error
	deleted []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: map[string]*domain.Session{}}
}

func (f *fakeSessions) Create(ctx context.Context, sess *domain.Session) error {
	cp := *sess
	f.rows[sess.ID] = &cp
	return nil
}

func (f *fakeSessions) Get(ctx context.Context, id string) (*domain.Session, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	sess, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeSessions) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, tokenExpiresAt time.Time) error {
	sess, ok := f.rows[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	sess.AccessToken = accessToken
	sess.RefreshToken = refreshToken
	sess.TokenExpiresAt = tokenExpiresAt
	return nil
}

func (f *fakeSessions) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.rows, id)
	return nil
}
