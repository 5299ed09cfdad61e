package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/wohnmap/internal/backend"
	"github.com/vbonduro/wohnmap/internal/db"
	"github.com/vbonduro/wohnmap/internal/domain"
	"github.com/vbonduro/wohnmap/internal/photostore/local"
	"github.com/vbonduro/wohnmap/internal/service"
	"github.com/vbonduro/wohnmap/internal/store"
	"github.com/vbonduro/wohnmap/internal/web"
	"github.com/vbonduro/wohnmap/internal/web/templates"
)

const (
	testEmail    = "anna@example.com"
	testPassword = "geheim"
	testUserID   = "user-1"
)

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

// memBackend is an in-memory stand-in for the hosted backend. Anonymous
// callers see no rows and may not write, like row-level security does.
type memBackend struct {
	mu        sync.Mutex
	streets   []domain.Street
	addresses []domain.Address
	photos    []domain.AddressPhoto
	nextID    int64
}

func newMemBackend() *memBackend {
	return &memBackend{
		streets: []domain.Street{
			{ID: 1, Name: "Königstraße", City: "Duisburg"},
			{ID: 2, Name: "Mülheimer Straße", City: "Duisburg"},
		},
		nextID: 100,
	}
}

var errPermission = &backend.Error{Status: 403, Code: "42501", Message: "permission denied for table addresses"}

func (b *memBackend) addAddress(a domain.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addresses = append(b.addresses, a)
}

func (b *memBackend) address(id int64) domain.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.addresses {
		if a.ID == id {
			return a
		}
	}
	return domain.Address{}
}

func (b *memBackend) photoRows() []domain.AddressPhoto {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.AddressPhoto(nil), b.photos...)
}

type memTables struct {
	b      *memBackend
	signed bool
}

func (t *memTables) ListStreets(context.Context) ([]domain.Street, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if !t.signed {
		return nil, nil
	}
	return append([]domain.Street(nil), t.b.streets...), nil
}

func (t *memTables) ListAddresses(context.Context) ([]domain.Address, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if !t.signed {
		return nil, nil
	}
	return append([]domain.Address(nil), t.b.addresses...), nil
}

func (t *memTables) ListFavorites(context.Context) ([]domain.Address, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	var out []domain.Address
	if !t.signed {
		return out, nil
	}
	for _, a := range t.b.addresses {
		if !a.IsFavorite {
			continue
		}
		for _, s := range t.b.streets {
			if s.ID == a.StreetID {
				st := s
				a.Street = &st
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (t *memTables) InsertAddress(_ context.Context, n domain.NewAddress) (*domain.Address, error) {
	if !t.signed {
		return nil, errPermission
	}
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.nextID++
	a := domain.Address{
		ID: t.b.nextID, StreetID: n.StreetID, HouseNumber: n.HouseNumber, Lat: n.Lat, Lon: n.Lon,
		Traffic: domain.TrafficGreen, Building: domain.BuildingUnknown,
	}
	t.b.addresses = append(t.b.addresses, a)
	return &a, nil
}

func (t *memTables) UpdateAddress(_ context.Context, id int64, changes map[string]any) error {
	if !t.signed {
		return errPermission
	}
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	for i := range t.b.addresses {
		if t.b.addresses[i].ID != id {
			continue
		}
		row, err := json.Marshal(t.b.addresses[i])
		if err != nil {
			return err
		}
		fields := map[string]any{}
		if err := json.Unmarshal(row, &fields); err != nil {
			return err
		}
		for k, v := range changes {
			fields[k] = v
		}
		merged, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		var updated domain.Address
		if err := json.Unmarshal(merged, &updated); err != nil {
			return err
		}
		updated.UpdatedAt = time.Now()
		t.b.addresses[i] = updated
		return nil
	}
	return nil
}

func (t *memTables) ListPhotos(_ context.Context, addressID int64) ([]domain.AddressPhoto, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	var out []domain.AddressPhoto
	for i := len(t.b.photos) - 1; i >= 0; i-- {
		if t.b.photos[i].AddressID == addressID {
			out = append(out, t.b.photos[i])
		}
	}
	return out, nil
}

func (t *memTables) InsertPhoto(_ context.Context, n domain.NewPhoto) (*domain.AddressPhoto, error) {
	if !t.signed {
		return nil, errPermission
	}
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.nextID++
	p := domain.AddressPhoto{ID: t.b.nextID, AddressID: n.AddressID, StoragePath: n.StoragePath, Caption: n.Caption}
	t.b.photos = append(t.b.photos, p)
	return &p, nil
}

func (t *memTables) DeletePhoto(_ context.Context, id int64) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	kept := t.b.photos[:0]
	for _, p := range t.b.photos {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	t.b.photos = kept
	return nil
}

type memIdentity struct {
	token string
}

func accessToken(t time.Time) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   testUserID,
		ExpiresAt: jwt.NewNumericDate(t.Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte("backend-secret"))
	if err != nil {
		panic(err)
	}
	return s
}

func (i *memIdentity) SignIn(_ context.Context, email, password string) (*backend.Session, error) {
	if email != testEmail || password != testPassword {
		return nil, &backend.Error{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	return &backend.Session{
		UserID:       testUserID,
		Email:        email,
		AccessToken:  accessToken(time.Now()),
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (i *memIdentity) Refresh(_ context.Context, refreshToken string) (*backend.Session, error) {
	return &backend.Session{AccessToken: accessToken(time.Now()), RefreshToken: refreshToken}, nil
}

func (i *memIdentity) SignOut(context.Context) error { return nil }

func (i *memIdentity) UserID(context.Context) (string, error) {
	if i.token == "" {
		return "", nil
	}
	return testUserID, nil
}

type testApp struct {
	server  *httptest.Server
	client  *http.Client
	backend *memBackend
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	sqlDB, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	photos, err := local.NewLocalPhotoStore(t.TempDir(), []byte("photo-signing-key"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := newMemBackend()
	identity := func(token string) backend.Identity { return &memIdentity{token: token} }

	deps := web.Deps{
		Auth:      service.NewAuthService(store.NewSessionStore(sqlDB), identity, time.Hour, true, logger),
		Favorites: service.NewFavoritesService(logger),
		BackendFor: func(token string) service.Backend {
			return service.Backend{
				Tables:   &memTables{b: mem, signed: token != ""},
				Identity: identity(token),
				Photos:   photos,
			}
		},
		LocalPhotos: photos,
	}
	opts := web.Options{
		AppName:         "Duisburg Wohn-Straßen",
		TileURL:         "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		TileFallbackURL: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		TileAttribution: "&copy; OpenStreetMap contributors",
		CenterLat:       51.4344,
		CenterLon:       6.7623,
		Zoom:            13,
		SessionTTL:      time.Hour,
		ViewCacheTTL:    time.Hour,
	}
	srv := httptest.NewServer(web.NewServer(deps, templates.FS, opts, logger))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testApp{
		server:  srv,
		client:  &http.Client{Jar: jar},
		backend: mem,
	}
}

func (a *testApp) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := a.client.Get(a.server.URL + path)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (a *testApp) postForm(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, a.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")
	resp, err := a.client.Do(req)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (a *testApp) upload(t *testing.T, path string, files map[string][]byte, order []string) (*http.Response, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range order {
		fw, err := mw.CreateFormFile("photos", name)
		require.NoError(t, err)
		_, err = fw.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("HX-Request", "true")
	resp, err := a.client.Do(req)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (a *testApp) login(t *testing.T) {
	t.Helper()
	resp, err := a.client.PostForm(a.server.URL+"/login", url.Values{"email": {testEmail}, "password": {testPassword}})
	require.NoError(t, err)
	readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "/map", resp.Request.URL.Path)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRootRedirectsToMap(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.get(t, "/")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/map", resp.Request.URL.Path)
	assert.Contains(t, body, `id="map"`)
}

func TestSecurityHeaders(t *testing.T) {
	app := newTestApp(t)

	resp, _ := app.get(t, "/login")

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "https://*.tile.openstreetmap.org")
}

func TestLogin(t *testing.T) {
	t.Run("wrong credentials stay on the login page", func(t *testing.T) {
		app := newTestApp(t)

		resp, err := app.client.PostForm(app.server.URL+"/login", url.Values{"email": {testEmail}, "password": {"falsch"}})
		require.NoError(t, err)
		body := readBody(t, resp)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "/login", resp.Request.URL.Path)
		assert.Contains(t, body, service.MsgWrongCredentials)
		assert.Contains(t, body, `value="anna@example.com"`)
	})

	t.Run("success opens the map and shows logout on the login page", func(t *testing.T) {
		app := newTestApp(t)
		app.login(t)

		_, body := app.get(t, "/login")
		assert.Contains(t, body, "Logout")
	})

	t.Run("logout ends the session", func(t *testing.T) {
		app := newTestApp(t)
		app.login(t)

		resp, err := app.client.PostForm(app.server.URL+"/logout", nil)
		require.NoError(t, err)
		body := readBody(t, resp)

		assert.Equal(t, "/login", resp.Request.URL.Path)
		assert.NotContains(t, body, "Logout")
	})
}

func TestMapRendersAddressesAfterLogin(t *testing.T) {
	app := newTestApp(t)
	app.backend.addAddress(domain.Address{ID: 42, StreetID: 1, HouseNumber: "7", Lat: 51.43, Lon: 6.76, Traffic: domain.TrafficRed})

	_, anonymous := app.get(t, "/map")
	assert.NotContains(t, anonymous, "Königstraße 7")

	app.login(t)
	_, body := app.get(t, "/map")

	assert.Contains(t, body, "Duisburg Wohn-Straßen")
	assert.Contains(t, body, `"label":"Königstraße 7"`)
	assert.Contains(t, body, `"traffic":"red"`)
	assert.Contains(t, body, `<option value="Mülheimer Straße">`)
	// Every keystroke filters; a newer request replaces one in flight.
	assert.Contains(t, body, `hx-trigger="input, submit"`)
	assert.Contains(t, body, `hx-sync="this:replace"`)
	assert.NotContains(t, body, "delay:")
}

func TestDeepLinkOpensDrawer(t *testing.T) {
	app := newTestApp(t)
	app.backend.addAddress(domain.Address{ID: 42, StreetID: 1, HouseNumber: "7", Lat: 51.43, Lon: 6.76, Traffic: domain.TrafficGreen})
	app.login(t)

	_, body := app.get(t, "/map?addressId=42")
	assert.Contains(t, body, "Königstraße")
	assert.Contains(t, body, `hx-post="/addresses/42"`)

	_, body = app.get(t, "/map?addressId=4242")
	assert.NotContains(t, body, "Schließen")
}

func TestCreateAddress(t *testing.T) {
	app := newTestApp(t)
	app.login(t)
	app.get(t, "/map")

	_, body := app.postForm(t, "/map/click", url.Values{"lat": {"51.4"}, "lon": {"6.7"}})
	assert.Contains(t, body, "Adresse anlegen")
	assert.Contains(t, body, "Koordinaten: 51.40000, 6.70000")

	_, body = app.postForm(t, "/addresses", url.Values{"street": {"Königstraße"}, "house_number": {""}})
	assert.Contains(t, body, service.MsgFillStreetAndNumber)

	_, body = app.postForm(t, "/addresses", url.Values{"street": {"Königstraße"}, "house_number": {" 12a "}})
	assert.NotContains(t, body, "Adresse anlegen")
	assert.Contains(t, body, `"label":"Königstraße 12a"`)

	created := app.backend.address(101)
	assert.Equal(t, "12a", created.HouseNumber)
	assert.Equal(t, int64(1), created.StreetID)
	assert.InDelta(t, 51.4, created.Lat, 1e-9)
}

func TestCreateAddressAnonymous(t *testing.T) {
	app := newTestApp(t)
	app.get(t, "/map")

	resp, _ := app.postForm(t, "/map/click", url.Values{"lat": {"abc"}, "lon": {"6.7"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	app.postForm(t, "/map/click", url.Values{"lat": {"51.4"}, "lon": {"6.7"}})
	_, body := app.postForm(t, "/addresses", url.Values{"street": {"Königstraße"}, "house_number": {"1"}})
	// Anonymous browsers see no streets, so the street cannot resolve.
	assert.Contains(t, body, service.MsgFillStreetAndNumber)
}

func TestSaveAddress(t *testing.T) {
	app := newTestApp(t)
	app.backend.addAddress(domain.Address{ID: 42, StreetID: 1, HouseNumber: "7", Lat: 51.43, Lon: 6.76, Traffic: domain.TrafficGreen, Building: domain.BuildingUnknown})
	app.login(t)
	app.get(t, "/map?addressId=42")

	_, body := app.postForm(t, "/addresses/42", url.Values{
		"traffic":     {"yellow"},
		"is_favorite": {"on"},
		"building":    {"mfh"},
		"floors":      {"3"},
		"notes":       {"Ruhige Lage"},
	})

	saved := app.backend.address(42)
	assert.Equal(t, domain.TrafficYellow, saved.Traffic)
	assert.True(t, saved.IsFavorite)
	assert.Equal(t, domain.BuildingMFH, saved.Building)
	require.NotNil(t, saved.Floors)
	assert.Equal(t, 3, *saved.Floors)
	require.NotNil(t, saved.Notes)
	assert.Equal(t, "Ruhige Lage", *saved.Notes)
	assert.Contains(t, body, "Ruhige Lage")

	_, favs := app.get(t, "/favorites")
	assert.Contains(t, favs, "Königstraße 7")
	assert.Contains(t, favs, `href="/map?addressId=42"`)
	assert.Contains(t, favs, "Ruhige Lage")
}

func TestUploadAndDeletePhotos(t *testing.T) {
	app := newTestApp(t)
	app.backend.addAddress(domain.Address{ID: 42, StreetID: 1, HouseNumber: "7", Lat: 51.43, Lon: 6.76, Traffic: domain.TrafficGreen})
	app.login(t)
	app.get(t, "/map?addressId=42")

	files := map[string][]byte{"front side.jpg": minimalJPEG, "back.jpg": minimalJPEG}
	resp, body := app.upload(t, "/addresses/42/photos", files, []string{"front side.jpg", "back.jpg"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rows := app.backend.photoRows()
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0].StoragePath, "user-1/42/")
	assert.True(t, strings.HasSuffix(rows[0].StoragePath, "-front-side.jpg"), rows[0].StoragePath)
	assert.True(t, strings.HasSuffix(rows[1].StoragePath, "-back.jpg"), rows[1].StoragePath)
	assert.Equal(t, 2, strings.Count(body, "Ohne Caption"))

	srcs := regexp.MustCompile(`src="(/photos/local/[^"]+)"`).FindAllStringSubmatch(body, -1)
	require.Len(t, srcs, 2)
	// Newest first.
	assert.Contains(t, srcs[0][1], "-back.jpg")

	photoURL := strings.ReplaceAll(srcs[1][1], "&amp;", "&")
	require.Contains(t, photoURL, "-front-side.jpg")
	photoResp, data := app.get(t, photoURL)
	assert.Equal(t, http.StatusOK, photoResp.StatusCode)
	assert.Equal(t, "image/jpeg", photoResp.Header.Get("Content-Type"))
	assert.Equal(t, string(minimalJPEG), data)

	tampered, _ := app.get(t, strings.Split(photoURL, "?")[0]+"?token=forged")
	assert.Equal(t, http.StatusForbidden, tampered.StatusCode)

	_, body = app.postForm(t, fmt.Sprintf("/photos/%d/delete", rows[0].ID), nil)
	assert.Len(t, app.backend.photoRows(), 1)
	assert.Equal(t, 1, strings.Count(body, "Ohne Caption"))

	gone, _ := app.get(t, photoURL)
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestUploadRejectsUnsupportedFiles(t *testing.T) {
	app := newTestApp(t)
	app.backend.addAddress(domain.Address{ID: 42, StreetID: 1, HouseNumber: "7", Lat: 51.43, Lon: 6.76})
	app.login(t)
	app.get(t, "/map?addressId=42")

	resp, _ := app.upload(t, "/addresses/42/photos", map[string][]byte{"notes.txt": []byte("hello")}, []string{"notes.txt"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, app.backend.photoRows())
}

func TestSaveAfterSecondTabReloadsMap(t *testing.T) {
	app := newTestApp(t)
	app.backend.addAddress(domain.Address{ID: 42, StreetID: 1, HouseNumber: "7", Lat: 51.43, Lon: 6.76, Traffic: domain.TrafficGreen})
	app.login(t)
	app.get(t, "/map?addressId=42")
	// Another tab on the same view cookie replaces the page.
	app.get(t, "/map")

	resp, body := app.postForm(t, "/addresses/42", url.Values{"traffic": {"red"}})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.TrafficRed, app.backend.address(42).Traffic)
	assert.Contains(t, body, `class="drawer"`)
	assert.NotContains(t, body, service.MsgAddressNotFound)
}

func TestUploadAfterSecondTabReloadsMap(t *testing.T) {
	app := newTestApp(t)
	app.backend.addAddress(domain.Address{ID: 42, StreetID: 1, HouseNumber: "7", Lat: 51.43, Lon: 6.76})
	app.login(t)
	app.get(t, "/map?addressId=42")
	app.get(t, "/map")

	resp, body := app.upload(t, "/addresses/42/photos", map[string][]byte{"a.jpg": minimalJPEG}, []string{"a.jpg"})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, app.backend.photoRows(), 1)
	assert.Contains(t, body, "Ohne Caption")
}

func TestUploadUnknownAddress(t *testing.T) {
	app := newTestApp(t)
	app.backend.addAddress(domain.Address{ID: 42, StreetID: 1, HouseNumber: "7", Lat: 51.43, Lon: 6.76})
	app.login(t)
	app.get(t, "/map")

	resp, body := app.upload(t, "/addresses/999/photos", map[string][]byte{"a.jpg": minimalJPEG}, []string{"a.jpg"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, service.MsgAddressNotFound)
	assert.Empty(t, app.backend.photoRows())
}
