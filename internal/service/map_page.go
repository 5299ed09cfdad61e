package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/vbonduro/wohnmap/internal/backend"
	"github.com/vbonduro/wohnmap/internal/caption"
	"github.com/vbonduro/wohnmap/internal/domain"
	"github.com/vbonduro/wohnmap/internal/photostore"
	"github.com/vbonduro/wohnmap/internal/view"
)

// Backend bundles the collaborators of a page, already scoped to the caller's
// session.
type Backend struct {
	Tables   backend.Tables
	Identity backend.Identity
	Photos   photostore.PhotoStore
}

// Photo is a gallery entry with its time-limited URL. SignedURL is empty when
// signing failed.
type Photo struct {
	domain.AddressPhoto
	SignedURL string
}

// Upload is one file from a single file-picker submit.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// MapState is a consistent copy of the map page's view state for rendering.
type MapState struct {
	Streets      []domain.Street
	StreetByID   map[int64]domain.Street
	Visible      []domain.Address
	Filter       view.Filter
	CreatePos    *domain.Coordinate
	CreateError  string
	Active       *domain.Address
	ActiveStreet *domain.Street
	Draft        *domain.Address
	Photos       []Photo
	GalleryError string
	Busy         bool
	Error        string
}

// MapPage is the controller of the map view for one browser. Methods are safe
// for concurrent use; a page applies one action at a time, except photo
// uploads, which run without holding the page and are guarded by a busy flag.
type MapPage struct {
	mu        sync.Mutex
	be        Backend
	captioner caption.Captioner
	logger    *slog.Logger

	streets    []domain.Street
	addresses  []domain.Address
	filter     view.Filter
	createPos  *domain.Coordinate
	createErr  string
	active     *domain.Address
	draft      *domain.Address
	photos     []Photo
	galleryErr string
	busy       bool
	err        string
	loaded     bool
}

// NewMapPage returns an empty page. captioner may be nil.
func NewMapPage(be Backend, captioner caption.Captioner, logger *slog.Logger) *MapPage {
	return &MapPage{be: be, captioner: captioner, logger: logger}
}

// Use rebinds the page to the backend of the current request. A browser may
// sign in or out between requests while its page lives on.
func (p *MapPage) Use(be Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.be = be
}

// Load fetches streets and addresses. Each failure is recorded as the page
// error; a failed street load does not prevent the address load.
func (p *MapPage) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.err = ""
	p.loaded = true

	streets, streetErr := p.be.Tables.ListStreets(ctx)
	if streetErr != nil {
		p.logger.Error("load streets failed", "error", streetErr)
		p.err = UserMessage(streetErr)
	} else {
		p.streets = streets
		if p.filter.Street != nil {
			p.filter.Street = view.ResolveStreet(p.streets, p.filter.Street.Name)
		}
	}

	if err := p.loadAddressesLocked(ctx); err != nil {
		return err
	}
	return streetErr
}

// Loaded reports whether Load has run at least once.
func (p *MapPage) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// ReloadAddresses re-fetches the full address list.
func (p *MapPage) ReloadAddresses(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadAddressesLocked(ctx)
}

func (p *MapPage) loadAddressesLocked(ctx context.Context) error {
	addresses, err := p.be.Tables.ListAddresses(ctx)
	if err != nil {
		p.logger.Error("load addresses failed", "error", err)
		p.err = UserMessage(err)
		return err
	}
	p.addresses = addresses

	// Keep the drawer on the fresh copy of the active record.
	if p.active != nil {
		if fresh := view.FindAddress(p.addresses, p.active.ID); fresh != nil {
			p.active = fresh
			draft := *fresh
			p.draft = &draft
		}
	}
	return nil
}

// SelectStreet resolves the autocomplete text against the loaded streets and
// clears the filter when nothing matches exactly.
func (p *MapPage) SelectStreet(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter.Street = view.ResolveStreet(p.streets, text)
}

func (p *MapPage) SetHouseNumberFilter(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter.HouseNumber = s
}

// ClickMap opens the create flow at the clicked position.
func (p *MapPage) ClickMap(c domain.Coordinate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createPos = &c
	p.createErr = ""
}

func (p *MapPage) CloseCreate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createPos = nil
	p.createErr = ""
}

// CreateAddress validates the create form and inserts the address at the
// clicked position. Validation failures never reach the backend. On success
// the modal closes and the address list is re-fetched.
func (p *MapPage) CreateAddress(ctx context.Context, streetText, houseNumber string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	street := view.ResolveStreet(p.streets, streetText)
	houseNumber = strings.TrimSpace(houseNumber)
	if street == nil || houseNumber == "" || p.createPos == nil || !p.createPos.Valid() {
		p.createErr = MsgFillStreetAndNumber
		return &ValidationError{Message: MsgFillStreetAndNumber}
	}

	created, err := p.be.Tables.InsertAddress(ctx, domain.NewAddress{
		StreetID:    street.ID,
		HouseNumber: houseNumber,
		Lat:         p.createPos.Lat,
		Lon:         p.createPos.Lon,
	})
	if err != nil {
		p.logger.Error("create address failed", "street_id", street.ID, "error", err)
		p.createErr = UserMessage(err)
		return err
	}
	p.logger.Info("address created", "address_id", created.ID, "street_id", street.ID)

	p.createPos = nil
	p.createErr = ""
	return p.loadAddressesLocked(ctx)
}

// Open makes the address with id active if it is in the loaded list and loads
// its photos. It reports whether the address was found; an unknown id is
// ignored silently.
func (p *MapPage) Open(ctx context.Context, id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	found := view.FindAddress(p.addresses, id)
	if found == nil {
		return false
	}
	if p.active != nil && p.active.ID == id {
		return true
	}

	p.active = found
	draft := *found
	p.draft = &draft
	p.loadPhotosLocked(ctx)
	return true
}

// EnsureOpen makes id the active address before an edit or upload. A page
// that lost its drawer state reopens the address from the loaded list,
// re-fetching the list once if the address is newer than the page. When the
// address cannot be found the failure is recorded inline and false is
// returned.
func (p *MapPage) EnsureOpen(ctx context.Context, id int64) bool {
	if p.Open(ctx, id) {
		return true
	}
	if err := p.ReloadAddresses(ctx); err == nil && p.Open(ctx, id) {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Warn("address not in loaded list", "address_id", id)
	if p.err == "" {
		p.err = MsgAddressNotFound
	}
	p.galleryErr = MsgAddressNotFound
	return false
}

func (p *MapPage) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = nil
	p.draft = nil
	p.photos = nil
	p.galleryErr = ""
}

func (p *MapPage) loadPhotosLocked(ctx context.Context) {
	p.photos = nil
	p.galleryErr = ""

	rows, err := p.be.Tables.ListPhotos(ctx, p.active.ID)
	if err != nil {
		p.logger.Error("load photos failed", "address_id", p.active.ID, "error", err)
		p.galleryErr = UserMessage(err)
		return
	}

	photos := make([]Photo, 0, len(rows))
	for _, row := range rows {
		photos = append(photos, Photo{AddressPhoto: row, SignedURL: signURL(ctx, p.be, p.logger, row.StoragePath)})
	}
	p.photos = photos
}

func signURL(ctx context.Context, be Backend, logger *slog.Logger, storagePath string) string {
	signed, err := be.Photos.SignedURL(ctx, storagePath, photostore.SignedURLTTL)
	if err != nil {
		logger.Error("sign photo url failed", "storage_path", storagePath, "error", err)
		return ""
	}
	return signed
}

// Save binds the detail form onto the active address and sends only the
// changed fields. The list is then re-fetched in full. Without an active
// address Save does nothing.
func (p *MapPage) Save(ctx context.Context, form url.Values) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == nil {
		return nil
	}

	draft, err := view.BindDetail(*p.active, form)
	if err != nil {
		p.err = err.Error()
		return &ValidationError{Message: err.Error()}
	}
	p.draft = &draft

	changes := domain.Changes(*p.active, draft)
	if len(changes) == 0 {
		return nil
	}

	id := p.active.ID
	if err := p.be.Tables.UpdateAddress(ctx, id, changes); err != nil {
		p.logger.Error("save address failed", "address_id", id, "error", err)
		p.err = UserMessage(err)
		return err
	}
	p.logger.Info("address saved", "address_id", id, "fields", len(changes))
	p.err = ""

	return p.loadAddressesLocked(ctx)
}

var whitespace = regexp.MustCompile(`\s+`)

// PhotoPath builds the storage path of an upload. The random token keeps
// paths unique across users and repeated uploads of the same file.
func PhotoPath(userID string, addressID int64, fileName string) string {
	name := whitespace.ReplaceAllString(path.Base(fileName), "-")
	return fmt.Sprintf("%s/%d/%s-%s", userID, addressID, uuid.NewString(), name)
}

// UploadPhotos stores files for the active address strictly in submission
// order: each file's object upload and row insert complete before the next
// file starts, and the files never upload concurrently. The first failure
// stops the batch; photos stored before it are kept. A second batch while one
// is running fails with ErrBusy.
func (p *MapPage) UploadPhotos(ctx context.Context, files []Upload) error {
	p.mu.Lock()
	if p.active == nil || len(files) == 0 {
		p.mu.Unlock()
		return nil
	}
	if p.busy {
		p.mu.Unlock()
		return ErrBusy
	}
	p.busy = true
	p.galleryErr = ""
	addressID := p.active.ID
	be := p.be
	p.mu.Unlock()

	err := p.uploadSequentially(ctx, be, addressID, files)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = false
	if err != nil {
		p.galleryErr = UserMessage(err)
	}
	return err
}

func (p *MapPage) uploadSequentially(ctx context.Context, be Backend, addressID int64, files []Upload) error {
	userID, err := be.Identity.UserID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	if userID == "" {
		return &ValidationError{Message: MsgNotSignedIn}
	}

	for i, f := range files {
		storagePath := PhotoPath(userID, addressID, f.Name)

		if err := be.Photos.Upload(ctx, storagePath, f.MimeType, bytes.NewReader(f.Data)); err != nil {
			p.logger.Error("photo upload failed", "address_id", addressID, "index", i, "error", err)
			return err
		}

		row, err := be.Tables.InsertPhoto(ctx, domain.NewPhoto{
			AddressID:   addressID,
			StoragePath: storagePath,
			Caption:     p.suggestCaption(ctx, f),
		})
		if err != nil {
			// The object stays in storage without a row.
			p.logger.Error("photo row insert failed", "address_id", addressID, "storage_path", storagePath, "error", err)
			return err
		}
		p.logger.Info("photo uploaded", "address_id", addressID, "photo_id", row.ID)

		entry := Photo{AddressPhoto: *row, SignedURL: signURL(ctx, be, p.logger, storagePath)}
		p.mu.Lock()
		if p.active != nil && p.active.ID == addressID {
			p.photos = append([]Photo{entry}, p.photos...)
		}
		p.mu.Unlock()
	}
	return nil
}

func (p *MapPage) suggestCaption(ctx context.Context, f Upload) *string {
	if p.captioner == nil {
		return nil
	}
	text, err := p.captioner.Caption(ctx, bytes.NewReader(f.Data), f.MimeType)
	if err != nil {
		p.logger.Warn("caption suggestion failed", "file", f.Name, "error", err)
		return nil
	}
	if text == "" {
		return nil
	}
	return &text
}

// DeletePhoto removes the stored object, then the row, then drops the entry
// from the gallery without re-fetching it. A failure at either step leaves
// the gallery unchanged.
func (p *MapPage) DeletePhoto(ctx context.Context, photoID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i := range p.photos {
		if p.photos[i].ID == photoID {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.galleryErr = MsgPhotoNotFound
		return ErrPhotoNotFound
	}
	photo := p.photos[idx]

	if err := p.be.Photos.Remove(ctx, photo.StoragePath); err != nil {
		p.logger.Error("photo remove failed", "photo_id", photoID, "error", err)
		p.galleryErr = UserMessage(err)
		return err
	}
	if err := p.be.Tables.DeletePhoto(ctx, photoID); err != nil {
		// The row stays without its object.
		p.logger.Error("photo row delete failed", "photo_id", photoID, "error", err)
		p.galleryErr = UserMessage(err)
		return err
	}

	remaining := make([]Photo, 0, len(p.photos)-1)
	for _, ph := range p.photos {
		if ph.ID != photoID {
			remaining = append(remaining, ph)
		}
	}
	p.photos = remaining
	p.galleryErr = ""
	return nil
}

func (p *MapPage) State() MapState {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := MapState{
		Streets:      p.streets,
		StreetByID:   view.StreetIndex(p.streets),
		Visible:      view.Visible(p.addresses, p.filter),
		Filter:       p.filter,
		CreateError:  p.createErr,
		Photos:       append([]Photo(nil), p.photos...),
		GalleryError: p.galleryErr,
		Busy:         p.busy,
		Error:        p.err,
	}
	if p.createPos != nil {
		c := *p.createPos
		st.CreatePos = &c
	}
	if p.active != nil {
		a := *p.active
		st.Active = &a
		if s, ok := st.StreetByID[a.StreetID]; ok {
			st.ActiveStreet = &s
		}
	}
	if p.draft != nil {
		d := *p.draft
		st.Draft = &d
	}
	return st
}
