package web

import (
	"net/http"
	"strconv"

	"github.com/vbonduro/wohnmap/internal/domain"
	"github.com/vbonduro/wohnmap/internal/service"
	"github.com/vbonduro/wohnmap/internal/view"
)

type mapView struct {
	AppName         string
	TileURL         string
	TileFallbackURL string
	TileAttribution string
	CenterLat       float64
	CenterLon       float64
	Zoom            int
	TrafficValues   []domain.Traffic
	BuildingTypes   []domain.BuildingType
	State           service.MapState
}

var mapFiles = []string{
	"base.html",
	"pages/map.html",
	"partials/map_panel.html",
	"partials/create_modal.html",
	"partials/detail_drawer.html",
	"partials/gallery.html",
}

func (s *Server) newMapView(page *service.MapPage) mapView {
	return mapView{
		AppName:         s.opts.AppName,
		TileURL:         s.opts.TileURL,
		TileFallbackURL: s.opts.TileFallbackURL,
		TileAttribution: s.opts.TileAttribution,
		CenterLat:       s.opts.CenterLat,
		CenterLon:       s.opts.CenterLon,
		Zoom:            s.opts.Zoom,
		TrafficValues:   domain.TrafficValues,
		BuildingTypes:   domain.BuildingTypes,
		State:           page.State(),
	}
}

// respondMap renders the map panel for HTMX requests and the whole page
// otherwise.
func (s *Server) respondMap(w http.ResponseWriter, r *http.Request, page *service.MapPage) {
	data := s.newMapView(page)
	if isHTMX(r) {
		if err := s.renderPartial(w, "map_panel", data, mapFiles[2:]...); err != nil {
			s.logger.Error("render partial failed", "partial", "map_panel", "error", err)
		}
		return
	}
	if err := s.renderPage(w, data, mapFiles...); err != nil {
		s.logger.Error("render page failed", "page", "map", "error", err)
	}
}

// handleMap loads the map from scratch. addressId opens the drawer when the
// address is in the loaded list; lat and lon open the create modal.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	page := s.mapPage(w, r, true)

	q := r.URL.Query()
	if id, err := strconv.ParseInt(q.Get("addressId"), 10, 64); err == nil && id != 0 {
		page.Open(r.Context(), id)
	}
	if c, ok := view.ParseCoordinate(q.Get("lat"), q.Get("lon")); ok {
		page.ClickMap(c)
	}

	s.respondMap(w, r, page)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	page := s.mapPage(w, r, false)
	page.SelectStreet(r.PostFormValue("street"))
	page.SetHouseNumberFilter(r.PostFormValue("house_number"))
	s.respondMap(w, r, page)
}

func (s *Server) handleMapClick(w http.ResponseWriter, r *http.Request) {
	c, ok := view.ParseCoordinate(r.FormValue("lat"), r.FormValue("lon"))
	if !ok {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	page := s.mapPage(w, r, false)
	page.ClickMap(c)
	s.respondMap(w, r, page)
}

func (s *Server) handleCloseCreate(w http.ResponseWriter, r *http.Request) {
	page := s.mapPage(w, r, false)
	page.CloseCreate()
	s.respondMap(w, r, page)
}

func (s *Server) handleCloseDrawer(w http.ResponseWriter, r *http.Request) {
	page := s.mapPage(w, r, false)
	page.Close()
	s.respondMap(w, r, page)
}

func (s *Server) handleCreateAddress(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	page := s.mapPage(w, r, false)
	// Failures are shown in the modal.
	_ = page.CreateAddress(r.Context(), r.PostFormValue("street"), r.PostFormValue("house_number"))
	s.respondMap(w, r, page)
}

func (s *Server) handleOpenAddress(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid address id", http.StatusBadRequest)
		return
	}
	page := s.mapPage(w, r, false)
	page.Open(r.Context(), id)
	s.respondMap(w, r, page)
}

func (s *Server) handleSaveAddress(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid address id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	page := s.mapPage(w, r, false)
	// Failures are shown in the panel.
	if page.EnsureOpen(r.Context(), id) {
		_ = page.Save(r.Context(), r.PostForm)
	}
	s.respondMap(w, r, page)
}

// parseID extracts the {id} path variable and returns it as int64.
func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
