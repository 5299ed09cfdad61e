package view

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/vbonduro/wohnmap/internal/domain"
)

var ErrInvalidFloors = errors.New("Etagen müssen eine ganze Zahl sein.")

// BindDetail applies the detail drawer form to a copy of base. Fields absent
// from the form keep their current value, except checkboxes, which browsers
// omit when unchecked.
func BindDetail(base domain.Address, form url.Values) (domain.Address, error) {
	a := base

	if v := form.Get("traffic"); v != "" {
		t, err := domain.ParseTraffic(v)
		if err != nil {
			return base, err
		}
		a.Traffic = t
	}
	if v := form.Get("building"); v != "" {
		b, err := domain.ParseBuildingType(v)
		if err != nil {
			return base, err
		}
		a.Building = b
	}

	if form.Has("floors") {
		floors, err := parseFloors(form.Get("floors"))
		if err != nil {
			return base, err
		}
		a.Floors = floors
	}

	a.IsFavorite = checked(form, "is_favorite")
	a.HasGarage = checked(form, "has_garage")

	bindText(form, "parking", &a.Parking)
	bindText(form, "shops", &a.Shops)
	bindText(form, "orientation_front", &a.OrientationFront)
	bindText(form, "orientation_back", &a.OrientationBack)
	bindText(form, "notes", &a.Notes)

	return a, nil
}

// parseFloors maps an empty input to nil rather than zero.
func parseFloors(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil, ErrInvalidFloors
	}
	return &n, nil
}

func checked(form url.Values, key string) bool {
	switch form.Get(key) {
	case "on", "true", "1":
		return true
	default:
		return false
	}
}

func bindText(form url.Values, key string, dst **string) {
	if !form.Has(key) {
		return
	}
	v := form.Get(key)
	if v == "" {
		*dst = nil
		return
	}
	*dst = &v
}

// ParseCoordinate reads a map click position. It reports false when either
// value is missing, malformed or not finite.
func ParseCoordinate(lat, lon string) (domain.Coordinate, bool) {
	if lat == "" || lon == "" {
		return domain.Coordinate{}, false
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return domain.Coordinate{}, false
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return domain.Coordinate{}, false
	}
	c := domain.Coordinate{Lat: la, Lon: lo}
	return c, c.Valid()
}
