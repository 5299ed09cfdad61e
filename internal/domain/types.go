package domain

import (
	"fmt"
	"math"
	"time"
)

type Traffic string

const (
	TrafficGreen  Traffic = "green"
	TrafficYellow Traffic = "yellow"
	TrafficRed    Traffic = "red"
)

// TrafficValues is the display order of the traffic buttons.
var TrafficValues = []Traffic{TrafficGreen, TrafficYellow, TrafficRed}

func ParseTraffic(s string) (Traffic, error) {
	for _, t := range TrafficValues {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown traffic status %q", s)
}

type BuildingType string

const (
	BuildingUnknown BuildingType = "unknown"
	BuildingEFH     BuildingType = "efh"
	BuildingMFH     BuildingType = "mfh"
)

var BuildingTypes = []BuildingType{BuildingUnknown, BuildingEFH, BuildingMFH}

func ParseBuildingType(s string) (BuildingType, error) {
	for _, b := range BuildingTypes {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown building type %q", s)
}

type Street struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

type Address struct {
	ID               int64        `json:"id"`
	StreetID         int64        `json:"street_id"`
	HouseNumber      string       `json:"house_number"`
	Lat              float64      `json:"lat"`
	Lon              float64      `json:"lon"`
	Traffic          Traffic      `json:"traffic"`
	IsFavorite       bool         `json:"is_favorite"`
	Building         BuildingType `json:"building"`
	Floors           *int         `json:"floors"`
	Parking          *string      `json:"parking"`
	HasGarage        bool         `json:"has_garage"`
	Shops            *string      `json:"shops"`
	OrientationFront *string      `json:"orientation_front"`
	OrientationBack  *string      `json:"orientation_back"`
	Notes            *string      `json:"notes"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`

	// Street is only set by queries that join the streets table.
	Street *Street `json:"street,omitempty"`
}

// HasPosition reports whether the address can be plotted on the map.
func (a *Address) HasPosition() bool {
	return Coordinate{Lat: a.Lat, Lon: a.Lon}.Valid()
}

type AddressPhoto struct {
	ID          int64     `json:"id"`
	AddressID   int64     `json:"address_id"`
	StoragePath string    `json:"storage_path"`
	Caption     *string   `json:"caption"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewAddress is the insert payload of the create flow.
type NewAddress struct {
	StreetID    int64   `json:"street_id"`
	HouseNumber string  `json:"house_number"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// NewPhoto is the insert payload written after a successful storage upload.
type NewPhoto struct {
	AddressID   int64   `json:"address_id"`
	StoragePath string  `json:"storage_path"`
	Caption     *string `json:"caption"`
}

type Coordinate struct {
	Lat float64
	Lon float64
}

func (c Coordinate) Valid() bool {
	return isFinite(c.Lat) && isFinite(c.Lon)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Session is a signed-in browser session held by this server. The tokens are
// the backend's; the ID is the opaque cookie value.
type Session struct {
	ID           string
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	// TokenExpiresAt is when AccessToken stops being accepted by the backend.
	// ExpiresAt bounds the local session itself.
	TokenExpiresAt time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
}
