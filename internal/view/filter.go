// Package view holds the pure functions behind the map page: street
// resolution, marker visibility and form binding.
package view

import (
	"strings"

	"github.com/vbonduro/wohnmap/internal/domain"
)

// Filter is the map's current street and house-number selection.
type Filter struct {
	Street      *domain.Street
	HouseNumber string
}

// Visible returns the addresses matching f, preserving input order. An address
// is visible when no street is selected or it belongs to the selected street,
// and when the house-number filter is empty or a case-sensitive substring of
// its house number.
func Visible(addresses []domain.Address, f Filter) []domain.Address {
	visible := make([]domain.Address, 0, len(addresses))
	for _, a := range addresses {
		if f.Street != nil && a.StreetID != f.Street.ID {
			continue
		}
		if f.HouseNumber != "" && !strings.Contains(a.HouseNumber, f.HouseNumber) {
			continue
		}
		visible = append(visible, a)
	}
	return visible
}

// ResolveStreet returns the street whose name equals text exactly, or nil.
func ResolveStreet(streets []domain.Street, text string) *domain.Street {
	for i := range streets {
		if streets[i].Name == text {
			s := streets[i]
			return &s
		}
	}
	return nil
}

func StreetIndex(streets []domain.Street) map[int64]domain.Street {
	idx := make(map[int64]domain.Street, len(streets))
	for _, s := range streets {
		idx[s.ID] = s
	}
	return idx
}

// FindAddress returns the address with the given id from an already loaded
// list, or nil.
func FindAddress(addresses []domain.Address, id int64) *domain.Address {
	for i := range addresses {
		if addresses[i].ID == id {
			a := addresses[i]
			return &a
		}
	}
	return nil
}

const notePreviewLen = 80

// NotePreview shortens notes for list display.
func NotePreview(notes *string) string {
	if notes == nil {
		return "Keine Notiz"
	}
	r := []rune(*notes)
	if len(r) > notePreviewLen {
		return string(r[:notePreviewLen])
	}
	return *notes
}
