package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vbonduro/wohnmap/internal/backend"
	"github.com/vbonduro/wohnmap/internal/domain"
	"github.com/vbonduro/wohnmap/internal/view"
)

type FavoriteItem struct {
	ID          int64
	Title       string
	Traffic     domain.Traffic
	NotePreview string
}

type FavoritesService struct {
	logger *slog.Logger
}

func NewFavoritesService(logger *slog.Logger) *FavoritesService {
	return &FavoritesService{logger: logger}
}

// List returns the favourite addresses, most recently updated first. The
// filtering and ordering happen on the backend.
func (s *FavoritesService) List(ctx context.Context, tables backend.Tables) ([]FavoriteItem, error) {
	rows, err := tables.ListFavorites(ctx)
	if err != nil {
		s.logger.Error("load favorites failed", "error", err)
		return nil, err
	}

	items := make([]FavoriteItem, 0, len(rows))
	for _, a := range rows {
		items = append(items, FavoriteItem{
			ID:          a.ID,
			Title:       favoriteTitle(a),
			Traffic:     a.Traffic,
			NotePreview: view.NotePreview(a.Notes),
		})
	}
	return items, nil
}

func favoriteTitle(a domain.Address) string {
	if a.Street == nil {
		return a.HouseNumber
	}
	return strings.TrimSpace(a.Street.Name + " " + a.HouseNumber)
}
