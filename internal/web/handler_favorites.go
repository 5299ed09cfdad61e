package web

import (
	"net/http"

	"github.com/vbonduro/wohnmap/internal/service"
)

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	be := s.backendFor(s.session(r))

	data := map[string]any{"AppName": s.opts.AppName}
	items, err := s.deps.Favorites.List(r.Context(), be.Tables)
	if err != nil {
		data["Error"] = service.UserMessage(err)
	}
	data["Items"] = items

	if err := s.renderPage(w, data, "base.html", "pages/favorites.html"); err != nil {
		s.logger.Error("render page failed", "page", "favorites", "error", err)
	}
}
