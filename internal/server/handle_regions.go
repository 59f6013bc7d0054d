package server

import (
	"log/slog"
	"net/http"

	"github.com/playperu/geoquest/internal/geoquest"
)

type RegionsResponse struct {
	Continents []geoquest.Continent `json:"continents"`
	Countries  []geoquest.Country   `json:"countries"`
}

func handleRegions(regions Regions, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		continents, err := regions.Continents(r.Context())
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		countries, err := regions.Countries(r.Context(), r.URL.Query().Get("continent"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, RegionsResponse{Continents: continents, Countries: countries})
	}
}
