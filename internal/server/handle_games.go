package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/geoquest/internal/game"
	"github.com/playperu/geoquest/internal/geoquest"
)

type CreateGameRequest struct {
	PlayerName       string `json:"playerName"`
	NumRounds        int    `json:"numRounds"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
	ContinentCode    string `json:"continentCode,omitempty"`
	CountryCode      string `json:"countryCode,omitempty"`
}

func handleCreateGame(games *game.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateGameRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
			return
		}

		sess, err := games.CreateGame(r.Context(), game.CreateGameRequest{
			PlayerName:       req.PlayerName,
			NumRounds:        req.NumRounds,
			TimeLimitSeconds: req.TimeLimitSeconds,
			Region: geoquest.Region{
				ContinentCode: req.ContinentCode,
				CountryCode:   req.CountryCode,
			},
		})
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func handleLookup(games *game.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobby, err := games.LookupGame(r.Context(), chi.URLParam(r, "inviteCode"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, lobby)
	}
}
