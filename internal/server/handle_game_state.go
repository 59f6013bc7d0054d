package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/geoquest/internal/game"
)

func handleGameState(games *game.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := playerFrom(r)
		st, err := games.State(r.Context(), p.GameID, p.ID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handlePlayerGuesses(games *game.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := playerFrom(r)
		guesses, err := games.PlayerGuesses(r.Context(), p.GameID, p.ID, chi.URLParam(r, "playerID"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, guesses)
	}
}
