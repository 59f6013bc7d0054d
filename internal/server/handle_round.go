package server

import (
	"log/slog"
	"net/http"

	"github.com/playperu/geoquest/internal/game"
	"github.com/playperu/geoquest/internal/geoquest"
)

type GuessRequest struct {
	RoundID string   `json:"roundId"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

type SkipRequest struct {
	RoundID string `json:"roundId"`
}

type FinishResponse struct {
	Game geoquest.Game `json:"game"`
}

func handleStart(games *game.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := playerFrom(r)
		res, err := games.StartGame(r.Context(), p.GameID, p.ID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleNext(games *game.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := playerFrom(r)
		res, err := games.NextRound(r.Context(), p.GameID, p.ID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGuess(games *game.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GuessRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
			return
		}
		if req.RoundID == "" || req.Lat == nil || req.Lng == nil {
			writeError(w, http.StatusBadRequest, "validation_error", "roundId, lat and lng are required")
			return
		}

		p := playerFrom(r)
		res, err := games.SubmitGuess(r.Context(), p.GameID, req.RoundID, p.ID, *req.Lat, *req.Lng)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleSkip(games *game.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SkipRequest
		if err := readJSON(r, &req); err != nil || req.RoundID == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "roundId is required")
			return
		}

		p := playerFrom(r)
		entry, err := games.SubmitNoGuess(r.Context(), p.GameID, req.RoundID, p.ID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func handleFinish(games *game.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := playerFrom(r)
		g, err := games.FinishGame(r.Context(), p.GameID, p.ID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, FinishResponse{Game: g})
	}
}
