package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/playperu/geoquest/internal/game"
)

type JoinRequest struct {
	InviteCode string `json:"inviteCode"`
	PlayerName string `json:"playerName"`
}

func handleJoin(games *game.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
			return
		}
		if strings.TrimSpace(req.InviteCode) == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "inviteCode is required")
			return
		}

		sess, err := games.JoinGame(r.Context(), req.InviteCode, req.PlayerName)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}
