package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/playperu/geoquest/internal/game"
	"github.com/playperu/geoquest/internal/geoquest"
)

type ctxKey int

const ctxKeyPlayer ctxKey = iota

// playerMiddleware resolves the request's token to the stored player.
// Missing and unknown tokens are answered with 401.
func playerMiddleware(games *game.Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing session token")
				return
			}

			player, err := games.Authenticate(r.Context(), token)
			if errors.Is(err, geoquest.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
				return
			}
			if err != nil {
				writeServiceError(w, logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyPlayer, player)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func playerFrom(r *http.Request) geoquest.Player {
	return r.Context().Value(ctxKeyPlayer).(geoquest.Player)
}
