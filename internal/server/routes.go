package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	games := deps.Games

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("GeoQuest API", "/openapi.json", "/docs"))

	r.Post("/api/games", handleCreateGame(games, logger))
	r.Get("/api/games/lookup/{inviteCode}", handleLookup(games, logger))
	r.Post("/api/games/join", handleJoin(games, logger))
	r.Get("/api/regions", handleRegions(deps.Regions, logger))

	// Player routes, authenticated by session token.
	r.Route("/api/game", func(r chi.Router) {
		r.Use(playerMiddleware(games, logger))
		r.Get("/state", handleGameState(games, logger))
		r.Post("/start", handleStart(games, logger))
		r.Post("/next", handleNext(games, logger))
		r.Post("/guess", handleGuess(games, logger))
		r.Post("/skip", handleSkip(games, logger))
		r.Post("/finish", handleFinish(games, logger))
		r.Get("/players/{playerID}/guesses", handlePlayerGuesses(games, logger))
		r.Get("/events", handleEvents(games, deps.Broker, logger))
		r.Get("/ws", handleWS(games, deps.Broker, logger))
	})

	if deps.SPADir != "" {
		if info, err := os.Stat(deps.SPADir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", deps.SPADir)
			r.NotFound(handleSPA(deps.SPADir))
		}
	}
}
