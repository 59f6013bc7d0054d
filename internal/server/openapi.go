package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/geoquest/internal/game"
	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/handler/health"
)

type operation struct {
	method, path, summary, description string
	req                                any
	resp                               any
	status                             int
	contentType                        string
	errors                             []int
}

var operations = []operation{
	{
		method: http.MethodGet, path: "/healthz",
		summary:     "Health check",
		description: "Returns the health status of backend dependencies.",
		resp:        health.Response{}, status: http.StatusOK,
		errors: []int{http.StatusServiceUnavailable},
	},
	{
		method: http.MethodPost, path: "/api/games",
		summary:     "Create game",
		description: "Opens a lobby with the caller as host. Returns the session token.",
		req:         CreateGameRequest{}, resp: game.Session{}, status: http.StatusCreated,
		errors: []int{http.StatusBadRequest},
	},
	{
		method: http.MethodGet, path: "/api/games/lookup/{inviteCode}",
		summary:     "Look up lobby",
		description: "Returns the joinable lobby behind an invite code.",
		resp:        game.Lobby{}, status: http.StatusOK,
		errors: []int{http.StatusNotFound},
	},
	{
		method: http.MethodPost, path: "/api/games/join",
		summary:     "Join game",
		description: "Joins a lobby by invite code. Returns the session token.",
		req:         JoinRequest{}, resp: game.Session{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	},
	{
		method: http.MethodGet, path: "/api/regions",
		summary:     "List regions",
		description: "Lists the continents and countries a game can be restricted to.",
		resp:        RegionsResponse{}, status: http.StatusOK,
	},
	{
		method: http.MethodGet, path: "/api/game/state",
		summary:     "Get game state",
		description: "Returns standings, the active round and its entries. Requires Bearer token.",
		resp:        game.State{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized},
	},
	{
		method: http.MethodPost, path: "/api/game/start",
		summary:     "Start game",
		description: "Host only. Creates round 1.",
		resp:        game.RoundResult{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict, http.StatusServiceUnavailable},
	},
	{
		method: http.MethodPost, path: "/api/game/next",
		summary:     "Next round",
		description: "Host only. Closes the current round and creates the next one.",
		resp:        game.RoundResult{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict, http.StatusServiceUnavailable},
	},
	{
		method: http.MethodPost, path: "/api/game/guess",
		summary:     "Submit guess",
		description: "Scores the caller's guess for the active round. Each entry is scored once.",
		req:         GuessRequest{}, resp: game.GuessResult{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	},
	{
		method: http.MethodPost, path: "/api/game/skip",
		summary:     "Skip round",
		description: "Scores the caller's entry for the active round at zero.",
		req:         SkipRequest{}, resp: geoquest.RoundPlayer{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	},
	{
		method: http.MethodPost, path: "/api/game/finish",
		summary:     "Finish game",
		description: "Host only. Ends the game; open entries are scored zero.",
		resp:        FinishResponse{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict},
	},
	{
		method: http.MethodGet, path: "/api/game/players/{playerID}/guesses",
		summary:     "Player guesses",
		description: "Lists a player's scored entries. Guesses in the running round stay hidden until the caller has scored.",
		resp:        []geoquest.PlayerGuess{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized, http.StatusNotFound},
	},
	{
		method: http.MethodGet, path: "/api/game/events",
		summary:     "SSE event stream",
		description: "Server-Sent Events: a snapshot followed by game events. Pass token as query parameter.",
		status:      http.StatusOK, contentType: "text/event-stream",
	},
	{
		method: http.MethodGet, path: "/api/game/ws",
		summary:     "WebSocket event stream",
		description: "Same messages as the SSE stream over a WebSocket. Pass token as query parameter.",
		status:      http.StatusSwitchingProtocols, contentType: "text/plain",
	},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "GeoQuest API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Backend API for multiplayer GeoQuest sessions.")

	for _, op := range operations {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		oc.SetDescription(op.description)
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		if op.contentType != "" {
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(op.status), openapi.WithContentType(op.contentType))
		} else {
			oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(op.status))
		}
		for _, status := range op.errors {
			oc.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(status))
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
