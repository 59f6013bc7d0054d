// Package game implements the session state machine and the round
// provisioner. All session records are created and mutated through Service.
package game

import (
	"context"
	"errors"
	"time"

	"github.com/playperu/geoquest/internal/geoquest"
)

// ErrInviteCodeTaken is returned by Store.CreateGame when another active
// session already uses the invite code.
var ErrInviteCodeTaken = errors.New("invite code taken")

// Store is the transactional persistence the state machine runs on. Every
// method is atomic; multi-row writes commit together or not at all.
type Store interface {
	CreateGame(ctx context.Context, g geoquest.Game, host geoquest.Player, tokenHash string) error
	GameByID(ctx context.Context, id string) (geoquest.Game, error)
	// ActiveGameByInviteCode matches the upper-cased code among active games.
	ActiveGameByInviteCode(ctx context.Context, code string) (geoquest.Game, error)

	// AddPlayer inserts p only while its game is active and in the lobby.
	AddPlayer(ctx context.Context, p geoquest.Player, tokenHash string) error
	PlayerByToken(ctx context.Context, tokenHash string) (geoquest.Player, error)
	Player(ctx context.Context, gameID, playerID string) (geoquest.Player, error)
	// ListPlayers returns the players ordered by cumulative score, best first.
	ListPlayers(ctx context.Context, gameID string) ([]geoquest.Player, error)

	// CreateRound advances current_round from expectedRound to
	// expectedRound+1, deactivates the previous round, inserts r and one
	// empty entry per player. It fails with geoquest.ErrRoundAdvanced when
	// current_round no longer equals expectedRound.
	CreateRound(ctx context.Context, r geoquest.Round, expectedRound int) ([]geoquest.RoundPlayer, error)
	ActiveRound(ctx context.Context, gameID string) (geoquest.Round, error)
	Round(ctx context.Context, roundID string) (geoquest.Round, error)
	RoundPlayers(ctx context.Context, roundID string) ([]geoquest.RoundPlayer, error)
	// PendingRounds lists active rounds of active games that still have
	// unscored entries.
	PendingRounds(ctx context.Context) ([]PendingRound, error)

	// ScoreEntry writes the guess and score of an unscored entry of an
	// active round and adds the score to the player's total.
	ScoreEntry(ctx context.Context, gameID string, e geoquest.RoundPlayer) (geoquest.RoundPlayer, error)
	// ExpireEntries zero-scores every unscored entry of a round and returns
	// the entries it changed.
	ExpireEntries(ctx context.Context, roundID string, at time.Time) ([]geoquest.RoundPlayer, error)
	// FinishGame deactivates the game and its active round, zero-scoring
	// whatever entries were still open.
	FinishGame(ctx context.Context, gameID string, at time.Time) (geoquest.Game, error)
	PlayerGuesses(ctx context.Context, gameID, playerID string) ([]geoquest.PlayerGuess, error)
}

type PendingRound struct {
	Round     geoquest.Round
	TimeLimit time.Duration
}

// Catalog is the location catalog as seen by the state machine.
type Catalog interface {
	RandomLocation(ctx context.Context, region geoquest.Region) (geoquest.Location, error)
	ValidateRegion(ctx context.Context, region geoquest.Region) error
}

// Imagery finds a ground-level image near a point.
type Imagery interface {
	NearestImage(ctx context.Context, lat, lng float64, radiusMeters int) (string, error)
}

// Publisher fans committed changes out to every member of a game.
type Publisher interface {
	Publish(gameID string, ev geoquest.Event)
}

// Session is handed to a player when they create or join a game. Token is
// the only credential the player presents afterwards.
type Session struct {
	Token  string          `json:"token"`
	Game   geoquest.Game   `json:"game"`
	Player geoquest.Player `json:"player"`
}

type CreateGameRequest struct {
	PlayerName       string
	NumRounds        int
	TimeLimitSeconds int
	Region           geoquest.Region
}

type Lobby struct {
	Game        geoquest.Game `json:"game"`
	HostName    string        `json:"hostName"`
	PlayerCount int           `json:"playerCount"`
}

type RoundResult struct {
	Round   geoquest.Round          `json:"round"`
	Entries []geoquest.RoundPlayer `json:"entries"`
}

type GuessResult struct {
	Entry      geoquest.RoundPlayer `json:"entry"`
	Score      int                  `json:"score"`
	DistanceKm float64              `json:"distanceKm"`
	TargetLat  float64              `json:"targetLat"`
	TargetLng  float64              `json:"targetLng"`
}

// State is the full view of a game for one player.
type State struct {
	Game          geoquest.Game          `json:"game"`
	Players       []geoquest.Player      `json:"players"`
	Round         *geoquest.RoundView    `json:"round"`
	Entries       []geoquest.RoundPlayer `json:"entries"`
	RoundComplete bool                   `json:"roundComplete"`
}
