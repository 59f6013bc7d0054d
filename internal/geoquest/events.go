package geoquest

import "time"

type EventType string

const (
	EventPlayerJoined   EventType = "player_joined"
	EventRoundStarted   EventType = "round_started"
	EventGuessRecorded  EventType = "guess_recorded"
	EventRoundCompleted EventType = "round_completed"
	EventGameFinished   EventType = "game_finished"
)

// Event is a committed state change fanned out to every member of a game.
type Event struct {
	Type   EventType `json:"type"`
	GameID string    `json:"gameId"`
	Seq    uint64    `json:"seq"`
	Data   any       `json:"data,omitempty"`
}

type PlayerJoinedData struct {
	Player Player `json:"player"`
}

// RoundStartedData carries the round and its freshly reset entries in a
// single message so clients never see a new round with stale guesses.
type RoundStartedData struct {
	CurrentRound int           `json:"currentRound"`
	Round        RoundView     `json:"round"`
	Entries      []RoundPlayer `json:"entries"`
}

type GuessRecordedData struct {
	RoundID     string `json:"roundId"`
	RoundNumber int    `json:"roundNumber"`
	PlayerID    string `json:"playerId"`
	Score       int    `json:"score"`
	TimedOut    bool   `json:"timedOut"`
}

type RoundCompletedData struct {
	Round   Round         `json:"round"`
	Entries []RoundPlayer `json:"entries"`
	Players []Player      `json:"players"`
}

type GameFinishedData struct {
	Game      Game     `json:"game"`
	Standings []Player `json:"standings"`
}

// RoundView is a round as shown to a player; the target is omitted until
// the player may see it.
type RoundView struct {
	ID           string   `json:"id"`
	RoundNumber  int      `json:"roundNumber"`
	ImageID      string   `json:"imageId"`
	IsActive     bool     `json:"isActive"`
	StartedAt    string   `json:"startedAt"`
	Deadline     string   `json:"deadline"`
	LocationName string   `json:"locationName,omitempty"`
	CountryName  string   `json:"countryName,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lng          *float64 `json:"lng,omitempty"`
}

func NewRoundView(r Round, limit time.Duration, reveal bool) RoundView {
	v := RoundView{
		ID:          r.ID,
		RoundNumber: r.RoundNumber,
		ImageID:     r.ImageID,
		IsActive:    r.IsActive,
		StartedAt:   r.StartedAt.UTC().Format(time.RFC3339Nano),
		Deadline:    r.Deadline(limit).UTC().Format(time.RFC3339Nano),
	}
	if reveal {
		lat, lng := r.Lat, r.Lng
		v.LocationName = r.LocationName
		v.CountryName = r.CountryName
		v.Lat, v.Lng = &lat, &lng
	}
	return v
}
