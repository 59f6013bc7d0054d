// Package geoquest defines the core domain types of a round-based
// geography guessing session. It has no external dependencies.
package geoquest

import (
	"strings"
	"time"
)

type Region struct {
	ContinentCode string `json:"continentCode,omitempty"`
	CountryCode   string `json:"countryCode,omitempty"`
}

// Code returns the active filter: the continent, the country, or "" for
// the whole world.
func (r Region) Code() string {
	if r.ContinentCode != "" {
		return r.ContinentCode
	}
	return r.CountryCode
}

// ScoringRegion returns the code whose scoring constants apply: the
// continent, or "" (world) for country and unfiltered games. Some country
// codes (NA, SA, AF, AS) collide with continent codes, so Code is not
// usable here.
func (r Region) ScoringRegion() string { return r.ContinentCode }

func (r Region) IsWorld() bool { return r.ContinentCode == "" && r.CountryCode == "" }

// Normalize upper-cases and trims both codes.
func (r Region) Normalize() Region {
	return Region{
		ContinentCode: strings.ToUpper(strings.TrimSpace(r.ContinentCode)),
		CountryCode:   strings.ToUpper(strings.TrimSpace(r.CountryCode)),
	}
}

type Game struct {
	ID               string    `json:"id"`
	InviteCode       string    `json:"inviteCode"`
	NumRounds        int       `json:"numRounds"`
	TimeLimitSeconds int       `json:"timeLimitSeconds"`
	Region           Region    `json:"region"`
	CurrentRound     int       `json:"currentRound"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (g Game) TimeLimit() time.Duration {
	return time.Duration(g.TimeLimitSeconds) * time.Second
}

// InLobby reports whether no round has been created yet.
func (g Game) InLobby() bool { return g.CurrentRound == 0 }

type Player struct {
	ID       string    `json:"id"`
	GameID   string    `json:"gameId"`
	Name     string    `json:"name"`
	IsHost   bool      `json:"isHost"`
	Score    int       `json:"score"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Round struct {
	ID           string    `json:"id"`
	GameID       string    `json:"gameId"`
	RoundNumber  int       `json:"roundNumber"`
	LocationName string    `json:"locationName"`
	CountryName  string    `json:"countryName"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	ImageID      string    `json:"imageId"`
	IsActive     bool      `json:"isActive"`
	StartedAt    time.Time `json:"startedAt"`
}

// Deadline is the moment the round's time limit elapses.
func (r Round) Deadline(limit time.Duration) time.Time {
	return r.StartedAt.Add(limit)
}

type RoundPlayer struct {
	RoundID    string     `json:"roundId"`
	PlayerID   string     `json:"playerId"`
	GuessLat   *float64   `json:"guessLat"`
	GuessLng   *float64   `json:"guessLng"`
	Score      *int       `json:"score"`
	DistanceKm *float64   `json:"distanceKm"`
	ScoredAt   *time.Time `json:"scoredAt,omitempty"`
}

func (rp RoundPlayer) Scored() bool { return rp.Score != nil }

// RoundComplete reports whether every entry of a round has a score.
// Completion is always derived from the entries, never stored.
func RoundComplete(entries []RoundPlayer) bool {
	for _, e := range entries {
		if !e.Scored() {
			return false
		}
	}
	return true
}

// Location is a populated place returned by the location catalog.
type Location struct {
	Name        string  `json:"name"`
	CountryCode string  `json:"countryCode"`
	CountryName string  `json:"countryName"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Population  int     `json:"population"`
}

type Continent struct {
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	AreaKm2 float64 `json:"areaKm2"`
}

type Country struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	ContinentCode string  `json:"continentCode"`
	AreaKm2       float64 `json:"areaKm2"`
}

// PlayerGuess is a scored entry joined with the round it belongs to.
type PlayerGuess struct {
	RoundPlayer
	RoundNumber  int     `json:"roundNumber"`
	LocationName string  `json:"locationName"`
	TargetLat    float64 `json:"targetLat"`
	TargetLng    float64 `json:"targetLng"`
}
