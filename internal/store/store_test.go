package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playperu/geoquest/internal/database"
	"github.com/playperu/geoquest/internal/game"
	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/migrations"
	"github.com/playperu/geoquest/internal/store"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db)
}

// seedGame creates a lobby with a host and the given number of guests.
func seedGame(t *testing.T, s *store.Store, id, code string, rounds, guests int) (geoquest.Game, []geoquest.Player) {
	t.Helper()
	ctx := context.Background()

	g := geoquest.Game{
		ID:               id,
		InviteCode:       code,
		NumRounds:        rounds,
		TimeLimitSeconds: 60,
		Region:           geoquest.Region{ContinentCode: "EU"},
		IsActive:         true,
		CreatedAt:        t0,
	}
	host := geoquest.Player{ID: id + "-host", GameID: id, Name: "Host", IsHost: true, JoinedAt: t0}
	if err := s.CreateGame(ctx, g, host, id+"-host-token"); err != nil {
		t.Fatalf("create game: %v", err)
	}

	players := []geoquest.Player{host}
	for i := range guests {
		p := geoquest.Player{
			ID:       id + "-guest-" + string(rune('a'+i)),
			GameID:   id,
			Name:     "Guest",
			JoinedAt: t0.Add(time.Duration(i+1) * time.Second),
		}
		if err := s.AddPlayer(ctx, p, p.ID+"-token"); err != nil {
			t.Fatalf("add player: %v", err)
		}
		players = append(players, p)
	}
	return g, players
}

func newRound(gameID, id string) geoquest.Round {
	return geoquest.Round{
		ID:           id,
		GameID:       gameID,
		LocationName: "Lyon",
		CountryName:  "France",
		Lat:          45.76,
		Lng:          4.84,
		ImageID:      "img-" + id,
		IsActive:     true,
		StartedAt:    t0,
	}
}

func scoreOf(v int) *int { return &v }

func TestCreateGameRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedGame(t, s, "g1", "ABC234", 3, 0)

	g, err := s.GameByID(ctx, "g1")
	if err != nil {
		t.Fatalf("game by id: %v", err)
	}
	if g.InviteCode != "ABC234" || g.NumRounds != 3 || g.Region.ContinentCode != "EU" || !g.IsActive {
		t.Errorf("game = %+v", g)
	}
	if !g.CreatedAt.Equal(t0) {
		t.Errorf("createdAt = %v, want %v", g.CreatedAt, t0)
	}

	if _, err := s.ActiveGameByInviteCode(ctx, "abc234"); err != nil {
		t.Errorf("lookup by lower-case code: %v", err)
	}

	p, err := s.PlayerByToken(ctx, "g1-host-token")
	if err != nil {
		t.Fatalf("player by token: %v", err)
	}
	if !p.IsHost || p.GameID != "g1" {
		t.Errorf("player = %+v", p)
	}

	if _, err := s.GameByID(ctx, "missing"); !errors.Is(err, geoquest.ErrNotFound) {
		t.Errorf("missing game err = %v, want ErrNotFound", err)
	}
}

func TestCreateGameInviteCodeTaken(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedGame(t, s, "g1", "SAME22", 1, 0)

	g := geoquest.Game{ID: "g2", InviteCode: "SAME22", NumRounds: 1, TimeLimitSeconds: 60, IsActive: true, CreatedAt: t0}
	host := geoquest.Player{ID: "g2-host", GameID: "g2", Name: "Other", IsHost: true, JoinedAt: t0}
	err := s.CreateGame(ctx, g, host, "g2-token")
	if !errors.Is(err, game.ErrInviteCodeTaken) {
		t.Fatalf("err = %v, want ErrInviteCodeTaken", err)
	}

	// The code is free again once the first game has finished.
	if _, err := s.FinishGame(ctx, "g1", t0); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := s.CreateGame(ctx, g, host, "g2-token"); err != nil {
		t.Fatalf("create after finish: %v", err)
	}
}

func TestAddPlayerOnlyInLobby(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedGame(t, s, "g1", "LOBBY2", 2, 0)

	if _, err := s.CreateRound(ctx, newRound("g1", "r1"), 0); err != nil {
		t.Fatalf("create round: %v", err)
	}

	late := geoquest.Player{ID: "late", GameID: "g1", Name: "Late", JoinedAt: t0}
	if err := s.AddPlayer(ctx, late, "late-token"); !errors.Is(err, geoquest.ErrAlreadyStarted) {
		t.Errorf("err = %v, want ErrAlreadyStarted", err)
	}
}

func TestCreateRound(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, players := seedGame(t, s, "g1", "ROUND2", 2, 2)

	entries, err := s.CreateRound(ctx, newRound("g1", "r1"), 0)
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	if len(entries) != len(players) {
		t.Fatalf("entries = %d, want %d", len(entries), len(players))
	}
	for _, e := range entries {
		if e.Scored() {
			t.Errorf("entry %s already scored", e.PlayerID)
		}
	}

	g, _ := s.GameByID(ctx, "g1")
	if g.CurrentRound != 1 {
		t.Errorf("current round = %d, want 1", g.CurrentRound)
	}

	if _, err := s.CreateRound(ctx, newRound("g1", "r2"), 1); err != nil {
		t.Fatalf("create round 2: %v", err)
	}
	active, err := s.ActiveRound(ctx, "g1")
	if err != nil {
		t.Fatalf("active round: %v", err)
	}
	if active.ID != "r2" || active.RoundNumber != 2 {
		t.Errorf("active = %s #%d, want r2 #2", active.ID, active.RoundNumber)
	}
	r1, _ := s.Round(ctx, "r1")
	if r1.IsActive {
		t.Error("previous round still active")
	}
}

func TestCreateRoundRejections(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(t *testing.T, s *store.Store)
		expected int
		want     error
	}{
		{
			name:     "stale expected round",
			prepare:  func(t *testing.T, s *store.Store) { mustCreateRound(t, s, "r1", 0) },
			expected: 0,
			want:     geoquest.ErrRoundAdvanced,
		},
		{
			name: "rounds exhausted",
			prepare: func(t *testing.T, s *store.Store) {
				mustCreateRound(t, s, "r1", 0)
				mustCreateRound(t, s, "r2", 1)
			},
			expected: 2,
			want:     geoquest.ErrRoundsExhausted,
		},
		{
			name: "finished game",
			prepare: func(t *testing.T, s *store.Store) {
				if _, err := s.FinishGame(context.Background(), "g1", t0); err != nil {
					t.Fatalf("finish: %v", err)
				}
			},
			expected: 0,
			want:     geoquest.ErrGameFinished,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupStore(t)
			seedGame(t, s, "g1", "CASCAS", 2, 1)
			tt.prepare(t, s)

			_, err := s.CreateRound(context.Background(), newRound("g1", "extra"), tt.expected)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if _, err := s.Round(context.Background(), "extra"); !errors.Is(err, geoquest.ErrNotFound) {
				t.Errorf("rejected round was written: %v", err)
			}
		})
	}
}

func mustCreateRound(t *testing.T, s *store.Store, id string, expected int) {
	t.Helper()
	if _, err := s.CreateRound(context.Background(), newRound("g1", id), expected); err != nil {
		t.Fatalf("create round %s: %v", id, err)
	}
}

func TestScoreEntryWriteOnce(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, players := seedGame(t, s, "g1", "ONCE22", 1, 1)
	mustCreateRound(t, s, "r1", 0)

	lat, lng, dist := 45.0, 4.0, 90.5
	at := t0.Add(10 * time.Second)
	e := geoquest.RoundPlayer{
		RoundID: "r1", PlayerID: players[1].ID,
		GuessLat: &lat, GuessLng: &lng, DistanceKm: &dist,
		Score: scoreOf(80), ScoredAt: &at,
	}
	stored, err := s.ScoreEntry(ctx, "g1", e)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if *stored.Score != 80 || *stored.GuessLat != lat || !stored.ScoredAt.Equal(at) {
		t.Errorf("stored = %+v", stored)
	}

	e.Score = scoreOf(100)
	if _, err := s.ScoreEntry(ctx, "g1", e); !errors.Is(err, geoquest.ErrAlreadyScored) {
		t.Fatalf("second score err = %v, want ErrAlreadyScored", err)
	}

	p, _ := s.Player(ctx, "g1", players[1].ID)
	if p.Score != 80 {
		t.Errorf("total = %d, want 80", p.Score)
	}
}

func TestScoreEntryInactiveRound(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, players := seedGame(t, s, "g1", "GONE22", 2, 0)
	mustCreateRound(t, s, "r1", 0)
	mustCreateRound(t, s, "r2", 1)

	at := t0
	_, err := s.ScoreEntry(ctx, "g1", geoquest.RoundPlayer{
		RoundID: "r1", PlayerID: players[0].ID, Score: scoreOf(0), ScoredAt: &at,
	})
	if !errors.Is(err, geoquest.ErrRoundNotActive) {
		t.Errorf("err = %v, want ErrRoundNotActive", err)
	}
}

func TestExpireEntries(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, players := seedGame(t, s, "g1", "EXPIRE", 1, 2)
	mustCreateRound(t, s, "r1", 0)

	at := t0.Add(5 * time.Second)
	if _, err := s.ScoreEntry(ctx, "g1", geoquest.RoundPlayer{
		RoundID: "r1", PlayerID: players[0].ID, Score: scoreOf(50), ScoredAt: &at,
	}); err != nil {
		t.Fatalf("score: %v", err)
	}

	pending, err := s.PendingRounds(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Round.ID != "r1" || pending[0].TimeLimit != time.Minute {
		t.Fatalf("pending = %+v", pending)
	}

	expired, err := s.ExpireEntries(ctx, "r1", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expired %d entries, want 2", len(expired))
	}
	for _, e := range expired {
		if e.Score == nil || *e.Score != 0 {
			t.Errorf("expired entry %s score = %v, want 0", e.PlayerID, e.Score)
		}
	}

	again, err := s.ExpireEntries(ctx, "r1", t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second expire changed %d entries", len(again))
	}

	entries, _ := s.RoundPlayers(ctx, "r1")
	if !geoquest.RoundComplete(entries) {
		t.Error("round not complete after expiry")
	}
	if pending, _ := s.PendingRounds(ctx); len(pending) != 0 {
		t.Errorf("pending after expiry = %d", len(pending))
	}
	p, _ := s.Player(ctx, "g1", players[0].ID)
	if p.Score != 50 {
		t.Errorf("scored player total = %d, want 50", p.Score)
	}
}

func TestFinishGame(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedGame(t, s, "g1", "FINISH", 3, 1)
	mustCreateRound(t, s, "r1", 0)

	g, err := s.FinishGame(ctx, "g1", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if g.IsActive {
		t.Error("game still active")
	}

	entries, _ := s.RoundPlayers(ctx, "r1")
	if !geoquest.RoundComplete(entries) {
		t.Error("open entries left after finish")
	}
	if _, err := s.ActiveRound(ctx, "g1"); !errors.Is(err, geoquest.ErrNotFound) {
		t.Errorf("active round after finish: %v", err)
	}
	if _, err := s.FinishGame(ctx, "g1", t0); !errors.Is(err, geoquest.ErrGameFinished) {
		t.Errorf("second finish err = %v, want ErrGameFinished", err)
	}
	if _, err := s.FinishGame(ctx, "nope", t0); !errors.Is(err, geoquest.ErrNotFound) {
		t.Errorf("unknown game err = %v, want ErrNotFound", err)
	}
}

func TestListPlayersOrderedByScore(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, players := seedGame(t, s, "g1", "ORDER2", 1, 2)
	mustCreateRound(t, s, "r1", 0)

	at := t0
	for i, score := range []int{10, 90, 40} {
		if _, err := s.ScoreEntry(ctx, "g1", geoquest.RoundPlayer{
			RoundID: "r1", PlayerID: players[i].ID, Score: scoreOf(score), ScoredAt: &at,
		}); err != nil {
			t.Fatalf("score: %v", err)
		}
	}

	list, err := s.ListPlayers(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := []int{list[0].Score, list[1].Score, list[2].Score}
	want := []int{90, 40, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scores = %v, want %v", got, want)
		}
	}
}

func TestPlayerGuesses(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, players := seedGame(t, s, "g1", "GUESS2", 2, 0)
	host := players[0].ID

	at := t0
	mustCreateRound(t, s, "r1", 0)
	if _, err := s.ScoreEntry(ctx, "g1", geoquest.RoundPlayer{RoundID: "r1", PlayerID: host, Score: scoreOf(70), ScoredAt: &at}); err != nil {
		t.Fatalf("score r1: %v", err)
	}
	mustCreateRound(t, s, "r2", 1)

	guesses, err := s.PlayerGuesses(ctx, "g1", host)
	if err != nil {
		t.Fatalf("guesses: %v", err)
	}
	if len(guesses) != 1 {
		t.Fatalf("guesses = %d, want 1 (unscored entries excluded)", len(guesses))
	}
	if guesses[0].RoundNumber != 1 || guesses[0].LocationName != "Lyon" || guesses[0].TargetLat != 45.76 {
		t.Errorf("guess = %+v", guesses[0])
	}
}
