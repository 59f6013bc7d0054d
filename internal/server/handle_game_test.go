package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/playperu/geoquest/internal/catalog"
	"github.com/playperu/geoquest/internal/database"
	"github.com/playperu/geoquest/internal/game"
	"github.com/playperu/geoquest/internal/imagery"
	"github.com/playperu/geoquest/internal/migrations"
	"github.com/playperu/geoquest/internal/realtime"
	"github.com/playperu/geoquest/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	cat := catalog.New(db)
	broker := realtime.NewBroker()
	prov := game.NewProvisioner(cat, imagery.Offline{}, game.ProvisionerConfig{
		PerturbRadiusKm: 2,
		ImageRadiusM:    500,
		Timeout:         5 * time.Second,
		MaxAttempts:     10,
	}, rand.New(rand.NewPCG(3, 5)), discardLogger())
	svc := game.NewService(store.New(db), cat, prov, broker, discardLogger(), game.Options{GuessGrace: 2 * time.Second})

	return Deps{Games: svc, Regions: cat, Broker: broker}
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	return newRouter(discardLogger(), testDeps(t), nil)
}

// call performs a JSON request and decodes the response into out, if set.
func call(t *testing.T, h http.Handler, method, path, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if out != nil {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response (status %d): %v", method, path, rec.Code, err)
		}
	}
	return rec.Code
}

func createGame(t *testing.T, h http.Handler, rounds int) game.Session {
	t.Helper()
	var sess game.Session
	code := call(t, h, http.MethodPost, "/api/games", "", CreateGameRequest{
		PlayerName: "Alice", NumRounds: rounds, TimeLimitSeconds: 60,
	}, &sess)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", code, http.StatusCreated)
	}
	return sess
}

func joinGame(t *testing.T, h http.Handler, inviteCode, name string) game.Session {
	t.Helper()
	var sess game.Session
	code := call(t, h, http.MethodPost, "/api/games/join", "", JoinRequest{InviteCode: inviteCode, PlayerName: name}, &sess)
	if code != http.StatusOK {
		t.Fatalf("join status = %d, want %d", code, http.StatusOK)
	}
	return sess
}

func TestCreateAndLookup(t *testing.T) {
	h := testRouter(t)
	host := createGame(t, h, 3)

	if host.Token == "" || !host.Player.IsHost || host.Game.NumRounds != 3 {
		t.Fatalf("session = %+v", host)
	}

	var lobby game.Lobby
	if code := call(t, h, http.MethodGet, "/api/games/lookup/"+host.Game.InviteCode, "", nil, &lobby); code != http.StatusOK {
		t.Fatalf("lookup status = %d", code)
	}
	if lobby.HostName != "Alice" || lobby.PlayerCount != 1 {
		t.Errorf("lobby = %+v", lobby)
	}

	var errResp ErrorResponse
	if code := call(t, h, http.MethodGet, "/api/games/lookup/NOPE22", "", nil, &errResp); code != http.StatusNotFound {
		t.Errorf("unknown code status = %d, want 404", code)
	}
	if errResp.Code != "not_found" {
		t.Errorf("error code = %q, want not_found", errResp.Code)
	}
}

func TestCreateGameValidation(t *testing.T) {
	h := testRouter(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing name", CreateGameRequest{NumRounds: 3, TimeLimitSeconds: 60}},
		{"too many rounds", CreateGameRequest{PlayerName: "A", NumRounds: 50, TimeLimitSeconds: 60}},
		{"continent and country", CreateGameRequest{PlayerName: "A", NumRounds: 3, TimeLimitSeconds: 60, ContinentCode: "EU", CountryCode: "FR"}},
		{"not json", "just a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			code := call(t, h, http.MethodPost, "/api/games", "", tt.body, &errResp)
			if code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
			if errResp.Code != "validation_error" {
				t.Errorf("code = %q, want validation_error", errResp.Code)
			}
		})
	}
}

func TestRegions(t *testing.T) {
	h := testRouter(t)

	var resp RegionsResponse
	if code := call(t, h, http.MethodGet, "/api/regions", "", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Continents) != 7 {
		t.Errorf("continents = %d, want 7", len(resp.Continents))
	}
	if len(resp.Countries) == 0 {
		t.Error("no countries listed")
	}

	var oceania RegionsResponse
	call(t, h, http.MethodGet, "/api/regions?continent=OC", "", nil, &oceania)
	if len(oceania.Countries) != 2 {
		t.Errorf("oceania countries = %d, want 2", len(oceania.Countries))
	}
}

func TestGameStateRequiresToken(t *testing.T) {
	h := testRouter(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"unknown token", "not-a-session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			if code := call(t, h, http.MethodGet, "/api/game/state", tt.token, nil, &errResp); code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", code)
			}
			if errResp.Code != "unauthorized" {
				t.Errorf("code = %q, want unauthorized", errResp.Code)
			}
		})
	}
}

func TestGameFlow(t *testing.T) {
	h := testRouter(t)
	host := createGame(t, h, 2)
	bob := joinGame(t, h, host.Game.InviteCode, "Bob")

	// Only the host may start.
	var errResp ErrorResponse
	if code := call(t, h, http.MethodPost, "/api/game/start", bob.Token, nil, &errResp); code != http.StatusForbidden {
		t.Fatalf("guest start status = %d, want 403", code)
	}

	var r1 game.RoundResult
	if code := call(t, h, http.MethodPost, "/api/game/start", host.Token, nil, &r1); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if r1.Round.RoundNumber != 1 || len(r1.Entries) != 2 {
		t.Fatalf("round = %+v, entries = %d", r1.Round, len(r1.Entries))
	}

	if code := call(t, h, http.MethodPost, "/api/game/start", host.Token, nil, &errResp); code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", code)
	}
	if errResp.Code != "already_started" {
		t.Errorf("code = %q, want already_started", errResp.Code)
	}

	late := map[string]string{"inviteCode": host.Game.InviteCode, "playerName": "Late"}
	if code := call(t, h, http.MethodPost, "/api/games/join", "", late, nil); code != http.StatusConflict {
		t.Errorf("late join status = %d, want 409", code)
	}

	var st game.State
	call(t, h, http.MethodGet, "/api/game/state", bob.Token, nil, &st)
	if st.Round == nil || st.Round.Lat != nil {
		t.Fatalf("bob sees round %+v before guessing", st.Round)
	}

	lat, lng := r1.Round.Lat, r1.Round.Lng
	var guess game.GuessResult
	if code := call(t, h, http.MethodPost, "/api/game/guess", host.Token, GuessRequest{RoundID: r1.Round.ID, Lat: &lat, Lng: &lng}, &guess); code != http.StatusOK {
		t.Fatalf("guess status = %d", code)
	}
	if guess.Score != 100 {
		t.Errorf("exact guess score = %d, want 100", guess.Score)
	}

	if code := call(t, h, http.MethodPost, "/api/game/guess", host.Token, GuessRequest{RoundID: r1.Round.ID, Lat: &lat, Lng: &lng}, &errResp); code != http.StatusConflict {
		t.Errorf("second guess status = %d, want 409", code)
	}
	if errResp.Code != "already_scored" {
		t.Errorf("code = %q, want already_scored", errResp.Code)
	}

	if code := call(t, h, http.MethodPost, "/api/game/guess", bob.Token, GuessRequest{RoundID: r1.Round.ID}, nil); code != http.StatusBadRequest {
		t.Errorf("guess without coordinates status = %d, want 400", code)
	}

	var hidden []map[string]any
	call(t, h, http.MethodGet, "/api/game/players/"+host.Player.ID+"/guesses", bob.Token, nil, &hidden)
	if len(hidden) != 0 {
		t.Errorf("bob sees %d host guesses before guessing", len(hidden))
	}

	if code := call(t, h, http.MethodPost, "/api/game/next", host.Token, nil, &errResp); code != http.StatusConflict {
		t.Errorf("next with open round status = %d, want 409", code)
	}

	if code := call(t, h, http.MethodPost, "/api/game/skip", bob.Token, SkipRequest{RoundID: r1.Round.ID}, nil); code != http.StatusOK {
		t.Fatalf("skip status = %d", code)
	}

	var visible []map[string]any
	call(t, h, http.MethodGet, "/api/game/players/"+host.Player.ID+"/guesses", bob.Token, nil, &visible)
	if len(visible) != 1 {
		t.Errorf("bob sees %d host guesses after the round, want 1", len(visible))
	}

	var r2 game.RoundResult
	if code := call(t, h, http.MethodPost, "/api/game/next", host.Token, nil, &r2); code != http.StatusOK {
		t.Fatalf("next status = %d", code)
	}
	if r2.Round.RoundNumber != 2 {
		t.Errorf("round number = %d, want 2", r2.Round.RoundNumber)
	}

	var fin FinishResponse
	if code := call(t, h, http.MethodPost, "/api/game/finish", host.Token, nil, &fin); code != http.StatusOK {
		t.Fatalf("finish status = %d", code)
	}
	if fin.Game.IsActive {
		t.Error("game still active")
	}

	call(t, h, http.MethodGet, "/api/game/state", bob.Token, nil, &st)
	if st.Game.IsActive || st.Round != nil || len(st.Players) != 2 || st.Players[0].Score != 100 {
		t.Errorf("final state = %+v", st)
	}
}
