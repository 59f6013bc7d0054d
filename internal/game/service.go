package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/scoring"
)

const (
	MinRounds           = 1
	MaxRounds           = 20
	MinTimeLimitSeconds = 10
	MaxTimeLimitSeconds = 600
	MaxPlayerNameLength = 32

	inviteCodeAttempts = 5
)

type Options struct {
	// GuessGrace extends the deadline for guesses already in flight.
	GuessGrace time.Duration
	Now        func() time.Time
	InviteCode func() (string, error)
}

type Service struct {
	store       Store
	catalog     Catalog
	provisioner *Provisioner
	publisher   Publisher
	logger      *slog.Logger

	guessGrace time.Duration
	now        func() time.Time
	inviteCode func() (string, error)

	// flights coalesces duplicate start/advance calls for the same round.
	flights singleflight.Group
}

func NewService(store Store, catalog Catalog, provisioner *Provisioner, publisher Publisher, logger *slog.Logger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InviteCode == nil {
		opts.InviteCode = NewInviteCode
	}
	return &Service{
		store:       store,
		catalog:     catalog,
		provisioner: provisioner,
		publisher:   publisher,
		logger:      logger,
		guessGrace:  opts.GuessGrace,
		now:         opts.Now,
		inviteCode:  opts.InviteCode,
	}
}

// CreateGame opens a lobby with the caller as its host.
func (s *Service) CreateGame(ctx context.Context, req CreateGameRequest) (Session, error) {
	name, err := validName(req.PlayerName)
	if err != nil {
		return Session{}, err
	}
	if req.NumRounds < MinRounds || req.NumRounds > MaxRounds {
		return Session{}, fmt.Errorf("%w: rounds must be between %d and %d", geoquest.ErrValidation, MinRounds, MaxRounds)
	}
	if req.TimeLimitSeconds < MinTimeLimitSeconds || req.TimeLimitSeconds > MaxTimeLimitSeconds {
		return Session{}, fmt.Errorf("%w: time limit must be between %d and %d seconds", geoquest.ErrValidation, MinTimeLimitSeconds, MaxTimeLimitSeconds)
	}
	region := req.Region.Normalize()
	if err := s.catalog.ValidateRegion(ctx, region); err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	token := newToken()
	g := geoquest.Game{
		ID:               uuid.NewString(),
		NumRounds:        req.NumRounds,
		TimeLimitSeconds: req.TimeLimitSeconds,
		Region:           region,
		IsActive:         true,
		CreatedAt:        now,
	}
	host := geoquest.Player{
		ID:       uuid.NewString(),
		GameID:   g.ID,
		Name:     name,
		IsHost:   true,
		JoinedAt: now,
	}

	for attempt := 1; ; attempt++ {
		code, err := s.inviteCode()
		if err != nil {
			return Session{}, fmt.Errorf("generating invite code: %w", err)
		}
		g.InviteCode = code

		err = s.store.CreateGame(ctx, g, host, HashToken(token))
		if err == nil {
			break
		}
		if !errors.Is(err, ErrInviteCodeTaken) || attempt == inviteCodeAttempts {
			return Session{}, fmt.Errorf("creating game: %w", err)
		}
		s.logger.Debug("invite code collision", "code", code, "attempt", attempt)
	}

	s.logger.Info("game created", "game_id", g.ID, "invite_code", g.InviteCode, "rounds", g.NumRounds, "region", region.Code())
	return Session{Token: token, Game: g, Player: host}, nil
}

// LookupGame returns the joinable lobby behind an invite code.
func (s *Service) LookupGame(ctx context.Context, inviteCode string) (Lobby, error) {
	g, err := s.store.ActiveGameByInviteCode(ctx, normalizeCode(inviteCode))
	if err != nil {
		return Lobby{}, err
	}
	if !g.InLobby() {
		return Lobby{}, fmt.Errorf("%w: game already started", geoquest.ErrNotFound)
	}
	players, err := s.store.ListPlayers(ctx, g.ID)
	if err != nil {
		return Lobby{}, err
	}
	lobby := Lobby{Game: g, PlayerCount: len(players)}
	for _, p := range players {
		if p.IsHost {
			lobby.HostName = p.Name
		}
	}
	return lobby, nil
}

// JoinGame adds a non-host player to the lobby behind inviteCode.
func (s *Service) JoinGame(ctx context.Context, inviteCode, playerName string) (Session, error) {
	name, err := validName(playerName)
	if err != nil {
		return Session{}, err
	}

	g, err := s.store.ActiveGameByInviteCode(ctx, normalizeCode(inviteCode))
	if err != nil {
		return Session{}, err
	}
	if !g.InLobby() {
		return Session{}, geoquest.ErrAlreadyStarted
	}

	token := newToken()
	p := geoquest.Player{
		ID:       uuid.NewString(),
		GameID:   g.ID,
		Name:     name,
		JoinedAt: s.now().UTC(),
	}
	if err := s.store.AddPlayer(ctx, p, HashToken(token)); err != nil {
		return Session{}, err
	}

	s.logger.Info("player joined", "game_id", g.ID, "player_id", p.ID)
	s.publish(geoquest.Event{
		Type:   geoquest.EventPlayerJoined,
		GameID: g.ID,
		Data:   geoquest.PlayerJoinedData{Player: p},
	})
	return Session{Token: token, Game: g, Player: p}, nil
}

// Authenticate resolves a bearer token to the stored player.
func (s *Service) Authenticate(ctx context.Context, token string) (geoquest.Player, error) {
	if token == "" {
		return geoquest.Player{}, geoquest.ErrUnauthorized
	}
	p, err := s.store.PlayerByToken(ctx, HashToken(token))
	if errors.Is(err, geoquest.ErrNotFound) {
		return geoquest.Player{}, geoquest.ErrUnauthorized
	}
	return p, err
}

// StartGame moves a lobby into round 1. Host only.
func (s *Service) StartGame(ctx context.Context, gameID, playerID string) (RoundResult, error) {
	if err := s.requireHost(ctx, gameID, playerID); err != nil {
		return RoundResult{}, err
	}
	g, err := s.store.GameByID(ctx, gameID)
	if err != nil {
		return RoundResult{}, err
	}
	if !g.IsActive {
		return RoundResult{}, geoquest.ErrGameFinished
	}
	if !g.InLobby() {
		return RoundResult{}, geoquest.ErrAlreadyStarted
	}
	return s.advance(ctx, g)
}

// NextRound closes the current round and opens the next one. Host only.
// The current round must be complete or past its deadline.
func (s *Service) NextRound(ctx context.Context, gameID, playerID string) (RoundResult, error) {
	if err := s.requireHost(ctx, gameID, playerID); err != nil {
		return RoundResult{}, err
	}
	g, err := s.store.GameByID(ctx, gameID)
	if err != nil {
		return RoundResult{}, err
	}
	switch {
	case !g.IsActive:
		return RoundResult{}, geoquest.ErrGameFinished
	case g.InLobby():
		return RoundResult{}, geoquest.ErrNotStarted
	case g.CurrentRound >= g.NumRounds:
		return RoundResult{}, geoquest.ErrRoundsExhausted
	}

	current, err := s.store.ActiveRound(ctx, gameID)
	if err == nil {
		if err := s.closeRound(ctx, g, current); err != nil {
			return RoundResult{}, err
		}
	} else if !errors.Is(err, geoquest.ErrNotFound) {
		return RoundResult{}, err
	}

	return s.advance(ctx, g)
}

// closeRound makes sure no entry of r is left unscored before the game
// moves on.
func (s *Service) closeRound(ctx context.Context, g geoquest.Game, r geoquest.Round) error {
	entries, err := s.store.RoundPlayers(ctx, r.ID)
	if err != nil {
		return err
	}
	if geoquest.RoundComplete(entries) {
		return nil
	}
	if s.now().Before(r.Deadline(g.TimeLimit())) {
		return geoquest.ErrRoundInProgress
	}
	_, err = s.expire(ctx, g, r)
	return err
}

// advance provisions a location and creates the round after
// g.CurrentRound. Concurrent calls for the same round share one run; the
// store's compare-and-swap rejects losers from other processes.
func (s *Service) advance(ctx context.Context, g geoquest.Game) (RoundResult, error) {
	// The shared run outlives the caller that started it; the provisioner
	// timeout still bounds it.
	ctx = context.WithoutCancel(ctx)

	key := fmt.Sprintf("%s/%d", g.ID, g.CurrentRound)
	v, err, shared := s.flights.Do(key, func() (any, error) {
		c, err := s.provisioner.Find(ctx, g.Region)
		if err != nil {
			return nil, err
		}

		r := geoquest.Round{
			ID:           uuid.NewString(),
			GameID:       g.ID,
			RoundNumber:  g.CurrentRound + 1,
			LocationName: c.Location.Name,
			CountryName:  c.Location.CountryName,
			Lat:          c.Lat,
			Lng:          c.Lng,
			ImageID:      c.ImageID,
			IsActive:     true,
			StartedAt:    s.now().UTC(),
		}
		entries, err := s.store.CreateRound(ctx, r, g.CurrentRound)
		if err != nil {
			return nil, err
		}

		s.logger.Info("round started", "game_id", g.ID, "round", r.RoundNumber, "location", r.LocationName)
		s.publish(geoquest.Event{
			Type:   geoquest.EventRoundStarted,
			GameID: g.ID,
			Data: geoquest.RoundStartedData{
				CurrentRound: r.RoundNumber,
				Round:        geoquest.NewRoundView(r, g.TimeLimit(), false),
				Entries:      entries,
			},
		})
		return RoundResult{Round: r, Entries: entries}, nil
	})
	if err != nil {
		return RoundResult{}, err
	}
	if shared {
		s.logger.Debug("round creation coalesced", "game_id", g.ID, "round", g.CurrentRound+1)
	}
	return v.(RoundResult), nil
}

// SubmitGuess scores a player's guess for the active round. An entry is
// scored at most once.
func (s *Service) SubmitGuess(ctx context.Context, gameID, roundID, playerID string, lat, lng float64) (GuessResult, error) {
	if !geo.ValidCoordinates(lat, lng) {
		return GuessResult{}, fmt.Errorf("%w: guess coordinates out of range", geoquest.ErrValidation)
	}
	g, r, err := s.openRound(ctx, gameID, roundID, playerID)
	if err != nil {
		return GuessResult{}, err
	}
	if s.now().After(r.Deadline(g.TimeLimit()).Add(s.guessGrace)) {
		return GuessResult{}, geoquest.ErrGuessWindowClosed
	}

	distance := geo.DistanceKm(lat, lng, r.Lat, r.Lng)
	score := scoring.Score(distance, g.Region.ScoringRegion())
	now := s.now().UTC()

	entry, err := s.store.ScoreEntry(ctx, gameID, geoquest.RoundPlayer{
		RoundID:    roundID,
		PlayerID:   playerID,
		GuessLat:   &lat,
		GuessLng:   &lng,
		Score:      &score,
		DistanceKm: &distance,
		ScoredAt:   &now,
	})
	if err != nil {
		return GuessResult{}, err
	}

	s.logger.Info("guess recorded", "game_id", gameID, "round", r.RoundNumber, "player_id", playerID, "score", score, "distance_km", distance)
	s.afterScore(ctx, g, r, []geoquest.RoundPlayer{entry}, false)

	return GuessResult{
		Entry:      entry,
		Score:      score,
		DistanceKm: distance,
		TargetLat:  r.Lat,
		TargetLng:  r.Lng,
	}, nil
}

// SubmitNoGuess scores the player's own entry at 0, e.g. when their timer
// ran out client-side. It never overwrites a real score.
func (s *Service) SubmitNoGuess(ctx context.Context, gameID, roundID, playerID string) (geoquest.RoundPlayer, error) {
	g, r, err := s.openRound(ctx, gameID, roundID, playerID)
	if err != nil {
		return geoquest.RoundPlayer{}, err
	}

	zero := 0
	now := s.now().UTC()
	entry, err := s.store.ScoreEntry(ctx, gameID, geoquest.RoundPlayer{
		RoundID:  roundID,
		PlayerID: playerID,
		Score:    &zero,
		ScoredAt: &now,
	})
	if err != nil {
		return geoquest.RoundPlayer{}, err
	}

	s.logger.Info("no guess recorded", "game_id", gameID, "round", r.RoundNumber, "player_id", playerID)
	s.afterScore(ctx, g, r, []geoquest.RoundPlayer{entry}, true)
	return entry, nil
}

func (s *Service) openRound(ctx context.Context, gameID, roundID, playerID string) (geoquest.Game, geoquest.Round, error) {
	if _, err := s.member(ctx, gameID, playerID); err != nil {
		return geoquest.Game{}, geoquest.Round{}, err
	}
	g, err := s.store.GameByID(ctx, gameID)
	if err != nil {
		return geoquest.Game{}, geoquest.Round{}, err
	}
	if !g.IsActive {
		return geoquest.Game{}, geoquest.Round{}, geoquest.ErrGameFinished
	}
	r, err := s.store.Round(ctx, roundID)
	if err != nil {
		return geoquest.Game{}, geoquest.Round{}, err
	}
	if r.GameID != gameID {
		return geoquest.Game{}, geoquest.Round{}, fmt.Errorf("round %s: %w", roundID, geoquest.ErrNotFound)
	}
	if !r.IsActive {
		return geoquest.Game{}, geoquest.Round{}, geoquest.ErrRoundNotActive
	}
	return g, r, nil
}

// ExpireRound zero-scores every open entry of a round whose deadline has
// passed.
func (s *Service) ExpireRound(ctx context.Context, gameID, roundID string) ([]geoquest.RoundPlayer, error) {
	g, err := s.store.GameByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	r, err := s.store.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if r.GameID != gameID {
		return nil, fmt.Errorf("round %s: %w", roundID, geoquest.ErrNotFound)
	}
	if s.now().Before(r.Deadline(g.TimeLimit())) {
		return nil, geoquest.ErrDeadlineNotPassed
	}
	return s.expire(ctx, g, r)
}

func (s *Service) expire(ctx context.Context, g geoquest.Game, r geoquest.Round) ([]geoquest.RoundPlayer, error) {
	expired, err := s.store.ExpireEntries(ctx, r.ID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		s.logger.Info("round entries timed out", "game_id", g.ID, "round", r.RoundNumber, "count", len(expired))
		s.afterScore(ctx, g, r, expired, true)
	}
	return expired, nil
}

// ExpireOverdue expires every active round whose deadline plus the guess
// grace has passed. It returns the number of entries it scored. A round
// that fails is logged and left for the next sweep.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	pending, err := s.store.PendingRounds(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	now := s.now()
	for _, p := range pending {
		if !now.After(p.Round.Deadline(p.TimeLimit).Add(s.guessGrace)) {
			continue
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		g, err := s.store.GameByID(ctx, p.Round.GameID)
		if err != nil {
			s.logger.Error("loading game of overdue round", "game_id", p.Round.GameID, "round_id", p.Round.ID, "error", err)
			continue
		}
		expired, err := s.expire(ctx, g, p.Round)
		if err != nil {
			s.logger.Error("expiring overdue round", "game_id", g.ID, "round_id", p.Round.ID, "error", err)
			continue
		}
		total += len(expired)
	}
	return total, nil
}

// afterScore publishes the scored entries and, once every entry of the
// round is scored, the round results.
func (s *Service) afterScore(ctx context.Context, g geoquest.Game, r geoquest.Round, scored []geoquest.RoundPlayer, timedOut bool) {
	for _, e := range scored {
		s.publish(geoquest.Event{
			Type:   geoquest.EventGuessRecorded,
			GameID: g.ID,
			Data: geoquest.GuessRecordedData{
				RoundID:     r.ID,
				RoundNumber: r.RoundNumber,
				PlayerID:    e.PlayerID,
				Score:       *e.Score,
				TimedOut:    timedOut,
			},
		})
	}

	entries, err := s.store.RoundPlayers(ctx, r.ID)
	if err != nil {
		s.logger.Warn("loading round entries", "game_id", g.ID, "round_id", r.ID, "error", err)
		return
	}
	if !geoquest.RoundComplete(entries) {
		return
	}
	players, err := s.store.ListPlayers(ctx, g.ID)
	if err != nil {
		s.logger.Warn("loading players", "game_id", g.ID, "error", err)
		return
	}
	s.publish(geoquest.Event{
		Type:   geoquest.EventRoundCompleted,
		GameID: g.ID,
		Data:   geoquest.RoundCompletedData{Round: r, Entries: entries, Players: players},
	})
}

// FinishGame ends the session for good. Host only; allowed at any round.
func (s *Service) FinishGame(ctx context.Context, gameID, playerID string) (geoquest.Game, error) {
	if err := s.requireHost(ctx, gameID, playerID); err != nil {
		return geoquest.Game{}, err
	}
	g, err := s.store.FinishGame(ctx, gameID, s.now().UTC())
	if err != nil {
		return geoquest.Game{}, err
	}
	standings, err := s.store.ListPlayers(ctx, gameID)
	if err != nil {
		return geoquest.Game{}, err
	}

	s.logger.Info("game finished", "game_id", gameID, "rounds_played", g.CurrentRound)
	s.publish(geoquest.Event{
		Type:   geoquest.EventGameFinished,
		GameID: gameID,
		Data:   geoquest.GameFinishedData{Game: g, Standings: standings},
	})
	return g, nil
}

// PlayerGuesses lists the scored entries of playerID. A guess in the
// still-running round is only shown once the viewer has scored too.
func (s *Service) PlayerGuesses(ctx context.Context, gameID, viewerID, playerID string) ([]geoquest.PlayerGuess, error) {
	if _, err := s.member(ctx, gameID, viewerID); err != nil {
		return nil, err
	}
	if _, err := s.store.Player(ctx, gameID, playerID); err != nil {
		return nil, err
	}
	guesses, err := s.store.PlayerGuesses(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	if viewerID == playerID {
		return guesses, nil
	}

	active, err := s.store.ActiveRound(ctx, gameID)
	if errors.Is(err, geoquest.ErrNotFound) {
		return guesses, nil
	}
	if err != nil {
		return nil, err
	}
	if s.scoredIn(ctx, active.ID, viewerID) {
		return guesses, nil
	}
	visible := guesses[:0]
	for _, g := range guesses {
		if g.RoundID != active.ID {
			visible = append(visible, g)
		}
	}
	return visible, nil
}

// State returns the game as seen by viewerID: standings, the active round
// and its entries. The target stays hidden until the viewer has scored or
// the round is complete.
func (s *Service) State(ctx context.Context, gameID, viewerID string) (State, error) {
	if _, err := s.member(ctx, gameID, viewerID); err != nil {
		return State{}, err
	}
	g, err := s.store.GameByID(ctx, gameID)
	if err != nil {
		return State{}, err
	}
	players, err := s.store.ListPlayers(ctx, gameID)
	if err != nil {
		return State{}, err
	}
	st := State{Game: g, Players: players, Entries: []geoquest.RoundPlayer{}}

	r, err := s.store.ActiveRound(ctx, gameID)
	if errors.Is(err, geoquest.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return State{}, err
	}
	entries, err := s.store.RoundPlayers(ctx, r.ID)
	if err != nil {
		return State{}, err
	}
	st.Entries = entries
	st.RoundComplete = geoquest.RoundComplete(entries)

	reveal := st.RoundComplete
	for _, e := range entries {
		if e.PlayerID == viewerID && e.Scored() {
			reveal = true
		}
	}
	view := geoquest.NewRoundView(r, g.TimeLimit(), reveal)
	st.Round = &view
	return st, nil
}

func (s *Service) scoredIn(ctx context.Context, roundID, playerID string) bool {
	entries, err := s.store.RoundPlayers(ctx, roundID)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.PlayerID == playerID {
			return e.Scored()
		}
	}
	return false
}

func (s *Service) member(ctx context.Context, gameID, playerID string) (geoquest.Player, error) {
	p, err := s.store.Player(ctx, gameID, playerID)
	if errors.Is(err, geoquest.ErrNotFound) {
		return geoquest.Player{}, fmt.Errorf("%w: not a player of this game", geoquest.ErrUnauthorized)
	}
	return p, err
}

// requireHost checks the stored player row; clients never assert host
// status themselves.
func (s *Service) requireHost(ctx context.Context, gameID, playerID string) error {
	p, err := s.member(ctx, gameID, playerID)
	if err != nil {
		return err
	}
	if !p.IsHost {
		return fmt.Errorf("%w: only the host can do this", geoquest.ErrUnauthorized)
	}
	return nil
}

func (s *Service) publish(ev geoquest.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ev.GameID, ev)
	}
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: player name is required", geoquest.ErrValidation)
	}
	if utf8.RuneCountInString(name) > MaxPlayerNameLength {
		return "", fmt.Errorf("%w: player name longer than %d characters", geoquest.ErrValidation, MaxPlayerNameLength)
	}
	return name, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
