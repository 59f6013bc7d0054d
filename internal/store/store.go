// Package store persists sessions in SQLite. Every transaction starts with
// a write so that concurrent writers queue on the database lock instead of
// failing a read-to-write upgrade.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playperu/geoquest/internal/game"
	"github.com/playperu/geoquest/internal/geoquest"
)

var _ game.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateGame(ctx context.Context, g geoquest.Game, host geoquest.Player, tokenHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO games (id, invite_code, num_rounds, time_limit_seconds, continent_code, country_code, current_round, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?)
	`, g.ID, g.InviteCode, g.NumRounds, g.TimeLimitSeconds,
		nullString(g.Region.ContinentCode), nullString(g.Region.CountryCode), formatTime(g.CreatedAt))
	if isUniqueViolation(err, "games.invite_code") {
		return game.ErrInviteCodeTaken
	}
	if err != nil {
		return fmt.Errorf("inserting game: %w", err)
	}

	if err := insertPlayer(ctx, tx, host, tokenHash); err != nil {
		return err
	}
	return tx.Commit()
}

func insertPlayer(ctx context.Context, tx *sql.Tx, p geoquest.Player, tokenHash string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO players (id, game_id, name, is_host, score, token_hash, joined_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, p.ID, p.GameID, p.Name, boolInt(p.IsHost), tokenHash, formatTime(p.JoinedAt))
	if err != nil {
		return fmt.Errorf("inserting player: %w", err)
	}
	return nil
}

const gameColumns = `id, invite_code, num_rounds, time_limit_seconds, continent_code, country_code, current_round, is_active, created_at`

func scanGame(row scanner) (geoquest.Game, error) {
	var g geoquest.Game
	var continent, country sql.NullString
	var createdAt string
	err := row.Scan(&g.ID, &g.InviteCode, &g.NumRounds, &g.TimeLimitSeconds,
		&continent, &country, &g.CurrentRound, &g.IsActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return g, fmt.Errorf("game: %w", geoquest.ErrNotFound)
	}
	if err != nil {
		return g, err
	}
	g.Region = geoquest.Region{ContinentCode: continent.String, CountryCode: country.String}
	g.CreatedAt, err = parseTime(createdAt)
	return g, err
}

func (s *Store) GameByID(ctx context.Context, id string) (geoquest.Game, error) {
	return gameByID(ctx, s.db, id)
}

func gameByID(ctx context.Context, q querier, id string) (geoquest.Game, error) {
	return scanGame(q.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id))
}

func (s *Store) ActiveGameByInviteCode(ctx context.Context, code string) (geoquest.Game, error) {
	return scanGame(s.db.QueryRowContext(ctx, `
		SELECT `+gameColumns+` FROM games WHERE invite_code = ? AND is_active = 1
	`, strings.ToUpper(code)))
}

// AddPlayer inserts and checks the lobby condition in one statement, so a
// join racing the game start either lands before round 1 or not at all.
func (s *Store) AddPlayer(ctx context.Context, p geoquest.Player, tokenHash string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO players (id, game_id, name, is_host, score, token_hash, joined_at)
		SELECT ?, ?, ?, ?, 0, ?, ?
		WHERE EXISTS (SELECT 1 FROM games WHERE id = ? AND is_active = 1 AND current_round = 0)
	`, p.ID, p.GameID, p.Name, boolInt(p.IsHost), tokenHash, formatTime(p.JoinedAt), p.GameID)
	if err != nil {
		return fmt.Errorf("inserting player: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}

	g, err := s.GameByID(ctx, p.GameID)
	if err != nil {
		return err
	}
	if !g.IsActive {
		return geoquest.ErrGameFinished
	}
	return geoquest.ErrAlreadyStarted
}

const playerColumns = `id, game_id, name, is_host, score, joined_at`

func scanPlayer(row scanner) (geoquest.Player, error) {
	var p geoquest.Player
	var joinedAt string
	err := row.Scan(&p.ID, &p.GameID, &p.Name, &p.IsHost, &p.Score, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("player: %w", geoquest.ErrNotFound)
	}
	if err != nil {
		return p, err
	}
	p.JoinedAt, err = parseTime(joinedAt)
	return p, err
}

func (s *Store) PlayerByToken(ctx context.Context, tokenHash string) (geoquest.Player, error) {
	return scanPlayer(s.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE token_hash = ?
	`, tokenHash))
}

func (s *Store) Player(ctx context.Context, gameID, playerID string) (geoquest.Player, error) {
	return scanPlayer(s.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE game_id = ? AND id = ?
	`, gameID, playerID))
}

func (s *Store) ListPlayers(ctx context.Context, gameID string) ([]geoquest.Player, error) {
	return listPlayers(ctx, s.db, gameID)
}

func listPlayers(ctx context.Context, q querier, gameID string) ([]geoquest.Player, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+playerColumns+` FROM players
		WHERE game_id = ?
		ORDER BY score DESC, joined_at, id
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []geoquest.Player{}
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *Store) CreateRound(ctx context.Context, r geoquest.Round, expectedRound int) ([]geoquest.RoundPlayer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE games SET current_round = current_round + 1
		WHERE id = ? AND current_round = ? AND is_active = 1 AND current_round < num_rounds
	`, r.GameID, expectedRound)
	if err != nil {
		return nil, fmt.Errorf("advancing game: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, advanceRejected(ctx, tx, r.GameID, expectedRound)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rounds SET is_active = 0 WHERE game_id = ? AND is_active = 1
	`, r.GameID); err != nil {
		return nil, fmt.Errorf("closing previous round: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rounds (id, game_id, round_number, location_name, country_name, lat, lng, image_id, is_active, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	`, r.ID, r.GameID, expectedRound+1, r.LocationName, r.CountryName, r.Lat, r.Lng, r.ImageID, formatTime(r.StartedAt)); err != nil {
		return nil, fmt.Errorf("inserting round: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO round_players (round_id, player_id)
		SELECT ?, id FROM players WHERE game_id = ?
	`, r.ID, r.GameID); err != nil {
		return nil, fmt.Errorf("inserting round entries: %w", err)
	}

	entries, err := roundPlayers(ctx, tx, r.ID)
	if err != nil {
		return nil, err
	}
	return entries, tx.Commit()
}

// advanceRejected explains why the compare-and-swap on current_round
// matched no row.
func advanceRejected(ctx context.Context, q querier, gameID string, expectedRound int) error {
	g, err := gameByID(ctx, q, gameID)
	if err != nil {
		return err
	}
	switch {
	case !g.IsActive:
		return geoquest.ErrGameFinished
	case g.CurrentRound != expectedRound:
		return geoquest.ErrRoundAdvanced
	default:
		return geoquest.ErrRoundsExhausted
	}
}

const roundColumns = `id, game_id, round_number, location_name, country_name, lat, lng, image_id, is_active, started_at`

func scanRound(row scanner, extra ...any) (geoquest.Round, error) {
	var r geoquest.Round
	var startedAt string
	dest := append([]any{&r.ID, &r.GameID, &r.RoundNumber, &r.LocationName, &r.CountryName,
		&r.Lat, &r.Lng, &r.ImageID, &r.IsActive, &startedAt}, extra...)
	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("round: %w", geoquest.ErrNotFound)
	}
	if err != nil {
		return r, err
	}
	r.StartedAt, err = parseTime(startedAt)
	return r, err
}

func (s *Store) ActiveRound(ctx context.Context, gameID string) (geoquest.Round, error) {
	return scanRound(s.db.QueryRowContext(ctx, `
		SELECT `+roundColumns+` FROM rounds WHERE game_id = ? AND is_active = 1
	`, gameID))
}

func (s *Store) Round(ctx context.Context, roundID string) (geoquest.Round, error) {
	return scanRound(s.db.QueryRowContext(ctx, `
		SELECT `+roundColumns+` FROM rounds WHERE id = ?
	`, roundID))
}

func (s *Store) PendingRounds(ctx context.Context) ([]game.PendingRound, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.game_id, r.round_number, r.location_name, r.country_name, r.lat, r.lng,
		       r.image_id, r.is_active, r.started_at, g.time_limit_seconds
		FROM rounds r
		JOIN games g ON g.id = r.game_id
		WHERE r.is_active = 1 AND g.is_active = 1
		  AND EXISTS (SELECT 1 FROM round_players rp WHERE rp.round_id = r.id AND rp.score IS NULL)
		ORDER BY r.started_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []game.PendingRound
	for rows.Next() {
		var seconds int
		r, err := scanRound(rows, &seconds)
		if err != nil {
			return nil, err
		}
		pending = append(pending, game.PendingRound{Round: r, TimeLimit: time.Duration(seconds) * time.Second})
	}
	return pending, rows.Err()
}

const entryColumns = `rp.round_id, rp.player_id, rp.guess_lat, rp.guess_lng, rp.score, rp.distance_km, rp.scored_at`

func scanEntry(row scanner, extra ...any) (geoquest.RoundPlayer, error) {
	var e geoquest.RoundPlayer
	var lat, lng, dist sql.NullFloat64
	var score sql.NullInt64
	var scoredAt sql.NullString
	dest := append([]any{&e.RoundID, &e.PlayerID, &lat, &lng, &score, &dist, &scoredAt}, extra...)
	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("round entry: %w", geoquest.ErrNotFound)
	}
	if err != nil {
		return e, err
	}
	if lat.Valid {
		e.GuessLat = &lat.Float64
	}
	if lng.Valid {
		e.GuessLng = &lng.Float64
	}
	if dist.Valid {
		e.DistanceKm = &dist.Float64
	}
	if score.Valid {
		v := int(score.Int64)
		e.Score = &v
	}
	if scoredAt.Valid {
		t, err := parseTime(scoredAt.String)
		if err != nil {
			return e, err
		}
		e.ScoredAt = &t
	}
	return e, nil
}

func (s *Store) RoundPlayers(ctx context.Context, roundID string) ([]geoquest.RoundPlayer, error) {
	return roundPlayers(ctx, s.db, roundID)
}

func roundPlayers(ctx context.Context, q querier, roundID string) ([]geoquest.RoundPlayer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM round_players rp
		JOIN players p ON p.id = rp.player_id
		WHERE rp.round_id = ?
		ORDER BY p.joined_at, p.id
	`, roundID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]geoquest.RoundPlayer, error) {
	defer rows.Close()
	entries := []geoquest.RoundPlayer{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ScoreEntry only touches an entry that is still unscored and belongs to
// the active round of an active game. The round_players trigger backs the
// write-once rule at the schema level.
func (s *Store) ScoreEntry(ctx context.Context, gameID string, e geoquest.RoundPlayer) (geoquest.RoundPlayer, error) {
	if e.Score == nil || e.ScoredAt == nil {
		return geoquest.RoundPlayer{}, fmt.Errorf("%w: entry has no score", geoquest.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return geoquest.RoundPlayer{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE round_players
		SET guess_lat = ?, guess_lng = ?, score = ?, distance_km = ?, scored_at = ?
		WHERE round_id = ? AND player_id = ? AND score IS NULL
		  AND EXISTS (
		      SELECT 1 FROM rounds r JOIN games g ON g.id = r.game_id
		      WHERE r.id = round_players.round_id AND r.is_active = 1 AND g.is_active = 1 AND g.id = ?
		  )
	`, nullFloat(e.GuessLat), nullFloat(e.GuessLng), *e.Score, nullFloat(e.DistanceKm), formatTime(*e.ScoredAt),
		e.RoundID, e.PlayerID, gameID)
	if err != nil {
		return geoquest.RoundPlayer{}, fmt.Errorf("scoring entry: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return geoquest.RoundPlayer{}, err
	} else if n == 0 {
		return geoquest.RoundPlayer{}, scoreRejected(ctx, tx, e.RoundID, e.PlayerID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET score = score + ? WHERE id = ?
	`, *e.Score, e.PlayerID); err != nil {
		return geoquest.RoundPlayer{}, fmt.Errorf("adding to total: %w", err)
	}

	stored, err := scanEntry(tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM round_players rp WHERE rp.round_id = ? AND rp.player_id = ?
	`, e.RoundID, e.PlayerID))
	if err != nil {
		return geoquest.RoundPlayer{}, err
	}
	return stored, tx.Commit()
}

func scoreRejected(ctx context.Context, q querier, roundID, playerID string) error {
	e, err := scanEntry(q.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM round_players rp WHERE rp.round_id = ? AND rp.player_id = ?
	`, roundID, playerID))
	if err != nil {
		return err
	}
	if e.Scored() {
		return geoquest.ErrAlreadyScored
	}
	return geoquest.ErrRoundNotActive
}

func (s *Store) ExpireEntries(ctx context.Context, roundID string, at time.Time) ([]geoquest.RoundPlayer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE round_players SET score = 0, scored_at = ?
		WHERE round_id = ? AND score IS NULL
		  AND EXISTS (SELECT 1 FROM rounds r WHERE r.id = round_players.round_id AND r.is_active = 1)
		RETURNING round_id, player_id, guess_lat, guess_lng, score, distance_km, scored_at
	`, formatTime(at), roundID)
	if err != nil {
		return nil, fmt.Errorf("expiring entries: %w", err)
	}
	expired, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	return expired, tx.Commit()
}

func (s *Store) FinishGame(ctx context.Context, gameID string, at time.Time) (geoquest.Game, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return geoquest.Game{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE games SET is_active = 0, finished_at = ? WHERE id = ? AND is_active = 1
	`, formatTime(at), gameID)
	if err != nil {
		return geoquest.Game{}, fmt.Errorf("finishing game: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return geoquest.Game{}, err
	} else if n == 0 {
		if _, err := gameByID(ctx, tx, gameID); err != nil {
			return geoquest.Game{}, err
		}
		return geoquest.Game{}, geoquest.ErrGameFinished
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE round_players SET score = 0, scored_at = ?
		WHERE score IS NULL
		  AND round_id IN (SELECT id FROM rounds WHERE game_id = ? AND is_active = 1)
	`, formatTime(at), gameID); err != nil {
		return geoquest.Game{}, fmt.Errorf("closing open entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE rounds SET is_active = 0 WHERE game_id = ? AND is_active = 1
	`, gameID); err != nil {
		return geoquest.Game{}, fmt.Errorf("closing active round: %w", err)
	}

	g, err := gameByID(ctx, tx, gameID)
	if err != nil {
		return geoquest.Game{}, err
	}
	return g, tx.Commit()
}

func (s *Store) PlayerGuesses(ctx context.Context, gameID, playerID string) ([]geoquest.PlayerGuess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`, r.round_number, r.location_name, r.lat, r.lng
		FROM round_players rp
		JOIN rounds r ON r.id = rp.round_id
		WHERE r.game_id = ? AND rp.player_id = ? AND rp.score IS NOT NULL
		ORDER BY r.round_number
	`, gameID, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	guesses := []geoquest.PlayerGuess{}
	for rows.Next() {
		var g geoquest.PlayerGuess
		e, err := scanEntry(rows, &g.RoundNumber, &g.LocationName, &g.TargetLat, &g.TargetLng)
		if err != nil {
			return nil, err
		}
		g.RoundPlayer = e
		guesses = append(guesses, g)
	}
	return guesses, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), column)
}
