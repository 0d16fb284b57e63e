package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

var errNotFound = errors.New("not found")

// Store persists the session document, the roster, and the content pool in
// sqlite, with one JSONB document per row. It also carries the change
// notifications the game surface relies on: every successful mutation fires
// the registered subscriber callbacks.
//
// Kind, level, answered, and paused are mirrored into real columns on the
// content tables so the selector can filter without unpacking documents.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	subs []func()
}

func openStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// The session record has exactly one writer goroutine per process, but
	// the import endpoints write from request goroutines.
	db.SetMaxOpenConns(1)

	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id   TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS players (
			id        TEXT PRIMARY KEY,
			joined_at INTEGER NOT NULL,
			data      JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id       TEXT PRIMARY KEY,
			kind     TEXT NOT NULL DEFAULT '',
			level    TEXT NOT NULL DEFAULT '',
			gender   TEXT NOT NULL DEFAULT '',
			answered INTEGER NOT NULL DEFAULT 0,
			paused   INTEGER NOT NULL DEFAULT 0,
			data     JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pair_challenges (
			id       TEXT PRIMARY KEY,
			level    TEXT NOT NULL DEFAULT '',
			answered INTEGER NOT NULL DEFAULT 0,
			paused   INTEGER NOT NULL DEFAULT 0,
			data     JSONB NOT NULL
		)`,
	} {
		if _, err := db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating table: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Subscribe registers a callback invoked after every successful mutation.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) notify() {
	s.mu.Lock()
	subs := make([]func(), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// ---- Session document ----

// EnsureSession creates the session record with lobby defaults if it does
// not exist yet, then returns the current document.
func (s *Store) EnsureSession(ctx context.Context, id string) (*Session, error) {
	data, err := json.Marshal(newSession())
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, data) VALUES (?, jsonb(?))`,
		id, string(data),
	); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return s.LoadSession(ctx, id)
}

func (s *Store) LoadSession(ctx context.Context, id string) (*Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT json(data) FROM sessions WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	sess := &Session{}
	if err := json.Unmarshal([]byte(data), sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return sess, nil
}

// SwapSession writes the whole session document, but only if the stored
// mode still equals expectMode. The false return is the silent-drop path
// for transitions that lost a race: a concurrent writer already produced
// the authoritative outcome.
func (s *Store) SwapSession(ctx context.Context, id, expectMode string, sess *Session) (bool, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET data = jsonb(?) WHERE id = ? AND data ->> '$.mode' = ?`,
		string(data), id, expectMode,
	)
	if err != nil {
		return false, fmt.Errorf("swapping session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.notify()
	}
	return n > 0, nil
}

// ReplaceSession writes the whole session document unconditionally.
// Only reset uses this; every other transition goes through SwapSession.
func (s *Store) ReplaceSession(ctx context.Context, id string, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, data) VALUES (?, jsonb(?))
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data`,
		id, string(data),
	); err != nil {
		return fmt.Errorf("replacing session: %w", err)
	}

	s.notify()
	return nil
}

// SetSessionKey updates a single path inside the session document, leaving
// every sibling key untouched. Per-player answer and vote submissions must
// use this rather than a full-document write, so concurrent submissions
// from other players are never clobbered.
func (s *Store) SetSessionKey(ctx context.Context, id, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET data = jsonb_set(data, ?, jsonb(?)) WHERE id = ?`,
		path, string(data), id,
	); err != nil {
		return fmt.Errorf("updating session key %s: %w", path, err)
	}

	s.notify()
	return nil
}

// ---- Roster ----

func (s *Store) PutPlayer(ctx context.Context, p *Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO players (id, joined_at, data) VALUES (?, ?, jsonb(?))
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data`,
		p.ID, p.JoinedAt.UnixMilli(), string(data),
	); err != nil {
		return fmt.Errorf("saving player: %w", err)
	}

	s.notify()
	return nil
}

// ListPlayers returns the roster in join order. The turn pointer indexes
// into this ordering, so it must be stable.
func (s *Store) ListPlayers(ctx context.Context) ([]Player, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT json(data) FROM players ORDER BY joined_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p Player
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decoding player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *Store) DeletePlayer(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM players WHERE id = ?`, id,
	); err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}

	s.notify()
	return nil
}

// DeleteBots removes synthetic players, e.g. before recounting at game start.
func (s *Store) DeleteBots(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM players WHERE data ->> '$.bot'`,
	); err != nil {
		return fmt.Errorf("deleting bots: %w", err)
	}

	s.notify()
	return nil
}

func (s *Store) DeleteAllPlayers(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM players`); err != nil {
		return fmt.Errorf("clearing players: %w", err)
	}

	s.notify()
	return nil
}

// ---- Content pool ----

// ChallengeFilter holds the equality filters the selector needs. Zero
// values mean "any".
type ChallengeFilter struct {
	Kind       string
	Level      string
	Unanswered bool
}

func (s *Store) PutChallenge(ctx context.Context, c *Challenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO challenges (id, kind, level, gender, answered, paused, data)
		 VALUES (?, ?, ?, ?, ?, ?, jsonb(?))
		 ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind, level = excluded.level, gender = excluded.gender,
			answered = excluded.answered, paused = excluded.paused, data = excluded.data`,
		c.ID, c.Kind, c.Level, c.Gender, c.Answered, c.Paused, string(data),
	); err != nil {
		return fmt.Errorf("saving challenge: %w", err)
	}

	s.notify()
	return nil
}

func (s *Store) PutPairChallenge(ctx context.Context, c *PairChallenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO pair_challenges (id, level, answered, paused, data)
		 VALUES (?, ?, ?, ?, jsonb(?))
		 ON CONFLICT (id) DO UPDATE SET
			level = excluded.level, answered = excluded.answered,
			paused = excluded.paused, data = excluded.data`,
		c.ID, c.Level, c.Answered, c.Paused, string(data),
	); err != nil {
		return fmt.Errorf("saving pair challenge: %w", err)
	}

	s.notify()
	return nil
}

func (s *Store) ListChallenges(ctx context.Context, f ChallengeFilter) ([]Challenge, error) {
	query := `SELECT json(data) FROM challenges WHERE 1=1`
	var args []any
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.Level != "" {
		query += ` AND level = ?`
		args = append(args, f.Level)
	}
	if f.Unanswered {
		query += ` AND answered = 0`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing challenges: %w", err)
	}
	defer rows.Close()

	var items []Challenge
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var c Challenge
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("decoding challenge: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *Store) ListPairChallenges(ctx context.Context, f ChallengeFilter) ([]PairChallenge, error) {
	query := `SELECT json(data) FROM pair_challenges WHERE 1=1`
	var args []any
	if f.Level != "" {
		query += ` AND level = ?`
		args = append(args, f.Level)
	}
	if f.Unanswered {
		query += ` AND answered = 0`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pair challenges: %w", err)
	}
	defer rows.Close()

	var items []PairChallenge
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var c PairChallenge
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("decoding pair challenge: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT json(data) FROM challenges WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading challenge: %w", err)
	}

	c := &Challenge{}
	if err := json.Unmarshal([]byte(data), c); err != nil {
		return nil, fmt.Errorf("decoding challenge: %w", err)
	}
	return c, nil
}

func (s *Store) GetPairChallenge(ctx context.Context, id string) (*PairChallenge, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT json(data) FROM pair_challenges WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading pair challenge: %w", err)
	}

	c := &PairChallenge{}
	if err := json.Unmarshal([]byte(data), c); err != nil {
		return nil, fmt.Errorf("decoding pair challenge: %w", err)
	}
	return c, nil
}

// SetAnswered flips the answered flag on a single item, in the table the
// kind belongs to.
func (s *Store) SetAnswered(ctx context.Context, kind, id string, answered bool) error {
	table := "challenges"
	if kind == kindMatch {
		table = "pair_challenges"
	}

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET answered = ?, data = jsonb_set(data, '$.answered', jsonb(?)) WHERE id = ?`, table),
		answered, boolJSON(answered), id,
	); err != nil {
		return fmt.Errorf("marking answered: %w", err)
	}

	s.notify()
	return nil
}

// SetPaused pauses or resumes an item in whichever table holds it.
func (s *Store) SetPaused(ctx context.Context, id string, paused bool) error {
	for _, table := range []string{"challenges", "pair_challenges"} {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET paused = ?, data = jsonb_set(data, '$.paused', jsonb(?)) WHERE id = ?`, table),
			paused, boolJSON(paused), id,
		); err != nil {
			return fmt.Errorf("updating paused flag: %w", err)
		}
	}

	s.notify()
	return nil
}

// ResetAnswered marks every item unplayed again. Part of the full reset.
func (s *Store) ResetAnswered(ctx context.Context) error {
	for _, table := range []string{"challenges", "pair_challenges"} {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET answered = 0, data = jsonb_set(data, '$.answered', jsonb('false')) WHERE answered = 1`, table),
		); err != nil {
			return fmt.Errorf("resetting answered flags: %w", err)
		}
	}

	s.notify()
	return nil
}

// DeleteContent removes an item from whichever table holds it.
func (s *Store) DeleteContent(ctx context.Context, id string) error {
	for _, table := range []string{"challenges", "pair_challenges"} {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id,
		); err != nil {
			return fmt.Errorf("deleting content: %w", err)
		}
	}

	s.notify()
	return nil
}

func (s *Store) ClearContent(ctx context.Context) error {
	for _, table := range []string{"challenges", "pair_challenges"} {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s`, table),
		); err != nil {
			return fmt.Errorf("clearing content: %w", err)
		}
	}

	s.notify()
	return nil
}

func boolJSON(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
