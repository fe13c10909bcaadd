// Package postgres implements the repositories on the game schema.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"bufficorns/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Repositories() game.Repositories {
	return game.Repositories{
		Players:    players{s.db},
		Bufficorns: bufficorns{s.db},
		Ranches:    ranches{s.db},
		Trades:     trades{s.db},
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", game.ErrNotFound, what, id)
	}
	return err
}

const playerColumns = `key, username, ranch, selected_bufficorn, points, COALESCE(token, ''), medals, creation_index, created_at`

type players struct{ db *pgxpool.Pool }

func scanPlayer(row pgx.Row) (game.Player, error) {
	var p game.Player
	err := row.Scan(&p.Key, &p.Username, &p.Ranch, &p.SelectedBufficorn, &p.Points, &p.Token, &p.Medals, &p.CreationIndex, &p.CreatedAt)
	return p, err
}

func (r players) Get(ctx context.Context, key string) (game.Player, error) {
	p, err := scanPlayer(r.db.QueryRow(ctx, `SELECT `+playerColumns+` FROM game.players WHERE key = $1`, key))
	if err != nil {
		return game.Player{}, notFound(err, "player", key)
	}
	return p, nil
}

func (r players) GetByUsername(ctx context.Context, username string) (game.Player, error) {
	p, err := scanPlayer(r.db.QueryRow(ctx, `SELECT `+playerColumns+` FROM game.players WHERE username = $1`, username))
	if err != nil {
		return game.Player{}, notFound(err, "player", username)
	}
	return p, nil
}

func (r players) GetAll(ctx context.Context) ([]game.Player, error) {
	rows, err := r.db.Query(ctx, `SELECT `+playerColumns+` FROM game.players ORDER BY creation_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]game.Player, 0, 64)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r players) Update(ctx context.Context, p game.Player) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE game.players
		SET username = $2, selected_bufficorn = $3, points = $4, token = NULLIF($5, ''), medals = $6
		WHERE key = $1
	`, p.Key, p.Username, p.SelectedBufficorn, p.Points, p.Token, nonNil(p.Medals))
	if err != nil {
		if isUniqueViolation(err) {
			return game.ErrUsernameTaken
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: player %s", game.ErrNotFound, p.Key)
	}
	return nil
}

// AddPoints is a single UPDATE, so a concurrent selection change on the same row is kept.
func (r players) AddPoints(ctx context.Context, key string, delta int64) (game.Player, error) {
	p, err := scanPlayer(r.db.QueryRow(ctx, `
		UPDATE game.players SET points = points + $2
		WHERE key = $1
		RETURNING `+playerColumns, key, delta))
	if err != nil {
		return game.Player{}, notFound(err, "player", key)
	}
	return p, nil
}

func (r players) SetSelectedBufficorn(ctx context.Context, key string, creationIndex int) error {
	tag, err := r.db.Exec(ctx, `UPDATE game.players SET selected_bufficorn = $2 WHERE key = $1`, key, creationIndex)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: player %s", game.ErrNotFound, key)
	}
	return nil
}

func (r players) Create(ctx context.Context, in []game.Player) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, p := range in {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.players (key, username, ranch, selected_bufficorn, points, token, medals, creation_index, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
		`, p.Key, p.Username, p.Ranch, p.SelectedBufficorn, p.Points, p.Token, nonNil(p.Medals), p.CreationIndex, p.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: player %s already exists", game.ErrInvalidInput, p.Key)
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

const bufficornColumns = `creation_index, name, ranch, vigor, speed, coolness, coat, intelligence, medals`

type bufficorns struct{ db *pgxpool.Pool }

func scanBufficorn(row pgx.Row) (game.Bufficorn, error) {
	var b game.Bufficorn
	err := row.Scan(&b.CreationIndex, &b.Name, &b.Ranch, &b.Vigor, &b.Speed, &b.Coolness, &b.Coat, &b.Intelligence, &b.Medals)
	return b, err
}

// traitColumn maps a trait onto its column. Only known traits reach SQL text.
func traitColumn(t game.Trait) (string, error) {
	switch t {
	case game.TraitVigor, game.TraitSpeed, game.TraitCoolness, game.TraitCoat, game.TraitIntelligence:
		return string(t), nil
	}
	return "", fmt.Errorf("%w: unknown trait %q", game.ErrInvalidInput, t)
}

func (r bufficorns) Get(ctx context.Context, creationIndex int) (game.Bufficorn, error) {
	b, err := scanBufficorn(r.db.QueryRow(ctx, `SELECT `+bufficornColumns+` FROM game.bufficorns WHERE creation_index = $1`, creationIndex))
	if err != nil {
		return game.Bufficorn{}, notFound(err, "bufficorn", creationIndex)
	}
	return b, nil
}

func (r bufficorns) GetAll(ctx context.Context) ([]game.Bufficorn, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bufficornColumns+` FROM game.bufficorns ORDER BY creation_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]game.Bufficorn, 0, game.RanchCount*game.BufficornsPerRanch)
	for rows.Next() {
		b, err := scanBufficorn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Feed is a single-row atomic increment guarded by the ranch membership.
func (r bufficorns) Feed(ctx context.Context, creationIndex int, ranch string, res game.Resource) (game.Bufficorn, error) {
	if err := res.Validate(); err != nil {
		return game.Bufficorn{}, err
	}
	col, err := traitColumn(res.Trait)
	if err != nil {
		return game.Bufficorn{}, err
	}
	b, err := scanBufficorn(r.db.QueryRow(ctx, `
		UPDATE game.bufficorns
		SET `+col+` = `+col+` + $1
		WHERE creation_index = $2 AND ranch = $3
		RETURNING `+bufficornColumns, res.Amount, creationIndex, ranch))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Bufficorn{}, fmt.Errorf("%w: Bufficorn with creationIndex %d doesn't belong to ranch %s", game.ErrNotFound, creationIndex, ranch)
	}
	return b, err
}

func (r bufficorns) Update(ctx context.Context, b game.Bufficorn) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE game.bufficorns
		SET name = $2, vigor = $3, speed = $4, coolness = $5, coat = $6, intelligence = $7, medals = $8
		WHERE creation_index = $1
	`, b.CreationIndex, b.Name, b.Vigor, b.Speed, b.Coolness, b.Coat, b.Intelligence, nonNil(b.Medals))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bufficorn %d", game.ErrNotFound, b.CreationIndex)
	}
	return nil
}

func (r bufficorns) Create(ctx context.Context, in []game.Bufficorn) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, b := range in {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.bufficorns (creation_index, name, ranch, vigor, speed, coolness, coat, intelligence, medals)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, b.CreationIndex, b.Name, b.Ranch, b.Vigor, b.Speed, b.Coolness, b.Coat, b.Intelligence, nonNil(b.Medals)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: bufficorn %d already exists", game.ErrInvalidInput, b.CreationIndex)
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

type ranches struct{ db *pgxpool.Pool }

func (r ranches) Get(ctx context.Context, name string) (game.Ranch, error) {
	var rn game.Ranch
	err := r.db.QueryRow(ctx, `SELECT name, creation_index FROM game.ranches WHERE name = $1`, name).Scan(&rn.Name, &rn.CreationIndex)
	if err != nil {
		return game.Ranch{}, notFound(err, "ranch", name)
	}
	return rn, nil
}

func (r ranches) GetAll(ctx context.Context) ([]game.Ranch, error) {
	rows, err := r.db.Query(ctx, `SELECT name, creation_index FROM game.ranches ORDER BY creation_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]game.Ranch, 0, game.RanchCount)
	for rows.Next() {
		var rn game.Ranch
		if err := rows.Scan(&rn.Name, &rn.CreationIndex); err != nil {
			return nil, err
		}
		out = append(out, rn)
	}
	return out, rows.Err()
}

func (r ranches) Create(ctx context.Context, in []game.Ranch) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, rn := range in {
		if _, err := tx.Exec(ctx, `INSERT INTO game.ranches (name, creation_index) VALUES ($1, $2)`, rn.Name, rn.CreationIndex); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: ranch %s already exists", game.ErrInvalidInput, rn.Name)
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

const tradeColumns = `id::text, from_username, to_username, trait, amount, created_at, ends, bufficorn`

type trades struct{ db *pgxpool.Pool }

func scanTrade(row pgx.Row) (game.Trade, error) {
	var (
		t     game.Trade
		trait string
	)
	err := row.Scan(&t.ID, &t.From, &t.To, &trait, &t.Resource.Amount, &t.Timestamp, &t.Ends, &t.Bufficorn)
	t.Resource.Trait = game.Trait(trait)
	t.Timestamp = t.Timestamp.UTC()
	t.Ends = t.Ends.UTC()
	return t, err
}

func (r trades) Create(ctx context.Context, t game.Trade) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO game.trades (id, from_username, to_username, trait, amount, created_at, ends, bufficorn)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.From, t.To, string(t.Resource.Trait), t.Resource.Amount, t.Timestamp, t.Ends, t.Bufficorn)
	return err
}

func (r trades) GetLast(ctx context.Context, f game.TradeFilter) (game.Trade, bool, error) {
	t, err := scanTrade(r.db.QueryRow(ctx, `
		SELECT `+tradeColumns+`
		FROM game.trades
		WHERE ($1 = '' OR from_username = $1) AND ($2 = '' OR to_username = $2)
		ORDER BY created_at DESC, ends DESC
		LIMIT 1
	`, f.From, f.To))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Trade{}, false, nil
	}
	if err != nil {
		return game.Trade{}, false, err
	}
	return t, true, nil
}

func (r trades) GetManyByUsername(ctx context.Context, username string, limit, offset int) ([]game.Trade, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM game.trades
		WHERE from_username = $1 OR to_username = $1
		ORDER BY created_at DESC, ends DESC
		LIMIT $2 OFFSET $3
	`, username, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]game.Trade, 0, limit)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r trades) Count(ctx context.Context, username string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(1) FROM game.trades WHERE from_username = $1 OR to_username = $1`, username).Scan(&n)
	return n, err
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
