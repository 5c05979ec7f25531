// Package store — игроки и карты в SQLite (zombiezen.com/go/sqlite).
//
// Игрок хранит рейтинги по режимам отдельно для PvE (song rush, auto) и
// PvP (дуэли). Карта хранит рейтинг и множители рейтинга под модами;
// SampleBeatmap отдаёт случайную карту под фильтр.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/EgorLis/packbot/internal/osu"
)

// Kind — вид рейтинга.
type Kind string

const (
	PvE Kind = "pve"
	PvP Kind = "pvp"
)

type Player struct {
	ID   int
	Name string
	// Ratings[kind][mode]. Отсутствие ключа — рейтинга ещё нет.
	Ratings map[Kind]map[osu.Mode]osu.Rating
}

// NewPlayer — запись с рейтингом по умолчанию во всех режимах.
func NewPlayer(u osu.User) Player {
	p := Player{ID: u.ID, Name: u.Name}
	for _, k := range []Kind{PvE, PvP} {
		for _, m := range []osu.Mode{osu.ModeOsu, osu.ModeFruits, osu.ModeTaiko, osu.ModeMania} {
			p.SetRating(k, m, osu.DefaultRating)
		}
	}
	return p
}

// Rating возвращает рейтинг или osu.DefaultRating.
func (p Player) Rating(k Kind, m osu.Mode) osu.Rating {
	if r, ok := p.Ratings[k][m]; ok {
		return r
	}
	return osu.DefaultRating
}

func (p *Player) SetRating(k Kind, m osu.Mode, r osu.Rating) {
	if p.Ratings == nil {
		p.Ratings = make(map[Kind]map[osu.Mode]osu.Rating)
	}
	if p.Ratings[k] == nil {
		p.Ratings[k] = make(map[osu.Mode]osu.Rating)
	}
	p.Ratings[k][m] = r
}

func (p Player) User() osu.User { return osu.User{ID: p.ID, Name: p.Name} }

// BeatmapQuery — фильтр SampleBeatmap. Нулевые поля не фильтруют.
type BeatmapQuery struct {
	Mode osu.Mode
	// Keys — число клавиш mania (CS), 0 — любое.
	Keys int
	// Рейтинг строго внутри (Min, Max), если HasRange.
	HasRange    bool
	Min, Max    float64
	ExcludeIDs  []int
	ExcludeSets []int

	// RatingMod — окно сравнивается с рейтингом под модом (HD, HR, DT).
	// Карта без посчитанного множителя идёт с базовым рейтингом.
	RatingMod osu.Mod
}

type Config struct {
	// Path — файл базы или ":memory:" (тогда PoolSize должен быть 1).
	Path     string
	PoolSize int
	Logger   *slog.Logger
}

type Store struct {
	pool *sqlitex.Pool
	log  *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS players (
	id       INTEGER PRIMARY KEY,
	name     TEXT NOT NULL,
	name_key TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS players_name_key ON players(name_key);

CREATE TABLE IF NOT EXISTS player_ratings (
	player_id INTEGER NOT NULL,
	kind      TEXT    NOT NULL,
	mode      TEXT    NOT NULL,
	rating    REAL    NOT NULL,
	rd        REAL    NOT NULL,
	vol       REAL    NOT NULL,
	PRIMARY KEY (player_id, kind, mode)
);

CREATE TABLE IF NOT EXISTS beatmaps (
	id      INTEGER NOT NULL,
	mode    TEXT    NOT NULL,
	setid   INTEGER NOT NULL,
	artist  TEXT    NOT NULL DEFAULT '',
	title   TEXT    NOT NULL DEFAULT '',
	version TEXT    NOT NULL DEFAULT '',
	cs      REAL    NOT NULL DEFAULT 0,
	rating  REAL    NOT NULL,
	rd      REAL    NOT NULL,
	vol     REAL    NOT NULL,
	mult_hd REAL,
	mult_hr REAL,
	mult_dt REAL,
	PRIMARY KEY (id, mode)
);
CREATE INDEX IF NOT EXISTS beatmaps_mode_rating ON beatmaps(mode, rating);
`

func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.Path == ":memory:" {
		cfg.PoolSize = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    cfg.PoolSize,
		PrepareConn: prepare,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Path, err)
	}
	cfg.Logger.Info("store opened", "path", cfg.Path, "pool_size", cfg.PoolSize)
	return &Store{pool: pool, log: cfg.Logger}, nil
}

func prepare(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	s.log.Info("store closed")
	return nil
}

// Player ищет по id, а если id неизвестен — по нику.
func (s *Store) Player(ctx context.Context, u osu.User) (p Player, found bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Player{}, false, fmt.Errorf("store: player: %w", err)
	}
	defer s.pool.Put(conn)

	query, arg := `SELECT id, name FROM players WHERE id = ?`, any(u.ID)
	if u.ID == 0 {
		query, arg = `SELECT id, name FROM players WHERE name_key = ? LIMIT 1`, osu.NormalizeName(u.Name)
	}
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			p.ID = stmt.ColumnInt(0)
			p.Name = stmt.ColumnText(1)
			return nil
		},
	})
	if err != nil || !found {
		return Player{}, false, wrap("player", err)
	}

	err = sqlitex.Execute(conn,
		`SELECT kind, mode, rating, rd, vol FROM player_ratings WHERE player_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{p.ID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				p.SetRating(Kind(stmt.ColumnText(0)), osu.Mode(stmt.ColumnText(1)), osu.Rating{
					Rating: stmt.ColumnFloat(2),
					RD:     stmt.ColumnFloat(3),
					Vol:    stmt.ColumnFloat(4),
				})
				return nil
			},
		})
	if err != nil {
		return Player{}, false, wrap("player ratings", err)
	}
	return p, true, nil
}

// SavePlayer пишет игрока и все его рейтинги одной транзакцией.
func (s *Store) SavePlayer(ctx context.Context, p Player) (err error) {
	if p.ID == 0 {
		return fmt.Errorf("store: save player %q: id is required", p.Name)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: save player: %w", err)
	}
	defer s.pool.Put(conn)

	defer sqlitex.Save(conn)(&err)

	err = sqlitex.Execute(conn,
		`INSERT INTO players (id, name, name_key) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, name_key = excluded.name_key`,
		&sqlitex.ExecOptions{Args: []any{p.ID, p.Name, osu.NormalizeName(p.Name)}})
	if err != nil {
		return wrap("save player", err)
	}
	for kind, modes := range p.Ratings {
		for mode, r := range modes {
			err = sqlitex.Execute(conn,
				`INSERT INTO player_ratings (player_id, kind, mode, rating, rd, vol)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(player_id, kind, mode) DO UPDATE SET
				   rating = excluded.rating, rd = excluded.rd, vol = excluded.vol`,
				&sqlitex.ExecOptions{Args: []any{p.ID, string(kind), string(mode), r.Rating, r.RD, r.Vol}})
			if err != nil {
				return wrap("save rating", err)
			}
		}
	}
	s.log.Debug("player saved", "player", p.Name, "id", p.ID)
	return nil
}

const beatmapColumns = `id, setid, mode, artist, title, version, cs, rating, rd, vol, mult_hd, mult_hr, mult_dt`

var multColumns = []osu.Mod{osu.ModHD, osu.ModHR, osu.ModDT}

func scanBeatmap(stmt *sqlite.Stmt) osu.Beatmap {
	b := osu.Beatmap{
		ID:      stmt.ColumnInt(0),
		SetID:   stmt.ColumnInt(1),
		Mode:    osu.Mode(stmt.ColumnText(2)),
		Artist:  stmt.ColumnText(3),
		Title:   stmt.ColumnText(4),
		Version: stmt.ColumnText(5),
		CS:      stmt.ColumnFloat(6),
		Rating: osu.Rating{
			Rating: stmt.ColumnFloat(7),
			RD:     stmt.ColumnFloat(8),
			Vol:    stmt.ColumnFloat(9),
		},
	}
	for i, m := range multColumns {
		if stmt.ColumnType(10+i) == sqlite.TypeNull {
			continue
		}
		if b.Mult == nil {
			b.Mult = make(map[string]float64, len(multColumns))
		}
		b.Mult[m.Short()] = stmt.ColumnFloat(10 + i)
	}
	return b
}

func (s *Store) Beatmap(ctx context.Context, mode osu.Mode, id int) (b osu.Beatmap, found bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return osu.Beatmap{}, false, fmt.Errorf("store: beatmap: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`SELECT `+beatmapColumns+` FROM beatmaps WHERE id = ? AND mode = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id, string(mode)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				b, found = scanBeatmap(stmt), true
				return nil
			},
		})
	if err != nil {
		return osu.Beatmap{}, false, wrap("beatmap", err)
	}
	return b, found, nil
}

func (s *Store) SaveBeatmap(ctx context.Context, b osu.Beatmap) error {
	if !b.Mode.Valid() {
		return fmt.Errorf("store: save beatmap %d: bad mode %q", b.ID, b.Mode)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: save beatmap: %w", err)
	}
	defer s.pool.Put(conn)

	args := []any{b.ID, b.SetID, string(b.Mode), b.Artist, b.Title, b.Version, b.CS,
		b.Rating.Rating, b.Rating.RD, b.Rating.Vol}
	for _, m := range multColumns {
		if v, ok := b.Mult[m.Short()]; ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO beatmaps (`+beatmapColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: args})
	return wrap("save beatmap", err)
}

// SampleBeatmap — случайная карта под фильтр; found=false, если подходящих нет.
func (s *Store) SampleBeatmap(ctx context.Context, q BeatmapQuery) (b osu.Beatmap, found bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return osu.Beatmap{}, false, fmt.Errorf("store: sample: %w", err)
	}
	defer s.pool.Put(conn)

	where := []string{"mode = ?"}
	args := []any{string(q.Mode)}
	if q.Keys > 0 {
		where = append(where, "cs = ?")
		args = append(args, q.Keys)
	}
	if q.HasRange {
		rating := "rating"
		if col, ok := multColumn(q.RatingMod); ok {
			rating = "rating * COALESCE(" + col + ", 1)"
		}
		where = append(where, rating+" > ?", rating+" < ?")
		args = append(args, q.Min, q.Max)
	}
	if len(q.ExcludeIDs) > 0 {
		where = append(where, "id NOT IN ("+placeholders(len(q.ExcludeIDs))+")")
		for _, id := range q.ExcludeIDs {
			args = append(args, id)
		}
	}
	if len(q.ExcludeSets) > 0 {
		where = append(where, "setid NOT IN ("+placeholders(len(q.ExcludeSets))+")")
		for _, id := range q.ExcludeSets {
			args = append(args, id)
		}
	}

	query := `SELECT ` + beatmapColumns + ` FROM beatmaps WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY random() LIMIT 1`
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			b, found = scanBeatmap(stmt), true
			return nil
		},
	})
	if err != nil {
		return osu.Beatmap{}, false, wrap("sample", err)
	}
	return b, found, nil
}

func multColumn(m osu.Mod) (string, bool) {
	if !slices.Contains(multColumns, m) {
		return "", false
	}
	return "mult_" + strings.ToLower(m.Short()), true
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("store: %s: %w", op, err)
}
