package storage

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"

	"github.com/calsync/project/internal/contracts"
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		date TEXT NOT NULL,
		time TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT 'blue',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);`,
	`CREATE INDEX IF NOT EXISTS idx_events_date_range ON events(date, created_at);`,
}

const eventColumns = `id, title, date, time, description, color, created_at, updated_at`

type SQLiteRepository struct {
	DB *sql.DB
}

// OpenSQLite opens (creating if needed) the database file at path. ":memory:" works for
// tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, p := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &SQLiteRepository{DB: db}, nil
}

func (r *SQLiteRepository) EnsureSchema(ctx context.Context) error {
	for _, st := range sqliteSchema {
		if _, err := r.DB.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

func (r *SQLiteRepository) Close() {
	_ = r.DB.Close()
}

func (r *SQLiteRepository) Create(ctx context.Context, ev contracts.Event) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Title, ev.Date, ev.Time, ev.Description, ev.Color, ev.CreatedAt, ev.UpdatedAt,
	)
	return err
}

func (r *SQLiteRepository) Update(ctx context.Context, ev contracts.Event) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE events
		 SET title = ?, date = ?, time = ?, description = ?, color = ?, updated_at = ?
		 WHERE id = ?`,
		ev.Title, ev.Date, ev.Time, ev.Description, ev.Color, ev.UpdatedAt, ev.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) (contracts.Event, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return contracts.Event{}, err
	}
	defer tx.Rollback()

	ev, err := scanSQLiteEvent(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err != nil {
		return contracts.Event{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return contracts.Event{}, err
	}
	return ev, tx.Commit()
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (contracts.Event, error) {
	return scanSQLiteEvent(r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
}

func (r *SQLiteRepository) ListRange(ctx context.Context, start, end string) ([]contracts.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE date >= ? AND date <= ?
		 ORDER BY date, time, created_at`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	return collectSQLiteEvents(rows)
}

func (r *SQLiteRepository) ListAll(ctx context.Context) ([]contracts.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY date, time, created_at`)
	if err != nil {
		return nil, err
	}
	return collectSQLiteEvents(rows)
}

func scanSQLiteEvent(row *sql.Row) (contracts.Event, error) {
	var ev contracts.Event
	err := row.Scan(&ev.ID, &ev.Title, &ev.Date, &ev.Time, &ev.Description, &ev.Color, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Event{}, ErrEventNotFound
		}
		return contracts.Event{}, err
	}
	return ev, nil
}

func collectSQLiteEvents(rows *sql.Rows) ([]contracts.Event, error) {
	defer rows.Close()
	result := []contracts.Event{}
	for rows.Next() {
		var ev contracts.Event
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Date, &ev.Time, &ev.Description, &ev.Color, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
