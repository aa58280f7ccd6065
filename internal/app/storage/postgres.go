package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/platform/dbpool"
)

const createCalendarEventsTableSQL = `
CREATE TABLE IF NOT EXISTS calendar_events (
  id text PRIMARY KEY,
  title text NOT NULL,
  date text NOT NULL,
  time text NOT NULL DEFAULT '',
  description text NOT NULL DEFAULT '',
  color text NOT NULL DEFAULT 'blue',
  created_at text NOT NULL,
  updated_at text NOT NULL
)`

const createCalendarEventsDateIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_calendar_events_date ON calendar_events (date)`

const insertCalendarEventSQL = `
INSERT INTO calendar_events (id, title, date, time, description, color, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const updateCalendarEventSQL = `
UPDATE calendar_events
SET title = $2,
    date = $3,
    time = $4,
    description = $5,
    color = $6,
    updated_at = $7
WHERE id = $1
`

const deleteCalendarEventSQL = `
DELETE FROM calendar_events
WHERE id = $1
RETURNING id, title, date, time, description, color, created_at, updated_at
`

const selectCalendarEventsSQL = `
SELECT id, title, date, time, description, color, created_at, updated_at
FROM calendar_events
`

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := dbpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &PostgresRepository{Pool: pool}, nil
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createCalendarEventsTableSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createCalendarEventsDateIndexSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.Pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

func (r *PostgresRepository) Create(ctx context.Context, ev contracts.Event) error {
	_, err := r.Pool.Exec(ctx, insertCalendarEventSQL,
		ev.ID, ev.Title, ev.Date, ev.Time, ev.Description, ev.Color, ev.CreatedAt, ev.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) Update(ctx context.Context, ev contracts.Event) error {
	tag, err := r.Pool.Exec(ctx, updateCalendarEventSQL,
		ev.ID, ev.Title, ev.Date, ev.Time, ev.Description, ev.Color, ev.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (contracts.Event, error) {
	return scanPostgresEvent(r.Pool.QueryRow(ctx, deleteCalendarEventSQL, id))
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (contracts.Event, error) {
	return scanPostgresEvent(r.Pool.QueryRow(ctx, selectCalendarEventsSQL+`WHERE id = $1`, id))
}

func (r *PostgresRepository) ListRange(ctx context.Context, start, end string) ([]contracts.Event, error) {
	rows, err := r.Pool.Query(ctx,
		selectCalendarEventsSQL+`WHERE date >= $1 AND date <= $2
ORDER BY date, time, created_at`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	return collectPostgresEvents(rows)
}

func (r *PostgresRepository) ListAll(ctx context.Context) ([]contracts.Event, error) {
	rows, err := r.Pool.Query(ctx, selectCalendarEventsSQL+`ORDER BY date, time, created_at`)
	if err != nil {
		return nil, err
	}
	return collectPostgresEvents(rows)
}

func scanPostgresEvent(row pgx.Row) (contracts.Event, error) {
	var ev contracts.Event
	err := row.Scan(&ev.ID, &ev.Title, &ev.Date, &ev.Time, &ev.Description, &ev.Color, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.Event{}, ErrEventNotFound
		}
		return contracts.Event{}, err
	}
	return ev, nil
}

func collectPostgresEvents(rows pgx.Rows) ([]contracts.Event, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (contracts.Event, error) {
		var ev contracts.Event
		err := row.Scan(&ev.ID, &ev.Title, &ev.Date, &ev.Time, &ev.Description, &ev.Color, &ev.CreatedAt, &ev.UpdatedAt)
		return ev, err
	})
}
