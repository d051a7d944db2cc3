package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"streamop/pkg/logging"
)

// Postgres keeps records in a single table, one row per stream. The record
// bytes are stored verbatim so the unchanged-record check compares exactly
// what a future Get will return.
type Postgres struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS stream_records (
	name TEXT PRIMARY KEY,
	record BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSQL = `
INSERT INTO stream_records (name, record) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET record = EXCLUDED.record, updated_at = now()
WHERE stream_records.record IS DISTINCT FROM EXCLUDED.record`

// NewPostgres connects to the record database and ensures the table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect record database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		// IF NOT EXISTS still races to duplicate_table when two processes
		// create the table at once.
		if pgerr := new(pgconn.PgError); !errors.As(err, &pgerr) || pgerr.Code != pgerrcode.DuplicateTable {
			pool.Close()
			return nil, fmt.Errorf("ensure record table: %w", err)
		}
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// Reconcile converges the row for the named stream. A nil record means the
// row must not exist; an unchanged record leaves the row, and its
// updated_at, alone.
func (s *Postgres) Reconcile(ctx context.Context, name string, record []byte) error {
	if record == nil {
		if _, err := s.pool.Exec(ctx, `DELETE FROM stream_records WHERE name = $1`, name); err != nil {
			return fmt.Errorf("delete record for %q: %w", name, err)
		}
		logging.Debug(subsystem, "Record for %s absent", name)
		return nil
	}

	tag, err := s.pool.Exec(ctx, upsertSQL, name, record)
	if err != nil {
		return fmt.Errorf("store record for %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		logging.Debug(subsystem, "Record for %s already current", name)
		return nil
	}
	logging.Info(subsystem, "Record for %s updated", name)
	return nil
}

// Get returns the stored record for the named stream.
func (s *Postgres) Get(ctx context.Context, name string) ([]byte, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM stream_records WHERE name = $1`, name).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record for %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read record for %q: %w", name, err)
	}
	return record, nil
}

// KnownNames lists the streams that have a record row.
func (s *Postgres) KnownNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM stream_records ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return names, nil
}
