package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockKey serializes ledger writers across processes sharing a database.
const lockKey = "rollcall.ledger"

// PGLedger stores sections in PostgreSQL. Every header and name row keeps its absolute
// row_index so the spreadsheet layout, gaps included, can be rebuilt from the tables.
type PGLedger struct {
	pool *pgxpool.Pool
	gap  int
}

// NewPG ensures the ledger tables exist.
func NewPG(ctx context.Context, pool *pgxpool.Pool, gap int) (*PGLedger, error) {
	if gap < 0 {
		gap = DefaultGap
	}
	if err := migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &PGLedger{pool: pool, gap: gap}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_sections (
			day        DATE PRIMARY KEY,
			header_row INTEGER NOT NULL UNIQUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS ledger_rows (
			day        DATE NOT NULL REFERENCES ledger_sections(day) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			row_index  INTEGER NOT NULL UNIQUE,
			status     TEXT NOT NULL DEFAULT '',
			marked_at  TIMESTAMPTZ,
			PRIMARY KEY (day, name)
		);
	`)
	return err
}

func dayKey(day time.Time) string {
	return day.Format(DateLayout)
}

func (l *PGLedger) ArchiveSection(ctx context.Context, day time.Time, names []string) error {
	names = dedupe(names)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
		return fmt.Errorf("failed to lock ledger: %w", err)
	}

	var last int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(GREATEST(
			(SELECT MAX(header_row) FROM ledger_sections),
			(SELECT MAX(row_index) FROM ledger_rows)
		), -1)
	`).Scan(&last)
	if err != nil {
		return err
	}

	var header int
	var latest bool
	err = tx.QueryRow(ctx, `
		SELECT header_row, day = (SELECT MAX(day) FROM ledger_sections)
		FROM ledger_sections WHERE day = $1::date
	`, dayKey(day)).Scan(&header, &latest)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		header = 0
		if last >= 0 {
			header = last + 1 + l.gap
		}
		if _, err := tx.Exec(ctx, "INSERT INTO ledger_sections (day, header_row) VALUES ($1::date, $2)", dayKey(day), header); err != nil {
			return err
		}
		next := header + 1
		for _, n := range names {
			if _, err := tx.Exec(ctx, "INSERT INTO ledger_rows (day, name, row_index) VALUES ($1::date, $2, $3)", dayKey(day), n, next); err != nil {
				return err
			}
			next++
		}
		log.Infof("ledger: section %s created at row %d", dayKey(day), header)

	case err != nil:
		return err

	case latest:
		next := last + 1
		for _, n := range names {
			tag, err := tx.Exec(ctx, `
				INSERT INTO ledger_rows (day, name, row_index) VALUES ($1::date, $2, $3)
				ON CONFLICT (day, name) DO NOTHING
			`, dayKey(day), n, next)
			if err != nil {
				return err
			}
			if tag.RowsAffected() > 0 {
				next++
			}
		}
	}

	return tx.Commit(ctx)
}

func (l *PGLedger) MarkPresent(ctx context.Context, day time.Time, name string, at time.Time) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE ledger_rows SET status = $3, marked_at = $4
		WHERE day = $1::date AND name = $2 AND status <> $3
	`, dayKey(day), name, StatusPresent, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var sectionExists, rowExists bool
	err = l.pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM ledger_sections WHERE day = $1::date),
			EXISTS (SELECT 1 FROM ledger_rows WHERE day = $1::date AND name = $2)
	`, dayKey(day), name).Scan(&sectionExists, &rowExists)
	if err != nil {
		return err
	}
	switch {
	case !sectionExists:
		return ErrNoSection
	case !rowExists:
		return ErrRowNotFound
	}
	return nil
}

func (l *PGLedger) Section(ctx context.Context, day time.Time) ([]Row, error) {
	var exists bool
	if err := l.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM ledger_sections WHERE day = $1::date)", dayKey(day)).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNoSection
	}

	rows, err := l.pool.Query(ctx, `
		SELECT row_index, name, status, marked_at
		FROM ledger_rows WHERE day = $1::date
		ORDER BY row_index
	`, dayKey(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var markedAt *time.Time
		if err := rows.Scan(&r.Index, &r.Name, &r.Status, &markedAt); err != nil {
			return nil, err
		}
		if markedAt != nil {
			r.Time = markedAt.In(day.Location()).Format(TimeLayout)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Days lists archived section days, oldest first.
func (l *PGLedger) Days(ctx context.Context) ([]time.Time, error) {
	rows, err := l.pool.Query(ctx, "SELECT day FROM ledger_sections ORDER BY day")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Drop removes the ledger tables.
func (l *PGLedger) Drop(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, "DROP TABLE IF EXISTS ledger_rows CASCADE; DROP TABLE IF EXISTS ledger_sections CASCADE;")
	return err
}
