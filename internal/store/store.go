package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store manages the PostgreSQL pool and the enrolled face descriptors.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the identity table and vector extension if they don't exist.
// A person may be enrolled with several descriptors, so names are not unique.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS known_identities (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS known_identities_name_idx ON known_identities (name);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Pool exposes the connection pool to other repositories sharing the database.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close terminates the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1.0,2.0,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector reads pgvector's text form back into a slice.
func parseVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad vector component %q: %w", p, err)
		}
		vec[i] = v
	}
	return vec, nil
}

// AddIdentity stores one descriptor for name and returns its row ID.
func (s *Store) AddIdentity(ctx context.Context, name string, vec []float64) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx,
		"INSERT INTO known_identities (name, embedding) VALUES ($1, $2::vector) RETURNING id",
		name, vecToString(vec),
	).Scan(&id)
	return id, err
}

// ListKnownIdentities returns every descriptor in enrollment order.
func (s *Store) ListKnownIdentities(ctx context.Context) ([]types.KnownIdentity, error) {
	rows, err := s.pool.Query(ctx, "SELECT name, embedding::text FROM known_identities ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.KnownIdentity
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		vec, err := parseVector(raw)
		if err != nil {
			return nil, fmt.Errorf("identity %q: %w", name, err)
		}
		out = append(out, types.KnownIdentity{Name: name, Descriptor: vec})
	}
	return out, rows.Err()
}

// Known implements identity.Source.
func (s *Store) Known(ctx context.Context) ([]types.KnownIdentity, error) {
	return s.ListKnownIdentities(ctx)
}

// Identity summarises one enrolled person.
type Identity struct {
	ID        int
	Name      string
	Count     int
	CreatedAt time.Time
}

// ListIdentities groups descriptors by name, oldest enrollment first.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT MIN(id), name, COUNT(*), MIN(created_at)
		FROM known_identities
		GROUP BY name
		ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var i Identity
		if err := rows.Scan(&i.ID, &i.Name, &i.Count, &i.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// RenameIdentity moves every descriptor of oldName to newName.
func (s *Store) RenameIdentity(ctx context.Context, oldName, newName string) (int64, error) {
	tag, err := s.pool.Exec(ctx, "UPDATE known_identities SET name = $1 WHERE name = $2", newName, oldName)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteIdentity removes every descriptor of name.
func (s *Store) DeleteIdentity(ctx context.Context, name string) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM known_identities WHERE name = $1", name)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS ledger_rows CASCADE;
		DROP TABLE IF EXISTS ledger_sections CASCADE;
		DROP TABLE IF EXISTS known_identities CASCADE;
	`)
	return err
}
