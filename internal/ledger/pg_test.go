package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestPGLedgerIntegration runs the ledger against a real Postgres container.
// It requires Docker to be running.
func TestPGLedgerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("rollcall_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	l, err := NewPG(ctx, pool, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, l.MarkPresent(ctx, mon, "Alice", mon), ErrNoSection)

	require.NoError(t, l.ArchiveSection(ctx, mon, []string{"Alice", "Bob"}))
	require.NoError(t, l.ArchiveSection(ctx, mon, []string{"Alice", "Bob"}), "second archive is a no-op")
	require.NoError(t, l.ArchiveSection(ctx, tue, []string{"Alice", "Bob", "Carol"}))
	require.NoError(t, l.ArchiveSection(ctx, tue, []string{"Dave"}), "last section accepts new names")
	require.NoError(t, l.ArchiveSection(ctx, mon, []string{"Eve"}), "older sections are frozen")

	marked := time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)
	require.NoError(t, l.MarkPresent(ctx, tue, "Carol", marked))
	require.NoError(t, l.MarkPresent(ctx, tue, "Carol", marked.Add(time.Hour)))
	assert.ErrorIs(t, l.MarkPresent(ctx, tue, "Mallory", marked), ErrRowNotFound)

	rows, err := l.Section(ctx, mon)
	require.NoError(t, err)
	assert.Equal(t, []Row{{Index: 1, Name: "Alice"}, {Index: 2, Name: "Bob"}}, rows)

	rows, err = l.Section(ctx, tue)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, 6, rows[0].Index, "header at row 5 after two blank rows")
	assert.Equal(t, Row{Index: 8, Name: "Carol", Status: StatusPresent, Time: "08:30:00"}, rows[2])
	assert.Equal(t, Row{Index: 9, Name: "Dave"}, rows[3])

	days, err := l.Days(ctx)
	require.NoError(t, err)
	assert.Len(t, days, 2)

	_, err = l.Section(ctx, wed)
	assert.ErrorIs(t, err, ErrNoSection)

	require.NoError(t, l.Drop(ctx))
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
