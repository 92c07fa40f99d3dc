package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mtkit/sessionstore/internal/dbx"
	"github.com/mtkit/sessionstore/internal/logging"
)

func newVersionedDB(t *testing.T, version int) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE schema_version (number INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_version (number) VALUES (?)`, version)
	require.NoError(t, err)
	return db
}

func testCatalog(current int, applied *[]int) Catalog {
	steps := make(map[int]func(ctx context.Context, tx dbx.DBTX) error)
	for v := 1; v < current; v++ {
		v := v
		steps[v] = func(ctx context.Context, tx dbx.DBTX) error {
			*applied = append(*applied, v)
			return nil
		}
	}
	return Catalog{
		Current: current,
		Steps:   steps,
		ReadVersion: func(ctx context.Context, db dbx.DBTX) (int, error) {
			var v int
			err := db.QueryRowContext(ctx, `SELECT number FROM schema_version`).Scan(&v)
			return v, err
		},
		WriteVersion: func(ctx context.Context, db dbx.DBTX, v int) error {
			_, err := db.ExecContext(ctx, `UPDATE schema_version SET number = ?`, v)
			return err
		},
	}
}

func TestUpgrade_AppliesStepsInOrder(t *testing.T) {
	db := newVersionedDB(t, 1)
	var applied []int
	cat := testCatalog(4, &applied)

	require.NoError(t, cat.Upgrade(context.Background(), db, logging.NewSlogLogger(slog.Default())))
	assert.Equal(t, []int{1, 2, 3}, applied)

	v, err := cat.ReadVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestUpgrade_StartsFromStoredVersion(t *testing.T) {
	db := newVersionedDB(t, 3)
	var applied []int
	cat := testCatalog(4, &applied)

	require.NoError(t, cat.Upgrade(context.Background(), db, logging.NewSlogLogger(slog.Default())))
	assert.Equal(t, []int{3}, applied)
}

func TestUpgrade_CurrentVersionIsNoOp(t *testing.T) {
	db := newVersionedDB(t, 4)
	var applied []int
	cat := testCatalog(4, &applied)

	require.NoError(t, cat.Upgrade(context.Background(), db, logging.NewSlogLogger(slog.Default())))
	assert.Empty(t, applied)
}

func TestUpgrade_FutureVersionFails(t *testing.T) {
	db := newVersionedDB(t, 5)
	var applied []int
	cat := testCatalog(4, &applied)

	err := cat.Upgrade(context.Background(), db, logging.NewSlogLogger(slog.Default()))
	require.ErrorIs(t, err, ErrSchemaVersionUnsupported)
	assert.Empty(t, applied)
}

func TestUpgrade_MissingStepFails(t *testing.T) {
	db := newVersionedDB(t, 1)
	var applied []int
	cat := testCatalog(4, &applied)
	delete(cat.Steps, 2)

	err := cat.Upgrade(context.Background(), db, logging.NewSlogLogger(slog.Default()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no migration step registered for version 2")

	// Step 1 committed before the gap was hit.
	v, verr := cat.ReadVersion(context.Background(), db)
	require.NoError(t, verr)
	assert.Equal(t, 2, v)
}

func TestUpgrade_FailedStepRollsBackVersion(t *testing.T) {
	db := newVersionedDB(t, 1)
	boom := errors.New("boom")
	cat := testCatalog(2, new([]int))
	cat.Steps[1] = func(ctx context.Context, tx dbx.DBTX) error { return boom }

	err := cat.Upgrade(context.Background(), db, logging.NewSlogLogger(slog.Default()))
	require.ErrorIs(t, err, boom)

	v, verr := cat.ReadVersion(context.Background(), db)
	require.NoError(t, verr)
	assert.Equal(t, 1, v)
}
