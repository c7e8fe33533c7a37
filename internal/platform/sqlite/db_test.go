package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDBOptions(t *testing.T) {
	opts := DefaultDBOptions()

	assert.Equal(t, time.Hour, opts.ConnMaxLifetime)
	assert.Equal(t, 4, opts.MaxOpenConns)
	assert.Equal(t, 1, opts.MaxIdleConns)
	assert.Equal(t, 5*time.Second, opts.PingTimeout)
	assert.True(t, opts.WALMode)
	assert.Equal(t, 5*time.Second, opts.BusyTimeout)
}

func TestOpen_CreatesDirectoryAndAppliesPragmas(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var busy int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 5000, busy)
}

func TestOpenInMemory(t *testing.T) {
	ctx := context.Background()
	db, err := OpenInMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n, "единственное соединение должно видеть созданную таблицу")
}

func TestApplyMigrationsFS(t *testing.T) {
	ctx := context.Background()
	db, err := OpenInMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"migrations/1_init.up.sql":   {Data: []byte("CREATE TABLE runs (id TEXT PRIMARY KEY);")},
		"migrations/1_init.down.sql": {Data: []byte("DROP TABLE runs;")},
		"migrations/2_col.up.sql":    {Data: []byte("ALTER TABLE runs ADD COLUMN status TEXT;")},
		"migrations/2_col.down.sql":  {Data: []byte("ALTER TABLE runs DROP COLUMN status;")},
	}

	version, err := ApplyMigrationsFS(db, fsys, "migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	_, err = db.ExecContext(ctx, "INSERT INTO runs (id, status) VALUES ('a', 'success')")
	require.NoError(t, err)

	version, err = ApplyMigrationsFS(db, fsys, "migrations")
	require.NoError(t, err, "повторное применение не должно возвращать ошибку")
	assert.Equal(t, uint(2), version)
}

func TestApplyMigrationsFS_MissingDir(t *testing.T) {
	db, err := OpenInMemory(context.Background())
	require.NoError(t, err)
	defer db.Close()

	_, err = ApplyMigrationsFS(db, fstest.MapFS{}, "absent")
	assert.Error(t, err)
}
