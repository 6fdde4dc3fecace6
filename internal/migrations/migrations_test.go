package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "migrations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoad_Embedded(t *testing.T) {
	migrations, err := Load()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "initial_schema", migrations[0].Name)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS messages")
	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].Version, migrations[i-1].Version)
	}
}

func TestLoadFS_InvalidNames(t *testing.T) {
	tests := []struct {
		name  string
		files fstest.MapFS
	}{
		{
			name:  "missing underscore",
			files: fstest.MapFS{"001.sql": {Data: []byte("SELECT 1;")}},
		},
		{
			name:  "non numeric version",
			files: fstest.MapFS{"abc_schema.sql": {Data: []byte("SELECT 1;")}},
		},
		{
			name: "duplicate version",
			files: fstest.MapFS{
				"001_a.sql": {Data: []byte("SELECT 1;")},
				"001_b.sql": {Data: []byte("SELECT 1;")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFS(tt.files)
			assert.Error(t, err)
		})
	}
}

func TestLoadFS_IgnoresOtherFiles(t *testing.T) {
	migrations, err := LoadFS(fstest.MapFS{
		"README.md":      {Data: []byte("notes")},
		"002_second.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"001_first.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
	})
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, "second", migrations[1].Name)
}

func TestApply_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	applied, err := Apply(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, applied)

	applied, err = Apply(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, applied)

	version, err := CurrentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	for _, table := range []string{"messages", "drafts", "deleted", "archived", "sync_state"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestCurrentVersion_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	version, err := CurrentVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestApplyMigrations_FailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Name: "ok", SQL: "CREATE TABLE a (id INTEGER);"},
		{Version: 2, Name: "broken", SQL: "CREATE TABLE b (id INTEGER); NOT VALID SQL;"},
	}

	applied, err := ApplyMigrations(ctx, db, migrations)
	require.Error(t, err)
	assert.Equal(t, []int{1}, applied)

	version, err := CurrentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestVoipIDUniqueness(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := Apply(ctx, db)
	require.NoError(t, err)

	insert := "INSERT INTO messages (voip_id, date, type, did, contact, text) VALUES (?, 1, 1, '5551234567', '5557654321', 'hi')"
	_, err = db.Exec(insert, 42)
	require.NoError(t, err)
	_, err = db.Exec(insert, 42)
	assert.Error(t, err)

	// Local messages without a remote id never collide.
	_, err = db.Exec(insert, nil)
	require.NoError(t, err)
	_, err = db.Exec(insert, nil)
	require.NoError(t, err)
}
