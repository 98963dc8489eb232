package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_SortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"010_tables.sql":  {Data: []byte("SELECT 10;")},
		"002_second.sql":  {Data: []byte("SELECT 2;")},
		"001_first.sql":   {Data: []byte("SELECT 1;")},
		"readme.sql":      {Data: []byte("-- no version")},
		"abc_invalid.sql": {Data: []byte("-- non-numeric")},
		"notes.txt":       {Data: []byte("not sql")},
	}

	migrations, err := NewMigratorFS(nil, fsys).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "001_first.sql", migrations[0].Name)
	assert.Equal(t, "SELECT 1;", migrations[0].SQL)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, 10, migrations[2].Version)
}

func TestLoadMigrations_Embedded(t *testing.T) {
	migrations, err := NewMigrator(nil).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS webhook_deliveries")
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS dead_letters")
	assert.Contains(t, migrations[1].SQL, "conflict_id          UUID NOT NULL UNIQUE")
}
