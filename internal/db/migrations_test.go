package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreIdempotent(t *testing.T) {
	database, err := NewTest(t)
	require.NoError(t, err)
	defer database.Close()

	// A second run over an upgraded schema is a no-op.
	require.NoError(t, RunMigrations(database.Conn()))

	var version int
	require.NoError(t, database.Conn().QueryRow(`SELECT version FROM schema_info`).Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestMigrationsCreateExpectedTables(t *testing.T) {
	database, err := NewTest(t)
	require.NoError(t, err)
	defer database.Close()

	for _, table := range []string{"models", "model_locations", "model_sources", "schema_info", "workflow_analysis_cache", "node_mappings", "resolution_cache"} {
		var name string
		err := database.Conn().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestSchemaVersionRowIsSingular(t *testing.T) {
	database, err := NewTest(t)
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, RunMigrations(database.Conn()))
	require.NoError(t, RunMigrations(database.Conn()))

	var count int
	require.NoError(t, database.Conn().QueryRow(`SELECT COUNT(*) FROM schema_info`).Scan(&count))
	assert.Equal(t, 1, count)
}
