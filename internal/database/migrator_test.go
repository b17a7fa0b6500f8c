package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_init.sql", names[0])
	for _, name := range names {
		assert.True(t, strings.HasSuffix(name, ".sql"), name)
	}
}

func TestInitMigrationDeclaresDebitKey(t *testing.T) {
	body, err := migrationsFS.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)
	schema := string(body)
	assert.Contains(t, schema, "create table if not exists balance_debits")
	assert.Contains(t, schema, "task_id text primary key references generation_tasks(task_id)")
	assert.Contains(t, schema, "check (star_balance >= 0)")
}
