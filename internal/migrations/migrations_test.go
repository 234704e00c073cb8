package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMigratorIsSingleton(t *testing.T) {
	m1, err := getMigrator()
	require.NoError(t, err, "Should create migrator instance")
	require.NotNil(t, m1)

	m2, err := getMigrator()
	require.NoError(t, err)
	assert.Same(t, m1, m2, "Should return same migrator instance")
}

func TestRecordsSchema(t *testing.T) {
	assert.Contains(t, createRecordsSQL, "CREATE TABLE records")
	assert.Contains(t, createRecordsSQL, "payload json NOT NULL")
	assert.Contains(t, createRecordsSQL, "CHECK (NOT synced OR remote_key IS NOT NULL)")
	assert.Contains(t, createRecordsSQL, "ON records (owner, kind, synced)")
}
