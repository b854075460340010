package database

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_DeclaresEveryTable(t *testing.T) {
	for _, table := range []string{"spots", "sessions", "payments", "ledger_entries", "floor_rates"} {
		assert.Contains(t, Schema(), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, Schema(), "CHECK (occupied = (reserved_by IS NOT NULL))")
	assert.NotContains(t, strings.ToUpper(Schema()), "DROP ")
}

// Runs only against a real database, e.g. TEST_DATABASE_URL=postgres://...
func TestMigrate_Idempotent(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool))
}
