package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations_Paired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestEmbeddedMigrations_Readable(t *testing.T) {
	src, err := iofs.New(migrationsFS, "migrations")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	next, err := src.Next(first)
	require.NoError(t, err)
	assert.Equal(t, uint(2), next)
}

func TestActiveJobIndexDefined(t *testing.T) {
	b, err := fs.ReadFile(migrationsFS, "migrations/000002_create_processing_jobs.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(b), "processing_jobs_active_document_idx")
	assert.Contains(t, string(b), "WHERE status IN ('queued', 'running', 'paused')")
}

func TestRollbackMigrations_RejectsNonPositiveSteps(t *testing.T) {
	err := RollbackMigrations("postgres://unused", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}
