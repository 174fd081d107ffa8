package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInitCommand(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	originalDatabase := cfg.Database
	t.Cleanup(
		func() {
			cfg.Database = originalDatabase
		},
	)
	cfg.Database = dbPath

	out := &bytes.Buffer{}
	initCmd.SetOut(out)
	initCmd.SetContext(t.Context())

	initCmd.Run(initCmd, nil)

	assert.Contains(t, out.String(), "Initialization complete")

	// the schema should be in place
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	require.NoError(t, err)
	for _, table := range []string{
		"verification_requests",
		"connections",
		"role_thresholds",
		"announcement_channels",
		"candidates",
		"matches",
	} {
		assert.Truef(
			t,
			db.Migrator().HasTable(table),
			"missing table %s",
			table,
		)
	}
}
