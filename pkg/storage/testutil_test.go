package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/storage"
)

// setupTestDB opens a database for store tests. When TEST_DATABASE_URL
// is set it connects to PostgreSQL (and cleans the three tables for
// isolation); otherwise it uses in-memory SQLite.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err)
		return db
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open postgres test db")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(1)

	cleanTables(t, db)
	t.Cleanup(func() {
		cleanTables(t, db)
		_ = sqlDB.Close()
	})
	return db
}

func cleanTables(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, model := range []any{&core.JobRequest{}, &core.JobProcess{}, &core.JobResult{}} {
		if db.Migrator().HasTable(model) {
			require.NoError(t, db.Where("1 = 1").Delete(model).Error)
		}
	}
}

// setupTestStore opens a migrated store.
func setupTestStore(t *testing.T) *storage.GormStore {
	t.Helper()
	store := storage.NewGormStore(setupTestDB(t))
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
