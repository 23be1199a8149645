package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/mwantia/datenest/pkg/db/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "migrations.sqlite3")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestMigrateAndStatus(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)
	ctx := context.Background()

	require.NoError(t, m.Migrate(ctx))
	// Running twice applies nothing new.
	require.NoError(t, m.Migrate(ctx))

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, m.Latest())
	for _, status := range statuses {
		assert.True(t, status.Applied, "migration %d", status.Version)
	}

	assert.True(t, db.Migrator().HasTable(&models.Annotation{}))
	assert.True(t, db.Migrator().HasIndex(&models.Tag{}, "idx_tag_name_category"))
}

func TestRollback(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)
	ctx := context.Background()

	require.NoError(t, m.Migrate(ctx))
	for i := 0; i < m.Latest(); i++ {
		require.NoError(t, m.Rollback(ctx))
	}

	assert.False(t, db.Migrator().HasTable(&models.Image{}))
	assert.Error(t, m.Rollback(ctx))

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	for _, status := range statuses {
		assert.False(t, status.Applied)
	}
}

func TestStatusBeforeMigrate(t *testing.T) {
	m := NewMigrator(openTestDB(t))

	statuses, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, m.Latest())
	for _, status := range statuses {
		assert.False(t, status.Applied)
	}
}

func TestRollbackInitialSchemaWithRows(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)
	ctx := context.Background()

	require.NoError(t, m.Migrate(ctx))

	user := models.User{Username: "alice"}
	require.NoError(t, db.Create(&user).Error)
	image := models.Image{RelPath: "a.png", SHA256: "d1"}
	require.NoError(t, db.Omit(clause.Associations).Create(&image).Error)
	tag := models.Tag{Name: "colony"}
	require.NoError(t, db.Create(&tag).Error)
	annotation := models.Annotation{ImageID: image.ID, TagID: tag.ID, UserID: user.ID}
	require.NoError(t, db.Omit(clause.Associations).Create(&annotation).Error)
	vote := models.QualityVote{ImageID: image.ID, UserID: user.ID, Label: models.LabelGood}
	require.NoError(t, db.Omit(clause.Associations).Create(&vote).Error)

	for i := 0; i < m.Latest(); i++ {
		require.NoError(t, m.Rollback(ctx))
	}

	for _, table := range []any{&models.QualityVote{}, &models.Annotation{}, &models.Tag{}, &models.Image{}, &models.User{}} {
		assert.False(t, db.Migrator().HasTable(table), "%T", table)
	}
}
