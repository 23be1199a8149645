package migrations

import (
	"context"
	"fmt"

	"github.com/mwantia/datenest/pkg/db/models"
	"gorm.io/gorm"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          func(*gorm.DB) error
	Down        func(*gorm.DB) error
}

// migrationHistory tracks applied migrations
type migrationHistory struct {
	ID          uint   `gorm:"primaryKey"`
	Version     int    `gorm:"uniqueIndex;not null"`
	Description string `gorm:"type:text"`
	AppliedAt   int64  `gorm:"autoCreateTime"`
}

// Migrator handles database migrations
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{
		db:         db,
		migrations: allMigrations(),
	}
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate(ctx context.Context) error {
	// Ensure migration history table exists
	if err := m.db.WithContext(ctx).AutoMigrate(&migrationHistory{}); err != nil {
		return fmt.Errorf("failed to create migration history table: %w", err)
	}

	// Get applied migrations
	var applied []migrationHistory
	if err := m.db.WithContext(ctx).Find(&applied).Error; err != nil {
		return fmt.Errorf("failed to query migration history: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for _, a := range applied {
		appliedVersions[a.Version] = true
	}

	// Run pending migrations
	for _, migration := range m.migrations {
		if appliedVersions[migration.Version] {
			continue
		}

		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
	}

	return nil
}

// Rollback rolls back the last applied migration
func (m *Migrator) Rollback(ctx context.Context) error {
	// Get last applied migration
	var last migrationHistory
	if err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error; err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last.Version {
			migration = &m.migrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %d not found", last.Version)
	}

	// Down and history removal commit together so a failed rollback leaves
	// the recorded version in place.
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Down(tx); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		if err := tx.Delete(&last).Error; err != nil {
			return fmt.Errorf("failed to update migration history: %w", err)
		}
		return nil
	})
}

// Latest returns the highest known schema version.
func (m *Migrator) Latest() int {
	latest := 0
	for _, migration := range m.migrations {
		if migration.Version > latest {
			latest = migration.Version
		}
	}
	return latest
}

// Status returns migration status
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	var applied []migrationHistory
	if m.db.WithContext(ctx).Migrator().HasTable(&migrationHistory{}) {
		if err := m.db.WithContext(ctx).Find(&applied).Error; err != nil {
			return nil, fmt.Errorf("failed to query migration history: %w", err)
		}
	}

	appliedVersions := make(map[int]bool)
	for _, a := range applied {
		appliedVersions[a.Version] = true
	}

	var statuses []MigrationStatus
	for _, migration := range m.migrations {
		statuses = append(statuses, MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
			Applied:     appliedVersions[migration.Version],
		})
	}

	return statuses, nil
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
}

func (m *Migrator) runMigration(ctx context.Context, migration Migration) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Run migration
		if err := migration.Up(tx); err != nil {
			return err
		}

		// Record in history
		history := migrationHistory{
			Version:     migration.Version,
			Description: migration.Description,
		}
		return tx.Create(&history).Error
	})
}

// allMigrations returns all migrations in order
func allMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Initial library schema",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(
					&models.User{},
					&models.Image{},
					&models.Tag{},
					&models.Attachment{},
					&models.Annotation{},
					&models.QualityVote{},
				)
			},
			Down: func(db *gorm.DB) error {
				// Children first, one table per call, so that foreign keys
				// never point at a table that is already gone.
				tables := []any{
					&models.QualityVote{},
					&models.Annotation{},
					&models.Attachment{},
					&models.Tag{},
					&models.Image{},
					&models.User{},
				}
				for _, table := range tables {
					if err := db.Migrator().DropTable(table); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version:     2,
			Description: "Index quality votes by time",
			Up: func(db *gorm.DB) error {
				return db.Exec("CREATE INDEX IF NOT EXISTS idx_quality_votes_created_at ON quality_votes(created_at)").Error
			},
			Down: func(db *gorm.DB) error {
				return db.Exec("DROP INDEX IF EXISTS idx_quality_votes_created_at").Error
			},
		},
	}
}
