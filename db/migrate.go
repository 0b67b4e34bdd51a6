package db

import (
	"context"
	"fmt"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"gorm.io/gorm"
)

type Migration struct {
	Version string
	Name    string
	Up      func(*gorm.DB) error
	Down    func(*gorm.DB) error
}

type MigrationStatus struct {
	Version string
	Name    string
	Applied bool
}

// Migrator applies versioned migrations once each, recording them in
// schema_migrations. Every migration runs in its own transaction together
// with its bookkeeping row.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
	logger     *utils.Logger
}

func CreateMigrator(db *gorm.DB) *Migrator {
	return &Migrator{
		db:     db,
		logger: utils.NewLogger("migrator"),
	}
}

// CreateSchemaMigrator returns a migrator loaded with the vault schema.
func CreateSchemaMigrator(db *gorm.DB) *Migrator {
	m := CreateMigrator(db)
	for _, mig := range SchemaMigrations() {
		m.AddMigration(mig)
	}
	return m
}

func (m *Migrator) AddMigration(migration Migration) {
	m.migrations = append(m.migrations, migration)
}

func SchemaMigrations() []Migration {
	return []Migration{
		{
			Version: "0001",
			Name:    "create_core_tables",
			Up: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&models.Tenant{},
					&models.Authorization{},
					&models.InboundEventRecord{},
					&models.WebhookSubscription{},
					&models.DeliveryAttempt{},
					&models.AuditLog{},
				)
			},
			Down: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&models.AuditLog{},
					&models.DeliveryAttempt{},
					&models.WebhookSubscription{},
					&models.InboundEventRecord{},
					&models.Authorization{},
					&models.Tenant{},
				)
			},
		},
		{
			Version: "0002",
			Name:    "delivery_due_index",
			Up: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_due
					ON delivery_attempts (scheduled_at)
					WHERE status = 'PENDING'`).Error
			},
			Down: func(tx *gorm.DB) error {
				return tx.Exec(`DROP INDEX IF EXISTS idx_delivery_attempts_due`).Error
			},
		},
	}
}

func (m *Migrator) Up(ctx context.Context) error {
	db := m.db.WithContext(ctx)
	if err := createMigrationsTable(db); err != nil {
		return err
	}

	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return tx.Exec(`
				INSERT INTO schema_migrations (version, name)
				VALUES (?, ?)
				ON CONFLICT (version) DO NOTHING
			`, migration.Version, migration.Name).Error
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		m.logger.Info(ctx, "Applied migration", map[string]interface{}{
			"version": migration.Version,
			"name":    migration.Name,
		})
	}

	return nil
}

// Down rolls back every applied migration newer than version.
func (m *Migrator) Down(ctx context.Context, version string) error {
	db := m.db.WithContext(ctx)
	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version == version {
			break
		}
		if !applied[migration.Version] {
			continue
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			if migration.Down != nil {
				if err := migration.Down(tx); err != nil {
					return err
				}
			}
			return tx.Exec("DELETE FROM schema_migrations WHERE version = ?", migration.Version).Error
		})
		if err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := appliedMigrations(m.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.migrations))
	for _, migration := range m.migrations {
		statuses = append(statuses, MigrationStatus{
			Version: migration.Version,
			Name:    migration.Name,
			Applied: applied[migration.Version],
		})
	}
	return statuses, nil
}

func createMigrationsTable(db *gorm.DB) error {
	return db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`).Error
}

func appliedMigrations(db *gorm.DB) (map[string]bool, error) {
	var versions []string
	if err := db.Table("schema_migrations").Pluck("version", &versions).Error; err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}
