package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tutorhub/signaling/config"
	"tutorhub/signaling/models"
)

// Connect establishes a connection to the PostgreSQL database and migrates the
// signaling schema.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var gormLogger logger.Interface
	if cfg.IsProduction() {
		gormLogger = logger.Default.LogMode(logger.Silent)
	} else {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	// TranslateError turns unique violations into gorm.ErrDuplicatedKey, which
	// is how the active-call index reports a second live call for a pair.
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return db, nil
}

// Migrate creates the signaling schema, its tables and the indexes AutoMigrate
// cannot express.
func Migrate(db *gorm.DB) error {
	if err := db.Exec("CREATE SCHEMA IF NOT EXISTS signaling").Error; err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	models := []interface{}{
		&models.Conversation{},
		&models.Message{},
		&models.Call{},
		&models.Notification{},
	}

	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	// At most one non-terminal call per unordered pair.
	const activePairIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_calls_active_pair
		ON signaling.calls (pair_key)
		WHERE status IN ('initiated', 'ringing', 'answered')`
	if err := db.Exec(activePairIndex).Error; err != nil {
		return fmt.Errorf("failed to create active call index: %w", err)
	}

	return nil
}
