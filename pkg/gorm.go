package pkg

import (
	"fmt"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/config"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Warn
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// AutoMigrate creates or updates every workflow table.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Exam{},
		&models.Copy{},
		&models.Booklet{},
		&models.CopyBooklet{},
		&models.Annotation{},
		&models.QuestionScore{},
		&models.QuestionRemark{},
		&models.Lease{},
		&models.Draft{},
		&models.AuditEvent{},
		&models.FinalizeJob{},
		&models.DispatchRun{},
		&models.CopyArtifact{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
