package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/clause"

	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/models"
)

// Connect opens a PostgreSQL connection pool
func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logger.Info().Msg("✅ Database connected successfully!")
	return db, nil
}

// AutoMigrate creates or updates every table the bot owns
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Tenant{},
		&models.Branch{},
		&models.Category{},
		&models.Item{},
		&models.SessionRecord{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info().Msg("✅ Database migrated")
	return nil
}

// Upsert writes seed rows, overwriting rows with the same primary key
func Upsert(db *gorm.DB, tenants []models.Tenant, branches []models.Branch, categories []models.Category, items []models.Item) error {
	return db.Transaction(func(tx *gorm.DB) error {
		upsert := tx.Clauses(clause.OnConflict{UpdateAll: true})
		if len(tenants) > 0 {
			if err := upsert.Create(&tenants).Error; err != nil {
				return fmt.Errorf("tenants: %w", err)
			}
		}
		if len(branches) > 0 {
			if err := upsert.Create(&branches).Error; err != nil {
				return fmt.Errorf("branches: %w", err)
			}
		}
		if len(categories) > 0 {
			if err := upsert.Create(&categories).Error; err != nil {
				return fmt.Errorf("categories: %w", err)
			}
		}
		if len(items) > 0 {
			if err := upsert.Create(&items).Error; err != nil {
				return fmt.Errorf("items: %w", err)
			}
		}
		return nil
	})
}
