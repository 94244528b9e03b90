package database

import (
	"codeguard/config"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewDBConnection returns nil when DATABASE_URL is unset or unreachable;
// the findings archive is optional.
func NewDBConnection(appConfig *config.AppConfig, logger *zap.Logger) *gorm.DB {
	connectionString := appConfig.DatabaseURL
	if connectionString == "" {
		logger.Debug("DATABASE_URL not set, findings archive disabled")
		return nil
	}
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{})
	if err != nil {
		logger.Error("failed to connect database, findings archive disabled", zap.Error(err))
		return nil
	}
	if err := db.AutoMigrate(&Finding{}); err != nil {
		logger.Error("failed to migrate findings table, findings archive disabled", zap.Error(err))
		return nil
	}
	logger.Debug("connected to database")
	return db
}
