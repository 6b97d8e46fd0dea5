package db

import (
	"fmt"

	"github.com/FireKid846/whatsapp-web/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of GORM models owned by the session store.
func AllModels() []interface{} {
	return []interface{}{
		&models.Session{},
		&models.SessionLog{},
	}
}

// AutoMigrate creates or updates the sessions and session_logs tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
