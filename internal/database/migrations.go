package database

import (
	"gorm.io/gorm"

	"github.com/finbase/revrec/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Session{},
		&models.MFASecret{},
		&models.CacheEntry{},
		&models.AuditLog{},
		&models.License{},
		&models.LicenseSession{},
		&models.Contract{},
		&models.PerformanceObligation{},
		&models.RevenueScheduleEntry{},
		&models.BillingScheduleEntry{},
		&models.JournalEntry{},
		&models.JournalLine{},
	)
}

// SeedData populates the default tenant used by single-tenant installs.
func SeedData(db *gorm.DB) error {
	tenant := models.Tenant{
		BaseModel: models.BaseModel{ID: "default"},
		Name:      "Default Tenant",
		Slug:      "default",
		Currency:  "USD",
		IsActive:  true,
	}

	return db.Where(models.Tenant{Slug: tenant.Slug}).
		Attrs(tenant).
		FirstOrCreate(&models.Tenant{}).Error
}
