package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finbase/revrec/internal/database"
	"github.com/finbase/revrec/internal/models"
)

var errRollbackSentinel = errors.New("rollback")

func newServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())
	})

	return db
}

func seedTenant(t *testing.T, db *gorm.DB, slug string) *models.Tenant {
	t.Helper()

	tenant := models.Tenant{Name: slug, Slug: slug, Currency: "USD"}
	require.NoError(t, db.Create(&tenant).Error)
	return &tenant
}

func seedUser(t *testing.T, db *gorm.DB, tenantID, email string) *models.User {
	t.Helper()

	user := models.User{
		TenantID: tenantID,
		Email:    email,
		Password: "hashed",
		IsActive: true,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
