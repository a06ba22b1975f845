package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/finbase/revrec/internal/auth"
	"github.com/finbase/revrec/internal/cache"
	"github.com/finbase/revrec/internal/database"
	"github.com/finbase/revrec/internal/models"
	"github.com/finbase/revrec/internal/services"
)

func newCleanupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		sqlDB, dbErr := db.DB()
		require.NoError(t, dbErr)
		require.NoError(t, sqlDB.Close())
	})

	return db
}

func seedCleanupUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	tenant := models.Tenant{Name: "Cleanup Co", Slug: "cleanup-co"}
	require.NoError(t, db.Create(&tenant).Error)

	user := models.User{
		TenantID: tenant.ID,
		Email:    "cleanup@cleanup.test",
		Password: "hash",
		IsActive: true,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func TestCleanerRunOnce(t *testing.T) {
	db := newCleanupTestDB(t)
	user := seedCleanupUser(t, db)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "cleanup-secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{
		RefreshTokenTTL: time.Hour,
		RefreshLength:   16,
	})
	require.NoError(t, err)

	licenseSvc, err := services.NewLicenseService(db, auditSvc)
	require.NoError(t, err)

	cacheStore := cache.NewDatabaseStore(db)
	ctx := context.Background()

	// An expired session next to a live one.
	_, expiredSession, err := sessionSvc.CreateSession(user.ID, iauth.SessionMetadata{TenantID: user.TenantID})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", expiredSession.ID).
		Update("expires_at", time.Now().Add(-2*time.Hour)).Error)

	_, activeSession, err := sessionSvc.CreateSession(user.ID, iauth.SessionMetadata{TenantID: user.TenantID})
	require.NoError(t, err)

	// An audit row far beyond the retention window.
	require.NoError(t, auditSvc.Log(ctx, services.AuditEntry{
		TenantID: &user.TenantID,
		Action:   "test.old",
		Entity:   "license",
		Result:   "success",
	}))
	require.NoError(t, db.Model(&models.AuditLog{}).Where("action = ?", "test.old").
		Update("created_at", time.Now().AddDate(0, 0, -90)).Error)

	// A bound license that stopped checking in half an hour ago.
	license, err := licenseSvc.Create(ctx, services.CreateLicenseInput{TenantID: user.TenantID}, services.Actor{})
	require.NoError(t, err)
	result, err := licenseSvc.Validate(ctx, license.Key, "172.16.0.9")
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.NoError(t, db.Model(&models.License{}).Where("id = ?", license.ID).
		Update("last_seen_at", time.Now().Add(-30*time.Minute)).Error)

	// An expired cache row.
	require.NoError(t, cacheStore.Set(ctx, "cleanup:test", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	cleaner := NewCleaner(sessionSvc, auditSvc, licenseSvc, cacheStore, WithAuditRetentionDays(30))
	require.NoError(t, cleaner.RunOnce(ctx))

	var sessionCount int64
	require.NoError(t, db.Model(&models.Session{}).Count(&sessionCount).Error)
	require.Equal(t, int64(1), sessionCount)

	var remaining models.Session
	require.NoError(t, db.Take(&remaining, "id = ?", activeSession.ID).Error)

	var oldAudit int64
	require.NoError(t, db.Model(&models.AuditLog{}).Where("action = ?", "test.old").Count(&oldAudit).Error)
	require.Zero(t, oldAudit)

	var swept models.License
	require.NoError(t, db.Take(&swept, "id = ?", license.ID).Error)
	require.Nil(t, swept.CurrentIP)

	var closed models.LicenseSession
	require.NoError(t, db.Take(&closed, "license_id = ?", license.ID).Error)
	require.NotNil(t, closed.EndedAt)
	require.Equal(t, models.LicenseSessionEndForceRelease, closed.EndedReason)

	var cacheRows int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Where("key LIKE ?", "cleanup:%").Count(&cacheRows).Error)
	require.Zero(t, cacheRows)
}

func TestCleanerStartRegistersJobs(t *testing.T) {
	db := newCleanupTestDB(t)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	cleaner := NewCleaner(nil, auditSvc, nil, nil,
		WithAuditSchedule("@every 1h"),
		WithAuditRetentionDays(7),
	)
	require.NoError(t, cleaner.Start())
	<-cleaner.Stop().Done()
}
