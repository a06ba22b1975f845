package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finbase/revrec/internal/models"
	"github.com/finbase/revrec/pkg/metrics"
)

type licenseFixture struct {
	db      *gorm.DB
	svc     *LicenseService
	tenant  *models.Tenant
	user    *models.User
	license *models.License
	clock   *time.Time
}

func newLicenseFixture(t *testing.T) *licenseFixture {
	t.Helper()

	db := newServiceTestDB(t)
	tenant := seedTenant(t, db, "acme")
	user := seedUser(t, db, tenant.ID, "finance@acme.test")

	current := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	clock := &current

	audit, err := NewAuditService(db)
	require.NoError(t, err)

	svc, err := NewLicenseService(db, audit,
		WithLicenseClock(func() time.Time { return *clock }),
		WithGraceWindow(15*time.Minute),
		WithStaleAfter(10*time.Minute),
	)
	require.NoError(t, err)

	license, err := svc.Create(context.Background(), CreateLicenseInput{TenantID: tenant.ID, Seats: 1}, Actor{})
	require.NoError(t, err)

	return &licenseFixture{db: db, svc: svc, tenant: tenant, user: user, license: license, clock: clock}
}

func (f *licenseFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *licenseFixture) reload(t *testing.T) *models.License {
	t.Helper()

	var license models.License
	require.NoError(t, f.db.Take(&license, "id = ?", f.license.ID).Error)
	return &license
}

func (f *licenseFixture) openSessions(t *testing.T) []models.LicenseSession {
	t.Helper()

	var sessions []models.LicenseSession
	require.NoError(t, f.db.Where("license_id = ? AND ended_at IS NULL", f.license.ID).Find(&sessions).Error)
	return sessions
}

func TestCreateLicenseGeneratesKey(t *testing.T) {
	f := newLicenseFixture(t)

	require.True(t, strings.HasPrefix(f.license.Key, "LIC-"))
	require.Len(t, f.license.Key, len("LIC-")+8)
	require.Equal(t, models.LicenseStatusActive, f.license.Status)
	require.Equal(t, 1, f.license.Seats)
	require.Nil(t, f.license.CurrentIP)

	var auditCount int64
	require.NoError(t, f.db.Model(&models.AuditLog{}).Where("action = ?", "license.create").Count(&auditCount).Error)
	require.EqualValues(t, 1, auditCount)
}

func TestValidateUnknownKey(t *testing.T) {
	f := newLicenseFixture(t)

	result, err := f.svc.Validate(context.Background(), "LIC-MISSING1", "1.2.3.4")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, ValidationOutcomeNotFound, result.Outcome)
}

func TestValidateFirstBindWins(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	first, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, first.Valid)
	require.Equal(t, ValidationOutcomeActivated, first.Outcome)

	second, err := f.svc.Validate(ctx, f.license.Key, "9.9.9.9")
	require.NoError(t, err)
	require.False(t, second.Valid)
	require.Equal(t, ValidationOutcomeInUse, second.Outcome)
	require.Equal(t, "1.2.3.4", second.CurrentIP)

	license := f.reload(t)
	require.NotNil(t, license.CurrentIP)
	require.Equal(t, "1.2.3.4", *license.CurrentIP)
}

func TestValidateSameIPRenewsWithoutNewSession(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)

	firstSeen := f.reload(t).LastSeenAt
	require.NotNil(t, firstSeen)

	f.advance(5 * time.Minute)

	result, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, ValidationOutcomeRenewed, result.Outcome)

	license := f.reload(t)
	require.True(t, license.LastSeenAt.After(*firstSeen))

	var sessionCount int64
	require.NoError(t, f.db.Model(&models.LicenseSession{}).Where("license_id = ?", f.license.ID).Count(&sessionCount).Error)
	require.EqualValues(t, 1, sessionCount)
}

func TestValidateGraceMigration(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)

	_, err = f.svc.GrantGrace(ctx, f.license.ID, 0, Actor{})
	require.NoError(t, err)

	f.advance(5 * time.Minute)

	result, err := f.svc.Validate(ctx, f.license.Key, "5.6.7.8")
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, ValidationOutcomeMigrated, result.Outcome)

	license := f.reload(t)
	require.Equal(t, "5.6.7.8", *license.CurrentIP)
	require.Nil(t, license.GraceUntil)

	var closed models.LicenseSession
	require.NoError(t, f.db.Take(&closed, "license_id = ? AND ended_at IS NOT NULL", f.license.ID).Error)
	require.Equal(t, "1.2.3.4", closed.IPAddress)
	require.Equal(t, models.LicenseSessionEndIPChange, closed.EndedReason)

	open := f.openSessions(t)
	require.Len(t, open, 1)
	require.Equal(t, "5.6.7.8", open[0].IPAddress)
}

func TestValidateGraceExpired(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)

	_, err = f.svc.GrantGrace(ctx, f.license.ID, 10*time.Minute, Actor{})
	require.NoError(t, err)

	f.advance(11 * time.Minute)

	result, err := f.svc.Validate(ctx, f.license.Key, "5.6.7.8")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, ValidationOutcomeInUse, result.Outcome)
	require.Equal(t, "1.2.3.4", result.CurrentIP)
}

func TestActivateBindsLicenseAndStampsUser(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	err := f.svc.Activate(ctx, ActivateInput{
		UserID:     f.user.ID,
		LicenseKey: f.license.Key,
		IP:         "1.2.3.4",
	})
	require.NoError(t, err)

	license := f.reload(t)
	require.Equal(t, "1.2.3.4", *license.CurrentIP)
	require.Equal(t, f.user.ID, *license.CurrentUserID)
	require.Equal(t, f.user.ID, *license.ActivatedByUserID)
	require.Equal(t, "1.2.3.4", license.ActivationIP)
	require.NotNil(t, license.ActivatedAt)
	require.NotNil(t, license.LockedAt)

	var user models.User
	require.NoError(t, f.db.Take(&user, "id = ?", f.user.ID).Error)
	require.Equal(t, f.license.Key, user.LicenseKey)
	require.NotNil(t, user.LicenseActivatedAt)

	open := f.openSessions(t)
	require.Len(t, open, 1)
	require.Equal(t, f.user.ID, *open[0].UserID)
}

func TestActivateRejectsDifferentUser(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Activate(ctx, ActivateInput{
		UserID:     f.user.ID,
		LicenseKey: f.license.Key,
		IP:         "1.2.3.4",
	}))

	other := seedUser(t, f.db, f.tenant.ID, "intern@acme.test")
	err := f.svc.Activate(ctx, ActivateInput{
		UserID:     other.ID,
		LicenseKey: f.license.Key,
		IP:         "9.9.9.9",
	})
	require.ErrorIs(t, err, ErrLicenseAlreadyActivated)
}

func TestActivateKeepsSingleOpenSession(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	// Bind via the check-in path first, then activate from a new IP.
	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, f.svc.Activate(ctx, ActivateInput{
		UserID:     f.user.ID,
		LicenseKey: f.license.Key,
		IP:         "5.6.7.8",
	}))

	open := f.openSessions(t)
	require.Len(t, open, 1)
	require.Equal(t, "5.6.7.8", open[0].IPAddress)
}

func TestActivateUnknownKeyAndInactive(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	err := f.svc.Activate(ctx, ActivateInput{UserID: f.user.ID, LicenseKey: "LIC-MISSING1", IP: "1.2.3.4"})
	require.ErrorIs(t, err, ErrLicenseNotFound)

	require.NoError(t, f.svc.Suspend(ctx, f.license.ID, Actor{}))
	err = f.svc.Activate(ctx, ActivateInput{UserID: f.user.ID, LicenseKey: f.license.Key, IP: "1.2.3.4"})
	require.ErrorIs(t, err, ErrLicenseNotActive)
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)
	bound := f.reload(t).LastSeenAt

	f.advance(3 * time.Minute)

	require.NoError(t, f.svc.Heartbeat(ctx, f.license.Key))
	require.True(t, f.reload(t).LastSeenAt.After(*bound))

	require.ErrorIs(t, f.svc.Heartbeat(ctx, "LIC-MISSING1"), ErrLicenseNotFound)
}

func TestReleaseUnlocksFully(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, f.svc.Release(ctx, f.license.ID, Actor{UserID: &f.user.ID}))

	license := f.reload(t)
	require.Nil(t, license.CurrentIP)
	require.Nil(t, license.CurrentUserID)
	require.Nil(t, license.LockedAt)
	require.Equal(t, models.LicenseStatusActive, license.Status)

	var closed models.LicenseSession
	require.NoError(t, f.db.Take(&closed, "license_id = ? AND ended_at IS NOT NULL", f.license.ID).Error)
	require.Equal(t, models.LicenseSessionEndForceRelease, closed.EndedReason)

	// Any IP can now bind afresh.
	result, err := f.svc.Validate(ctx, f.license.Key, "9.9.9.9")
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, ValidationOutcomeActivated, result.Outcome)
}

func TestReleaseIsIdempotentWhenUnbound(t *testing.T) {
	f := newLicenseFixture(t)

	require.NoError(t, f.svc.Release(context.Background(), f.license.ID, Actor{}))

	license := f.reload(t)
	require.Nil(t, license.CurrentIP)
	require.Equal(t, models.LicenseStatusActive, license.Status)
}

func TestAdminReleaseRecordsAdminReason(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, f.svc.AdminRelease(ctx, f.license.ID, Actor{}))

	var closed models.LicenseSession
	require.NoError(t, f.db.Take(&closed, "license_id = ? AND ended_at IS NOT NULL", f.license.ID).Error)
	require.Equal(t, models.LicenseSessionEndAdminForceRelease, closed.EndedReason)
}

func TestSuspendBlocksWithoutUnbinding(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, f.svc.Suspend(ctx, f.license.ID, Actor{}))

	result, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, ValidationOutcomeNotActive, result.Outcome)

	license := f.reload(t)
	require.Equal(t, models.LicenseStatusSuspended, license.Status)
	require.NotNil(t, license.CurrentIP)
	require.Equal(t, "1.2.3.4", *license.CurrentIP)
}

func TestAdminActivateRestoresPriorBinding(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)
	require.NoError(t, f.svc.AdminSuspend(ctx, f.license.ID, Actor{}))
	require.NoError(t, f.svc.AdminActivate(ctx, f.license.ID, Actor{}))

	// The old binding resumes being enforced: same IP renews, others denied.
	renewed, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, ValidationOutcomeRenewed, renewed.Outcome)

	denied, err := f.svc.Validate(ctx, f.license.Key, "9.9.9.9")
	require.NoError(t, err)
	require.Equal(t, ValidationOutcomeInUse, denied.Outcome)
}

func TestRevokeIsTerminal(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, f.license.ID, Actor{}))

	license := f.reload(t)
	require.Equal(t, models.LicenseStatusRevoked, license.Status)
	require.Nil(t, license.CurrentIP)

	var closed models.LicenseSession
	require.NoError(t, f.db.Take(&closed, "license_id = ? AND ended_at IS NOT NULL", f.license.ID).Error)
	require.Equal(t, models.LicenseSessionEndRevoked, closed.EndedReason)

	result, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, ValidationOutcomeNotActive, result.Outcome)

	err = f.svc.Activate(ctx, ActivateInput{UserID: f.user.ID, LicenseKey: f.license.Key, IP: "1.2.3.4"})
	require.ErrorIs(t, err, ErrLicenseNotActive)

	// No path out of revoked, not even via admin reactivation.
	require.ErrorIs(t, f.svc.AdminActivate(ctx, f.license.ID, Actor{}), ErrLicenseNotActive)
}

func TestGrantGraceRequiresActiveLicense(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Suspend(ctx, f.license.ID, Actor{}))

	_, err := f.svc.GrantGrace(ctx, f.license.ID, time.Minute, Actor{})
	require.ErrorIs(t, err, ErrLicenseNotActive)
}

func TestEndToEndActivationScenario(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Activate(ctx, ActivateInput{
		UserID:     f.user.ID,
		LicenseKey: f.license.Key,
		IP:         "1.2.3.4",
	}))

	renewed, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, renewed.Valid)
	require.Equal(t, "Session renewed", renewed.Message)

	denied, err := f.svc.Validate(ctx, f.license.Key, "9.9.9.9")
	require.NoError(t, err)
	require.False(t, denied.Valid)
	require.Equal(t, ValidationOutcomeInUse, denied.Outcome)
	require.Equal(t, "1.2.3.4", denied.CurrentIP)
}

func TestSingleBindingInvariantAcrossSequence(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	steps := []func(){
		func() { _, _ = f.svc.Validate(ctx, f.license.Key, "1.1.1.1") },
		func() { _, _ = f.svc.Validate(ctx, f.license.Key, "2.2.2.2") },
		func() { _ = f.svc.Release(ctx, f.license.ID, Actor{}) },
		func() { _, _ = f.svc.Validate(ctx, f.license.Key, "3.3.3.3") },
		func() { _, _ = f.svc.GrantGrace(ctx, f.license.ID, time.Hour, Actor{}) },
		func() { _, _ = f.svc.Validate(ctx, f.license.Key, "4.4.4.4") },
		func() { _ = f.svc.Revoke(ctx, f.license.ID, Actor{}) },
	}

	for _, step := range steps {
		step()
		open := f.openSessions(t)
		require.LessOrEqual(t, len(open), 1)
		license := f.reload(t)
		if len(open) == 1 {
			require.NotNil(t, license.CurrentIP)
			require.Equal(t, *license.CurrentIP, open[0].IPAddress)
		}
	}

	require.Nil(t, f.reload(t).CurrentIP)
}

func TestStaleBindingSweep(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)

	// A second license that keeps checking in stays bound.
	fresh, err := f.svc.Create(ctx, CreateLicenseInput{TenantID: f.tenant.ID}, Actor{})
	require.NoError(t, err)

	f.advance(11 * time.Minute)

	_, err = f.svc.Validate(ctx, fresh.Key, "5.6.7.8")
	require.NoError(t, err)

	stale, err := f.svc.StaleBindings(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, f.license.ID, stale[0].ID)

	released, err := f.svc.ReleaseStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	require.Nil(t, f.reload(t).CurrentIP)

	var freshRow models.License
	require.NoError(t, f.db.Take(&freshRow, "id = ?", fresh.ID).Error)
	require.NotNil(t, freshRow.CurrentIP)
}

func TestValidateWritesAuditTrail(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)
	_, err = f.svc.Validate(ctx, f.license.Key, "9.9.9.9")
	require.NoError(t, err)

	var logs []models.AuditLog
	require.NoError(t, f.db.Where("action = ?", "license.validate").Order("created_at").Find(&logs).Error)
	require.Len(t, logs, 2)
	require.Equal(t, "success", logs[0].Result)
	require.Equal(t, "denied", logs[1].Result)
}

func TestBindingGaugeFollowsCommittedTransitionsOnly(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	baseline := testutil.ToFloat64(metrics.ActiveLicenseBindings)

	_, err := f.svc.Validate(ctx, f.license.Key, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, baseline+1, testutil.ToFloat64(metrics.ActiveLicenseBindings))

	require.NoError(t, f.svc.Release(ctx, f.license.ID, Actor{}))
	require.Equal(t, baseline, testutil.ToFloat64(metrics.ActiveLicenseBindings))

	// A bind whose transaction rolls back must not move the gauge. Dropping
	// the audit table makes the in-transaction audit write fail after the
	// binding columns were already claimed.
	require.NoError(t, f.db.Migrator().DropTable(&models.AuditLog{}))

	_, err = f.svc.Validate(ctx, f.license.Key, "9.9.9.9")
	require.Error(t, err)
	require.Equal(t, baseline, testutil.ToFloat64(metrics.ActiveLicenseBindings))
	require.Nil(t, f.reload(t).CurrentIP)
}
