package services

import (
	"context"
	cryptoRand "crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finbase/revrec/internal/models"
	"github.com/finbase/revrec/pkg/metrics"
)

// Sentinel errors surfaced by license operations.
var (
	ErrLicenseNotFound  = errors.New("license service: license not found")
	ErrLicenseNotActive = errors.New("license service: license is not active")
	// ErrLicenseAlreadyActivated marks an activation attempt by a user other
	// than the one who first activated the license.
	ErrLicenseAlreadyActivated = errors.New("license service: license already activated by another user")
	ErrLicenseKeyExhausted     = errors.New("license service: could not generate a unique license key")
)

// Validation outcomes. The values double as metric label values.
const (
	ValidationOutcomeActivated = "activated"
	ValidationOutcomeRenewed   = "renewed"
	ValidationOutcomeMigrated  = "migrated"
	ValidationOutcomeNotFound  = "not_found"
	ValidationOutcomeNotActive = "not_active"
	ValidationOutcomeInUse     = "in_use"
)

const (
	licenseKeyPrefix   = "LIC-"
	licenseKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	licenseKeyLength   = 8
	licenseKeyAttempts = 5

	// DefaultGraceWindow bounds an administratively granted IP migration.
	DefaultGraceWindow = 15 * time.Minute
	// DefaultStaleAfter is the liveness horizon for bound licenses that have
	// stopped checking in.
	DefaultStaleAfter = 10 * time.Minute
)

// LicenseOption customises a LicenseService.
type LicenseOption func(*LicenseService)

// WithLicenseClock injects a deterministic clock for tests.
func WithLicenseClock(clock func() time.Time) LicenseOption {
	return func(s *LicenseService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithGraceWindow overrides the default grace window used by GrantGrace.
func WithGraceWindow(window time.Duration) LicenseOption {
	return func(s *LicenseService) {
		if window > 0 {
			s.graceWindow = window
		}
	}
}

// WithStaleAfter overrides the liveness horizon used by the stale sweep.
func WithStaleAfter(age time.Duration) LicenseOption {
	return func(s *LicenseService) {
		if age > 0 {
			s.staleAfter = age
		}
	}
}

// Actor identifies who triggered an operation, for the audit trail.
type Actor struct {
	UserID    *string
	TenantID  *string
	IPAddress string
	UserAgent string
}

// ValidationResult reports the outcome of a license check-in. CurrentIP is
// populated only on an in-use denial, deliberately disclosing the conflicting
// binding so a locked-out user can recognise their own other device.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message"`
	CurrentIP string `json:"current_ip,omitempty"`
}

// CreateLicenseInput describes an administratively created license.
type CreateLicenseInput struct {
	TenantID string
	Seats    int
}

// ActivateInput carries the parameters of a user-facing activation.
type ActivateInput struct {
	UserID     string
	LicenseKey string
	IP         string
	UserAgent  string
}

// LicenseService owns the lifecycle of a license key's single-IP binding:
// activation, check-in validation, grace-window migration, release,
// suspension, and revocation. Every mutation and its audit entry commit in
// one transaction.
type LicenseService struct {
	db    *gorm.DB
	audit *AuditService

	now         func() time.Time
	graceWindow time.Duration
	staleAfter  time.Duration
}

// NewLicenseService constructs a LicenseService.
func NewLicenseService(db *gorm.DB, audit *AuditService, opts ...LicenseOption) (*LicenseService, error) {
	if db == nil {
		return nil, errors.New("license service: db is required")
	}
	if audit == nil {
		return nil, errors.New("license service: audit service is required")
	}

	service := &LicenseService{
		db:          db,
		audit:       audit,
		now:         time.Now,
		graceWindow: DefaultGraceWindow,
		staleAfter:  DefaultStaleAfter,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Create issues a fresh license with a generated key and no binding.
func (s *LicenseService) Create(ctx context.Context, input CreateLicenseInput, actor Actor) (*models.License, error) {
	ctx = ensureContext(ctx)

	tenantID := strings.TrimSpace(input.TenantID)
	if tenantID == "" {
		return nil, errors.New("license service: tenant id is required")
	}
	seats := input.Seats
	if seats <= 0 {
		seats = 1
	}

	var license *models.License
	for attempt := 0; attempt < licenseKeyAttempts; attempt++ {
		key, err := generateLicenseKey()
		if err != nil {
			return nil, fmt.Errorf("license service: generate key: %w", err)
		}

		candidate := &models.License{
			TenantID: tenantID,
			Key:      key,
			Status:   models.LicenseStatusActive,
			Seats:    seats,
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(candidate).Error; err != nil {
				return err
			}
			return s.audit.LogTx(ctx, tx, AuditEntry{
				TenantID:  &candidate.TenantID,
				UserID:    actor.UserID,
				Action:    "license.create",
				Entity:    "license",
				EntityID:  candidate.ID,
				Result:    "success",
				IPAddress: actor.IPAddress,
				UserAgent: actor.UserAgent,
				After:     licenseSnapshot(candidate),
			})
		})
		if err == nil {
			license = candidate
			break
		}
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("license service: create license: %w", err)
		}
	}

	if license == nil {
		return nil, ErrLicenseKeyExhausted
	}

	return license, nil
}

// Get loads a license by id.
func (s *LicenseService) Get(ctx context.Context, licenseID string) (*models.License, error) {
	ctx = ensureContext(ctx)

	var license models.License
	err := s.db.WithContext(ctx).Take(&license, "id = ?", strings.TrimSpace(licenseID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("license service: load license: %w", err)
	}
	return &license, nil
}

// List returns licenses, optionally scoped to a tenant and to those currently bound.
func (s *LicenseService) List(ctx context.Context, tenantID string, onlyBound bool) ([]models.License, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.License{}).Order("created_at DESC")
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if onlyBound {
		query = query.Where("current_ip IS NOT NULL")
	}

	var licenses []models.License
	if err := query.Find(&licenses).Error; err != nil {
		return nil, fmt.Errorf("license service: list licenses: %w", err)
	}
	return licenses, nil
}

// Sessions returns the binding trail for a license, newest first.
func (s *LicenseService) Sessions(ctx context.Context, licenseID string) ([]models.LicenseSession, error) {
	ctx = ensureContext(ctx)

	var sessions []models.LicenseSession
	err := s.db.WithContext(ctx).
		Where("license_id = ?", strings.TrimSpace(licenseID)).
		Order("started_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("license service: list sessions: %w", err)
	}
	return sessions, nil
}

// Activate performs the one-time user-facing activation of a license key.
// The first activating user becomes the license's permanent owner; later
// attempts by a different identity are rejected.
func (s *LicenseService) Activate(ctx context.Context, input ActivateInput) error {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	key := strings.TrimSpace(input.LicenseKey)
	ip := strings.TrimSpace(input.IP)
	if userID == "" || key == "" || ip == "" {
		return errors.New("license service: user id, license key and ip are required")
	}

	// The gauge moves only after the transaction commits; a rollback must
	// not leave it drifted.
	newlyBound := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := lockLicenseByKey(tx, key)
		if err != nil {
			return err
		}

		if license.Status != models.LicenseStatusActive {
			return ErrLicenseNotActive
		}
		if license.ActivatedByUserID != nil && *license.ActivatedByUserID != userID {
			return ErrLicenseAlreadyActivated
		}

		before := licenseSnapshot(license)
		now := s.now()

		newlyBound = !license.InUse()
		if license.ActivatedAt == nil {
			license.ActivatedAt = &now
			license.ActivatedByUserID = &userID
			license.ActivationIP = ip
		}

		if err := s.rebind(tx, license, ip, &userID, models.LicenseSessionEndIPChange, now); err != nil {
			return err
		}

		userUpdates := map[string]any{
			"is_active":            true,
			"license_key":          license.Key,
			"license_activated_at": now,
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(userUpdates).Error; err != nil {
			return fmt.Errorf("license service: stamp user: %w", err)
		}

		return s.audit.LogTx(ctx, tx, AuditEntry{
			TenantID:  &license.TenantID,
			UserID:    &userID,
			Action:    "license.activate",
			Entity:    "license",
			EntityID:  license.ID,
			Result:    "success",
			IPAddress: ip,
			UserAgent: input.UserAgent,
			Before:    before,
			After:     licenseSnapshot(license),
		})
	})
	if err != nil {
		return err
	}

	if newlyBound {
		metrics.ActiveLicenseBindings.Inc()
	}
	return nil
}

// Validate handles a client check-in against the single-IP binding. The
// decision order is fixed: unknown key, inactive status, first bind, same-IP
// renewal, grace-window migration, then denial with the conflicting IP.
func (s *LicenseService) Validate(ctx context.Context, key, ip string) (*ValidationResult, error) {
	ctx = ensureContext(ctx)

	key = strings.TrimSpace(key)
	ip = strings.TrimSpace(ip)
	if key == "" || ip == "" {
		return nil, errors.New("license service: license key and ip are required")
	}

	var result *ValidationResult
	claimedBinding := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := lockLicenseByKey(tx, key)
		if errors.Is(err, ErrLicenseNotFound) {
			result = &ValidationResult{
				Valid:   false,
				Outcome: ValidationOutcomeNotFound,
				Message: "License key not found",
			}
			return nil
		}
		if err != nil {
			return err
		}

		if license.Status != models.LicenseStatusActive {
			result = &ValidationResult{
				Valid:   false,
				Outcome: ValidationOutcomeNotActive,
				Message: fmt.Sprintf("License is %s", license.Status),
			}
			return s.audit.LogTx(ctx, tx, AuditEntry{
				TenantID:  &license.TenantID,
				Action:    "license.validate",
				Entity:    "license",
				EntityID:  license.ID,
				Result:    "denied",
				IPAddress: ip,
				After:     map[string]any{"outcome": ValidationOutcomeNotActive},
			})
		}

		now := s.now()

		if !license.InUse() {
			// Conditional update so two racing first binds cannot both win:
			// only the writer that still sees a null current_ip succeeds.
			claim := tx.Model(&models.License{}).
				Where("id = ? AND current_ip IS NULL", license.ID).
				Updates(map[string]any{
					"current_ip":   ip,
					"locked_at":    now,
					"last_seen_at": now,
				})
			if claim.Error != nil {
				return fmt.Errorf("license service: claim binding: %w", claim.Error)
			}
			if claim.RowsAffected == 0 {
				if err := tx.Take(license, "id = ?", license.ID).Error; err != nil {
					return fmt.Errorf("license service: reload license: %w", err)
				}
				return s.denyInUse(ctx, tx, license, ip, &result)
			}

			license.CurrentIP = &ip
			license.LockedAt = &now
			license.LastSeenAt = &now

			if err := s.openSession(tx, license, ip, nil, now); err != nil {
				return err
			}

			claimedBinding = true
			result = &ValidationResult{
				Valid:   true,
				Outcome: ValidationOutcomeActivated,
				Message: "License activated for this IP",
			}
			return s.audit.LogTx(ctx, tx, AuditEntry{
				TenantID:  &license.TenantID,
				Action:    "license.validate",
				Entity:    "license",
				EntityID:  license.ID,
				Result:    "success",
				IPAddress: ip,
				After:     map[string]any{"outcome": ValidationOutcomeActivated, "current_ip": ip},
			})
		}

		if *license.CurrentIP == ip {
			if err := tx.Model(license).Update("last_seen_at", now).Error; err != nil {
				return fmt.Errorf("license service: update last seen: %w", err)
			}
			result = &ValidationResult{
				Valid:   true,
				Outcome: ValidationOutcomeRenewed,
				Message: "Session renewed",
			}
			return nil
		}

		if license.GraceOpen(now) {
			before := licenseSnapshot(license)
			previousIP := *license.CurrentIP

			if err := s.rebind(tx, license, ip, license.CurrentUserID, models.LicenseSessionEndIPChange, now); err != nil {
				return err
			}
			license.GraceUntil = nil
			if err := tx.Model(license).Update("grace_until", nil).Error; err != nil {
				return fmt.Errorf("license service: clear grace window: %w", err)
			}

			result = &ValidationResult{
				Valid:   true,
				Outcome: ValidationOutcomeMigrated,
				Message: "IP changed within grace period",
			}
			return s.audit.LogTx(ctx, tx, AuditEntry{
				TenantID:  &license.TenantID,
				Action:    "license.validate",
				Entity:    "license",
				EntityID:  license.ID,
				Result:    "success",
				IPAddress: ip,
				Before:    before,
				After:     map[string]any{"outcome": ValidationOutcomeMigrated, "previous_ip": previousIP, "current_ip": ip},
			})
		}

		return s.denyInUse(ctx, tx, license, ip, &result)
	})
	if err != nil {
		return nil, err
	}

	if claimedBinding {
		metrics.ActiveLicenseBindings.Inc()
	}
	metrics.LicenseValidations.WithLabelValues(result.Outcome).Inc()
	return result, nil
}

// Heartbeat refreshes liveness for the license matched by key. No IP check is
// performed; Validate is the operation that enforces the binding.
func (s *LicenseService) Heartbeat(ctx context.Context, key string) error {
	ctx = ensureContext(ctx)

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("license service: license key is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.License{}).
		Where("key = ?", key).
		Update("last_seen_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("license service: heartbeat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrLicenseNotFound
	}
	return nil
}

// Release clears the binding on behalf of the license holder. The license
// stays active and the next Validate from any IP binds afresh.
func (s *LicenseService) Release(ctx context.Context, licenseID string, actor Actor) error {
	return s.release(ctx, licenseID, actor, models.LicenseSessionEndForceRelease, "license.release")
}

// AdminRelease clears the binding via the administrative surface.
func (s *LicenseService) AdminRelease(ctx context.Context, licenseID string, actor Actor) error {
	return s.release(ctx, licenseID, actor, models.LicenseSessionEndAdminForceRelease, "license.admin_release")
}

// Suspend blocks further check-ins without touching the binding metadata.
func (s *LicenseService) Suspend(ctx context.Context, licenseID string, actor Actor) error {
	return s.setStatus(ctx, licenseID, actor, models.LicenseStatusSuspended, "license.suspend")
}

// AdminSuspend blocks further check-ins via the administrative surface.
func (s *LicenseService) AdminSuspend(ctx context.Context, licenseID string, actor Actor) error {
	return s.setStatus(ctx, licenseID, actor, models.LicenseStatusSuspended, "license.admin_suspend")
}

// AdminActivate restores a suspended license. Only the status changes: a
// pre-existing binding resumes being enforced as-is.
func (s *LicenseService) AdminActivate(ctx context.Context, licenseID string, actor Actor) error {
	return s.setStatus(ctx, licenseID, actor, models.LicenseStatusActive, "license.admin_activate")
}

// Revoke permanently retires a license and tears down its binding.
func (s *LicenseService) Revoke(ctx context.Context, licenseID string, actor Actor) error {
	return s.revoke(ctx, licenseID, actor, models.LicenseSessionEndRevoked, "license.revoke")
}

// AdminRevoke permanently retires a license via the administrative surface.
func (s *LicenseService) AdminRevoke(ctx context.Context, licenseID string, actor Actor) error {
	return s.revoke(ctx, licenseID, actor, models.LicenseSessionEndAdminRevoked, "license.admin_revoke")
}

// GrantGrace opens a bounded window during which the next Validate from a new
// IP migrates the binding instead of being denied. Zero window means the
// configured default.
func (s *LicenseService) GrantGrace(ctx context.Context, licenseID string, window time.Duration, actor Actor) (*models.License, error) {
	ctx = ensureContext(ctx)

	if window <= 0 {
		window = s.graceWindow
	}

	var updated *models.License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := lockLicenseByID(tx, licenseID)
		if err != nil {
			return err
		}
		if license.Status != models.LicenseStatusActive {
			return ErrLicenseNotActive
		}

		before := licenseSnapshot(license)
		until := s.now().Add(window)
		license.GraceUntil = &until

		if err := tx.Model(license).Update("grace_until", until).Error; err != nil {
			return fmt.Errorf("license service: grant grace: %w", err)
		}

		updated = license
		return s.audit.LogTx(ctx, tx, AuditEntry{
			TenantID:  &license.TenantID,
			UserID:    actor.UserID,
			Action:    "license.grant_grace",
			Entity:    "license",
			EntityID:  license.ID,
			Result:    "success",
			IPAddress: actor.IPAddress,
			UserAgent: actor.UserAgent,
			Before:    before,
			After:     licenseSnapshot(license),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// StaleBindings lists licenses still bound to an IP whose last check-in is
// older than the liveness horizon.
func (s *LicenseService) StaleBindings(ctx context.Context) ([]models.License, error) {
	ctx = ensureContext(ctx)

	cutoff := s.now().Add(-s.staleAfter)

	var licenses []models.License
	err := s.db.WithContext(ctx).
		Where("current_ip IS NOT NULL").
		Where("last_seen_at IS NULL OR last_seen_at < ?", cutoff).
		Find(&licenses).Error
	if err != nil {
		return nil, fmt.Errorf("license service: list stale bindings: %w", err)
	}
	return licenses, nil
}

// ReleaseStale force-releases every stale binding. Invoked by the maintenance
// sweep; each release commits independently so one failure does not block the
// rest.
func (s *LicenseService) ReleaseStale(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)

	stale, err := s.StaleBindings(ctx)
	if err != nil {
		return 0, err
	}

	released := 0
	var errs []error
	for i := range stale {
		if err := s.release(ctx, stale[i].ID, Actor{}, models.LicenseSessionEndForceRelease, "license.stale_release"); err != nil {
			errs = append(errs, fmt.Errorf("license %s: %w", stale[i].ID, err))
			continue
		}
		released++
	}

	return released, errors.Join(errs...)
}

func (s *LicenseService) release(ctx context.Context, licenseID string, actor Actor, reason, action string) error {
	ctx = ensureContext(ctx)

	wasBound := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := lockLicenseByID(tx, licenseID)
		if err != nil {
			return err
		}

		before := licenseSnapshot(license)
		now := s.now()
		wasBound = license.InUse()

		if err := s.closeOpenSessions(tx, license.ID, reason, now); err != nil {
			return err
		}

		if err := tx.Model(license).Updates(map[string]any{
			"current_ip":      nil,
			"current_user_id": nil,
			"locked_at":       nil,
		}).Error; err != nil {
			return fmt.Errorf("license service: clear binding: %w", err)
		}
		license.CurrentIP = nil
		license.CurrentUserID = nil
		license.LockedAt = nil

		return s.audit.LogTx(ctx, tx, AuditEntry{
			TenantID:  &license.TenantID,
			UserID:    actor.UserID,
			Action:    action,
			Entity:    "license",
			EntityID:  license.ID,
			Result:    "success",
			IPAddress: actor.IPAddress,
			UserAgent: actor.UserAgent,
			Before:    before,
			After:     licenseSnapshot(license),
		})
	})
	if err != nil {
		return err
	}

	if wasBound {
		metrics.ActiveLicenseBindings.Dec()
	}
	return nil
}

func (s *LicenseService) setStatus(ctx context.Context, licenseID string, actor Actor, status, action string) error {
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := lockLicenseByID(tx, licenseID)
		if err != nil {
			return err
		}
		if license.Status == models.LicenseStatusRevoked {
			return ErrLicenseNotActive
		}

		before := licenseSnapshot(license)
		license.Status = status

		if err := tx.Model(license).Update("status", status).Error; err != nil {
			return fmt.Errorf("license service: set status: %w", err)
		}

		return s.audit.LogTx(ctx, tx, AuditEntry{
			TenantID:  &license.TenantID,
			UserID:    actor.UserID,
			Action:    action,
			Entity:    "license",
			EntityID:  license.ID,
			Result:    "success",
			IPAddress: actor.IPAddress,
			UserAgent: actor.UserAgent,
			Before:    before,
			After:     licenseSnapshot(license),
		})
	})
}

func (s *LicenseService) revoke(ctx context.Context, licenseID string, actor Actor, reason, action string) error {
	ctx = ensureContext(ctx)

	wasBound := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := lockLicenseByID(tx, licenseID)
		if err != nil {
			return err
		}

		before := licenseSnapshot(license)
		now := s.now()
		wasBound = license.InUse()

		if err := s.closeOpenSessions(tx, license.ID, reason, now); err != nil {
			return err
		}

		if err := tx.Model(license).Updates(map[string]any{
			"status":          models.LicenseStatusRevoked,
			"current_ip":      nil,
			"current_user_id": nil,
			"locked_at":       nil,
			"grace_until":     nil,
		}).Error; err != nil {
			return fmt.Errorf("license service: revoke: %w", err)
		}
		license.Status = models.LicenseStatusRevoked
		license.CurrentIP = nil
		license.CurrentUserID = nil
		license.LockedAt = nil
		license.GraceUntil = nil

		return s.audit.LogTx(ctx, tx, AuditEntry{
			TenantID:  &license.TenantID,
			UserID:    actor.UserID,
			Action:    action,
			Entity:    "license",
			EntityID:  license.ID,
			Result:    "success",
			IPAddress: actor.IPAddress,
			UserAgent: actor.UserAgent,
			Before:    before,
			After:     licenseSnapshot(license),
		})
	})
	if err != nil {
		return err
	}

	if wasBound {
		metrics.ActiveLicenseBindings.Dec()
	}
	return nil
}

// rebind is the single path through which a license changes its binding: it
// closes any open session, then opens a new one and writes the binding fields.
// Keeping both Activate and the migration branch on this path preserves the
// one-open-session invariant.
func (s *LicenseService) rebind(tx *gorm.DB, license *models.License, ip string, userID *string, closeReason string, now time.Time) error {
	if err := s.closeOpenSessions(tx, license.ID, closeReason, now); err != nil {
		return err
	}

	updates := map[string]any{
		"current_ip":   ip,
		"locked_at":    now,
		"last_seen_at": now,
	}
	if userID != nil {
		updates["current_user_id"] = *userID
	}
	if license.ActivatedAt != nil {
		updates["activated_at"] = *license.ActivatedAt
	}
	if license.ActivatedByUserID != nil {
		updates["activated_by_user_id"] = *license.ActivatedByUserID
	}
	if license.ActivationIP != "" {
		updates["activation_ip"] = license.ActivationIP
	}

	if err := tx.Model(license).Updates(updates).Error; err != nil {
		return fmt.Errorf("license service: write binding: %w", err)
	}

	license.CurrentIP = &ip
	license.LockedAt = &now
	license.LastSeenAt = &now
	if userID != nil {
		license.CurrentUserID = userID
	}

	return s.openSession(tx, license, ip, userID, now)
}

func (s *LicenseService) openSession(tx *gorm.DB, license *models.License, ip string, userID *string, now time.Time) error {
	session := models.LicenseSession{
		LicenseID: license.ID,
		IPAddress: ip,
		UserID:    userID,
		StartedAt: now,
	}
	if err := tx.Create(&session).Error; err != nil {
		return fmt.Errorf("license service: open session: %w", err)
	}
	return nil
}

func (s *LicenseService) closeOpenSessions(tx *gorm.DB, licenseID, reason string, now time.Time) error {
	err := tx.Model(&models.LicenseSession{}).
		Where("license_id = ? AND ended_at IS NULL", licenseID).
		Updates(map[string]any{
			"ended_at":     now,
			"ended_reason": reason,
		}).Error
	if err != nil {
		return fmt.Errorf("license service: close open sessions: %w", err)
	}
	return nil
}

func (s *LicenseService) denyInUse(ctx context.Context, tx *gorm.DB, license *models.License, ip string, result **ValidationResult) error {
	currentIP := ""
	if license.CurrentIP != nil {
		currentIP = *license.CurrentIP
	}

	*result = &ValidationResult{
		Valid:     false,
		Outcome:   ValidationOutcomeInUse,
		Message:   "License is in use from another IP address",
		CurrentIP: currentIP,
	}

	return s.audit.LogTx(ctx, tx, AuditEntry{
		TenantID:  &license.TenantID,
		Action:    "license.validate",
		Entity:    "license",
		EntityID:  license.ID,
		Result:    "denied",
		IPAddress: ip,
		After:     map[string]any{"outcome": ValidationOutcomeInUse, "current_ip": currentIP},
	})
}

func lockLicenseByKey(tx *gorm.DB, key string) (*models.License, error) {
	var license models.License
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&license, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("license service: load license: %w", err)
	}
	return &license, nil
}

func lockLicenseByID(tx *gorm.DB, licenseID string) (*models.License, error) {
	licenseID = strings.TrimSpace(licenseID)
	if licenseID == "" {
		return nil, ErrLicenseNotFound
	}

	var license models.License
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&license, "id = ?", licenseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("license service: load license: %w", err)
	}
	return &license, nil
}

func licenseSnapshot(license *models.License) map[string]any {
	if license == nil {
		return nil
	}

	snapshot := map[string]any{
		"status": license.Status,
	}
	if license.CurrentIP != nil {
		snapshot["current_ip"] = *license.CurrentIP
	}
	if license.CurrentUserID != nil {
		snapshot["current_user_id"] = *license.CurrentUserID
	}
	if license.GraceUntil != nil {
		snapshot["grace_until"] = license.GraceUntil.UTC().Format(time.RFC3339)
	}
	return snapshot
}

func generateLicenseKey() (string, error) {
	buf := make([]byte, licenseKeyLength)
	if _, err := cryptoRand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = licenseKeyAlphabet[int(b)%len(licenseKeyAlphabet)]
	}
	return licenseKeyPrefix + string(buf), nil
}
