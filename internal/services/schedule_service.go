package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/finbase/revrec/internal/models"
	"github.com/finbase/revrec/pkg/metrics"
)

// Sentinel errors surfaced by schedule operations.
var (
	ErrScheduleExists       = errors.New("schedule service: schedules already generated for contract")
	ErrScheduleContractDate = errors.New("schedule service: contract has no end date for straight-line recognition")
)

// ScheduleService derives revenue and billing schedules from a contract and
// recognizes due periods by posting balanced journal entries.
//
// Allocation is a flat percentage split of the contract value across
// obligations. Straight-line obligations divide their share evenly over the
// calendar months between the contract dates, with the rounding remainder
// folded into the final period so the schedule sums exactly to the share.
type ScheduleService struct {
	db      *gorm.DB
	journal *JournalService
	audit   *AuditService
	now     func() time.Time
}

// ScheduleOption customises a ScheduleService.
type ScheduleOption func(*ScheduleService)

// WithScheduleClock injects a deterministic clock for tests.
func WithScheduleClock(clock func() time.Time) ScheduleOption {
	return func(s *ScheduleService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewScheduleService constructs a ScheduleService.
func NewScheduleService(db *gorm.DB, journal *JournalService, audit *AuditService, opts ...ScheduleOption) (*ScheduleService, error) {
	if db == nil {
		return nil, errors.New("schedule service: db is required")
	}
	if journal == nil {
		return nil, errors.New("schedule service: journal service is required")
	}
	if audit == nil {
		return nil, errors.New("schedule service: audit service is required")
	}

	service := &ScheduleService{db: db, journal: journal, audit: audit, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Generate builds the revenue schedule for every obligation of a contract and
// a matching monthly billing schedule. It refuses to run twice for the same
// contract.
func (s *ScheduleService) Generate(ctx context.Context, contractID string, actor Actor) error {
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var contract models.Contract
		err := tx.Preload("Obligations").Take(&contract, "id = ?", strings.TrimSpace(contractID)).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrContractNotFound
		}
		if err != nil {
			return fmt.Errorf("schedule service: load contract: %w", err)
		}

		obligationIDs := make([]string, 0, len(contract.Obligations))
		for _, ob := range contract.Obligations {
			obligationIDs = append(obligationIDs, ob.ID)
		}
		var existing int64
		if err := tx.Model(&models.RevenueScheduleEntry{}).
			Where("obligation_id IN ?", obligationIDs).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("schedule service: check existing schedule: %w", err)
		}
		if existing > 0 {
			return ErrScheduleExists
		}

		for i := range contract.Obligations {
			if err := s.generateForObligation(tx, &contract, &contract.Obligations[i]); err != nil {
				return err
			}
		}

		if err := s.generateBilling(tx, &contract); err != nil {
			return err
		}

		return s.audit.LogTx(ctx, tx, AuditEntry{
			TenantID:  &contract.TenantID,
			UserID:    actor.UserID,
			Action:    "schedule.generate",
			Entity:    "contract",
			EntityID:  contract.ID,
			Result:    "success",
			IPAddress: actor.IPAddress,
			UserAgent: actor.UserAgent,
			After:     map[string]any{"obligations": len(contract.Obligations)},
		})
	})
}

// RecognizeDue posts revenue for every unrecognized schedule entry whose
// period has arrived. Each entry produces one balanced journal posting
// (debit deferred revenue, credit revenue) committed atomically with the
// entry's recognized flag.
func (s *ScheduleService) RecognizeDue(ctx context.Context, tenantID string, asOf time.Time) (int, error) {
	ctx = ensureContext(ctx)

	if asOf.IsZero() {
		asOf = s.now()
	}

	var due []models.RevenueScheduleEntry
	query := s.db.WithContext(ctx).
		Model(&models.RevenueScheduleEntry{}).
		Joins("JOIN performance_obligations ON performance_obligations.id = revenue_schedule_entries.obligation_id").
		Joins("JOIN contracts ON contracts.id = performance_obligations.contract_id").
		Where("revenue_schedule_entries.recognized = ?", false).
		Where("revenue_schedule_entries.period <= ?", asOf).
		Where("contracts.status = ?", models.ContractStatusActive)
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		query = query.Where("contracts.tenant_id = ?", tenantID)
	}
	if err := query.Order("revenue_schedule_entries.period").Find(&due).Error; err != nil {
		return 0, fmt.Errorf("schedule service: find due entries: %w", err)
	}

	recognized := 0
	var errs []error
	for i := range due {
		if err := s.recognizeEntry(ctx, &due[i], asOf); err != nil {
			errs = append(errs, fmt.Errorf("entry %s: %w", due[i].ID, err))
			continue
		}
		recognized++
	}

	return recognized, errors.Join(errs...)
}

// RevenueOutlook summarises a contract's recognized versus deferred position.
type RevenueOutlook struct {
	ContractID       string `json:"contract_id"`
	TotalCents       int64  `json:"total_cents"`
	RecognizedCents  int64  `json:"recognized_cents"`
	DeferredCents    int64  `json:"deferred_cents"`
	PeriodsTotal     int    `json:"periods_total"`
	PeriodsRemaining int    `json:"periods_remaining"`
}

// Outlook reports how much of a contract's scheduled revenue has been
// recognized so far.
func (s *ScheduleService) Outlook(ctx context.Context, contractID string) (*RevenueOutlook, error) {
	ctx = ensureContext(ctx)

	contractID = strings.TrimSpace(contractID)

	var entries []models.RevenueScheduleEntry
	err := s.db.WithContext(ctx).
		Joins("JOIN performance_obligations ON performance_obligations.id = revenue_schedule_entries.obligation_id").
		Where("performance_obligations.contract_id = ?", contractID).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("schedule service: load schedule: %w", err)
	}

	outlook := &RevenueOutlook{ContractID: contractID, PeriodsTotal: len(entries)}
	for _, entry := range entries {
		outlook.TotalCents += entry.AmountCents
		if entry.Recognized {
			outlook.RecognizedCents += entry.AmountCents
		} else {
			outlook.PeriodsRemaining++
		}
	}
	outlook.DeferredCents = outlook.TotalCents - outlook.RecognizedCents
	return outlook, nil
}

func (s *ScheduleService) generateForObligation(tx *gorm.DB, contract *models.Contract, obligation *models.PerformanceObligation) error {
	allocated := contract.TotalValueCents * int64(obligation.AllocationPercent) / 100

	switch obligation.Method {
	case models.RecognitionPointInTime:
		entry := models.RevenueScheduleEntry{
			ObligationID: obligation.ID,
			Period:       monthStart(contract.StartDate),
			AmountCents:  allocated,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("schedule service: create schedule entry: %w", err)
		}
		return nil

	case models.RecognitionStraightLine:
		if contract.EndDate == nil {
			return ErrScheduleContractDate
		}

		months := monthsBetween(contract.StartDate, *contract.EndDate)
		perMonth := allocated / int64(months)
		remainder := allocated - perMonth*int64(months)

		for i := 0; i < months; i++ {
			amount := perMonth
			if i == months-1 {
				amount += remainder
			}
			entry := models.RevenueScheduleEntry{
				ObligationID: obligation.ID,
				Period:       monthStart(contract.StartDate).AddDate(0, i, 0),
				AmountCents:  amount,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("schedule service: create schedule entry: %w", err)
			}
		}
		return nil

	default:
		return fmt.Errorf("schedule service: unknown recognition method %q", obligation.Method)
	}
}

// generateBilling mirrors the revenue horizon with even monthly invoices of
// the full contract value.
func (s *ScheduleService) generateBilling(tx *gorm.DB, contract *models.Contract) error {
	months := 1
	if contract.EndDate != nil {
		months = monthsBetween(contract.StartDate, *contract.EndDate)
	}

	perMonth := contract.TotalValueCents / int64(months)
	remainder := contract.TotalValueCents - perMonth*int64(months)

	for i := 0; i < months; i++ {
		amount := perMonth
		if i == months-1 {
			amount += remainder
		}
		entry := models.BillingScheduleEntry{
			ContractID:  contract.ID,
			DueDate:     monthStart(contract.StartDate).AddDate(0, i, 0),
			AmountCents: amount,
			Status:      models.BillingStatusPending,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("schedule service: create billing entry: %w", err)
		}
	}
	return nil
}

func (s *ScheduleService) recognizeEntry(ctx context.Context, entry *models.RevenueScheduleEntry, asOf time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var obligation models.PerformanceObligation
		if err := tx.Take(&obligation, "id = ?", entry.ObligationID).Error; err != nil {
			return fmt.Errorf("load obligation: %w", err)
		}
		var contract models.Contract
		if err := tx.Take(&contract, "id = ?", obligation.ContractID).Error; err != nil {
			return fmt.Errorf("load contract: %w", err)
		}

		posted, err := s.journal.PostTx(ctx, tx, PostEntryInput{
			TenantID:   contract.TenantID,
			ContractID: &contract.ID,
			PostedAt:   asOf,
			Memo:       fmt.Sprintf("Revenue recognition %s / %s (%s)", contract.Number, obligation.Name, entry.Period.Format("2006-01")),
			Lines: []JournalLineInput{
				{Account: models.AccountDeferredRevenue, DebitCents: entry.AmountCents},
				{Account: models.AccountRevenue, CreditCents: entry.AmountCents},
			},
		})
		if err != nil {
			return err
		}

		// Guarded update so a concurrent sweep cannot recognize twice.
		result := tx.Model(&models.RevenueScheduleEntry{}).
			Where("id = ? AND recognized = ?", entry.ID, false).
			Updates(map[string]any{
				"recognized":       true,
				"recognized_at":    asOf,
				"journal_entry_id": posted.ID,
			})
		if result.Error != nil {
			return fmt.Errorf("mark recognized: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errors.New("entry already recognized")
		}

		metrics.RevenueRecognized.Inc()

		return s.audit.LogTx(ctx, tx, AuditEntry{
			TenantID: &contract.TenantID,
			Action:   "schedule.recognize",
			Entity:   "revenue_schedule_entry",
			EntityID: entry.ID,
			Result:   "success",
			After: map[string]any{
				"amount_cents":     entry.AmountCents,
				"journal_entry_id": posted.ID,
				"period":           entry.Period.Format("2006-01"),
			},
		})
	})
}

// monthStart normalises a date to the first day of its month in UTC.
func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthsBetween counts calendar months from the start month through the end
// month inclusive, never less than one.
func monthsBetween(start, end time.Time) int {
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month()) + 1
	if months < 1 {
		months = 1
	}
	return months
}
