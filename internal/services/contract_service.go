package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finbase/revrec/internal/models"
)

// Sentinel errors surfaced by contract operations.
var (
	ErrContractNotFound          = errors.New("contract service: contract not found")
	ErrContractDuplicateNumber   = errors.New("contract service: contract number already exists for tenant")
	ErrContractInvalidTransition = errors.New("contract service: invalid status transition")
	ErrObligationNotFound        = errors.New("contract service: performance obligation not found")
	ErrContractInvalidInput      = errors.New("contract service: invalid contract input")
)

// ObligationInput describes one performance obligation at contract creation.
type ObligationInput struct {
	Name              string
	AllocationPercent int
	Method            string
}

// CreateContractInput carries the parameters of a new contract.
type CreateContractInput struct {
	TenantID        string
	Number          string
	CustomerName    string
	TotalValueCents int64
	Currency        string
	StartDate       time.Time
	EndDate         *time.Time
	Terms           map[string]any
	Obligations     []ObligationInput
}

// ContractListOptions controls contract listing.
type ContractListOptions struct {
	TenantID string
	Status   string
	Page     int
	PageSize int
}

// ContractService manages contracts and their performance obligations. The
// transaction price is allocated across obligations as whole-number
// percentage shares that must sum to 100.
type ContractService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// ContractOption customises a ContractService.
type ContractOption func(*ContractService)

// WithContractClock injects a deterministic clock for tests.
func WithContractClock(clock func() time.Time) ContractOption {
	return func(s *ContractService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewContractService constructs a ContractService.
func NewContractService(db *gorm.DB, audit *AuditService, opts ...ContractOption) (*ContractService, error) {
	if db == nil {
		return nil, errors.New("contract service: db is required")
	}
	if audit == nil {
		return nil, errors.New("contract service: audit service is required")
	}

	service := &ContractService{db: db, audit: audit, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create persists a contract together with its obligations.
func (s *ContractService) Create(ctx context.Context, input CreateContractInput, actor Actor) (*models.Contract, error) {
	ctx = ensureContext(ctx)

	if err := validateContractInput(&input); err != nil {
		return nil, err
	}

	contract := &models.Contract{
		TenantID:        input.TenantID,
		Number:          input.Number,
		CustomerName:    input.CustomerName,
		Status:          models.ContractStatusDraft,
		TotalValueCents: input.TotalValueCents,
		Currency:        input.Currency,
		StartDate:       input.StartDate,
		EndDate:         input.EndDate,
	}

	if input.Terms != nil {
		terms, err := json.Marshal(input.Terms)
		if err != nil {
			return nil, fmt.Errorf("contract service: marshal terms: %w", err)
		}
		contract.Terms = datatypes.JSON(terms)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Contract{}).
			Where("tenant_id = ? AND number = ?", input.TenantID, input.Number).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("contract service: check number: %w", err)
		}
		if existing > 0 {
			return ErrContractDuplicateNumber
		}

		if err := tx.Create(contract).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrContractDuplicateNumber
			}
			return fmt.Errorf("contract service: create contract: %w", err)
		}

		for _, input := range input.Obligations {
			obligation := models.PerformanceObligation{
				ContractID:        contract.ID,
				Name:              input.Name,
				AllocationPercent: input.AllocationPercent,
				Method:            input.Method,
			}
			if err := tx.Create(&obligation).Error; err != nil {
				return fmt.Errorf("contract service: create obligation: %w", err)
			}
			contract.Obligations = append(contract.Obligations, obligation)
		}

		return s.audit.LogTx(ctx, tx, AuditEntry{
			TenantID:  &contract.TenantID,
			UserID:    actor.UserID,
			Action:    "contract.create",
			Entity:    "contract",
			EntityID:  contract.ID,
			Result:    "success",
			IPAddress: actor.IPAddress,
			UserAgent: actor.UserAgent,
			After: map[string]any{
				"number":            contract.Number,
				"status":            contract.Status,
				"total_value_cents": contract.TotalValueCents,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return contract, nil
}

// Get loads a contract with its obligations and billing schedule.
func (s *ContractService) Get(ctx context.Context, contractID string) (*models.Contract, error) {
	ctx = ensureContext(ctx)

	var contract models.Contract
	err := s.db.WithContext(ctx).
		Preload("Obligations").
		Preload("Obligations.Schedule").
		Preload("Billing").
		Take(&contract, "id = ?", strings.TrimSpace(contractID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("contract service: load contract: %w", err)
	}
	return &contract, nil
}

// List returns paginated contracts for a tenant, newest first.
func (s *ContractService) List(ctx context.Context, opts ContractListOptions) ([]models.Contract, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Contract{})
	if tenantID := strings.TrimSpace(opts.TenantID); tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if status := strings.TrimSpace(opts.Status); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("contract service: count contracts: %w", err)
	}

	var contracts []models.Contract
	if err := query.
		Preload("Obligations").
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&contracts).Error; err != nil {
		return nil, 0, fmt.Errorf("contract service: list contracts: %w", err)
	}

	return contracts, total, nil
}

// contractTransitions enumerates the allowed status moves.
var contractTransitions = map[string][]string{
	models.ContractStatusDraft:  {models.ContractStatusActive, models.ContractStatusCancelled},
	models.ContractStatusActive: {models.ContractStatusCompleted, models.ContractStatusCancelled},
}

// SetStatus applies a status transition, rejecting moves the lifecycle does
// not allow (completed and cancelled are terminal).
func (s *ContractService) SetStatus(ctx context.Context, contractID, status string, actor Actor) (*models.Contract, error) {
	ctx = ensureContext(ctx)

	status = strings.TrimSpace(status)

	var updated *models.Contract
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var contract models.Contract
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&contract, "id = ?", strings.TrimSpace(contractID)).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrContractNotFound
		}
		if err != nil {
			return fmt.Errorf("contract service: load contract: %w", err)
		}

		allowed := false
		for _, next := range contractTransitions[contract.Status] {
			if next == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrContractInvalidTransition
		}

		before := map[string]any{"status": contract.Status}
		contract.Status = status
		if err := tx.Model(&contract).Update("status", status).Error; err != nil {
			return fmt.Errorf("contract service: update status: %w", err)
		}

		updated = &contract
		return s.audit.LogTx(ctx, tx, AuditEntry{
			TenantID:  &contract.TenantID,
			UserID:    actor.UserID,
			Action:    "contract.set_status",
			Entity:    "contract",
			EntityID:  contract.ID,
			Result:    "success",
			IPAddress: actor.IPAddress,
			UserAgent: actor.UserAgent,
			Before:    before,
			After:     map[string]any{"status": status},
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SatisfyObligation stamps a point-in-time obligation as satisfied.
func (s *ContractService) SatisfyObligation(ctx context.Context, obligationID string, actor Actor) (*models.PerformanceObligation, error) {
	ctx = ensureContext(ctx)

	var updated *models.PerformanceObligation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var obligation models.PerformanceObligation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&obligation, "id = ?", strings.TrimSpace(obligationID)).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrObligationNotFound
		}
		if err != nil {
			return fmt.Errorf("contract service: load obligation: %w", err)
		}

		if obligation.SatisfiedAt != nil {
			updated = &obligation
			return nil
		}

		now := s.now()
		obligation.SatisfiedAt = &now
		if err := tx.Model(&obligation).Update("satisfied_at", now).Error; err != nil {
			return fmt.Errorf("contract service: satisfy obligation: %w", err)
		}

		var contract models.Contract
		if err := tx.Select("tenant_id").Take(&contract, "id = ?", obligation.ContractID).Error; err != nil {
			return fmt.Errorf("contract service: load parent contract: %w", err)
		}

		updated = &obligation
		return s.audit.LogTx(ctx, tx, AuditEntry{
			TenantID:  &contract.TenantID,
			UserID:    actor.UserID,
			Action:    "contract.satisfy_obligation",
			Entity:    "performance_obligation",
			EntityID:  obligation.ID,
			Result:    "success",
			IPAddress: actor.IPAddress,
			UserAgent: actor.UserAgent,
			After:     map[string]any{"satisfied_at": now.UTC().Format(time.RFC3339)},
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func validateContractInput(input *CreateContractInput) error {
	input.TenantID = strings.TrimSpace(input.TenantID)
	input.Number = strings.TrimSpace(input.Number)
	input.CustomerName = strings.TrimSpace(input.CustomerName)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))

	if input.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrContractInvalidInput)
	}
	if input.Number == "" {
		return fmt.Errorf("%w: contract number is required", ErrContractInvalidInput)
	}
	if input.CustomerName == "" {
		return fmt.Errorf("%w: customer name is required", ErrContractInvalidInput)
	}
	if input.TotalValueCents <= 0 {
		return fmt.Errorf("%w: total value must be positive", ErrContractInvalidInput)
	}
	if input.Currency == "" {
		input.Currency = "USD"
	}
	if input.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrContractInvalidInput)
	}
	if input.EndDate != nil && input.EndDate.Before(input.StartDate) {
		return fmt.Errorf("%w: end date precedes start date", ErrContractInvalidInput)
	}
	if len(input.Obligations) == 0 {
		return fmt.Errorf("%w: at least one obligation is required", ErrContractInvalidInput)
	}

	percentTotal := 0
	for i := range input.Obligations {
		ob := &input.Obligations[i]
		ob.Name = strings.TrimSpace(ob.Name)
		if ob.Name == "" {
			return fmt.Errorf("%w: obligation name is required", ErrContractInvalidInput)
		}
		if ob.AllocationPercent <= 0 || ob.AllocationPercent > 100 {
			return fmt.Errorf("%w: allocation percent must be within 1-100", ErrContractInvalidInput)
		}
		switch ob.Method {
		case models.RecognitionStraightLine, models.RecognitionPointInTime:
		case "":
			ob.Method = models.RecognitionStraightLine
		default:
			return fmt.Errorf("%w: unknown recognition method %q", ErrContractInvalidInput, ob.Method)
		}
		percentTotal += ob.AllocationPercent
	}
	if percentTotal != 100 {
		return fmt.Errorf("%w: allocation percents sum to %d, want 100", ErrContractInvalidInput, percentTotal)
	}

	return nil
}
