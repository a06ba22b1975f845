package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/finbase/revrec/internal/models"
)

// Sentinel errors surfaced by journal operations.
var (
	ErrJournalUnbalanced = errors.New("journal service: debits and credits do not balance")
	ErrJournalEmpty      = errors.New("journal service: entry requires at least two lines")
)

// JournalLineInput is one debit or credit to post.
type JournalLineInput struct {
	Account     string
	DebitCents  int64
	CreditCents int64
}

// PostEntryInput describes a journal entry to post.
type PostEntryInput struct {
	TenantID   string
	ContractID *string
	PostedAt   time.Time
	Memo       string
	Lines      []JournalLineInput
}

// JournalService posts and queries balanced double-entry records. It never
// updates or deletes posted entries; corrections are posted as new entries.
type JournalService struct {
	db  *gorm.DB
	now func() time.Time
}

// JournalOption customises a JournalService.
type JournalOption func(*JournalService)

// WithJournalClock injects a deterministic clock for tests.
func WithJournalClock(clock func() time.Time) JournalOption {
	return func(s *JournalService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewJournalService constructs a JournalService.
func NewJournalService(db *gorm.DB, opts ...JournalOption) (*JournalService, error) {
	if db == nil {
		return nil, errors.New("journal service: db is required")
	}

	service := &JournalService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Post validates and persists a balanced entry in its own transaction.
func (s *JournalService) Post(ctx context.Context, input PostEntryInput) (*models.JournalEntry, error) {
	ctx = ensureContext(ctx)

	var entry *models.JournalEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posted, err := s.PostTx(ctx, tx, input)
		if err != nil {
			return err
		}
		entry = posted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PostTx validates and persists a balanced entry inside the caller's
// transaction, so recognition can post atomically with schedule updates.
func (s *JournalService) PostTx(ctx context.Context, tx *gorm.DB, input PostEntryInput) (*models.JournalEntry, error) {
	ctx = ensureContext(ctx)
	if tx == nil {
		tx = s.db
	}

	input.TenantID = strings.TrimSpace(input.TenantID)
	if input.TenantID == "" {
		return nil, errors.New("journal service: tenant id is required")
	}
	if len(input.Lines) < 2 {
		return nil, ErrJournalEmpty
	}

	var debits, credits int64
	for i := range input.Lines {
		line := &input.Lines[i]
		line.Account = strings.TrimSpace(line.Account)
		if line.Account == "" {
			return nil, errors.New("journal service: line account is required")
		}
		if line.DebitCents < 0 || line.CreditCents < 0 {
			return nil, errors.New("journal service: line amounts must be non-negative")
		}
		if (line.DebitCents == 0) == (line.CreditCents == 0) {
			return nil, errors.New("journal service: each line must be either a debit or a credit")
		}
		debits += line.DebitCents
		credits += line.CreditCents
	}
	if debits != credits || debits == 0 {
		return nil, ErrJournalUnbalanced
	}

	postedAt := input.PostedAt
	if postedAt.IsZero() {
		postedAt = s.now()
	}

	entry := &models.JournalEntry{
		TenantID:   input.TenantID,
		ContractID: input.ContractID,
		PostedAt:   postedAt,
		Memo:       strings.TrimSpace(input.Memo),
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("journal service: create entry: %w", err)
	}

	for _, line := range input.Lines {
		record := models.JournalLine{
			EntryID:     entry.ID,
			Account:     line.Account,
			DebitCents:  line.DebitCents,
			CreditCents: line.CreditCents,
		}
		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			return nil, fmt.Errorf("journal service: create line: %w", err)
		}
		entry.Lines = append(entry.Lines, record)
	}

	return entry, nil
}

// List returns entries for a tenant, newest posting first, with lines loaded.
func (s *JournalService) List(ctx context.Context, tenantID string, contractID string) ([]models.JournalEntry, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.JournalEntry{}).
		Where("tenant_id = ?", strings.TrimSpace(tenantID))
	if contractID = strings.TrimSpace(contractID); contractID != "" {
		query = query.Where("contract_id = ?", contractID)
	}

	var entries []models.JournalEntry
	if err := query.
		Preload("Lines").
		Order("posted_at DESC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal service: list entries: %w", err)
	}
	return entries, nil
}

// AccountBalance is the net position of one ledger account.
type AccountBalance struct {
	Account   string `json:"account"`
	NetCents  int64  `json:"net_cents"`
	DebitSum  int64  `json:"debit_cents"`
	CreditSum int64  `json:"credit_cents"`
}

// TrialBalance aggregates per-account totals for a tenant up to a cutoff.
// The sum of all NetCents values is zero by construction.
func (s *JournalService) TrialBalance(ctx context.Context, tenantID string, until time.Time) ([]AccountBalance, error) {
	ctx = ensureContext(ctx)

	if until.IsZero() {
		until = s.now()
	}

	var balances []AccountBalance
	err := s.db.WithContext(ctx).
		Model(&models.JournalLine{}).
		Select("journal_lines.account AS account, SUM(journal_lines.debit_cents) AS debit_sum, SUM(journal_lines.credit_cents) AS credit_sum, SUM(journal_lines.debit_cents - journal_lines.credit_cents) AS net_cents").
		Joins("JOIN journal_entries ON journal_entries.id = journal_lines.entry_id").
		Where("journal_entries.tenant_id = ? AND journal_entries.posted_at <= ?", strings.TrimSpace(tenantID), until).
		Group("journal_lines.account").
		Order("journal_lines.account").
		Scan(&balances).Error
	if err != nil {
		return nil, fmt.Errorf("journal service: trial balance: %w", err)
	}
	return balances, nil
}
