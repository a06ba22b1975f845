package models

import "time"

// Well-known ledger accounts used by the recognition poster.
const (
	AccountDeferredRevenue = "deferred_revenue"
	AccountRevenue         = "revenue"
	AccountReceivable      = "accounts_receivable"
)

// JournalEntry groups balanced debit/credit lines posted on a single date.
type JournalEntry struct {
	BaseModel

	TenantID string  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Tenant   *Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`

	ContractID *string `gorm:"type:uuid;index" json:"contract_id"`

	PostedAt time.Time `gorm:"not null;index" json:"posted_at"`
	Memo     string    `json:"memo"`

	Lines []JournalLine `gorm:"foreignKey:EntryID" json:"lines,omitempty"`
}

// JournalLine is a single debit or credit against a ledger account.
// Within an entry the debit total must equal the credit total.
type JournalLine struct {
	BaseModel

	EntryID string        `gorm:"type:uuid;not null;index" json:"entry_id"`
	Entry   *JournalEntry `gorm:"foreignKey:EntryID" json:"entry,omitempty"`

	Account     string `gorm:"not null;index" json:"account"`
	DebitCents  int64  `gorm:"not null;default:0" json:"debit_cents"`
	CreditCents int64  `gorm:"not null;default:0" json:"credit_cents"`
}
