package models

import "time"

// Billing entry status values.
const (
	BillingStatusPending  = "pending"
	BillingStatusInvoiced = "invoiced"
	BillingStatusPaid     = "paid"
)

// BillingScheduleEntry is one planned invoice for a contract. Billing and
// revenue schedules are deliberately independent; deferred revenue is the
// difference between the two.
type BillingScheduleEntry struct {
	BaseModel

	ContractID string    `gorm:"type:uuid;not null;index" json:"contract_id"`
	Contract   *Contract `gorm:"foreignKey:ContractID" json:"contract,omitempty"`

	DueDate     time.Time `gorm:"not null;index" json:"due_date"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`
	Status      string    `gorm:"not null;default:'pending';index" json:"status"`

	InvoicedAt *time.Time `json:"invoiced_at"`
}
