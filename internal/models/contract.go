package models

import (
	"time"

	"gorm.io/datatypes"
)

// Contract status values.
const (
	ContractStatusDraft     = "draft"
	ContractStatusActive    = "active"
	ContractStatusCompleted = "completed"
	ContractStatusCancelled = "cancelled"
)

// Contract is a customer agreement whose transaction price is allocated
// across performance obligations and recognized over time.
type Contract struct {
	BaseModel

	TenantID string  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Tenant   *Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`

	Number       string `gorm:"not null;index" json:"number"`
	CustomerName string `gorm:"not null" json:"customer_name"`
	Status       string `gorm:"not null;default:'draft';index" json:"status"`

	// TotalValueCents is the transaction price in minor currency units.
	TotalValueCents int64  `gorm:"not null" json:"total_value_cents"`
	Currency        string `gorm:"size:3;default:'USD'" json:"currency"`

	StartDate time.Time  `gorm:"not null" json:"start_date"`
	EndDate   *time.Time `json:"end_date"`

	Terms datatypes.JSON `json:"terms"`

	Obligations []PerformanceObligation `gorm:"foreignKey:ContractID" json:"obligations,omitempty"`
	Billing     []BillingScheduleEntry  `gorm:"foreignKey:ContractID" json:"billing,omitempty"`
}
