package models

import "time"

// RevenueScheduleEntry is one period of planned revenue for an obligation.
// Period is the first day of the month the amount belongs to.
type RevenueScheduleEntry struct {
	BaseModel

	ObligationID string                 `gorm:"type:uuid;not null;index" json:"obligation_id"`
	Obligation   *PerformanceObligation `gorm:"foreignKey:ObligationID" json:"obligation,omitempty"`

	Period      time.Time `gorm:"not null;index" json:"period"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`

	Recognized   bool       `gorm:"default:false;index" json:"recognized"`
	RecognizedAt *time.Time `json:"recognized_at"`

	// Set when recognition posts the corresponding journal entry.
	JournalEntryID *string `gorm:"type:uuid" json:"journal_entry_id"`
}
