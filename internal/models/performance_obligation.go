package models

import "time"

// Recognition methods supported by the schedule generator. The allocation is
// a flat percentage split of the contract value; straight_line divides the
// allocated amount evenly across whole months between the contract dates.
const (
	RecognitionPointInTime  = "point_in_time"
	RecognitionStraightLine = "straight_line"
)

// PerformanceObligation is a distinct promise within a contract carrying a
// share of the transaction price.
type PerformanceObligation struct {
	BaseModel

	ContractID string    `gorm:"type:uuid;not null;index" json:"contract_id"`
	Contract   *Contract `gorm:"foreignKey:ContractID" json:"contract,omitempty"`

	Name string `gorm:"not null" json:"name"`

	// AllocationPercent is a whole-number share of the contract value (0-100).
	AllocationPercent int    `gorm:"not null" json:"allocation_percent"`
	Method            string `gorm:"not null;default:'straight_line'" json:"method"`

	SatisfiedAt *time.Time `json:"satisfied_at"`

	Schedule []RevenueScheduleEntry `gorm:"foreignKey:ObligationID" json:"schedule,omitempty"`
}
