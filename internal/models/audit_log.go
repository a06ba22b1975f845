package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records one state-mutating action: who did what to which entity,
// with before/after snapshots for compliance review.
type AuditLog struct {
	ID       string  `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID *string `gorm:"type:uuid;index" json:"tenant_id"`
	UserID   *string `gorm:"type:uuid;index" json:"user_id"`
	User     *User   `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Action   string `gorm:"not null;index" json:"action"`
	Entity   string `gorm:"index" json:"entity"`
	EntityID string `gorm:"index" json:"entity_id"`
	Result   string `gorm:"not null" json:"result"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	Before datatypes.JSON `json:"before"`
	After  datatypes.JSON `json:"after"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
