package models

import "gorm.io/datatypes"

// Tenant is the top-level isolation unit. Every contract, license, and
// journal entry belongs to exactly one tenant.
type Tenant struct {
	BaseModel

	Name     string         `gorm:"not null;uniqueIndex" json:"name"`
	Slug     string         `gorm:"not null;uniqueIndex" json:"slug"`
	Currency string         `gorm:"size:3;default:'USD'" json:"currency"`
	IsActive bool           `gorm:"default:true" json:"is_active"`
	Settings datatypes.JSON `json:"settings"`

	Users     []User     `gorm:"foreignKey:TenantID" json:"users,omitempty"`
	Contracts []Contract `gorm:"foreignKey:TenantID" json:"contracts,omitempty"`
	Licenses  []License  `gorm:"foreignKey:TenantID" json:"licenses,omitempty"`
}
