package models

import "time"

// Reasons recorded when a license session is closed.
const (
	LicenseSessionEndIPChange          = "ip_change"
	LicenseSessionEndForceRelease      = "force_release"
	LicenseSessionEndRevoked           = "revoked"
	LicenseSessionEndAdminForceRelease = "admin_force_release"
	LicenseSessionEndAdminRevoked      = "admin_revoked"
)

// LicenseSession is the append-only audit trail of IP bindings. For a given
// license at most one row has EndedAt == nil; that open row mirrors the
// license's current binding.
type LicenseSession struct {
	BaseModel

	LicenseID string   `gorm:"type:uuid;not null;index" json:"license_id"`
	License   *License `gorm:"foreignKey:LicenseID" json:"license,omitempty"`

	IPAddress string  `gorm:"not null" json:"ip_address"`
	UserID    *string `gorm:"type:uuid" json:"user_id"`

	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	EndedAt     *time.Time `gorm:"index" json:"ended_at"`
	EndedReason string     `json:"ended_reason"`
}
