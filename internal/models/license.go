package models

import (
	"time"
)

// License status values. A revoked license is terminal; suspended licenses
// can be re-activated by an administrator without touching the IP binding.
const (
	LicenseStatusActive    = "active"
	LicenseStatusSuspended = "suspended"
	LicenseStatusRevoked   = "revoked"
	LicenseStatusExpired   = "expired"
)

// License binds a license key to at most one IP address at a time.
// The license is "in use" iff CurrentIP is non-nil.
type License struct {
	BaseModel

	TenantID string  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Tenant   *Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`

	Key    string `gorm:"uniqueIndex;not null" json:"key"`
	Status string `gorm:"not null;default:'active';index" json:"status"`
	Seats  int    `gorm:"not null;default:1" json:"seats"`

	// Current binding. At most one non-null CurrentIP at a time.
	CurrentIP     *string    `json:"current_ip"`
	CurrentUserID *string    `gorm:"type:uuid" json:"current_user_id"`
	LockedAt      *time.Time `json:"locked_at"`
	LastSeenAt    *time.Time `gorm:"index" json:"last_seen_at"`

	// GraceUntil, when set, allows a one-shot migration to a new IP before
	// it elapses. Cleared as soon as it is consumed.
	GraceUntil *time.Time `json:"grace_until"`

	// Activation metadata, written once by the first successful Activate.
	ActivatedAt       *time.Time `json:"activated_at"`
	ActivatedByUserID *string    `gorm:"type:uuid" json:"activated_by_user_id"`
	ActivationIP      string     `json:"activation_ip"`

	Sessions []LicenseSession `gorm:"foreignKey:LicenseID" json:"sessions,omitempty"`
}

// InUse reports whether the license is currently bound to an IP.
func (l *License) InUse() bool {
	return l.CurrentIP != nil && *l.CurrentIP != ""
}

// GraceOpen reports whether an unconsumed grace window is still open at now.
func (l *License) GraceOpen(now time.Time) bool {
	return l.GraceUntil != nil && now.Before(*l.GraceUntil)
}
