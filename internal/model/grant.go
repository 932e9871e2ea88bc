package model

import (
	"time"
)

// AccessType is a permission level carried by a grant. Levels are ordered:
// admin includes write, write includes read.
type AccessType string

const (
	AccessRead  AccessType = "read"
	AccessWrite AccessType = "write"
	AccessAdmin AccessType = "admin"
)

var accessRanks = map[AccessType]int{
	AccessRead:  1,
	AccessWrite: 2,
	AccessAdmin: 3,
}

// AccessTypes lists the known levels from least to most permissive.
var AccessTypes = []AccessType{AccessRead, AccessWrite, AccessAdmin}

// Rank returns the position of the level in the permission order, or 0 for
// an unknown level.
func (t AccessType) Rank() int {
	return accessRanks[t]
}

func (t AccessType) Valid() bool {
	return t.Rank() > 0
}

// Includes reports whether t grants at least the permissions of other.
func (t AccessType) Includes(other AccessType) bool {
	return t.Valid() && t.Rank() >= other.Rank()
}

// AccessGrant is a temporary access window given to a user by an
// administrator. A grant targets one document, one cabinet, or (when both
// are nil) every document.
type AccessGrant struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	DocumentID *uint      `gorm:"index" json:"document_id"`
	CabinetID  *uint      `gorm:"index" json:"cabinet_id"`
	StartDate  time.Time  `gorm:"not null" json:"start_date"`
	EndDate    time.Time  `gorm:"not null;index" json:"end_date"`
	AccessType AccessType `gorm:"type:varchar(20);not null;default:'read'" json:"access_type"`
	IsActive   bool       `gorm:"not null;default:true" json:"is_active"`
	Reason     *string    `gorm:"type:text" json:"reason"`
	CreatedBy  uint       `gorm:"not null" json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (AccessGrant) TableName() string {
	return "temporary_accesses"
}

// IsGlobal reports whether the grant covers every document.
func (g *AccessGrant) IsGlobal() bool {
	return g.DocumentID == nil && g.CabinetID == nil
}
