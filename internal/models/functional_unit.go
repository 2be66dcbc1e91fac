package models

import "time"

// FunctionalUnit is an addressable unit (an apartment or department)
// users can be invited to join. It belongs to an administrable entity.
type FunctionalUnit struct {
	BaseModel

	AdministrableID      string  `gorm:"type:uuid;not null;index" json:"administrable_id"`
	Name                 string  `gorm:"not null" json:"name"`
	Floor                string  `json:"floor"`
	Department           string  `json:"department"`
	Number               int     `json:"number"`
	Description          string  `json:"description"`
	ExpenseRegisterToken string  `json:"expense_register_token"`
	PackageID            *string `json:"package_id,omitempty"`
	PrimaryContact       string  `json:"primary_contact"`

	Occupancies []FunctionalUnitUser `gorm:"foreignKey:FunctionalUnitID" json:"-"`
}

// FunctionalUnitUser associates a user with a functional unit. While the
// invitation is pending the row carries the one-time credentials (PIN or
// invitation token); activation clears them.
//
// At most one pending invitation exists per (unit, invited email) pair; a
// unit accumulates many historical associations but one active occupant.
type FunctionalUnitUser struct {
	BaseModel

	FunctionalUnitID string `gorm:"type:uuid;not null;index" json:"functional_unit_id"`
	UserID           string `gorm:"type:uuid;not null;index" json:"user_id"`
	Version          string `json:"version"`
	Active           bool   `gorm:"default:false" json:"active"`

	PIN                 *string    `gorm:"index" json:"-"`
	InvitationToken     *string    `gorm:"index" json:"-"`
	InvitationExpiresAt *time.Time `json:"-"`

	FunctionalUnit *FunctionalUnit `gorm:"foreignKey:FunctionalUnitID" json:"functional_unit,omitempty"`
	User           *User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
