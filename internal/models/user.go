package models

import "time"

// Access tiers. The seeded administrator uses RoleAdmin; everybody else
// registers as RoleRegistered.
const (
	RoleAdmin      = "Admin"
	RoleRegistered = "Registered"
)

// User is the credential store record. Email is stored lowercased so the
// unique index doubles as a case-insensitive constraint.
//
// Lifecycle: direct registrations move Unverified -> Verified via the
// verification token; invited users move Invited (no password, inactive)
// -> Active when they redeem their invitation.
type User struct {
	BaseModel

	FirstName string `gorm:"not null" json:"first_name"`
	LastName  string `gorm:"not null" json:"last_name"`
	Email     string `gorm:"uniqueIndex;not null" json:"email"`
	Phone     string `json:"phone,omitempty"`
	Avatar    string `json:"avatar"`
	Role      string `gorm:"not null;default:Registered" json:"role"`

	// Password is nil only while the user is in the Invited state.
	Password *string `json:"-"`

	Active bool `gorm:"default:true" json:"active"`

	// IsVerified is monotonic: no operation resets it to false.
	IsVerified        bool    `gorm:"default:false" json:"is_verified"`
	VerificationToken *string `gorm:"index" json:"-"`

	ResetPasswordToken     *string    `gorm:"index" json:"-"`
	ResetPasswordExpiresAt *time.Time `json:"-"`

	Units []FunctionalUnitUser `gorm:"foreignKey:UserID" json:"-"`
}

// HasPassword reports whether the user has completed credential setup.
func (u *User) HasPassword() bool {
	return u.Password != nil && *u.Password != ""
}
