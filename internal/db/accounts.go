package db

import (
	"time"
)

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account that can sign in. Admins manage tiles; users earn
// energy.
type User struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"size:255"`
	PasswordHash string `gorm:"size:255;not null"`

	Role string `gorm:"size:16;not null;default:user"`

	// TOTPSecret is the base32 secret for authenticator apps. Empty for
	// admins, who use the emailed OTP instead.
	TOTPSecret string `gorm:"size:64"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Session is a signed-in browser. Token is the cookie value.
type Session struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	Token    string `gorm:"uniqueIndex;size:128;not null"`
	Username string `gorm:"index;size:64;not null"`
	Role     string `gorm:"size:16;not null"`

	ExpiresAt time.Time `gorm:"index"`
}

// MFAChallenge is a pending second factor after a correct password.
type MFAChallenge struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time

	Username string `gorm:"size:64;not null"`
	Role     string `gorm:"size:16;not null"`
	OTP      string `gorm:"size:16;not null"`

	ExpiresAt time.Time `gorm:"index"`
}

// SensorKey authorizes an IoT device to post readings.
type SensorKey struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Name is a label for the device (e.g. "shibuya-plate-3").
	Name string `gorm:"size:128;not null"`

	// Token is the bearer value the device sends.
	Token string `gorm:"uniqueIndex;size:255;not null"`

	Active bool `gorm:"default:true"`
}
