package domain

import "time"

type User struct {
	ID           string
	Email        string // unique, used as the login identifier
	Name         string
	PasswordHash string // argon2id encoded

	// MFASecret is the base32 TOTP secret. Set during setup, before the
	// user has confirmed a code.
	MFASecret *string
	// MFAEnabled is the timestamp setup was confirmed (nullable). A secret
	// with a nil MFAEnabled means setup is pending.
	MFAEnabled *time.Time

	PasswordChangedAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MFAActive reports whether the user has completed MFA setup.
func (u User) MFAActive() bool {
	return u.MFAEnabled != nil && u.MFASecret != nil && *u.MFASecret != ""
}

// MFAPending reports whether a secret exists but setup was never confirmed.
func (u User) MFAPending() bool {
	return u.MFAEnabled == nil && u.MFASecret != nil && *u.MFASecret != ""
}
