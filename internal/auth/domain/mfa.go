package domain

import "time"

// MFASetup is returned by BeginSetup: everything the client needs to show a
// QR code and a manual-entry fallback. The secret is only ever exposed here.
type MFASetup struct {
	Secret          string // base32 encoded TOTP secret
	ProvisioningURI string // otpauth:// URL for QR rendering
	ManualEntryKey  string // secret grouped in blocks of four for typing
	Issuer          string
	Account         string // user email
}

// MFAChallenge is a pending deferred login: the password check succeeded for
// an MFA-enabled user and token issuance is held until a code is verified.
// Short-lived, capped attempts.
type MFAChallenge struct {
	ID        string
	UserID    string
	IP        string
	UserAgent string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// BackupCode is one stored (hashed) single-use fallback credential.
type BackupCode struct {
	ID        string
	UserID    string
	CodeHash  string // argon2id encoded, same treatment as passwords
	CreatedAt time.Time
}

// MFA verification methods accepted when completing a challenge.
const (
	MFAMethodTOTP   = "totp"
	MFAMethodBackup = "backup_code"
)
