package domain

import "time"

// EventType enumerates the closed set of audit event kinds. Keep this list
// small and reviewed; an open string-typed event kind is how audit schemas
// silently drift.
type EventType string

const (
	EventRegister           EventType = "register"
	EventLogin              EventType = "login"
	EventLoginFailed        EventType = "login_failed"
	EventLogout             EventType = "logout"
	EventTokenRefresh       EventType = "token_refresh"
	EventTokenReuseDetected EventType = "token_reuse_detected"
	EventMfaChallenge       EventType = "mfa_challenge"
	EventMfaEnabled         EventType = "mfa_enabled"
	EventMfaDisabled        EventType = "mfa_disabled"
	EventMfaVerified        EventType = "mfa_verified"
	EventMfaFailed          EventType = "mfa_failed"
	EventBackupCodesRegen   EventType = "backup_codes_regenerated"
	EventPasswordChanged    EventType = "password_changed"
	EventSuspiciousActivity EventType = "suspicious_activity"
)

// AuditLog is one entry in the append-only forensic ledger. Entries are
// never mutated; the only deletion is time-based retention cleanup.
type AuditLog struct {
	ID        string
	EventType EventType
	Success   bool

	UserID    *string
	Email     *string
	Reason    *string // failure reason, internal wording
	IP        *string
	UserAgent *string

	// Metadata carries structured context, e.g. the triggering event type
	// on a synthesized suspicious-activity entry.
	Metadata map[string]string

	CreatedAt time.Time
}
