package store

import (
	"context"
	"errors"
	"time"

	"github.com/planfold/planfold/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite today)
// implement this. Sub-repositories keep concerns tidy and make it hard to
// accidentally start a transaction inside a transaction.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	BackupCodes() BackupCodes
	MFAChallenges() MFAChallenges
	AuditLogs() AuditLogs

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing when fn returns
	// nil and rolling back otherwise. Preferred over Tx for multi-step
	// operations that must be atomic (e.g. refresh rotation).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. Same repos plus Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail is used during login.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password hash and bumps
	// password_changed_at and updated_at.
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	// UpdateMFASecret stores a pending TOTP secret for a user.
	UpdateMFASecret(ctx context.Context, userID, secret string) error

	// EnableMFA marks setup as confirmed (sets the mfa_enabled timestamp).
	EnableMFA(ctx context.Context, userID string) error

	// DisableMFA clears both the secret and the enabled timestamp.
	DisableMFA(ctx context.Context, userID string) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the record matching a presented
	// token's fingerprint, regardless of its state. Callers decide what a
	// revoked or expired record means.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RotateRefreshToken atomically transitions a token from active to
	// rotated: sets revoked_at and replaced_by only when revoked_at is
	// still NULL. Returns false when the token was already rotated or
	// revoked, which a concurrent loser must treat as a reuse signal.
	RotateRefreshToken(ctx context.Context, id, replacedBy string, now time.Time) (bool, error)

	// RevokeRefreshToken sets revoked_at by fingerprint. Idempotent: a
	// token that is already revoked stays revoked with its original
	// timestamp.
	RevokeRefreshToken(ctx context.Context, hash string, now time.Time) error

	// RevokeAllUserRefreshTokens revokes every active token for a user
	// (logout-everywhere, password change, reuse detection).
	RevokeAllUserRefreshTokens(ctx context.Context, userID string, now time.Time) error

	// CountActiveForUser returns how many redeemable tokens a user has.
	CountActiveForUser(ctx context.Context, userID string, now time.Time) (int, error)

	// DeleteExpiredBefore purges tokens whose expiry is older than cutoff.
	// Retention housekeeping, not part of the hot path.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) error
}

type BackupCodes interface {
	// CreateBackupCode stores one hashed backup code for a user.
	CreateBackupCode(ctx context.Context, code domain.BackupCode) error

	// ListBackupCodes returns all stored (hashed) codes for a user. The
	// hashes are salted so verification must compare each one.
	ListBackupCodes(ctx context.Context, userID string) ([]domain.BackupCode, error)

	// DeleteBackupCode removes a single code after use.
	DeleteBackupCode(ctx context.Context, id string) error

	// DeleteAllBackupCodes removes every code for a user.
	DeleteAllBackupCodes(ctx context.Context, userID string) error

	// CountBackupCodes returns how many unused codes remain.
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

type MFAChallenges interface {
	// CreateMFAChallenge stores a new deferred-login challenge.
	CreateMFAChallenge(ctx context.Context, c domain.MFAChallenge) error

	// GetMFAChallenge retrieves a challenge by id, only if not expired.
	GetMFAChallenge(ctx context.Context, id string) (domain.MFAChallenge, error)

	// IncrementMFAChallengeAttempts bumps the failed-attempt counter and
	// returns the updated challenge.
	IncrementMFAChallengeAttempts(ctx context.Context, id string) (domain.MFAChallenge, error)

	// DeleteMFAChallenge removes a challenge (consumed or abandoned).
	DeleteMFAChallenge(ctx context.Context, id string) error

	// DeleteExpiredMFAChallenges removes all expired challenges.
	DeleteExpiredMFAChallenges(ctx context.Context) error
}

type AuditLogs interface {
	// CreateAuditLog appends one entry. Entries are immutable once written.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error

	// ListByUser returns a user's entries, newest first, capped at limit.
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditLog, error)

	// ListByIP returns entries from an IP, newest first, capped at limit.
	ListByIP(ctx context.Context, ip string, limit int) ([]domain.AuditLog, error)

	// ListFailedLoginsByEmail returns login_failed entries for an email
	// since the given time, newest first.
	ListFailedLoginsByEmail(ctx context.Context, email string, since time.Time) ([]domain.AuditLog, error)

	// CountByEmailAndType counts entries of one type for an email since
	// the given time.
	CountByEmailAndType(ctx context.Context, email string, eventType domain.EventType, since time.Time) (int, error)

	// CountByIPAndType counts entries of one type from an IP since the
	// given time.
	CountByIPAndType(ctx context.Context, ip string, eventType domain.EventType, since time.Time) (int, error)

	// CountByUserAndType counts entries of one type for a user since the
	// given time.
	CountByUserAndType(ctx context.Context, userID string, eventType domain.EventType, since time.Time) (int, error)

	// CountDistinctEmailsByIP counts how many different emails one IP has
	// produced login_failed entries for since the given time.
	CountDistinctEmailsByIP(ctx context.Context, ip string, since time.Time) (int, error)

	// CountDistinctLoginIPsByUser counts how many different IPs a user has
	// successfully logged in from since the given time.
	CountDistinctLoginIPsByUser(ctx context.Context, userID string, since time.Time) (int, error)

	// DeleteBefore purges entries older than cutoff (retention policy).
	DeleteBefore(ctx context.Context, cutoff time.Time) error
}
