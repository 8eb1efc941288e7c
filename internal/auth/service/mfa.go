package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/planfold/planfold/internal/auth/domain"
	"github.com/planfold/planfold/internal/auth/store"
	"github.com/planfold/planfold/pkg/cryptox"
	"github.com/planfold/planfold/pkg/idx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	backupCodeCount  = 8  // Number of backup codes generated per set
	backupCodeDigits = 10 // Decimal digits per code
)

var (
	ErrMFAAlreadyEnabled = errors.New("MFA already enabled for this user")
	ErrMFANotEnabled     = errors.New("MFA not enabled for this user")
	ErrInvalidMFACode    = errors.New("invalid MFA code")
	ErrWrongPassword     = errors.New("wrong password")
)

type MFAService struct {
	Store  store.Store
	Audit  *AuditService
	Issuer string // Issuer name shown in authenticator apps (e.g., "Planfold")
}

// BeginSetup generates a TOTP secret for the user and returns provisioning
// material for QR rendering and manual entry. MFA is NOT enabled yet; the
// user must confirm a code first. Calling this again before confirming
// replaces the pending secret.
func (s *MFAService) BeginSetup(ctx context.Context, userID string) (domain.MFASetup, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.MFASetup{}, fmt.Errorf("failed to get user: %w", err)
	}
	if u.MFAActive() {
		return domain.MFASetup{}, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: u.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.MFASetup{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	if err := s.Store.Users().UpdateMFASecret(ctx, userID, key.Secret()); err != nil {
		return domain.MFASetup{}, fmt.Errorf("failed to store MFA secret: %w", err)
	}

	return domain.MFASetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		ManualEntryKey:  groupSecret(key.Secret()),
		Issuer:          s.Issuer,
		Account:         u.Email,
	}, nil
}

// ConfirmSetup verifies a TOTP code against the pending secret and, if
// valid, enables MFA and returns a fresh set of plain-text backup codes.
// The codes are shown exactly once; only their hashes are stored.
func (s *MFAService) ConfirmSetup(ctx context.Context, userID, code string) ([]string, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if u.MFAActive() {
		return nil, ErrMFAAlreadyEnabled
	}
	if !u.MFAPending() {
		return nil, ErrMFANotEnabled
	}

	if !validateTOTP(code, *u.MFASecret) {
		s.Audit.Record(ctx, domain.AuditLog{
			EventType: domain.EventMfaFailed,
			Success:   false,
			UserID:    optional(userID),
			Email:     optional(u.Email),
			Reason:    optional("setup confirmation code rejected"),
		})
		return nil, ErrInvalidMFACode
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := storeBackupCodes(ctx, tx, userID, codes); err != nil {
			return err
		}
		return tx.Users().EnableMFA(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	s.Audit.Record(ctx, domain.AuditLog{
		EventType: domain.EventMfaEnabled,
		Success:   true,
		UserID:    optional(userID),
		Email:     optional(u.Email),
	})

	return codes, nil
}

// VerifyLogin checks a second-factor code during a deferred login. A backup
// code is consumed on success and can never be redeemed again. Audit entries
// for the overall login outcome are the caller's responsibility.
func (s *MFAService) VerifyLogin(ctx context.Context, user domain.User, method, code string) error {
	if !user.MFAActive() {
		return ErrMFANotEnabled
	}

	switch method {
	case domain.MFAMethodTOTP:
		if !validateTOTP(code, *user.MFASecret) {
			return ErrInvalidMFACode
		}
		return nil

	case domain.MFAMethodBackup:
		stored, err := s.Store.BackupCodes().ListBackupCodes(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to list backup codes: %w", err)
		}
		for _, bc := range stored {
			if cryptox.Verify(code, bc.CodeHash) == nil {
				return s.Store.BackupCodes().DeleteBackupCode(ctx, bc.ID)
			}
		}
		return ErrInvalidMFACode

	default:
		return ErrInvalidMFACode
	}
}

// Disable turns MFA off and discards the secret and all backup codes. Gated
// on the account password, not a TOTP code, so a user who lost their device
// can still get out.
func (s *MFAService) Disable(ctx context.Context, userID, password string) error {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if !u.MFAActive() {
		return ErrMFANotEnabled
	}

	if err := cryptox.Verify(password, u.PasswordHash); err != nil {
		return ErrWrongPassword
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		return tx.Users().DisableMFA(ctx, userID)
	})
	if err != nil {
		return err
	}

	s.Audit.Record(ctx, domain.AuditLog{
		EventType: domain.EventMfaDisabled,
		Success:   true,
		UserID:    optional(userID),
		Email:     optional(u.Email),
	})

	return nil
}

// RegenerateBackupCodes replaces all existing backup codes with a fresh set.
// Password-gated for the same reason Disable is.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !u.MFAActive() {
		return nil, ErrMFANotEnabled
	}

	if err := cryptox.Verify(password, u.PasswordHash); err != nil {
		return nil, ErrWrongPassword
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete old backup codes: %w", err)
		}
		return storeBackupCodes(ctx, tx, userID, codes)
	})
	if err != nil {
		return nil, err
	}

	s.Audit.Record(ctx, domain.AuditLog{
		EventType: domain.EventBackupCodesRegen,
		Success:   true,
		UserID:    optional(userID),
		Email:     optional(u.Email),
	})

	return codes, nil
}

// RemainingBackupCodes reports how many unused codes the user has left.
func (s *MFAService) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	return s.Store.BackupCodes().CountBackupCodes(ctx, userID)
}

// validateTOTP accepts the current 30s step plus one step either side to
// absorb clock drift between server and authenticator.
func validateTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// generateBackupCodes produces backupCodeCount numeric codes with
// backupCodeDigits digits each, from crypto/rand.
func generateBackupCodes() ([]string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(backupCodeDigits), nil)
	codes := make([]string, backupCodeCount)
	for i := range codes {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = fmt.Sprintf("%0*d", backupCodeDigits, n)
	}
	return codes, nil
}

func storeBackupCodes(ctx context.Context, tx store.Tx, userID string, codes []string) error {
	now := time.Now().UTC()
	for _, code := range codes {
		hash, err := cryptox.Hash(code)
		if err != nil {
			return fmt.Errorf("failed to hash backup code: %w", err)
		}
		bc := domain.BackupCode{
			ID:        idx.New().String(),
			UserID:    userID,
			CodeHash:  hash,
			CreatedAt: now,
		}
		if err := tx.BackupCodes().CreateBackupCode(ctx, bc); err != nil {
			return fmt.Errorf("failed to store backup code: %w", err)
		}
	}
	return nil
}

// groupSecret splits a base32 secret into blocks of four for manual entry.
func groupSecret(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
