package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/planfold/planfold/internal/auth/domain"
	"github.com/planfold/planfold/internal/auth/store"
	"github.com/planfold/planfold/pkg/cryptox"
	"github.com/planfold/planfold/pkg/idx"
	"github.com/planfold/planfold/pkg/passwordx"
)

var ErrEmailTaken = errors.New("email already registered")

// PasswordPolicyError carries every rule the candidate password broke, so
// the client can show all of them at once instead of one per attempt.
type PasswordPolicyError struct {
	Violations []passwordx.Violation
}

func (e *PasswordPolicyError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "password rejected: " + strings.Join(msgs, "; ")
}

type UserService struct {
	Store  store.Store
	Audit  *AuditService
	Policy *passwordx.Policy
}

// Register creates a new account. The password is validated against the
// policy (including the no-personal-info rule) before hashing.
func (s *UserService) Register(ctx context.Context, email, name, password string, meta RequestMeta) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if violations := s.Policy.Validate(password, &passwordx.UserInfo{Name: name, Email: email}); len(violations) > 0 {
		return domain.User{}, &PasswordPolicyError{Violations: violations}
	}

	hash, err := cryptox.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	u := domain.User{
		ID:                idx.New().String(),
		Email:             email,
		Name:              name,
		PasswordHash:      hash,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}

	s.Audit.Record(ctx, domain.AuditLog{
		EventType: domain.EventRegister,
		Success:   true,
		UserID:    optional(u.ID),
		Email:     optional(u.Email),
		IP:        optional(meta.IP),
		UserAgent: optional(meta.UserAgent),
	})

	return u, nil
}

// ChangePassword verifies the current password, validates the candidate
// against the policy, then swaps the hash and revokes every live session in
// one transaction. Existing access tokens ride out their short TTL; refresh
// is where the new credential gets enforced.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string, meta RequestMeta) error {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	if err := cryptox.Verify(current, u.PasswordHash); err != nil {
		s.Audit.Record(ctx, domain.AuditLog{
			EventType: domain.EventPasswordChanged,
			Success:   false,
			UserID:    optional(userID),
			Email:     optional(u.Email),
			Reason:    optional("current password rejected"),
			IP:        optional(meta.IP),
			UserAgent: optional(meta.UserAgent),
		})
		return ErrWrongPassword
	}

	if violations := s.Policy.Validate(next, &passwordx.UserInfo{Name: u.Name, Email: u.Email}); len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}

	hash, err := cryptox.Hash(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdatePasswordHash(ctx, userID, hash); err != nil {
			return err
		}
		return tx.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID, now)
	})
	if err != nil {
		return err
	}

	s.Audit.Record(ctx, domain.AuditLog{
		EventType: domain.EventPasswordChanged,
		Success:   true,
		UserID:    optional(userID),
		Email:     optional(u.Email),
		IP:        optional(meta.IP),
		UserAgent: optional(meta.UserAgent),
	})

	return nil
}

// GetUser returns a user by ID.
func (s *UserService) GetUser(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, userID)
}

// SuggestPassword generates a random password that satisfies the policy.
func (s *UserService) SuggestPassword() (string, error) {
	return s.Policy.Generate()
}
