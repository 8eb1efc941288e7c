package service

import (
	"context"
	"testing"

	"github.com/planfold/planfold/internal/auth/domain"
	"github.com/planfold/planfold/pkg/passwordx"
	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)

	u, err := svc.User.Register(ctx, "Alice@Example.com", "Alice", "Str0ng!passphrase", RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	require.Equal(t, "alice@example.com", u.Email, "email is normalized to lowercase")
	require.NotEqual(t, "Str0ng!passphrase", u.PasswordHash)

	// Registration leaves an audit entry.
	history, err := svc.Audit.UserHistory(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Equal(t, 1, countEvents(history, domain.EventRegister))

	// The new credential works.
	_, err = svc.Token.Login(ctx, "alice@example.com", "Str0ng!passphrase", RequestMeta{})
	require.NoError(t, err)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)

	_, err := svc.User.Register(ctx, "alice@example.com", "Alice", "Str0ng!passphrase", RequestMeta{})
	require.NoError(t, err)

	_, err = svc.User.Register(ctx, "alice@example.com", "Someone Else", "An0ther!passphrase", RequestMeta{})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterEnforcesPasswordPolicy(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)

	t.Run("weak password reports all violations", func(t *testing.T) {
		_, err := svc.User.Register(ctx, "bob@example.com", "Bob", "short", RequestMeta{})
		var policyErr *PasswordPolicyError
		require.ErrorAs(t, err, &policyErr)
		require.NotEmpty(t, policyErr.Violations)

		rules := map[passwordx.Rule]bool{}
		for _, v := range policyErr.Violations {
			rules[v.Rule] = true
		}
		require.True(t, rules[passwordx.RuleTooShort])
		require.True(t, rules[passwordx.RuleUppercase])
		require.True(t, rules[passwordx.RuleDigit])
	})

	t.Run("password containing own email rejected", func(t *testing.T) {
		_, err := svc.User.Register(ctx, "carol@example.com", "Carol", "Carol!2345carol", RequestMeta{})
		var policyErr *PasswordPolicyError
		require.ErrorAs(t, err, &policyErr)

		found := false
		for _, v := range policyErr.Violations {
			if v.Rule == passwordx.RuleUserInfo {
				found = true
			}
		}
		require.True(t, found)
	})
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	u := seedUser(t, svc.Store, "alice@example.com", "Str0ng!passphrase")

	pair, err := svc.Token.Login(ctx, "alice@example.com", "Str0ng!passphrase", RequestMeta{})
	require.NoError(t, err)

	err = svc.User.ChangePassword(ctx, u.ID, "Str0ng!passphrase", "N3w!passphrase-9", RequestMeta{})
	require.NoError(t, err)

	// Old refresh token died with the password.
	_, err = svc.Token.Refresh(ctx, pair.RefreshToken, RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidRefresh)

	// Old password no longer works, new one does.
	_, err = svc.Token.Login(ctx, "alice@example.com", "Str0ng!passphrase", RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Token.Login(ctx, "alice@example.com", "N3w!passphrase-9", RequestMeta{})
	require.NoError(t, err)
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	u := seedUser(t, svc.Store, "alice@example.com", "Str0ng!passphrase")

	err := svc.User.ChangePassword(ctx, u.ID, "wrong-password", "N3w!passphrase-9", RequestMeta{})
	require.ErrorIs(t, err, ErrWrongPassword)

	// And the candidate still has to clear the policy.
	err = svc.User.ChangePassword(ctx, u.ID, "Str0ng!passphrase", "weak", RequestMeta{})
	var policyErr *PasswordPolicyError
	require.ErrorAs(t, err, &policyErr)
}

func TestSuggestPasswordSatisfiesPolicy(t *testing.T) {
	svc := newTestServices(t)

	for range 5 {
		pw, err := svc.User.SuggestPassword()
		require.NoError(t, err)
		require.Empty(t, svc.User.Policy.Validate(pw, nil))
	}
}
