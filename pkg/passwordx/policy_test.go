package passwordx

import (
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/require"
)

func rules(violations []Violation) []Rule {
	out := make([]Rule, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Rule)
	}
	return out
}

func TestValidate_OK(t *testing.T) {
	p := New(DefaultSettings())

	violations := p.Validate("Str0ng&Secure!", nil)
	require.Empty(t, violations)
}

func TestValidate_Cumulative(t *testing.T) {
	p := New(DefaultSettings())

	// Too short AND missing digit AND missing special: all three reported.
	violations := p.Validate("Short", nil)
	got := rules(violations)
	require.Contains(t, got, RuleTooShort)
	require.Contains(t, got, RuleDigit)
	require.Contains(t, got, RuleSpecial)
}

func TestValidate_Rules(t *testing.T) {
	p := New(DefaultSettings())

	tests := []struct {
		name     string
		password string
		expect   Rule
	}{
		{"too short", "Ab1!", RuleTooShort},
		{"no uppercase", "alllower1!x", RuleUppercase},
		{"no lowercase", "ALLUPPER1!X", RuleLowercase},
		{"no digit", "NoDigitsHere!", RuleDigit},
		{"no special", "NoSpecial123a", RuleSpecial},
		{"repeated run", "Gooood1!aaaab", RuleRepeatedRun},
		{"common password", "Password123", RuleCommon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Contains(t, rules(p.Validate(tt.password, nil)), tt.expect)
		})
	}
}

func TestValidate_MaxLength(t *testing.T) {
	s := DefaultSettings()
	s.MaxLength = 20
	p := New(s)

	require.Contains(t, rules(p.Validate("Aa1!"+strings.Repeat("xY", 20), nil)), RuleTooLong)
}

func TestValidate_UserInfo(t *testing.T) {
	p := New(DefaultSettings())
	user := &UserInfo{Name: "Alice Johnson", Email: "alice.johnson@example.com"}

	t.Run("name token rejected", func(t *testing.T) {
		require.Contains(t, rules(p.Validate("MyJohnson1!x", user)), RuleUserInfo)
	})

	t.Run("email local part token rejected case-insensitively", func(t *testing.T) {
		require.Contains(t, rules(p.Validate("xXaLiCe99!Zz", user)), RuleUserInfo)
	})

	t.Run("short tokens ignored", func(t *testing.T) {
		// "al" is under the 4-character threshold even though it appears.
		shortUser := &UserInfo{Name: "Al", Email: "al@example.com"}
		require.NotContains(t, rules(p.Validate("Salamander1!x", shortUser)), RuleUserInfo)
	})

	t.Run("nil user skips the check", func(t *testing.T) {
		require.NotContains(t, rules(p.Validate("xXaLiCe99!Zz", nil)), RuleUserInfo)
	})
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("disabled when period is zero", func(t *testing.T) {
		p := New(DefaultSettings())
		require.False(t, p.Expired(now.Add(-365*24*time.Hour), now))
	})

	t.Run("expired past the period", func(t *testing.T) {
		s := DefaultSettings()
		s.ExpirationDays = 90
		p := New(s)

		require.True(t, p.Expired(now.Add(-91*24*time.Hour), now))
		require.False(t, p.Expired(now.Add(-89*24*time.Hour), now))
	})

	t.Run("zero changedAt never expires", func(t *testing.T) {
		s := DefaultSettings()
		s.ExpirationDays = 1
		p := New(s)
		require.False(t, p.Expired(time.Time{}, now))
	})
}

func TestGenerate_SatisfiesPolicy(t *testing.T) {
	p := New(DefaultSettings())

	for range 50 {
		password, err := p.Generate()
		require.NoError(t, err)
		require.Empty(t, p.Validate(password, nil), "generated password %q must satisfy the policy", password)
	}
}

func TestGenerate_RequiredClasses(t *testing.T) {
	s := DefaultSettings()
	s.MinLength = 16
	p := New(s)

	password, err := p.Generate()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(password), 16)

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	require.True(t, hasUpper)
	require.True(t, hasLower)
	require.True(t, hasDigit)
	require.True(t, hasSpecial)
}

func TestGenerate_Unique(t *testing.T) {
	p := New(DefaultSettings())

	seen := make(map[string]struct{})
	for range 100 {
		password, err := p.Generate()
		require.NoError(t, err)
		_, dup := seen[password]
		require.False(t, dup)
		seen[password] = struct{}{}
	}
}
