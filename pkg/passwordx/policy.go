// Package passwordx implements the configurable password policy: rule
// validation with cumulative violation reporting, expiry checks, and secure
// password generation. Hashing lives in pkg/cryptox; this package is pure.
package passwordx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"
)

// Rule identifies a single policy rule a password can violate.
type Rule string

const (
	RuleTooShort    Rule = "too_short"
	RuleTooLong     Rule = "too_long"
	RuleUppercase   Rule = "missing_uppercase"
	RuleLowercase   Rule = "missing_lowercase"
	RuleDigit       Rule = "missing_digit"
	RuleSpecial     Rule = "missing_special"
	RuleRepeatedRun Rule = "repeated_characters"
	RuleCommon      Rule = "common_password"
	RuleUserInfo    Rule = "contains_user_info"
)

// Violation is one failed rule with a human-readable message. Validate
// returns every violation at once so a caller can show the user the full
// list rather than one failure per attempt.
type Violation struct {
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
}

// Settings parameterises the policy. Passed explicitly into New so tests and
// deployments can vary rules without shared global state.
type Settings struct {
	MinLength int
	MaxLength int

	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSpecial   bool
	// SpecialChars is the alphabet that satisfies RequireSpecial.
	SpecialChars string

	// MaxRepeatRun is the longest allowed run of identical consecutive
	// characters. Zero disables the check.
	MaxRepeatRun int

	RejectCommonPasswords bool
	RejectUserInfo        bool

	// ExpirationDays forces a password change after this many days.
	// Zero or negative disables expiry.
	ExpirationDays int
}

// DefaultSettings returns the baseline policy used when no configuration is
// supplied.
func DefaultSettings() Settings {
	return Settings{
		MinLength:             10,
		MaxLength:             128,
		RequireUppercase:      true,
		RequireLowercase:      true,
		RequireDigit:          true,
		RequireSpecial:        true,
		SpecialChars:          "!@#$%^&*()-_=+[]{};:,.<>?",
		MaxRepeatRun:          3,
		RejectCommonPasswords: true,
		RejectUserInfo:        true,
		ExpirationDays:        0,
	}
}

// UserInfo carries the identity fields a password must not contain fragments
// of. Optional; pass nil when no user context is available (e.g. generation).
type UserInfo struct {
	Name  string
	Email string
}

// Policy evaluates passwords against a fixed Settings value. Stateless and
// safe for concurrent use.
type Policy struct {
	settings Settings
}

func New(settings Settings) *Policy {
	return &Policy{settings: settings}
}

// Settings returns the policy configuration.
func (p *Policy) Settings() Settings { return p.settings }

// Validate checks password against every rule independently and returns all
// violations. An empty slice means the password satisfies the policy.
func (p *Policy) Validate(password string, user *UserInfo) []Violation {
	s := p.settings
	var violations []Violation

	runes := []rune(password)
	if len(runes) < s.MinLength {
		violations = append(violations, Violation{
			Rule:    RuleTooShort,
			Message: fmt.Sprintf("password must be at least %d characters", s.MinLength),
		})
	}
	if s.MaxLength > 0 && len(runes) > s.MaxLength {
		violations = append(violations, Violation{
			Rule:    RuleTooLong,
			Message: fmt.Sprintf("password must be at most %d characters", s.MaxLength),
		})
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range runes {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
		if strings.ContainsRune(s.SpecialChars, r) {
			hasSpecial = true
		}
	}
	if s.RequireUppercase && !hasUpper {
		violations = append(violations, Violation{
			Rule:    RuleUppercase,
			Message: "password must contain an uppercase letter",
		})
	}
	if s.RequireLowercase && !hasLower {
		violations = append(violations, Violation{
			Rule:    RuleLowercase,
			Message: "password must contain a lowercase letter",
		})
	}
	if s.RequireDigit && !hasDigit {
		violations = append(violations, Violation{
			Rule:    RuleDigit,
			Message: "password must contain a digit",
		})
	}
	if s.RequireSpecial && !hasSpecial {
		violations = append(violations, Violation{
			Rule:    RuleSpecial,
			Message: fmt.Sprintf("password must contain a special character (%s)", s.SpecialChars),
		})
	}

	if s.MaxRepeatRun > 0 && longestRun(runes) > s.MaxRepeatRun {
		violations = append(violations, Violation{
			Rule:    RuleRepeatedRun,
			Message: fmt.Sprintf("password must not repeat a character more than %d times in a row", s.MaxRepeatRun),
		})
	}

	if s.RejectCommonPasswords && isCommon(password) {
		violations = append(violations, Violation{
			Rule:    RuleCommon,
			Message: "password is too common",
		})
	}

	if s.RejectUserInfo && user != nil && containsUserInfo(password, user) {
		violations = append(violations, Violation{
			Rule:    RuleUserInfo,
			Message: "password must not contain parts of your name or email",
		})
	}

	return violations
}

// Expired reports whether a password last changed at changedAt has outlived
// the configured expiration period as of now. Always false when expiry is
// disabled or changedAt is unset.
func (p *Policy) Expired(changedAt, now time.Time) bool {
	if p.settings.ExpirationDays <= 0 || changedAt.IsZero() {
		return false
	}
	deadline := changedAt.Add(time.Duration(p.settings.ExpirationDays) * 24 * time.Hour)
	return now.After(deadline)
}

const (
	upperChars = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars = "abcdefghijkmnopqrstuvwxyz"
	digitChars = "23456789"
)

// Generate produces a random password satisfying every required character
// class and the minimum length. One character per required class is
// guaranteed up front, the remainder is filled from the full alphabet, and
// the result is shuffled. All randomness comes from crypto/rand; a weaker
// source here would silently undermine generated credentials.
func (p *Policy) Generate() (string, error) {
	s := p.settings

	length := s.MinLength
	if length < 12 {
		length = 12
	}

	special := s.SpecialChars
	if special == "" {
		special = "!@#$%^&*"
	}

	var required []string
	if s.RequireUppercase {
		required = append(required, upperChars)
	}
	if s.RequireLowercase {
		required = append(required, lowerChars)
	}
	if s.RequireDigit {
		required = append(required, digitChars)
	}
	if s.RequireSpecial {
		required = append(required, special)
	}

	alphabet := upperChars + lowerChars + digitChars
	if s.RequireSpecial {
		alphabet += special
	}

	out := make([]byte, 0, length)
	for _, class := range required {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randomChar(alphabet)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the guaranteed class characters don't cluster at the
	// front.
	for i := len(out) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		j := n.Int64()
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("passwordx: random source failed: %w", err)
	}
	return alphabet[n.Int64()], nil
}

func longestRun(runes []rune) int {
	longest, run := 0, 0
	var prev rune
	for i, r := range runes {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// containsUserInfo reports whether the password contains any token (longer
// than 3 characters) of the user's name or email local part,
// case-insensitively.
func containsUserInfo(password string, user *UserInfo) bool {
	lower := strings.ToLower(password)

	for _, token := range userTokens(user) {
		if len(token) > 3 && strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func userTokens(user *UserInfo) []string {
	split := func(s string) []string {
		return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
	}

	tokens := split(user.Name)
	if at := strings.Index(user.Email, "@"); at > 0 {
		tokens = append(tokens, split(user.Email[:at])...)
	}
	return tokens
}
