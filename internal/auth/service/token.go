package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/planfold/planfold/internal/auth/domain"
	"github.com/planfold/planfold/internal/auth/store"
	"github.com/planfold/planfold/pkg/cryptox"
	"github.com/planfold/planfold/pkg/idx"
	"github.com/planfold/planfold/pkg/jwtx"
	"github.com/planfold/planfold/pkg/passwordx"
	"github.com/planfold/planfold/pkg/slogx"
)

const (
	// MaxMFAAttempts is the maximum number of failed MFA attempts allowed
	// per challenge before it is destroyed.
	MaxMFAAttempts = 5

	// DefaultChallengeTTL bounds how long a deferred login stays redeemable.
	DefaultChallengeTTL = 5 * time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidRefresh     = errors.New("invalid_refresh_token")
	ErrInvalidChallenge   = errors.New("invalid_challenge")
	ErrTooManyAttempts    = errors.New("too_many_attempts")
	ErrPasswordExpired    = errors.New("password_expired")
)

// errTokenReuse flags a replayed token detected inside the rotation
// transaction. The callback returning it aborts the transaction, so the
// family revocation must run afterwards on the plain store where it
// actually commits.
var errTokenReuse = errors.New("refresh token reuse")

// MFARequiredError signals that the password check passed but token issuance
// is held until the second factor is verified. The challenge ID is the only
// thing the client may learn at this point.
type MFARequiredError struct {
	ChallengeID string
}

func (e *MFARequiredError) Error() string { return "mfa_required" }

// RequestMeta carries per-request client attribution for token records and
// audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type TokenService struct {
	Store  store.Store
	Signer jwtx.Signer
	MFA    *MFAService
	Audit  *AuditService
	Policy *passwordx.Policy

	Issuer       string
	Audience     []string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration
}

// Login authenticates an email/password pair. For users without MFA it
// returns a token pair directly; for MFA-enabled users it returns an
// *MFARequiredError carrying a short-lived challenge instead. All client
// credential failures collapse to ErrInvalidCredentials so the response
// never reveals whether the email exists.
func (s *TokenService) Login(ctx context.Context, email, password string, meta RequestMeta) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a hash anyway so a missing account costs the same
			// wall time as a wrong password.
			_ = cryptox.Verify(password, dummyHash)
			s.Audit.RecordLoginFailed(ctx, email, meta.IP, meta.UserAgent, "unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := cryptox.Verify(password, u.PasswordHash); err != nil {
		s.Audit.RecordLoginFailed(ctx, email, meta.IP, meta.UserAgent, "wrong password")
		return nil, ErrInvalidCredentials
	}

	if s.Policy != nil && s.Policy.Expired(u.PasswordChangedAt, now) {
		s.Audit.RecordLoginFailed(ctx, email, meta.IP, meta.UserAgent, "password expired")
		return nil, ErrPasswordExpired
	}

	if u.MFAActive() {
		challenge := domain.MFAChallenge{
			ID:        idx.New().String(),
			UserID:    u.ID,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			ExpiresAt: now.Add(s.challengeTTL()),
			CreatedAt: now,
		}
		if err := s.Store.MFAChallenges().CreateMFAChallenge(ctx, challenge); err != nil {
			return nil, err
		}

		s.Audit.Record(ctx, domain.AuditLog{
			EventType: domain.EventMfaChallenge,
			Success:   true,
			UserID:    optional(u.ID),
			Email:     optional(u.Email),
			IP:        optional(meta.IP),
			UserAgent: optional(meta.UserAgent),
		})

		return nil, &MFARequiredError{ChallengeID: challenge.ID}
	}

	pair, err := s.issuePair(ctx, u, meta, now)
	if err != nil {
		l.Error("token issuance failed", slog.Any("error", err))
		return nil, err
	}

	s.Audit.RecordLogin(ctx, u.ID, u.Email, meta.IP, meta.UserAgent)
	return pair, nil
}

// CompleteMFALogin redeems a deferred login challenge with a TOTP or backup
// code. The challenge is destroyed on success, on expiry, and after
// MaxMFAAttempts failures.
func (s *TokenService) CompleteMFALogin(ctx context.Context, challengeID, method, code string, meta RequestMeta) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	challenge, err := s.Store.MFAChallenges().GetMFAChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidChallenge
		}
		return nil, err
	}

	if challenge.Attempts >= MaxMFAAttempts {
		_ = s.Store.MFAChallenges().DeleteMFAChallenge(ctx, challengeID)
		l.Warn("MFA challenge exceeded max attempts",
			slog.String("challenge_id", challengeID),
			slog.Int("attempts", challenge.Attempts),
		)
		return nil, ErrTooManyAttempts
	}

	u, err := s.Store.Users().GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := s.MFA.VerifyLogin(ctx, u, method, code); err != nil {
		if !errors.Is(err, ErrInvalidMFACode) && !errors.Is(err, ErrMFANotEnabled) {
			return nil, err
		}

		updated, incErr := s.Store.MFAChallenges().IncrementMFAChallengeAttempts(ctx, challengeID)
		if incErr != nil {
			l.Error("failed to increment MFA attempts", slog.Any("error", incErr))
		}

		s.Audit.Record(ctx, domain.AuditLog{
			EventType: domain.EventMfaFailed,
			Success:   false,
			UserID:    optional(u.ID),
			Email:     optional(u.Email),
			Reason:    optional("login code rejected"),
			IP:        optional(meta.IP),
			UserAgent: optional(meta.UserAgent),
			Metadata:  map[string]string{"method": method},
		})

		if incErr == nil && updated.Attempts >= MaxMFAAttempts {
			_ = s.Store.MFAChallenges().DeleteMFAChallenge(ctx, challengeID)
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidChallenge
	}

	if err := s.Store.MFAChallenges().DeleteMFAChallenge(ctx, challengeID); err != nil {
		return nil, err
	}

	pair, err := s.issuePair(ctx, u, meta, now)
	if err != nil {
		return nil, err
	}

	s.Audit.Record(ctx, domain.AuditLog{
		EventType: domain.EventMfaVerified,
		Success:   true,
		UserID:    optional(u.ID),
		Email:     optional(u.Email),
		IP:        optional(meta.IP),
		UserAgent: optional(meta.UserAgent),
		Metadata:  map[string]string{"method": method},
	})
	s.Audit.RecordLogin(ctx, u.ID, u.Email, meta.IP, meta.UserAgent)

	return pair, nil
}

// Refresh rotates a refresh token: the presented token is retired and a new
// pair is issued. Presenting an already-rotated token is treated as theft
// and revokes every live session for the user. All client-facing failures
// collapse to ErrInvalidRefresh.
func (s *TokenService) Refresh(ctx context.Context, refreshOpaque string, meta RequestMeta) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	fp := cryptox.FingerprintToken(refreshOpaque)

	var (
		user        domain.User
		newOpaque   string
		reusedToken *domain.RefreshToken
	)

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		rt, err := tx.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefresh
			}
			return err
		}

		if rt.RevokedAt != nil {
			// A retired token should never come back, whether it was
			// consumed by rotation or revoked by a logout. Its
			// reappearance means the value leaked; kill the whole family.
			reusedToken = &rt
			return errTokenReuse
		}
		if now.After(rt.ExpiresAt) {
			return ErrInvalidRefresh
		}

		u, err := tx.Users().GetUserByID(ctx, rt.UserID)
		if err != nil {
			return err
		}

		opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return err
		}

		successor := domain.RefreshToken{
			ID:        idx.New().String(),
			UserID:    u.ID,
			TokenHash: cryptox.FingerprintToken(opaque),
			ExpiresAt: now.Add(s.RefreshTTL),
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			CreatedAt: now,
		}

		won, err := tx.RefreshTokens().RotateRefreshToken(ctx, rt.ID, successor.ID, now)
		if err != nil {
			return err
		}
		if !won {
			// Lost a race against a concurrent redeemer. Same treatment
			// as a replay: someone presented this token twice.
			reusedToken = &rt
			return errTokenReuse
		}

		if err := tx.RefreshTokens().CreateRefreshToken(ctx, successor); err != nil {
			return err
		}

		user = u
		newOpaque = opaque
		return nil
	})
	if err != nil {
		if errors.Is(err, errTokenReuse) && reusedToken != nil {
			if revokeErr := s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, reusedToken.UserID, now); revokeErr != nil {
				l.Error("failed to revoke token family after reuse",
					slog.String("user_id", reusedToken.UserID),
					slog.Any("error", revokeErr),
				)
				return nil, revokeErr
			}

			// The client error stays generic, but forensics gets the
			// state the token was in when it came back.
			state := "revoked"
			if reusedToken.Rotated() {
				state = "rotated"
			}
			l.Warn("refresh token reuse detected",
				slog.String("user_id", reusedToken.UserID),
				slog.String("token_id", reusedToken.ID),
				slog.String("state", state),
			)
			s.Audit.Record(ctx, domain.AuditLog{
				EventType: domain.EventTokenReuseDetected,
				Success:   false,
				UserID:    optional(reusedToken.UserID),
				IP:        optional(meta.IP),
				UserAgent: optional(meta.UserAgent),
				Metadata: map[string]string{
					"token_id": reusedToken.ID,
					"state":    state,
				},
			})
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	accessToken, err := s.signAccess(user, now)
	if err != nil {
		return nil, err
	}

	s.Audit.Record(ctx, domain.AuditLog{
		EventType: domain.EventTokenRefresh,
		Success:   true,
		UserID:    optional(user.ID),
		Email:     optional(user.Email),
		IP:        optional(meta.IP),
		UserAgent: optional(meta.UserAgent),
	})

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newOpaque,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// ValidateAccess verifies an access token's signature and claims.
func (s *TokenService) ValidateAccess(token string) (jwtx.Claims, error) {
	verifier, ok := s.Signer.(jwtx.Verifier)
	if !ok {
		return jwtx.Claims{}, errors.New("signer cannot verify")
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		return jwtx.Claims{}, err
	}
	if err := claims.ValidateIssuer(s.Issuer); err != nil {
		return jwtx.Claims{}, err
	}
	if err := claims.ValidateAudience(s.Audience); err != nil {
		return jwtx.Claims{}, err
	}
	return claims, nil
}

// Logout revokes a single refresh token by its opaque value. Idempotent;
// revoking an unknown or already-revoked token is not an error.
func (s *TokenService) Logout(ctx context.Context, userID, refreshOpaque string, meta RequestMeta) error {
	fp := cryptox.FingerprintToken(refreshOpaque)
	if err := s.Store.RefreshTokens().RevokeRefreshToken(ctx, fp, time.Now().UTC()); err != nil {
		return err
	}

	s.Audit.Record(ctx, domain.AuditLog{
		EventType: domain.EventLogout,
		Success:   true,
		UserID:    optional(userID),
		IP:        optional(meta.IP),
		UserAgent: optional(meta.UserAgent),
	})
	return nil
}

// LogoutAll revokes every live refresh token for a user.
func (s *TokenService) LogoutAll(ctx context.Context, userID string, meta RequestMeta) error {
	if err := s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID, time.Now().UTC()); err != nil {
		return err
	}

	s.Audit.Record(ctx, domain.AuditLog{
		EventType: domain.EventLogout,
		Success:   true,
		UserID:    optional(userID),
		IP:        optional(meta.IP),
		UserAgent: optional(meta.UserAgent),
		Metadata:  map[string]string{"scope": "all_sessions"},
	})
	return nil
}

// ActiveSessions reports how many redeemable refresh tokens a user has.
func (s *TokenService) ActiveSessions(ctx context.Context, userID string) (int, error) {
	return s.Store.RefreshTokens().CountActiveForUser(ctx, userID, time.Now().UTC())
}

func (s *TokenService) issuePair(ctx context.Context, u domain.User, meta RequestMeta, now time.Time) (*domain.TokenPair, error) {
	accessToken, err := s.signAccess(u, now)
	if err != nil {
		return nil, err
	}

	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	rt := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: cryptox.FingerprintToken(opaque),
		ExpiresAt: now.Add(s.RefreshTTL),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}
	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: opaque,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}, nil
}

func (s *TokenService) signAccess(u domain.User, now time.Time) (string, error) {
	claims := jwtx.NewAccessClaims(
		u.ID,        // subject
		u.Email,     // email claim
		s.AccessTTL, // token lifetime
		s.Issuer,    // issuer
		s.Audience,  // audience
		now,         // current time
	)
	return s.Signer.Sign(claims)
}

func (s *TokenService) challengeTTL() time.Duration {
	if s.ChallengeTTL > 0 {
		return s.ChallengeTTL
	}
	return DefaultChallengeTTL
}

// dummyHash is a syntactically valid argon2id hash that no password matches.
// Verified on unknown-email logins to equalize response timing.
const dummyHash = "$argon2id$v=19$m=19456,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
