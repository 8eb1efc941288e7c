package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/planfold/planfold/internal/auth/domain"
	"github.com/planfold/planfold/internal/auth/store"
	"github.com/planfold/planfold/pkg/idx"
)

// AuditConfig tunes the anomaly heuristics. Zero values fall back to the
// defaults below.
type AuditConfig struct {
	// FailedLoginThreshold is how many login_failed entries for one email
	// inside FailedLoginWindow trigger a suspicious_activity entry.
	FailedLoginThreshold int
	FailedLoginWindow    time.Duration

	// DistinctEmailThreshold is how many different emails one IP may fail
	// logins for inside FailedLoginWindow before it looks like credential
	// stuffing.
	DistinctEmailThreshold int

	// DistinctIPThreshold is how many different IPs a single user may
	// successfully log in from inside SuspiciousWindow.
	DistinctIPThreshold int
	SuspiciousWindow    time.Duration
}

func (c AuditConfig) withDefaults() AuditConfig {
	if c.FailedLoginThreshold <= 0 {
		c.FailedLoginThreshold = 5
	}
	if c.FailedLoginWindow <= 0 {
		c.FailedLoginWindow = 15 * time.Minute
	}
	if c.DistinctEmailThreshold <= 0 {
		c.DistinctEmailThreshold = 3
	}
	if c.DistinctIPThreshold <= 0 {
		c.DistinctIPThreshold = 5
	}
	if c.SuspiciousWindow <= 0 {
		c.SuspiciousWindow = 24 * time.Hour
	}
	return c
}

// AuditService appends entries to the security ledger and runs the anomaly
// heuristics over them. Recording is fail-open: an audit write failure is
// logged and swallowed so it can never take down the login path itself.
type AuditService struct {
	Store  store.Store
	Logger *slog.Logger
	Config AuditConfig
}

func NewAuditService(st store.Store, logger *slog.Logger, cfg AuditConfig) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{Store: st, Logger: logger, Config: cfg.withDefaults()}
}

// Record appends one entry. ID and CreatedAt are filled in here so callers
// only describe the event.
func (s *AuditService) Record(ctx context.Context, entry domain.AuditLog) {
	entry.ID = idx.New().String()
	entry.CreatedAt = time.Now().UTC()

	if err := s.Store.AuditLogs().CreateAuditLog(ctx, entry); err != nil {
		s.Logger.Warn("audit write failed",
			slog.String("event_type", string(entry.EventType)),
			slog.Any("error", err),
		)
	}
}

// RecordLoginFailed appends a login_failed entry and runs the burst and
// credential-stuffing heuristics for it.
func (s *AuditService) RecordLoginFailed(ctx context.Context, email, ip, userAgent, reason string) {
	s.Record(ctx, domain.AuditLog{
		EventType: domain.EventLoginFailed,
		Success:   false,
		Email:     optional(email),
		Reason:    optional(reason),
		IP:        optional(ip),
		UserAgent: optional(userAgent),
	})

	s.checkFailedLoginBurst(ctx, email, ip)
	s.checkCredentialStuffing(ctx, ip)
}

// RecordLogin appends a successful login entry and runs the
// many-distinct-IPs heuristic for the user.
func (s *AuditService) RecordLogin(ctx context.Context, userID, email, ip, userAgent string) {
	s.Record(ctx, domain.AuditLog{
		EventType: domain.EventLogin,
		Success:   true,
		UserID:    optional(userID),
		Email:     optional(email),
		IP:        optional(ip),
		UserAgent: optional(userAgent),
	})

	s.checkLoginIPSpread(ctx, userID, email)
}

// checkFailedLoginBurst synthesizes at most one suspicious_activity entry
// per email per window. The "already flagged" count check is what keeps a
// sustained burst from producing an alert per attempt.
func (s *AuditService) checkFailedLoginBurst(ctx context.Context, email, ip string) {
	since := time.Now().UTC().Add(-s.Config.FailedLoginWindow)

	failed, err := s.Store.AuditLogs().CountByEmailAndType(ctx, email, domain.EventLoginFailed, since)
	if err != nil {
		s.Logger.Warn("failed login count failed", slog.Any("error", err))
		return
	}
	if failed <= s.Config.FailedLoginThreshold {
		return
	}

	flagged, err := s.Store.AuditLogs().CountByEmailAndType(ctx, email, domain.EventSuspiciousActivity, since)
	if err != nil {
		s.Logger.Warn("suspicious activity count failed", slog.Any("error", err))
		return
	}
	if flagged > 0 {
		return
	}

	s.Logger.Warn("failed login burst detected",
		slog.String("email", email),
		slog.Int("failures", failed),
	)
	s.Record(ctx, domain.AuditLog{
		EventType: domain.EventSuspiciousActivity,
		Success:   false,
		Email:     optional(email),
		IP:        optional(ip),
		Metadata: map[string]string{
			"heuristic": "failed_login_burst",
			"trigger":   string(domain.EventLoginFailed),
		},
	})
}

// checkCredentialStuffing flags an IP that fails logins across many
// different emails in a short window.
func (s *AuditService) checkCredentialStuffing(ctx context.Context, ip string) {
	if ip == "" {
		return
	}
	since := time.Now().UTC().Add(-s.Config.FailedLoginWindow)

	emails, err := s.Store.AuditLogs().CountDistinctEmailsByIP(ctx, ip, since)
	if err != nil {
		s.Logger.Warn("distinct email count failed", slog.Any("error", err))
		return
	}
	if emails <= s.Config.DistinctEmailThreshold {
		return
	}

	flagged, err := s.Store.AuditLogs().CountByIPAndType(ctx, ip, domain.EventSuspiciousActivity, since)
	if err != nil {
		s.Logger.Warn("suspicious activity count failed", slog.Any("error", err))
		return
	}
	if flagged > 0 {
		return
	}

	s.Logger.Warn("credential stuffing pattern detected",
		slog.String("ip", ip),
		slog.Int("distinct_emails", emails),
	)
	s.Record(ctx, domain.AuditLog{
		EventType: domain.EventSuspiciousActivity,
		Success:   false,
		IP:        optional(ip),
		Metadata: map[string]string{
			"heuristic": "credential_stuffing",
			"trigger":   string(domain.EventLoginFailed),
		},
	})
}

// checkLoginIPSpread flags a user logging in from an unusual number of
// different IPs inside the suspicious window.
func (s *AuditService) checkLoginIPSpread(ctx context.Context, userID, email string) {
	since := time.Now().UTC().Add(-s.Config.SuspiciousWindow)

	ips, err := s.Store.AuditLogs().CountDistinctLoginIPsByUser(ctx, userID, since)
	if err != nil {
		s.Logger.Warn("distinct IP count failed", slog.Any("error", err))
		return
	}
	if ips <= s.Config.DistinctIPThreshold {
		return
	}

	flagged, err := s.Store.AuditLogs().CountByUserAndType(ctx, userID, domain.EventSuspiciousActivity, since)
	if err != nil {
		s.Logger.Warn("suspicious activity count failed", slog.Any("error", err))
		return
	}
	if flagged > 0 {
		return
	}

	s.Logger.Warn("login IP spread detected",
		slog.String("user_id", userID),
		slog.Int("distinct_ips", ips),
	)
	s.Record(ctx, domain.AuditLog{
		EventType: domain.EventSuspiciousActivity,
		Success:   false,
		UserID:    optional(userID),
		Email:     optional(email),
		Metadata: map[string]string{
			"heuristic": "login_ip_spread",
			"trigger":   string(domain.EventLogin),
		},
	})
}

// UserHistory returns a user's entries, newest first.
func (s *AuditService) UserHistory(ctx context.Context, userID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Store.AuditLogs().ListByUser(ctx, userID, limit)
}

// ByIP returns entries recorded against an IP, newest first.
func (s *AuditService) ByIP(ctx context.Context, ip string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Store.AuditLogs().ListByIP(ctx, ip, limit)
}

// RecentFailedLogins returns login_failed entries for an email inside the
// configured window.
func (s *AuditService) RecentFailedLogins(ctx context.Context, email string) ([]domain.AuditLog, error) {
	since := time.Now().UTC().Add(-s.Config.FailedLoginWindow)
	return s.Store.AuditLogs().ListFailedLoginsByEmail(ctx, email, since)
}

// HasSuspiciousActivity reports whether a user or the calling IP was
// flagged inside the suspicious window, or the user currently exceeds the
// distinct-IP threshold even if no flag entry has been written yet. An
// empty ip skips the IP-scoped check.
func (s *AuditService) HasSuspiciousActivity(ctx context.Context, userID, ip string) (bool, error) {
	since := time.Now().UTC().Add(-s.Config.SuspiciousWindow)

	flagged, err := s.Store.AuditLogs().CountByUserAndType(ctx, userID, domain.EventSuspiciousActivity, since)
	if err != nil {
		return false, err
	}
	if flagged > 0 {
		return true, nil
	}

	if ip != "" {
		flagged, err = s.Store.AuditLogs().CountByIPAndType(ctx, ip, domain.EventSuspiciousActivity, since)
		if err != nil {
			return false, err
		}
		if flagged > 0 {
			return true, nil
		}
	}

	ips, err := s.Store.AuditLogs().CountDistinctLoginIPsByUser(ctx, userID, since)
	if err != nil {
		return false, err
	}
	return ips > s.Config.DistinctIPThreshold, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
