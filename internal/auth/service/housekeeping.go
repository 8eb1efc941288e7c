package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/planfold/planfold/internal/auth/store"
)

// HousekeepingService periodically cleans up dead database records to
// prevent unbounded growth of refresh_tokens, mfa_challenges, and
// audit_logs.
type HousekeepingService struct {
	Store  store.Store
	Logger *slog.Logger

	Interval time.Duration

	// TokenRetention keeps expired refresh token rows around for a while
	// after expiry so reuse of a recently-expired token still resolves to
	// a row instead of silently 404ing.
	TokenRetention time.Duration

	// AuditRetention bounds how far back the ledger reaches.
	AuditRetention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. Zero durations get
// sensible defaults: hourly runs, 30 days of token retention, 90 days of
// audit retention.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval, tokenRetention, auditRetention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if tokenRetention <= 0 {
		tokenRetention = 30 * 24 * time.Hour
	}
	if auditRetention <= 0 {
		auditRetention = 90 * 24 * time.Hour
	}

	return &HousekeepingService{
		Store:          st,
		Logger:         logger,
		Interval:       interval,
		TokenRetention: tokenRetention,
		AuditRetention: auditRetention,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// Non-blocking; call Stop() to gracefully shut the worker down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker. Blocks until any
// in-progress cleanup finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup performs the actual deletion of dead records. Each deletion is
// independent; a failure in one won't stop the others.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Logger.Info("starting housekeeping cleanup")

	if err := s.Store.RefreshTokens().DeleteExpiredBefore(ctx, now.Add(-s.TokenRetention)); err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
	} else {
		s.Logger.Debug("deleted expired refresh tokens")
	}

	if err := s.Store.MFAChallenges().DeleteExpiredMFAChallenges(ctx); err != nil {
		s.Logger.Error("failed to delete expired MFA challenges", "error", err)
	} else {
		s.Logger.Debug("deleted expired MFA challenges")
	}

	if err := s.Store.AuditLogs().DeleteBefore(ctx, now.Add(-s.AuditRetention)); err != nil {
		s.Logger.Error("failed to delete old audit entries", "error", err)
	} else {
		s.Logger.Debug("deleted old audit entries")
	}

	s.Logger.Info("housekeeping cleanup completed")
}
