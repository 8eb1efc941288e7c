package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/planfold/planfold/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func countEvents(entries []domain.AuditLog, et domain.EventType) int {
	var n int
	for _, e := range entries {
		if e.EventType == et {
			n++
		}
	}
	return n
}

func TestRecordIsFailOpen(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)

	// Closing the store makes every write fail; Record must swallow it.
	require.NoError(t, svc.Store.Close())
	svc.Audit.Record(ctx, domain.AuditLog{EventType: domain.EventLogin, Success: true})
}

func TestFailedLoginBurstFlagsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	seedUser(t, svc.Store, "alice@example.com", "Str0ng!passphrase")

	threshold := svc.Audit.Config.FailedLoginThreshold

	// Go well past the threshold. Every attempt past it could flag, but
	// only the first one may.
	for range threshold + 4 {
		_, err := svc.Token.Login(ctx, "alice@example.com", "wrong-password", RequestMeta{IP: "10.0.0.1"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	entries, err := svc.Audit.ByIP(ctx, "10.0.0.1", 100)
	require.NoError(t, err)
	require.Equal(t, 1, countEvents(entries, domain.EventSuspiciousActivity))
	require.Equal(t, threshold+4, countEvents(entries, domain.EventLoginFailed))
}

func TestFailedLoginsBelowThresholdDoNotFlag(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	u := seedUser(t, svc.Store, "alice@example.com", "Str0ng!passphrase")

	for range svc.Audit.Config.FailedLoginThreshold {
		_, err := svc.Token.Login(ctx, "alice@example.com", "wrong-password", RequestMeta{IP: "10.0.0.1"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	flagged, err := svc.Audit.HasSuspiciousActivity(ctx, u.ID, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, flagged)
}

func TestCredentialStuffingHeuristic(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	u := seedUser(t, svc.Store, "bystander@example.com", "Str0ng!passphrase")

	// One IP failing logins across many unknown emails.
	for i := range svc.Audit.Config.DistinctEmailThreshold + 2 {
		email := fmt.Sprintf("victim%d@example.com", i)
		_, err := svc.Token.Login(ctx, email, "guess", RequestMeta{IP: "203.0.113.7"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	entries, err := svc.Audit.ByIP(ctx, "203.0.113.7", 100)
	require.NoError(t, err)
	require.Equal(t, 1, countEvents(entries, domain.EventSuspiciousActivity))

	var flagged domain.AuditLog
	for _, e := range entries {
		if e.EventType == domain.EventSuspiciousActivity {
			flagged = e
		}
	}
	require.Equal(t, "credential_stuffing", flagged.Metadata["heuristic"])

	// A user with a clean history is still warned when the calling IP
	// carries a flag.
	suspicious, err := svc.Audit.HasSuspiciousActivity(ctx, u.ID, "203.0.113.7")
	require.NoError(t, err)
	require.True(t, suspicious)

	suspicious, err = svc.Audit.HasSuspiciousActivity(ctx, u.ID, "192.0.2.1")
	require.NoError(t, err)
	require.False(t, suspicious)
}

func TestLoginIPSpreadHeuristic(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	u := seedUser(t, svc.Store, "alice@example.com", "Str0ng!passphrase")

	for i := range svc.Audit.Config.DistinctIPThreshold + 1 {
		meta := RequestMeta{IP: fmt.Sprintf("198.51.100.%d", i+1)}
		_, err := svc.Token.Login(ctx, "alice@example.com", "Str0ng!passphrase", meta)
		require.NoError(t, err)
	}

	history, err := svc.Audit.UserHistory(ctx, u.ID, 100)
	require.NoError(t, err)
	require.Equal(t, 1, countEvents(history, domain.EventSuspiciousActivity))

	flagged, err := svc.Audit.HasSuspiciousActivity(ctx, u.ID, "")
	require.NoError(t, err)
	require.True(t, flagged)
}

func TestUserHistoryIsNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	u := seedUser(t, svc.Store, "alice@example.com", "Str0ng!passphrase")

	for _, et := range []domain.EventType{domain.EventLogin, domain.EventLogout, domain.EventLogin} {
		svc.Audit.Record(ctx, domain.AuditLog{EventType: et, Success: true, UserID: optional(u.ID)})
	}

	history, err := svc.Audit.UserHistory(ctx, u.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, domain.EventLogin, history[0].EventType)
	require.Equal(t, domain.EventLogout, history[1].EventType)
	require.GreaterOrEqual(t, history[0].CreatedAt, history[1].CreatedAt)
}

func TestRecentFailedLogins(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	seedUser(t, svc.Store, "alice@example.com", "Str0ng!passphrase")

	for range 3 {
		_, err := svc.Token.Login(ctx, "alice@example.com", "wrong-password", RequestMeta{IP: "10.0.0.1", UserAgent: "test"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	failed, err := svc.Audit.RecentFailedLogins(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Len(t, failed, 3)
	for _, e := range failed {
		require.Equal(t, domain.EventLoginFailed, e.EventType)
		require.False(t, e.Success)
		require.NotNil(t, e.Reason)
	}
}
