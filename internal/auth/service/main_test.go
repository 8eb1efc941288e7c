package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/planfold/planfold/internal/auth/domain"
	"github.com/planfold/planfold/internal/auth/store"
	"github.com/planfold/planfold/internal/auth/store/drivers/sqlite"
	"github.com/planfold/planfold/pkg/cryptox"
	"github.com/planfold/planfold/pkg/idx"
	"github.com/planfold/planfold/pkg/jwtx"
	"github.com/planfold/planfold/pkg/passwordx"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "service-test-*")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

var testDBCounter atomic.Int64

// newTestStore opens a fresh in-memory database with migrations applied.
// The shared-cache DSN keeps all pooled connections on the same database.
func newTestStore(t *testing.T) store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:servicetest%d?mode=memory&cache=shared", testDBCounter.Add(1))
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func newTestSigner(t *testing.T) *jwtx.EdDSASigner {
	t.Helper()

	pemKey, err := jwtx.GenerateEdDSAKeyPEM()
	require.NoError(t, err)
	signer, err := jwtx.NewEdDSASigner(pemKey)
	require.NoError(t, err)
	return signer
}

type testServices struct {
	Store store.Store
	Token *TokenService
	MFA   *MFAService
	Audit *AuditService
	User  *UserService
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()

	st := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	audit := NewAuditService(st, logger, AuditConfig{})
	mfa := &MFAService{Store: st, Audit: audit, Issuer: "Planfold Test"}
	token := &TokenService{
		Store:      st,
		Signer:     newTestSigner(t),
		MFA:        mfa,
		Audit:      audit,
		Issuer:     "test-issuer",
		Audience:   []string{"planfold-api"},
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}
	user := &UserService{Store: st, Audit: audit, Policy: passwordx.New(passwordx.DefaultSettings())}

	return &testServices{Store: st, Token: token, MFA: mfa, Audit: audit, User: user}
}

// seedUser inserts a user with a real argon2id hash for the given password.
func seedUser(t *testing.T, st store.Store, email, password string) domain.User {
	t.Helper()

	hash, err := cryptox.Hash(password)
	require.NoError(t, err)

	now := time.Now().UTC()
	u := domain.User{
		ID:                idx.New().String(),
		Email:             email,
		Name:              "Test User",
		PasswordHash:      hash,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), u))
	return u
}
