package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/planfold/planfold/internal/auth/service"
	"github.com/planfold/planfold/internal/auth/store/drivers/sqlite"
	"github.com/planfold/planfold/pkg/cryptox"
	"github.com/planfold/planfold/pkg/httpx"
	"github.com/planfold/planfold/pkg/jwtx"
	"github.com/planfold/planfold/pkg/passwordx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "http-test-*")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	// Strict limits would throttle repeated logins across tests.
	httpx.StrictLimit = httpx.RateLimitConfig{
		RequestsPerWindow: 1000,
		Window:            time.Minute,
		Burst:             1000,
	}

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

var testDBCounter atomic.Int64

func newTestRouter(t *testing.T) *Router {
	t.Helper()

	dsn := fmt.Sprintf("file:httptest%d?mode=memory&cache=shared", testDBCounter.Add(1))
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	pemKey, err := jwtx.GenerateEdDSAKeyPEM()
	require.NoError(t, err)
	signer, err := jwtx.NewEdDSASigner(pemKey)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	issuer := "test-issuer"
	audience := []string{"planfold-api"}

	audit := service.NewAuditService(st, logger, service.AuditConfig{})
	mfa := &service.MFAService{Store: st, Audit: audit, Issuer: "Planfold Test"}
	policy := passwordx.New(passwordx.DefaultSettings())
	token := &service.TokenService{
		Store:      st,
		Signer:     signer,
		MFA:        mfa,
		Audit:      audit,
		Issuer:     issuer,
		Audience:   audience,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}
	user := &service.UserService{Store: st, Audit: audit, Policy: policy}

	r := NewRouter(signer, issuer, audience, "test", st, logger)
	r.TokenService = token
	r.UserService = user
	r.MFAService = mfa
	r.AuditService = audit
	r.ApplyRoutes()
	return r
}

func doJSON(t *testing.T, router *Router, method, path, bearer string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestRegisterLoginRefreshFlow(t *testing.T) {
	router := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    "alice@example.com",
		"name":     "Alice",
		"password": "Str0ng!passphrase",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, body["id"])

	rec, body = doJSON(t, router, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "Str0ng!passphrase",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	// Authenticated endpoint works with the new access token.
	rec, body = doJSON(t, router, http.MethodGet, "/v1/security/sessions", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, body["active_sessions"])
	require.Equal(t, false, body["suspicious_activity"])

	// Refresh rotates.
	rec, body = doJSON(t, router, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := body["refresh_token"].(string)
	require.NotEqual(t, refresh, rotated)

	// Replay of the old token is rejected.
	rec, body = doJSON(t, router, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_refresh_token", body["error"])
}

func TestLoginFailureIsGeneric(t *testing.T) {
	router := newTestRouter(t)

	rec1, body1 := doJSON(t, router, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "ghost@example.com",
		"password": "whatever",
	})
	require.Equal(t, http.StatusUnauthorized, rec1.Code)
	require.Equal(t, "invalid_credentials", body1["error"])
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	router := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    "bob@example.com",
		"name":     "Bob",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "weak_password", body["error"])
	require.NotEmpty(t, body["violations"])
}

func TestMFAFlowOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	_, _ = doJSON(t, router, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    "alice@example.com",
		"name":     "Alice",
		"password": "Str0ng!passphrase",
	})
	_, login := doJSON(t, router, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "Str0ng!passphrase",
	})
	access := login["access_token"].(string)

	// Setup requires auth.
	rec, _ := doJSON(t, router, http.MethodPost, "/v1/mfa/setup", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, setup := doJSON(t, router, http.MethodPost, "/v1/mfa/setup", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	secret := setup["secret"].(string)
	require.NotEmpty(t, secret)
	require.Contains(t, setup["provisioning_uri"], "otpauth://")

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	rec, confirm := doJSON(t, router, http.MethodPost, "/v1/mfa/confirm", access, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, confirm["codes"], 8)

	// Login now defers to an MFA challenge.
	rec, challenge := doJSON(t, router, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "Str0ng!passphrase",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, challenge["mfa_required"])
	challengeID := challenge["challenge_id"].(string)
	require.NotEmpty(t, challengeID)

	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	rec, tokens := doJSON(t, router, http.MethodPost, "/v1/auth/login/mfa", "", map[string]string{
		"challenge_id": challengeID,
		"method":       "totp",
		"code":         code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, tokens["access_token"])
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])

	rec, body = doJSON(t, router, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
}
