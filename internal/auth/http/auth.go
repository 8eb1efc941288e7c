package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/planfold/planfold/internal/auth/domain"
	"github.com/planfold/planfold/internal/auth/service"
	"github.com/planfold/planfold/pkg/httpx"
	"github.com/planfold/planfold/pkg/passwordx"
	"github.com/planfold/planfold/pkg/slogx"
)

// AuthHandler handles registration, login, and session lifecycle endpoints.
type AuthHandler struct {
	TokenService *service.TokenService
	UserService  *service.UserService
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type mfaRequiredResponse struct {
	MFARequired bool   `json:"mfa_required"`
	ChallengeID string `json:"challenge_id"`
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IP:        httpx.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// HandleRegister handles POST /v1/auth/register.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeInvalidRequest(w, "email and password are required")
		return
	}

	u, err := h.UserService.Register(ctx, req.Email, req.Name, req.Password, requestMeta(r))
	if err != nil {
		var policyErr *service.PasswordPolicyError
		switch {
		case errors.As(err, &policyErr):
			httpx.WriteJSON(w, http.StatusBadRequest, struct {
				errorResponse
				Violations []passwordx.Violation `json:"violations"`
			}{
				errorResponse: errorResponse{Error: "weak_password", ErrorDescription: "password does not meet policy"},
				Violations:    policyErr.Violations,
			})
		case errors.Is(err, service.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
		default:
			log.Error("registration failed", "err", err)
			writeServerError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]string{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
	})
}

// HandleLogin handles POST /v1/auth/login. MFA-enabled accounts get a
// challenge reference instead of tokens.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "invalid JSON body")
		return
	}

	pair, err := h.TokenService.Login(ctx, req.Email, req.Password, requestMeta(r))
	if err != nil {
		var mfaErr *service.MFARequiredError
		switch {
		case errors.As(err, &mfaErr):
			httpx.NoCache(w)
			httpx.WriteJSON(w, http.StatusOK, mfaRequiredResponse{
				MFARequired: true,
				ChallengeID: mfaErr.ChallengeID,
			})
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		case errors.Is(err, service.ErrPasswordExpired):
			writeError(w, http.StatusForbidden, "password_expired", "password has expired and must be changed")
		default:
			log.Error("login failed", "err", err)
			writeServerError(w)
		}
		return
	}

	writeTokenPair(w, pair)
}

// HandleMFALogin handles POST /v1/auth/login/mfa, redeeming a deferred
// login challenge with a TOTP or backup code.
func (h *AuthHandler) HandleMFALogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		ChallengeID string `json:"challenge_id"`
		Method      string `json:"method"`
		Code        string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "invalid JSON body")
		return
	}
	if req.ChallengeID == "" || req.Code == "" {
		writeInvalidRequest(w, "challenge_id and code are required")
		return
	}

	pair, err := h.TokenService.CompleteMFALogin(ctx, req.ChallengeID, req.Method, req.Code, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidChallenge):
			writeError(w, http.StatusUnauthorized, "invalid_challenge", "challenge or code is invalid")
		case errors.Is(err, service.ErrTooManyAttempts):
			writeError(w, http.StatusTooManyRequests, "too_many_attempts", "challenge destroyed after too many failed attempts")
		default:
			log.Error("MFA login failed", "err", err)
			writeServerError(w)
		}
		return
	}

	writeTokenPair(w, pair)
}

// HandleRefresh handles POST /v1/auth/refresh.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeInvalidRequest(w, "refresh_token is required")
		return
	}

	pair, err := h.TokenService.Refresh(ctx, req.RefreshToken, requestMeta(r))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefresh) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token is invalid")
			return
		}
		log.Error("refresh failed", "err", err)
		writeServerError(w)
		return
	}

	writeTokenPair(w, pair)
}

// HandleLogout handles POST /v1/auth/logout. Authenticated; revokes the
// presented refresh token.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromContext(ctx)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeInvalidRequest(w, "refresh_token is required")
		return
	}

	if err := h.TokenService.Logout(ctx, userID, req.RefreshToken, requestMeta(r)); err != nil {
		log.Error("logout failed", "err", err)
		writeServerError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleLogoutAll handles POST /v1/auth/logout/all, revoking every live
// session for the authenticated user.
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromContext(ctx)

	if err := h.TokenService.LogoutAll(ctx, userID, requestMeta(r)); err != nil {
		log.Error("logout all failed", "err", err)
		writeServerError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "all sessions revoked"})
}

func writeTokenPair(w http.ResponseWriter, pair *domain.TokenPair) {
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
	})
}
