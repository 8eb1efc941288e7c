package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/planfold/planfold/internal/auth/service"
	"github.com/planfold/planfold/pkg/httpx"
	"github.com/planfold/planfold/pkg/passwordx"
	"github.com/planfold/planfold/pkg/slogx"
)

// PasswordHandler handles password change and policy endpoints.
type PasswordHandler struct {
	UserService *service.UserService
}

// HandleChange handles POST /v1/auth/password. A successful change revokes
// every live session.
func (h *PasswordHandler) HandleChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromContext(ctx)

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeInvalidRequest(w, "current_password and new_password are required")
		return
	}

	err := h.UserService.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword, requestMeta(r))
	if err != nil {
		var policyErr *service.PasswordPolicyError
		switch {
		case errors.Is(err, service.ErrWrongPassword):
			writeError(w, http.StatusForbidden, "wrong_password", "current password is incorrect")
		case errors.As(err, &policyErr):
			httpx.WriteJSON(w, http.StatusBadRequest, struct {
				errorResponse
				Violations []passwordx.Violation `json:"violations"`
			}{
				errorResponse: errorResponse{Error: "weak_password", ErrorDescription: "password does not meet policy"},
				Violations:    policyErr.Violations,
			})
		default:
			log.Error("password change failed", "user_id", userID, "err", err)
			writeServerError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "password changed; all sessions revoked",
	})
}

// HandleSuggest handles GET /v1/auth/password/suggest, returning a random
// policy-compliant password.
func (h *PasswordHandler) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	pw, err := h.UserService.SuggestPassword()
	if err != nil {
		log.Error("password generation failed", "err", err)
		writeServerError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"password": pw})
}

// HandlePolicy handles GET /v1/auth/password/policy, exposing the active
// rules so clients can validate before submitting.
func (h *PasswordHandler) HandlePolicy(w http.ResponseWriter, r *http.Request) {
	s := h.UserService.Policy.Settings()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"min_length":        s.MinLength,
		"max_length":        s.MaxLength,
		"require_uppercase": s.RequireUppercase,
		"require_lowercase": s.RequireLowercase,
		"require_digit":     s.RequireDigit,
		"require_special":   s.RequireSpecial,
		"special_chars":     s.SpecialChars,
		"max_repeat_run":    s.MaxRepeatRun,
		"reject_common":     s.RejectCommonPasswords,
		"reject_user_info":  s.RejectUserInfo,
		"expiration_days":   s.ExpirationDays,
	})
}
