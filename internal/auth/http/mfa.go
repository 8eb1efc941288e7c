package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/planfold/planfold/internal/auth/service"
	"github.com/planfold/planfold/pkg/httpx"
	"github.com/planfold/planfold/pkg/slogx"
)

// MFAHandler handles all MFA management endpoints. Every route here sits
// behind AuthnMiddleware; the login-time verification path lives on
// AuthHandler instead.
type MFAHandler struct {
	MFAService *service.MFAService
}

type mfaSetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	ManualEntryKey  string `json:"manual_entry_key"`
	Issuer          string `json:"issuer"`
	Account         string `json:"account"`
}

type backupCodesResponse struct {
	Codes []string `json:"codes"`
}

// HandleSetup handles POST /v1/mfa/setup. Returns provisioning material;
// MFA stays off until the user confirms a code.
func (h *MFAHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromContext(ctx)

	setup, err := h.MFAService.BeginSetup(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrMFAAlreadyEnabled) {
			writeError(w, http.StatusBadRequest, "mfa_already_enabled", "MFA is already enabled for this user")
			return
		}
		log.Error("MFA setup failed", "user_id", userID, "err", err)
		writeServerError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, mfaSetupResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		ManualEntryKey:  setup.ManualEntryKey,
		Issuer:          setup.Issuer,
		Account:         setup.Account,
	})
}

// HandleConfirm handles POST /v1/mfa/confirm. A valid code enables MFA and
// returns the one-time view of the backup codes.
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromContext(ctx)

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "invalid JSON body")
		return
	}

	codes, err := h.MFAService.ConfirmSetup(ctx, userID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidMFACode):
			writeError(w, http.StatusBadRequest, "invalid_code", "TOTP code is invalid")
		case errors.Is(err, service.ErrMFAAlreadyEnabled):
			writeError(w, http.StatusBadRequest, "mfa_already_enabled", "MFA is already enabled for this user")
		case errors.Is(err, service.ErrMFANotEnabled):
			writeError(w, http.StatusBadRequest, "mfa_not_enrolled", "setup has not been started")
		default:
			log.Error("MFA confirm failed", "user_id", userID, "err", err)
			writeServerError(w)
		}
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, backupCodesResponse{Codes: codes})
}

// HandleDisable handles DELETE /v1/mfa. Gated on the account password so a
// user without their authenticator can still turn MFA off.
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromContext(ctx)

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "invalid JSON body")
		return
	}

	if err := h.MFAService.Disable(ctx, userID, req.Password); err != nil {
		switch {
		case errors.Is(err, service.ErrWrongPassword):
			writeError(w, http.StatusForbidden, "wrong_password", "password is incorrect")
		case errors.Is(err, service.ErrMFANotEnabled):
			writeError(w, http.StatusBadRequest, "mfa_not_enabled", "MFA is not enabled for this user")
		default:
			log.Error("MFA disable failed", "user_id", userID, "err", err)
			writeServerError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "MFA disabled"})
}

// HandleRegenerateBackupCodes handles POST /v1/mfa/backup-codes. Replaces
// every existing code with a fresh set.
func (h *MFAHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromContext(ctx)

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "invalid JSON body")
		return
	}

	codes, err := h.MFAService.RegenerateBackupCodes(ctx, userID, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWrongPassword):
			writeError(w, http.StatusForbidden, "wrong_password", "password is incorrect")
		case errors.Is(err, service.ErrMFANotEnabled):
			writeError(w, http.StatusBadRequest, "mfa_not_enabled", "MFA is not enabled for this user")
		default:
			log.Error("backup code regeneration failed", "user_id", userID, "err", err)
			writeServerError(w)
		}
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, backupCodesResponse{Codes: codes})
}
