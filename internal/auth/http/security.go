package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/planfold/planfold/internal/auth/domain"
	"github.com/planfold/planfold/internal/auth/service"
	"github.com/planfold/planfold/pkg/httpx"
	"github.com/planfold/planfold/pkg/slogx"
)

// SecurityHandler exposes the authenticated user's own security ledger:
// audit history and active session count.
type SecurityHandler struct {
	AuditService *service.AuditService
	TokenService *service.TokenService
}

type auditEntryResponse struct {
	ID        string            `json:"id"`
	EventType string            `json:"event_type"`
	Success   bool              `json:"success"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// HandleHistory handles GET /v1/security/history.
func (h *SecurityHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromContext(ctx)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.AuditService.UserHistory(ctx, userID, limit)
	if err != nil {
		log.Error("audit history query failed", "user_id", userID, "err", err)
		writeServerError(w)
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditEntryResponse(e))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// HandleSessions handles GET /v1/security/sessions, reporting how many
// refresh tokens are currently redeemable.
func (h *SecurityHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromContext(ctx)

	count, err := h.TokenService.ActiveSessions(ctx, userID)
	if err != nil {
		log.Error("session count query failed", "user_id", userID, "err", err)
		writeServerError(w)
		return
	}

	suspicious, err := h.AuditService.HasSuspiciousActivity(ctx, userID, httpx.ClientIP(r))
	if err != nil {
		log.Error("suspicious activity query failed", "user_id", userID, "err", err)
		writeServerError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"active_sessions":     count,
		"suspicious_activity": suspicious,
	})
}

func toAuditEntryResponse(e domain.AuditLog) auditEntryResponse {
	out := auditEntryResponse{
		ID:        e.ID,
		EventType: string(e.EventType),
		Success:   e.Success,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
	if e.IP != nil {
		out.IP = *e.IP
	}
	if e.UserAgent != nil {
		out.UserAgent = *e.UserAgent
	}
	if e.Reason != nil {
		out.Reason = *e.Reason
	}
	return out
}
