package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/planfold/planfold/internal/auth/domain"
)

type auditLogsRepo struct {
	db dbtx
}

const auditLogColumns = `id, event_type, success, user_id, email, reason, ip,
	user_agent, metadata, created_at`

func (r *auditLogsRepo) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	var metadata sql.NullString
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, event_type, success, user_id, email, reason,
			ip, user_agent, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.EventType), entry.Success,
		mapOptionalString(entry.UserID), mapOptionalString(entry.Email),
		mapOptionalString(entry.Reason), mapOptionalString(entry.IP),
		mapOptionalString(entry.UserAgent), metadata,
		entry.CreatedAt.UTC(),
	)
	return err
}

func (r *auditLogsRepo) queryAuditLogs(ctx context.Context, query string, args ...any) ([]domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditLog
	for rows.Next() {
		var (
			e         domain.AuditLog
			eventType string
			userID    sql.NullString
			email     sql.NullString
			reason    sql.NullString
			ip        sql.NullString
			userAgent sql.NullString
			metadata  sql.NullString
		)
		err := rows.Scan(
			&e.ID, &eventType, &e.Success,
			&userID, &email, &reason, &ip, &userAgent, &metadata,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.EventType = domain.EventType(eventType)
		e.UserID = mapNullStringPtr(userID)
		e.Email = mapNullStringPtr(email)
		e.Reason = mapNullStringPtr(reason)
		e.IP = mapNullStringPtr(ip)
		e.UserAgent = mapNullStringPtr(userAgent)
		e.CreatedAt = e.CreatedAt.UTC()
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *auditLogsRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditLog, error) {
	return r.queryAuditLogs(ctx, `
		SELECT `+auditLogColumns+` FROM audit_logs
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
}

func (r *auditLogsRepo) ListByIP(ctx context.Context, ip string, limit int) ([]domain.AuditLog, error) {
	return r.queryAuditLogs(ctx, `
		SELECT `+auditLogColumns+` FROM audit_logs
		WHERE ip = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		ip, limit)
}

func (r *auditLogsRepo) ListFailedLoginsByEmail(ctx context.Context, email string, since time.Time) ([]domain.AuditLog, error) {
	return r.queryAuditLogs(ctx, `
		SELECT `+auditLogColumns+` FROM audit_logs
		WHERE email = ? AND event_type = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC`,
		email, string(domain.EventLoginFailed), since.UTC())
}

func (r *auditLogsRepo) CountByEmailAndType(ctx context.Context, email string, eventType domain.EventType, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_logs
		WHERE email = ? AND event_type = ? AND created_at >= ?`,
		email, string(eventType), since.UTC()).Scan(&count)
	return count, err
}

func (r *auditLogsRepo) CountByIPAndType(ctx context.Context, ip string, eventType domain.EventType, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_logs
		WHERE ip = ? AND event_type = ? AND created_at >= ?`,
		ip, string(eventType), since.UTC()).Scan(&count)
	return count, err
}

func (r *auditLogsRepo) CountByUserAndType(ctx context.Context, userID string, eventType domain.EventType, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_logs
		WHERE user_id = ? AND event_type = ? AND created_at >= ?`,
		userID, string(eventType), since.UTC()).Scan(&count)
	return count, err
}

func (r *auditLogsRepo) CountDistinctEmailsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT email) FROM audit_logs
		WHERE ip = ? AND event_type = ? AND email IS NOT NULL AND created_at >= ?`,
		ip, string(domain.EventLoginFailed), since.UTC()).Scan(&count)
	return count, err
}

func (r *auditLogsRepo) CountDistinctLoginIPsByUser(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT ip) FROM audit_logs
		WHERE user_id = ? AND event_type = ? AND success = 1
			AND ip IS NOT NULL AND created_at >= ?`,
		userID, string(domain.EventLogin), since.UTC()).Scan(&count)
	return count, err
}

func (r *auditLogsRepo) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE created_at < ?`, cutoff.UTC())
	return err
}
