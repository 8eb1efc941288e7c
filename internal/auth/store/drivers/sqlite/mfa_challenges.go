package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/planfold/planfold/internal/auth/domain"
)

type mfaChallengesRepo struct {
	db dbtx
}

func scanMFAChallenge(row *sql.Row) (domain.MFAChallenge, error) {
	var c domain.MFAChallenge
	err := row.Scan(
		&c.ID, &c.UserID, &c.IP, &c.UserAgent,
		&c.Attempts, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return domain.MFAChallenge{}, mapNotFound(err)
	}
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (r *mfaChallengesRepo) CreateMFAChallenge(ctx context.Context, c domain.MFAChallenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_challenges (id, user_id, ip, user_agent, attempts, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.IP, c.UserAgent, c.Attempts,
		c.ExpiresAt.UTC(), c.CreatedAt.UTC())
	return err
}

func (r *mfaChallengesRepo) GetMFAChallenge(ctx context.Context, id string) (domain.MFAChallenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, ip, user_agent, attempts, expires_at, created_at
		FROM mfa_challenges WHERE id = ? AND expires_at > ?`,
		id, time.Now().UTC())
	return scanMFAChallenge(row)
}

func (r *mfaChallengesRepo) IncrementMFAChallengeAttempts(ctx context.Context, id string) (domain.MFAChallenge, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE mfa_challenges SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return domain.MFAChallenge{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, ip, user_agent, attempts, expires_at, created_at
		FROM mfa_challenges WHERE id = ?`, id)
	return scanMFAChallenge(row)
}

func (r *mfaChallengesRepo) DeleteMFAChallenge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_challenges WHERE id = ?`, id)
	return err
}

func (r *mfaChallengesRepo) DeleteExpiredMFAChallenges(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mfa_challenges WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
