package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sitework-service/internal/domain"
	"github.com/spec-kit/sitework-service/internal/session"
)

const sessionColumns = `
        id, user_id, email, role, company_id, refresh_token,
        ip_address, user_agent, created_at, last_activity, expires_at,
        is_revoked, revoked_at, revoked_reason`

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns the Postgres-backed durable store for
// session rows.
func NewSessionRepository(pool *pgxpool.Pool) session.Repository {
	return &sessionRepository{pool: pool}
}

func (r *sessionRepository) Insert(ctx context.Context, sess *domain.Session) error {
	const query = `
        INSERT INTO sessions (
            id, user_id, email, role, company_id, refresh_token,
            ip_address, user_agent, created_at, last_activity, expires_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err := r.pool.Exec(ctx, query,
		sess.ID,
		sess.UserID,
		sess.Email,
		sess.Role,
		sess.CompanyID,
		sess.RefreshToken,
		sess.IPAddress,
		sess.UserAgent,
		sess.CreatedAt,
		sess.LastActivity,
		sess.ExpiresAt,
	)
	return err
}

func (r *sessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id=$1`

	sess, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (r *sessionRepository) UpdateActivity(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `
        UPDATE sessions SET last_activity=$1
        WHERE id=$2 AND is_revoked=false`

	cmd, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *sessionRepository) Revoke(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) (bool, error) {
	const query = `
        UPDATE sessions SET is_revoked=true, revoked_at=$1, revoked_reason=$2
        WHERE id=$3 AND is_revoked=false`

	cmd, err := r.pool.Exec(ctx, query, at, reason, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *sessionRepository) RevokeAllForUser(ctx context.Context, userID string, reason domain.RevokeReason, at time.Time) (int, error) {
	const query = `
        UPDATE sessions SET is_revoked=true, revoked_at=$1, revoked_reason=$2
        WHERE user_id=$3 AND is_revoked=false`

	cmd, err := r.pool.Exec(ctx, query, at, reason, userID)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (r *sessionRepository) ListActiveForUser(ctx context.Context, userID string) ([]domain.Session, error) {
	const query = `SELECT ` + sessionColumns + `
        FROM sessions WHERE user_id=$1 AND is_revoked=false
        ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (r *sessionRepository) RevokeWhereExpired(ctx context.Context, now time.Time) (int, error) {
	const query = `
        UPDATE sessions SET is_revoked=true, revoked_at=$1, revoked_reason=$2
        WHERE is_revoked=false AND expires_at <= $1`

	cmd, err := r.pool.Exec(ctx, query, now, domain.RevokeReasonExpired)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (r *sessionRepository) RevokeWhereInactive(ctx context.Context, cutoff time.Time, now time.Time) (int, error) {
	const query = `
        UPDATE sessions SET is_revoked=true, revoked_at=$1, revoked_reason=$2
        WHERE is_revoked=false AND last_activity <= $3`

	cmd, err := r.pool.Exec(ctx, query, now, domain.RevokeReasonInactive, cutoff)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var sess domain.Session
	if err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.Email,
		&sess.Role,
		&sess.CompanyID,
		&sess.RefreshToken,
		&sess.IPAddress,
		&sess.UserAgent,
		&sess.CreatedAt,
		&sess.LastActivity,
		&sess.ExpiresAt,
		&sess.IsRevoked,
		&sess.RevokedAt,
		&sess.RevokedReason,
	); err != nil {
		return nil, err
	}
	return &sess, nil
}
