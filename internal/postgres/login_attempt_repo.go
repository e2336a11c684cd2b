package postgres

import (
	"context"
	"database/sql"
	"time"

	auth "github.com/castellan/castellan"
)

func loginAttemptQueries() map[string]string {
	const columns = `id, principal_id, email, ip_address, user_agent, is_success,
		reason, is_mfa_used, created_at`

	return map[string]string{
		"insert": `
			INSERT INTO login_attempt (
				principal_id, email, ip_address, user_agent, is_success, reason, is_mfa_used
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at;
		`,
		"byPrincipal": `
			SELECT ` + columns + `
			FROM login_attempt
			WHERE principal_id = $1
			ORDER BY created_at DESC
			LIMIT $2
			OFFSET $3;
		`,
		"countByPrincipal": `
			SELECT COUNT(*) FROM login_attempt WHERE principal_id = $1;
		`,
		"recentFailures": `
			SELECT COUNT(*)
			FROM login_attempt
			WHERE lower(email) = lower($1)
			AND is_success = false
			AND created_at >= $2;
		`,
	}
}

// LoginAttemptRepository is an implementation of auth.LoginAttemptRepository.
type LoginAttemptRepository struct {
	client *Client
}

// Create appends a LoginAttempt. PrincipalID is stored as NULL for
// attempts against unknown emails.
func (r *LoginAttemptRepository) Create(ctx context.Context, attempt *auth.LoginAttempt) error {
	var principalID sql.NullString
	if attempt.PrincipalID != "" {
		principalID = sql.NullString{String: attempt.PrincipalID, Valid: true}
	}

	row := r.client.queryRowContext(
		ctx,
		r.client.loginAttemptQ["insert"],
		principalID,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.IsSuccess,
		attempt.Reason,
		attempt.IsMFAUsed,
	)
	return row.Scan(&attempt.ID, &attempt.CreatedAt)
}

// ByPrincipal lists a principal's attempts newest first with the total
// count before pagination.
func (r *LoginAttemptRepository) ByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*auth.LoginAttempt, int, error) {
	var total int
	if err := r.client.queryRowContext(ctx, r.client.loginAttemptQ["countByPrincipal"], principalID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.client.queryContext(ctx, r.client.loginAttemptQ["byPrincipal"], principalID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	attempts := make([]*auth.LoginAttempt, 0)
	for rows.Next() {
		var (
			attempt   auth.LoginAttempt
			principal sql.NullString
		)
		err := rows.Scan(
			&attempt.ID, &principal, &attempt.Email, &attempt.IPAddress, &attempt.UserAgent,
			&attempt.IsSuccess, &attempt.Reason, &attempt.IsMFAUsed, &attempt.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		attempt.PrincipalID = principal.String
		attempts = append(attempts, &attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

// RecentFailures counts failed attempts for an email since the given
// instant.
func (r *LoginAttemptRepository) RecentFailures(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	row := r.client.queryRowContext(ctx, r.client.loginAttemptQ["recentFailures"], email, since)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
