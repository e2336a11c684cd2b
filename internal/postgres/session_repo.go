package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	auth "github.com/castellan/castellan"
)

func sessionQueries() map[string]string {
	const columns = `id, principal_id, fingerprint, device_name, device_type, browser, os,
		ip_address, location, created_at, last_active_at, expires_at, revoked_at,
		revoke_reason, is_trusted, trusted_until`

	return map[string]string{
		"byID": `
			SELECT ` + columns + `
			FROM session
			WHERE id = $1;
		`,
		"byPrincipal": `
			SELECT ` + columns + `
			FROM session
			WHERE principal_id = $1
			ORDER BY last_active_at DESC;
		`,
		"activeByFingerprint": `
			SELECT ` + columns + `
			FROM session
			WHERE principal_id = $1
			AND fingerprint = $2
			AND revoked_at IS NULL
			ORDER BY created_at DESC
			LIMIT 1;
		`,
		"forUpdate": `
			SELECT ` + columns + `
			FROM session
			WHERE id = $1
			FOR UPDATE;
		`,
		"insert": `
			INSERT INTO session (
				id, principal_id, fingerprint, device_name, device_type, browser, os,
				ip_address, location, last_active_at, expires_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING created_at;
		`,
		"update": `
			UPDATE session
			SET ip_address=$2, location=$3, last_active_at=$4, expires_at=$5,
				revoked_at=$6, revoke_reason=$7, is_trusted=$8, trusted_until=$9
			WHERE id = $1;
		`,
		"touch": `
			UPDATE session
			SET last_active_at=$2
			WHERE id = $1;
		`,
		"revokeAllExcept": `
			UPDATE session
			SET revoked_at=$4, revoke_reason=$3
			WHERE principal_id = $1
			AND id <> $2
			AND revoked_at IS NULL;
		`,
		"trusted": `
			SELECT ` + columns + `
			FROM session
			WHERE principal_id = $1
			AND is_trusted
			AND trusted_until > $2
			AND revoked_at IS NULL
			ORDER BY trusted_until;
		`,
		"seenFingerprint": `
			SELECT EXISTS (
				SELECT 1 FROM session
				WHERE principal_id = $1
				AND fingerprint = $2
				AND created_at >= $3
			);
		`,
	}
}

// SessionRepository is an implementation of auth.SessionRepository.
type SessionRepository struct {
	client *Client
}

// ByID retrieves a Session with a matching ID.
func (r *SessionRepository) ByID(ctx context.Context, id string) (*auth.Session, error) {
	return r.get(ctx, "byID", id)
}

// ByPrincipal retrieves all sessions for a principal, most recently
// active first.
func (r *SessionRepository) ByPrincipal(ctx context.Context, principalID string) ([]*auth.Session, error) {
	return r.list(ctx, "byPrincipal", principalID)
}

// ActiveByFingerprint returns the newest unrevoked session with the
// fingerprint.
func (r *SessionRepository) ActiveByFingerprint(ctx context.Context, principalID, fingerprint string) (*auth.Session, error) {
	return r.get(ctx, "activeByFingerprint", principalID, fingerprint)
}

// GetForUpdate retrieves a Session to be updated, locking the row.
func (r *SessionRepository) GetForUpdate(ctx context.Context, id string) (*auth.Session, error) {
	return r.get(ctx, "forUpdate", id)
}

// Create persists a new Session to storage.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	row := r.client.queryRowContext(
		ctx,
		r.client.sessionQ["insert"],
		session.ID,
		session.PrincipalID,
		session.Fingerprint,
		session.DeviceName,
		session.DeviceType,
		session.Browser,
		session.OS,
		session.IPAddress,
		session.Location,
		session.LastActiveAt,
		session.ExpiresAt,
	)
	return row.Scan(&session.CreatedAt)
}

// Update updates a Session in storage.
func (r *SessionRepository) Update(ctx context.Context, session *auth.Session) error {
	res, err := r.client.execContext(
		ctx,
		r.client.sessionQ["update"],
		session.ID,
		session.IPAddress,
		session.Location,
		session.LastActiveAt,
		session.ExpiresAt,
		session.RevokedAt,
		session.RevokeReason,
		session.IsTrusted,
		session.TrustedUntil,
	)
	if err != nil {
		return fmt.Errorf("failed to execute update: %w", err)
	}

	updatedRows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if updatedRows != 1 {
		return fmt.Errorf("wrong number of sessions updated: %d", updatedRows)
	}
	return nil
}

// Touch updates last activity only.
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.client.execContext(ctx, r.client.sessionQ["touch"], id, at)
	if err != nil {
		return fmt.Errorf("failed to execute touch: %w", err)
	}
	return nil
}

// RevokeAllExcept revokes every unrevoked session but the kept one and
// returns the number revoked.
func (r *SessionRepository) RevokeAllExcept(ctx context.Context, principalID, keepID, reason string, at time.Time) (int, error) {
	res, err := r.client.execContext(ctx, r.client.sessionQ["revokeAllExcept"], principalID, keepID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("failed to execute revoke: %w", err)
	}

	revokedRows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}

	return int(revokedRows), nil
}

// Trusted returns unexpired trust-bearing sessions, oldest trust first.
func (r *SessionRepository) Trusted(ctx context.Context, principalID string, now time.Time) ([]*auth.Session, error) {
	return r.list(ctx, "trusted", principalID, now)
}

// SeenFingerprint reports whether the fingerprint appears on any
// session created since the given instant.
func (r *SessionRepository) SeenFingerprint(ctx context.Context, principalID, fingerprint string, since time.Time) (bool, error) {
	var seen bool
	row := r.client.queryRowContext(ctx, r.client.sessionQ["seenFingerprint"], principalID, fingerprint, since)
	if err := row.Scan(&seen); err != nil {
		return false, err
	}
	return seen, nil
}

func (r *SessionRepository) get(ctx context.Context, queryKey string, values ...interface{}) (*auth.Session, error) {
	session := auth.Session{}
	row := r.client.queryRowContext(ctx, r.client.sessionQ[queryKey], values...)
	err := row.Scan(
		&session.ID, &session.PrincipalID, &session.Fingerprint, &session.DeviceName,
		&session.DeviceType, &session.Browser, &session.OS, &session.IPAddress,
		&session.Location, &session.CreatedAt, &session.LastActiveAt, &session.ExpiresAt,
		&session.RevokedAt, &session.RevokeReason, &session.IsTrusted, &session.TrustedUntil,
	)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound("session not found")
	}
	if err != nil {
		return nil, err
	}

	return &session, nil
}

func (r *SessionRepository) list(ctx context.Context, queryKey string, values ...interface{}) ([]*auth.Session, error) {
	rows, err := r.client.queryContext(ctx, r.client.sessionQ[queryKey], values...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*auth.Session, 0)
	for rows.Next() {
		session := auth.Session{}
		err := rows.Scan(
			&session.ID, &session.PrincipalID, &session.Fingerprint, &session.DeviceName,
			&session.DeviceType, &session.Browser, &session.OS, &session.IPAddress,
			&session.Location, &session.CreatedAt, &session.LastActiveAt, &session.ExpiresAt,
			&session.RevokedAt, &session.RevokeReason, &session.IsTrusted, &session.TrustedUntil,
		)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}
