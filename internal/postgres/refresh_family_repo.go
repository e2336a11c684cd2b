package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	auth "github.com/castellan/castellan"
)

func refreshFamilyQueries() map[string]string {
	const columns = `id, principal_id, session_id, version, revoked_at, created_at, updated_at`

	return map[string]string{
		"byID": `
			SELECT ` + columns + `
			FROM refresh_family
			WHERE id = $1;
		`,
		"insert": `
			INSERT INTO refresh_family (
				id, principal_id, session_id, version
			)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at;
		`,
		"advance": `
			UPDATE refresh_family
			SET version = version + 1, updated_at=$3
			WHERE id = $1
			AND version = $2
			AND revoked_at IS NULL
			RETURNING version;
		`,
		"revoke": `
			UPDATE refresh_family
			SET revoked_at=$2, updated_at=$2
			WHERE id = $1
			AND revoked_at IS NULL;
		`,
		"revokeByPrincipal": `
			UPDATE refresh_family
			SET revoked_at=$2, updated_at=$2
			WHERE principal_id = $1
			AND revoked_at IS NULL;
		`,
		"revokeBySession": `
			UPDATE refresh_family
			SET revoked_at=$2, updated_at=$2
			WHERE session_id = $1
			AND revoked_at IS NULL;
		`,
	}
}

// RefreshFamilyRepository is an implementation of auth.RefreshFamilyRepository.
type RefreshFamilyRepository struct {
	client *Client
}

// ByID retrieves a RefreshFamily with a matching ID.
func (r *RefreshFamilyRepository) ByID(ctx context.Context, id string) (*auth.RefreshFamily, error) {
	family := auth.RefreshFamily{}
	row := r.client.queryRowContext(ctx, r.client.refreshFamilyQ["byID"], id)
	err := row.Scan(
		&family.ID, &family.PrincipalID, &family.SessionID, &family.Version,
		&family.RevokedAt, &family.CreatedAt, &family.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound("refresh family not found")
	}
	if err != nil {
		return nil, err
	}

	return &family, nil
}

// Create persists a new RefreshFamily to storage.
func (r *RefreshFamilyRepository) Create(ctx context.Context, family *auth.RefreshFamily) error {
	if family.Version == 0 {
		family.Version = 1
	}

	row := r.client.queryRowContext(
		ctx,
		r.client.refreshFamilyQ["insert"],
		family.ID,
		family.PrincipalID,
		family.SessionID,
		family.Version,
	)
	return row.Scan(&family.CreatedAt, &family.UpdatedAt)
}

// Advance bumps the version with a compare-and-set on the expected
// current version. A failed swap reports ErrConflict; a concurrent or
// replayed presentation loses the race here.
func (r *RefreshFamilyRepository) Advance(ctx context.Context, id string, fromVersion int) (int, error) {
	var version int
	row := r.client.queryRowContext(ctx, r.client.refreshFamilyQ["advance"], id, fromVersion, time.Now().UTC())
	if err := row.Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, auth.ErrConflict("refresh version was superseded")
		}
		return 0, err
	}
	return version, nil
}

// Revoke revokes a single family.
func (r *RefreshFamilyRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.client.execContext(ctx, r.client.refreshFamilyQ["revoke"], id, at)
	if err != nil {
		return fmt.Errorf("failed to execute revoke: %w", err)
	}
	return nil
}

// RevokeByPrincipal revokes every family belonging to a principal and
// returns the number revoked.
func (r *RefreshFamilyRepository) RevokeByPrincipal(ctx context.Context, principalID string, at time.Time) (int, error) {
	return r.revokeMany(ctx, "revokeByPrincipal", principalID, at)
}

// RevokeBySession revokes every family tied to a session and returns
// the number revoked.
func (r *RefreshFamilyRepository) RevokeBySession(ctx context.Context, sessionID string, at time.Time) (int, error) {
	return r.revokeMany(ctx, "revokeBySession", sessionID, at)
}

func (r *RefreshFamilyRepository) revokeMany(ctx context.Context, queryKey, id string, at time.Time) (int, error) {
	res, err := r.client.execContext(ctx, r.client.refreshFamilyQ[queryKey], id, at)
	if err != nil {
		return 0, fmt.Errorf("failed to execute revoke: %w", err)
	}

	revokedRows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}

	return int(revokedRows), nil
}
