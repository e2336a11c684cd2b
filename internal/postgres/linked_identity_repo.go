package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oklog/ulid/v2"

	auth "github.com/castellan/castellan"
)

func linkedIdentityQueries() map[string]string {
	const columns = `id, principal_id, provider, subject, email, linked_at`

	return map[string]string{
		"byPrincipal": `
			SELECT ` + columns + `
			FROM linked_identity
			WHERE principal_id = $1
			ORDER BY linked_at;
		`,
		"byProviderSubject": `
			SELECT ` + columns + `
			FROM linked_identity
			WHERE provider = $1
			AND subject = $2;
		`,
		"insert": `
			INSERT INTO linked_identity (
				id, principal_id, provider, subject, email
			)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING linked_at;
		`,
		"deleteByPrincipal": `
			DELETE FROM linked_identity WHERE principal_id = $1;
		`,
	}
}

// LinkedIdentityRepository is an implementation of auth.LinkedIdentityRepository.
type LinkedIdentityRepository struct {
	client *Client
}

// ByPrincipal retrieves all external identities linked to a principal.
func (r *LinkedIdentityRepository) ByPrincipal(ctx context.Context, principalID string) ([]*auth.LinkedIdentity, error) {
	rows, err := r.client.queryContext(ctx, r.client.linkedIdentityQ["byPrincipal"], principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	identities := make([]*auth.LinkedIdentity, 0)
	for rows.Next() {
		identity := auth.LinkedIdentity{}
		err := rows.Scan(
			&identity.ID, &identity.PrincipalID, &identity.Provider,
			&identity.Subject, &identity.Email, &identity.LinkedAt,
		)
		if err != nil {
			return nil, err
		}
		identities = append(identities, &identity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return identities, nil
}

// ByProviderSubject retrieves the identity matching a unique
// (provider, subject) pair.
func (r *LinkedIdentityRepository) ByProviderSubject(ctx context.Context, provider auth.IdentityProvider, subject string) (*auth.LinkedIdentity, error) {
	identity := auth.LinkedIdentity{}
	row := r.client.queryRowContext(ctx, r.client.linkedIdentityQ["byProviderSubject"], provider, subject)
	err := row.Scan(
		&identity.ID, &identity.PrincipalID, &identity.Provider,
		&identity.Subject, &identity.Email, &identity.LinkedAt,
	)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound("linked identity not found")
	}
	if err != nil {
		return nil, err
	}

	return &identity, nil
}

// Create persists a new LinkedIdentity to storage.
func (r *LinkedIdentityRepository) Create(ctx context.Context, identity *auth.LinkedIdentity) error {
	if identity.ID == "" {
		identity.ID = ulid.Make().String()
	}

	row := r.client.queryRowContext(
		ctx,
		r.client.linkedIdentityQ["insert"],
		identity.ID,
		identity.PrincipalID,
		identity.Provider,
		identity.Subject,
		identity.Email,
	)
	return row.Scan(&identity.LinkedAt)
}

// DeleteByPrincipal detaches all links, used by anonymization.
func (r *LinkedIdentityRepository) DeleteByPrincipal(ctx context.Context, principalID string) (int, error) {
	res, err := r.client.execContext(ctx, r.client.linkedIdentityQ["deleteByPrincipal"], principalID)
	if err != nil {
		return 0, fmt.Errorf("failed to execute delete: %w", err)
	}

	removedRows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}

	return int(removedRows), nil
}
