package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	auth "github.com/castellan/castellan"
)

func principalQueries() map[string]string {
	const columns = `id, handle, email, is_email_verified, email_verified_at, password,
		role, is_active, credential_epoch, archived_at, anonymized_at, created_at, updated_at`

	return map[string]string{
		"byID": `
			SELECT ` + columns + `
			FROM principal
			WHERE id = $1;
		`,
		"byEmail": `
			SELECT ` + columns + `
			FROM principal
			WHERE lower(email) = lower($1)
			AND anonymized_at IS NULL;
		`,
		"byHandle": `
			SELECT ` + columns + `
			FROM principal
			WHERE handle = $1;
		`,
		"forUpdate": `
			SELECT ` + columns + `
			FROM principal
			WHERE id = $1
			FOR UPDATE;
		`,
		"insert": `
			INSERT INTO principal (
				id, handle, email, is_email_verified, password, role, is_active, credential_epoch
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at;
		`,
		"update": `
			UPDATE principal
			SET handle=$2, email=$3, is_email_verified=$4, email_verified_at=$5,
				password=$6, role=$7, is_active=$8, credential_epoch=$9,
				archived_at=$10, anonymized_at=$11, updated_at=$12
			WHERE id = $1;
		`,
	}
}

// PrincipalRepository is an implementation of auth.PrincipalRepository.
type PrincipalRepository struct {
	client *Client
}

// ByID retrieves a Principal with a matching ID.
func (r *PrincipalRepository) ByID(ctx context.Context, id string) (*auth.Principal, error) {
	return r.get(ctx, "byID", id)
}

// ByEmail retrieves a Principal by email, case-insensitively. It never
// matches anonymized principals.
func (r *PrincipalRepository) ByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	return r.get(ctx, "byEmail", email)
}

// ByHandle retrieves a Principal with a matching handle.
func (r *PrincipalRepository) ByHandle(ctx context.Context, handle string) (*auth.Principal, error) {
	return r.get(ctx, "byHandle", handle)
}

// GetForUpdate retrieves a Principal to be updated, locking the row.
func (r *PrincipalRepository) GetForUpdate(ctx context.Context, id string) (*auth.Principal, error) {
	return r.get(ctx, "forUpdate", id)
}

// Create persists a new Principal to storage.
func (r *PrincipalRepository) Create(ctx context.Context, principal *auth.Principal) error {
	if principal.ID == "" {
		principal.ID = ulid.Make().String()
	}
	principal.Email = auth.NormalizeEmail(principal.Email)

	row := r.client.queryRowContext(
		ctx,
		r.client.principalQ["insert"],
		principal.ID,
		principal.Handle,
		principal.Email,
		principal.IsEmailVerified,
		principal.Password,
		principal.Role,
		principal.IsActive,
		principal.CredentialEpoch,
	)
	return row.Scan(&principal.CreatedAt, &principal.UpdatedAt)
}

// Update updates a Principal in storage.
func (r *PrincipalRepository) Update(ctx context.Context, principal *auth.Principal) error {
	principal.UpdatedAt = time.Now().UTC()

	res, err := r.client.execContext(
		ctx,
		r.client.principalQ["update"],
		principal.ID,
		principal.Handle,
		principal.Email,
		principal.IsEmailVerified,
		principal.EmailVerifiedAt,
		principal.Password,
		principal.Role,
		principal.IsActive,
		principal.CredentialEpoch,
		principal.ArchivedAt,
		principal.AnonymizedAt,
		principal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute update: %w", err)
	}

	updatedRows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if updatedRows != 1 {
		return fmt.Errorf("wrong number of principals updated: %d", updatedRows)
	}
	return nil
}

// List retrieves Principals matching a filter together with the total
// count before pagination.
func (r *PrincipalRepository) List(ctx context.Context, filter auth.PrincipalFilter) ([]*auth.Principal, int, error) {
	where, args := buildPrincipalFilter(filter)

	var total int
	countQ := "SELECT COUNT(*) FROM principal" + where
	if err := r.client.queryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQ := fmt.Sprintf(`
		SELECT id, handle, email, is_email_verified, email_verified_at, password,
			role, is_active, credential_epoch, archived_at, anonymized_at, created_at, updated_at
		FROM principal%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d;
	`, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.client.queryContext(ctx, listQ, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	principals := make([]*auth.Principal, 0)
	for rows.Next() {
		principal := auth.Principal{}
		err := rows.Scan(
			&principal.ID, &principal.Handle, &principal.Email, &principal.IsEmailVerified,
			&principal.EmailVerifiedAt, &principal.Password, &principal.Role, &principal.IsActive,
			&principal.CredentialEpoch, &principal.ArchivedAt, &principal.AnonymizedAt,
			&principal.CreatedAt, &principal.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		principals = append(principals, &principal)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return principals, total, nil
}

func buildPrincipalFilter(filter auth.PrincipalFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(handle ILIKE $%d OR email ILIKE $%d)", n, n))
	}
	if filter.Role != "" {
		args = append(args, filter.Role)
		clauses = append(clauses, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		clauses = append(clauses, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if filter.IsArchived != nil {
		if *filter.IsArchived {
			clauses = append(clauses, "archived_at IS NOT NULL")
		} else {
			clauses = append(clauses, "archived_at IS NULL")
		}
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *PrincipalRepository) get(ctx context.Context, queryKey string, values ...interface{}) (*auth.Principal, error) {
	principal := auth.Principal{}
	row := r.client.queryRowContext(ctx, r.client.principalQ[queryKey], values...)
	err := row.Scan(
		&principal.ID, &principal.Handle, &principal.Email, &principal.IsEmailVerified,
		&principal.EmailVerifiedAt, &principal.Password, &principal.Role, &principal.IsActive,
		&principal.CredentialEpoch, &principal.ArchivedAt, &principal.AnonymizedAt,
		&principal.CreatedAt, &principal.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound("principal not found")
	}
	if err != nil {
		return nil, err
	}

	return &principal, nil
}
