package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	auth "github.com/castellan/castellan"
)

func mfaQueries() map[string]string {
	const columns = `principal_id, totp_secret, is_totp_enabled, is_email_enabled,
		alternate_email, is_alternate_email_verified, preferred_method, failed_attempts,
		locked_until, grace_until, completed_at, created_at, updated_at`

	return map[string]string{
		"byPrincipal": `
			SELECT ` + columns + `
			FROM mfa_enrollment
			WHERE principal_id = $1;
		`,
		"forUpdate": `
			SELECT ` + columns + `
			FROM mfa_enrollment
			WHERE principal_id = $1
			FOR UPDATE;
		`,
		"insert": `
			INSERT INTO mfa_enrollment (
				principal_id, totp_secret, is_totp_enabled, is_email_enabled,
				alternate_email, is_alternate_email_verified, preferred_method
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at;
		`,
		"update": `
			UPDATE mfa_enrollment
			SET totp_secret=$2, is_totp_enabled=$3, is_email_enabled=$4,
				alternate_email=$5, is_alternate_email_verified=$6, preferred_method=$7,
				failed_attempts=$8, locked_until=$9, grace_until=$10, completed_at=$11,
				updated_at=$12
			WHERE principal_id = $1;
		`,
	}
}

// MFARepository is an implementation of auth.MFARepository.
type MFARepository struct {
	client *Client
}

// ByPrincipal retrieves a principal's MFA enrollment state.
func (r *MFARepository) ByPrincipal(ctx context.Context, principalID string) (*auth.MFAEnrollment, error) {
	return r.get(ctx, "byPrincipal", principalID)
}

// GetForUpdate retrieves an enrollment to be updated, locking the row.
func (r *MFARepository) GetForUpdate(ctx context.Context, principalID string) (*auth.MFAEnrollment, error) {
	return r.get(ctx, "forUpdate", principalID)
}

// Create persists a new MFAEnrollment to storage.
func (r *MFARepository) Create(ctx context.Context, enrollment *auth.MFAEnrollment) error {
	row := r.client.queryRowContext(
		ctx,
		r.client.mfaQ["insert"],
		enrollment.PrincipalID,
		enrollment.TOTPSecret,
		enrollment.IsTOTPEnabled,
		enrollment.IsEmailEnabled,
		enrollment.AlternateEmail,
		enrollment.IsAlternateEmailVerified,
		enrollment.PreferredMethod,
	)
	return row.Scan(&enrollment.CreatedAt, &enrollment.UpdatedAt)
}

// Update updates an MFAEnrollment in storage.
func (r *MFARepository) Update(ctx context.Context, enrollment *auth.MFAEnrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()

	res, err := r.client.execContext(
		ctx,
		r.client.mfaQ["update"],
		enrollment.PrincipalID,
		enrollment.TOTPSecret,
		enrollment.IsTOTPEnabled,
		enrollment.IsEmailEnabled,
		enrollment.AlternateEmail,
		enrollment.IsAlternateEmailVerified,
		enrollment.PreferredMethod,
		enrollment.FailedAttempts,
		enrollment.LockedUntil,
		enrollment.GraceUntil,
		enrollment.CompletedAt,
		enrollment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute update: %w", err)
	}

	updatedRows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if updatedRows != 1 {
		return fmt.Errorf("wrong number of enrollments updated: %d", updatedRows)
	}
	return nil
}

func (r *MFARepository) get(ctx context.Context, queryKey string, principalID string) (*auth.MFAEnrollment, error) {
	enrollment := auth.MFAEnrollment{}
	row := r.client.queryRowContext(ctx, r.client.mfaQ[queryKey], principalID)
	err := row.Scan(
		&enrollment.PrincipalID, &enrollment.TOTPSecret, &enrollment.IsTOTPEnabled,
		&enrollment.IsEmailEnabled, &enrollment.AlternateEmail, &enrollment.IsAlternateEmailVerified,
		&enrollment.PreferredMethod, &enrollment.FailedAttempts, &enrollment.LockedUntil,
		&enrollment.GraceUntil, &enrollment.CompletedAt, &enrollment.CreatedAt, &enrollment.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound("mfa enrollment not found")
	}
	if err != nil {
		return nil, err
	}

	return &enrollment, nil
}
