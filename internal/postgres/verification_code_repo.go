package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	auth "github.com/castellan/castellan"
)

func verificationCodeQueries() map[string]string {
	return map[string]string{
		"activeByPurpose": `
			SELECT id, principal_id, purpose, code_hash, attempts, expires_at, consumed_at, created_at
			FROM verification_code
			WHERE principal_id = $1
			AND purpose = $2
			AND consumed_at IS NULL
			ORDER BY created_at DESC
			LIMIT 1;
		`,
		"insert": `
			INSERT INTO verification_code (
				id, principal_id, purpose, code_hash, expires_at
			)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at;
		`,
		"invalidatePurpose": `
			UPDATE verification_code
			SET consumed_at=$3
			WHERE principal_id = $1
			AND purpose = $2
			AND consumed_at IS NULL;
		`,
		"incrementAttempts": `
			UPDATE verification_code
			SET attempts = attempts + 1
			WHERE id = $1
			RETURNING attempts;
		`,
		"consume": `
			UPDATE verification_code
			SET consumed_at=$2
			WHERE id = $1
			AND consumed_at IS NULL;
		`,
	}
}

// VerificationCodeRepository is an implementation of auth.VerificationCodeRepository.
type VerificationCodeRepository struct {
	client *Client
}

// ActiveByPurpose returns the newest unconsumed code for the
// (principal, purpose) pair.
func (r *VerificationCodeRepository) ActiveByPurpose(ctx context.Context, principalID string, purpose auth.CodePurpose) (*auth.VerificationCode, error) {
	code := auth.VerificationCode{}
	row := r.client.queryRowContext(ctx, r.client.verificationCodeQ["activeByPurpose"], principalID, purpose)
	err := row.Scan(
		&code.ID, &code.PrincipalID, &code.Purpose, &code.CodeHash,
		&code.Attempts, &code.ExpiresAt, &code.ConsumedAt, &code.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound("verification code not found")
	}
	if err != nil {
		return nil, err
	}

	return &code, nil
}

// Create persists a new VerificationCode to storage.
func (r *VerificationCodeRepository) Create(ctx context.Context, code *auth.VerificationCode) error {
	row := r.client.queryRowContext(
		ctx,
		r.client.verificationCodeQ["insert"],
		code.ID,
		code.PrincipalID,
		code.Purpose,
		code.CodeHash,
		code.ExpiresAt,
	)
	return row.Scan(&code.CreatedAt)
}

// InvalidatePurpose consumes any previous unconsumed codes for the
// pair.
func (r *VerificationCodeRepository) InvalidatePurpose(ctx context.Context, principalID string, purpose auth.CodePurpose, at time.Time) error {
	_, err := r.client.execContext(ctx, r.client.verificationCodeQ["invalidatePurpose"], principalID, purpose, at)
	if err != nil {
		return fmt.Errorf("failed to invalidate codes: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter and returns the new
// value.
func (r *VerificationCodeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	row := r.client.queryRowContext(ctx, r.client.verificationCodeQ["incrementAttempts"], id)
	if err := row.Scan(&attempts); err != nil {
		if err == sql.ErrNoRows {
			return 0, auth.ErrNotFound("verification code not found")
		}
		return 0, err
	}
	return attempts, nil
}

// Consume marks a code used with a conditional write.
func (r *VerificationCodeRepository) Consume(ctx context.Context, id string, at time.Time) error {
	res, err := r.client.execContext(ctx, r.client.verificationCodeQ["consume"], id, at)
	if err != nil {
		return fmt.Errorf("failed to execute consume: %w", err)
	}

	updatedRows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if updatedRows == 0 {
		return auth.ErrCodeInvalid("code was already used")
	}

	return nil
}
