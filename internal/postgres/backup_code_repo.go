package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	auth "github.com/castellan/castellan"
)

func backupCodeQueries() map[string]string {
	return map[string]string{
		"byPrincipal": `
			SELECT id, principal_id, code_hash, consumed_at, created_at
			FROM backup_code
			WHERE principal_id = $1
			ORDER BY created_at;
		`,
		"insert": `
			INSERT INTO backup_code (
				id, principal_id, code_hash
			)
			VALUES ($1, $2, $3);
		`,
		"consume": `
			UPDATE backup_code
			SET consumed_at=$2
			WHERE id = $1
			AND consumed_at IS NULL;
		`,
		"deleteByPrincipal": `
			DELETE FROM backup_code WHERE principal_id = $1;
		`,
	}
}

// BackupCodeRepository is an implementation of auth.BackupCodeRepository.
type BackupCodeRepository struct {
	client *Client
}

// ByPrincipal retrieves all backup codes for a principal, consumed
// ones included.
func (r *BackupCodeRepository) ByPrincipal(ctx context.Context, principalID string) ([]*auth.BackupCode, error) {
	rows, err := r.client.queryContext(ctx, r.client.backupCodeQ["byPrincipal"], principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := make([]*auth.BackupCode, 0)
	for rows.Next() {
		code := auth.BackupCode{}
		err := rows.Scan(
			&code.ID, &code.PrincipalID, &code.CodeHash, &code.ConsumedAt, &code.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		codes = append(codes, &code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return codes, nil
}

// Replace swaps the full backup code set. Callers run it inside a
// transaction so a failed swap leaves the old set intact.
func (r *BackupCodeRepository) Replace(ctx context.Context, principalID string, hashes []string) error {
	if _, err := r.client.execContext(ctx, r.client.backupCodeQ["deleteByPrincipal"], principalID); err != nil {
		return fmt.Errorf("failed to clear previous codes: %w", err)
	}

	for _, hash := range hashes {
		_, err := r.client.execContext(
			ctx,
			r.client.backupCodeQ["insert"],
			ulid.Make().String(),
			principalID,
			hash,
		)
		if err != nil {
			return fmt.Errorf("failed to store backup code: %w", err)
		}
	}

	return nil
}

// Consume marks a code used with a conditional write; the second
// caller observes ErrCodeInvalid.
func (r *BackupCodeRepository) Consume(ctx context.Context, id string, at time.Time) error {
	res, err := r.client.execContext(ctx, r.client.backupCodeQ["consume"], id, at)
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

// DeleteByPrincipal removes every backup code for a principal.
func (r *BackupCodeRepository) DeleteByPrincipal(ctx context.Context, principalID string) (int, error) {
	res, err := r.client.execContext(ctx, r.client.backupCodeQ["deleteByPrincipal"], principalID)
	if err != nil {
		return 0, fmt.Errorf("failed to execute delete: %w", err)
	}

	removedRows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}

	return int(removedRows), nil
}
