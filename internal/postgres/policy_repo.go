package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	auth "github.com/castellan/castellan"
)

func policyQueries() map[string]string {
	return map[string]string{
		"get": `
			SELECT config, updated_at FROM mfa_policy WHERE id = 1;
		`,
		"upsert": `
			INSERT INTO mfa_policy (id, config, updated_at)
			VALUES (1, $1, $2)
			ON CONFLICT (id) DO UPDATE SET config=$1, updated_at=$2;
		`,
	}
}

// PolicyRepository is an implementation of auth.PolicyRepository. The
// MFA policy is a singleton row holding a JSON document.
type PolicyRepository struct {
	client *Client
}

// Get retrieves the policy, falling back to the default when no
// administrator has configured one yet.
func (r *PolicyRepository) Get(ctx context.Context) (*auth.MFAPolicy, error) {
	var (
		config    []byte
		updatedAt time.Time
	)

	row := r.client.queryRowContext(ctx, r.client.policyQ["get"])
	err := row.Scan(&config, &updatedAt)
	if err == sql.ErrNoRows {
		return auth.DefaultMFAPolicy(), nil
	}
	if err != nil {
		return nil, err
	}

	policy := auth.MFAPolicy{}
	if err = json.Unmarshal(config, &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	policy.UpdatedAt = updatedAt

	return &policy, nil
}

// Update replaces the policy document.
func (r *PolicyRepository) Update(ctx context.Context, policy *auth.MFAPolicy) error {
	policy.UpdatedAt = time.Now().UTC()

	config, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	if _, err = r.client.execContext(ctx, r.client.policyQ["upsert"], config, policy.UpdatedAt); err != nil {
		return fmt.Errorf("failed to store policy: %w", err)
	}

	return nil
}
