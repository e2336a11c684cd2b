package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	auth "github.com/castellan/castellan"
)

func auditQueries() map[string]string {
	const columns = `id, actor_id, action, target_type, target_id, details,
		ip_address, user_agent, created_at`

	return map[string]string{
		"insert": `
			INSERT INTO audit_entry (
				actor_id, action, target_type, target_id, details, ip_address, user_agent
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at;
		`,
		"list": `
			SELECT ` + columns + `
			FROM audit_entry
			ORDER BY created_at DESC
			LIMIT $1
			OFFSET $2;
		`,
		"count": `
			SELECT COUNT(*) FROM audit_entry;
		`,
		"byActor": `
			SELECT ` + columns + `
			FROM audit_entry
			WHERE actor_id = $1
			ORDER BY created_at DESC
			LIMIT $2
			OFFSET $3;
		`,
		"countByActor": `
			SELECT COUNT(*) FROM audit_entry WHERE actor_id = $1;
		`,
	}
}

// AuditRepository is an implementation of auth.AuditRepository. The
// table is append-only; there is no update or delete query.
type AuditRepository struct {
	client *Client
}

// Create appends an AuditEntry.
func (r *AuditRepository) Create(ctx context.Context, entry *auth.AuditEntry) error {
	details, err := marshalDetails(entry.Details)
	if err != nil {
		return err
	}

	row := r.client.queryRowContext(
		ctx,
		r.client.auditQ["insert"],
		entry.ActorID,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		details,
		entry.IPAddress,
		entry.UserAgent,
	)
	return row.Scan(&entry.ID, &entry.CreatedAt)
}

// List retrieves entries newest first with the total count before
// pagination.
func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]*auth.AuditEntry, int, error) {
	var total int
	if err := r.client.queryRowContext(ctx, r.client.auditQ["count"]).Scan(&total); err != nil {
		return nil, 0, err
	}

	entries, err := r.list(ctx, "list", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ByActor retrieves one actor's entries newest first with the total
// count before pagination.
func (r *AuditRepository) ByActor(ctx context.Context, actorID string, limit, offset int) ([]*auth.AuditEntry, int, error) {
	var total int
	if err := r.client.queryRowContext(ctx, r.client.auditQ["countByActor"], actorID).Scan(&total); err != nil {
		return nil, 0, err
	}

	entries, err := r.list(ctx, "byActor", actorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *AuditRepository) list(ctx context.Context, queryKey string, values ...interface{}) ([]*auth.AuditEntry, error) {
	rows, err := r.client.queryContext(ctx, r.client.auditQ[queryKey], values...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*auth.AuditEntry, 0)
	for rows.Next() {
		var (
			entry   auth.AuditEntry
			details []byte
		)
		err := rows.Scan(
			&entry.ID, &entry.ActorID, &entry.Action, &entry.TargetType, &entry.TargetID,
			&details, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err = json.Unmarshal(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
