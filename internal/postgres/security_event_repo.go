package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	auth "github.com/castellan/castellan"
)

func securityEventQueries() map[string]string {
	return map[string]string{
		"insert": `
			INSERT INTO security_event (
				principal_id, event_type, severity, details
			)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at;
		`,
		"acknowledge": `
			UPDATE security_event
			SET acknowledged_at=$3
			WHERE id = $1
			AND principal_id = $2
			AND acknowledged_at IS NULL;
		`,
	}
}

// SecurityEventRepository is an implementation of auth.SecurityEventRepository.
type SecurityEventRepository struct {
	client *Client
}

// Create appends a SecurityEvent.
func (r *SecurityEventRepository) Create(ctx context.Context, event *auth.SecurityEvent) error {
	details, err := marshalDetails(event.Details)
	if err != nil {
		return err
	}

	row := r.client.queryRowContext(
		ctx,
		r.client.securityEventQ["insert"],
		event.PrincipalID,
		event.Type,
		event.Severity,
		details,
	)
	return row.Scan(&event.ID, &event.CreatedAt)
}

// ByPrincipal lists a principal's events newest first with the total
// count before pagination.
func (r *SecurityEventRepository) ByPrincipal(ctx context.Context, principalID string, filter auth.SecurityEventFilter) ([]*auth.SecurityEvent, int, error) {
	clauses := []string{"principal_id = $1"}
	args := []interface{}{principalID}

	if filter.Severity != "" {
		args = append(args, filter.Severity)
		clauses = append(clauses, fmt.Sprintf("severity = $%d", len(args)))
	}
	if filter.UnacknowledgedOnly {
		clauses = append(clauses, "acknowledged_at IS NULL")
	}
	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int
	countQ := "SELECT COUNT(*) FROM security_event" + where
	if err := r.client.queryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQ := fmt.Sprintf(`
		SELECT id, principal_id, event_type, severity, details, acknowledged_at, created_at
		FROM security_event%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d;
	`, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.client.queryContext(ctx, listQ, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]*auth.SecurityEvent, 0)
	for rows.Next() {
		var (
			event   auth.SecurityEvent
			details []byte
		)
		err := rows.Scan(
			&event.ID, &event.PrincipalID, &event.Type, &event.Severity,
			&details, &event.AcknowledgedAt, &event.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		if err = json.Unmarshal(details, &event.Details); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal details: %w", err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// Acknowledge sets the acknowledgement instant with a conditional
// write scoped to the owning principal.
func (r *SecurityEventRepository) Acknowledge(ctx context.Context, id int64, principalID string, at time.Time) error {
	res, err := r.client.execContext(ctx, r.client.securityEventQ["acknowledge"], id, principalID, at)
	if err != nil {
		return fmt.Errorf("failed to execute acknowledge: %w", err)
	}

	updatedRows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if updatedRows == 0 {
		return auth.ErrNotFound("security event not found")
	}

	return nil
}

func marshalDetails(details map[string]string) ([]byte, error) {
	if details == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal details: %w", err)
	}
	return b, nil
}
