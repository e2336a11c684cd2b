package castellan

import "time"

// LoginAttempt is an append-only record of an authentication attempt.
// PrincipalID is empty for attempts against unknown emails.
type LoginAttempt struct {
	ID          int64     `json:"id"`
	PrincipalID string    `json:"-"`
	Email       string    `json:"email"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	IsSuccess   bool      `json:"success"`
	Reason      string    `json:"failure_reason,omitempty"`
	IsMFAUsed   bool      `json:"mfa_used"`
	CreatedAt   time.Time `json:"created_at"`
}

// Login attempt failure reasons.
const (
	ReasonBadPassword     = "bad_password"
	ReasonUnknownUser     = "unknown_user"
	ReasonAccountInactive = "account_inactive"
	ReasonMFAFailed       = "mfa_failed"
	ReasonMFALocked       = "mfa_locked"
)

// SecurityEventType classifies a security event.
type SecurityEventType string

const (
	// EventNewLocation marks a login from an unseen IP class.
	EventNewLocation SecurityEventType = "new_location"
	// EventNewDevice marks a login from an unseen device fingerprint.
	EventNewDevice SecurityEventType = "new_device"
	// EventBruteForce marks repeated failed logins.
	EventBruteForce SecurityEventType = "brute_force"
	// EventSuspicious marks refresh reuse and similar anomalies.
	EventSuspicious SecurityEventType = "suspicious"
	// EventMFAEnabled marks second factor enrollment.
	EventMFAEnabled SecurityEventType = "mfa_enabled"
	// EventMFADisabled marks second factor removal.
	EventMFADisabled SecurityEventType = "mfa_disabled"
	// EventPasswordChanged marks a password change.
	EventPasswordChanged SecurityEventType = "password_changed"
	// EventAccountDeleted marks archival or anonymization.
	EventAccountDeleted SecurityEventType = "account_deleted"
)

// Severity grades a security event.
type Severity string

const (
	// SeverityInfo is informational.
	SeverityInfo Severity = "info"
	// SeverityWarning deserves user attention.
	SeverityWarning Severity = "warning"
	// SeverityCritical deserves immediate attention.
	SeverityCritical Severity = "critical"
)

// SecurityEvent is an append-only record surfaced to the principal.
type SecurityEvent struct {
	ID             int64             `json:"id"`
	PrincipalID    string            `json:"-"`
	Type           SecurityEventType `json:"type"`
	Severity       Severity          `json:"severity"`
	Details        map[string]string `json:"details,omitempty"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at"`
	CreatedAt      time.Time         `json:"created_at"`
}

// SecurityEventFilter narrows security event listings.
type SecurityEventFilter struct {
	Severity           Severity
	UnacknowledgedOnly bool
	Limit              int
	Offset             int
}

// AuditEntry is an append-only record of an admin action.
type AuditEntry struct {
	ID         int64             `json:"id"`
	ActorID    string            `json:"actor_id"`
	Action     string            `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   string            `json:"target_id"`
	Details    map[string]string `json:"details,omitempty"`
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	CreatedAt  time.Time         `json:"created_at"`
}
