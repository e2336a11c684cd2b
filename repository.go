package castellan

import (
	"context"
	"time"
)

// RepositoryManager is the entry point to durable storage. The
// relational store is the source of truth; repositories hold the
// logical entities and invariants, not the physical layout.
type RepositoryManager interface {
	// NewWithTransaction returns a manager whose repositories operate
	// inside a single transaction.
	NewWithTransaction(ctx context.Context) (RepositoryManager, error)
	// WithAtomic runs an operation inside the transaction, committing
	// on success and rolling back on error.
	WithAtomic(operation func() (interface{}, error)) (interface{}, error)

	Principal() PrincipalRepository
	LinkedIdentity() LinkedIdentityRepository
	MFA() MFARepository
	BackupCode() BackupCodeRepository
	VerificationCode() VerificationCodeRepository
	Session() SessionRepository
	RefreshFamily() RefreshFamilyRepository
	LoginAttempt() LoginAttemptRepository
	SecurityEvent() SecurityEventRepository
	Audit() AuditRepository
	Policy() PolicyRepository
}

// PrincipalRepository stores principals.
type PrincipalRepository interface {
	ByID(ctx context.Context, id string) (*Principal, error)
	// ByEmail matches case-insensitively against non-anonymized
	// principals.
	ByEmail(ctx context.Context, email string) (*Principal, error)
	ByHandle(ctx context.Context, handle string) (*Principal, error)
	GetForUpdate(ctx context.Context, id string) (*Principal, error)
	Create(ctx context.Context, principal *Principal) error
	Update(ctx context.Context, principal *Principal) error
	List(ctx context.Context, filter PrincipalFilter) ([]*Principal, int, error)
}

// LinkedIdentityRepository stores external identity links.
type LinkedIdentityRepository interface {
	ByPrincipal(ctx context.Context, principalID string) ([]*LinkedIdentity, error)
	ByProviderSubject(ctx context.Context, provider IdentityProvider, subject string) (*LinkedIdentity, error)
	Create(ctx context.Context, identity *LinkedIdentity) error
	// DeleteByPrincipal detaches all links, used by anonymization.
	DeleteByPrincipal(ctx context.Context, principalID string) (int, error)
}

// MFARepository stores per-principal MFA enrollment state.
type MFARepository interface {
	ByPrincipal(ctx context.Context, principalID string) (*MFAEnrollment, error)
	GetForUpdate(ctx context.Context, principalID string) (*MFAEnrollment, error)
	Create(ctx context.Context, enrollment *MFAEnrollment) error
	Update(ctx context.Context, enrollment *MFAEnrollment) error
}

// BackupCodeRepository stores single-use recovery codes.
type BackupCodeRepository interface {
	ByPrincipal(ctx context.Context, principalID string) ([]*BackupCode, error)
	// Replace swaps the full set atomically.
	Replace(ctx context.Context, principalID string, hashes []string) error
	// Consume marks a code used with a conditional write; the second
	// caller observes ErrCodeInvalid.
	Consume(ctx context.Context, id string, at time.Time) error
	DeleteByPrincipal(ctx context.Context, principalID string) (int, error)
}

// VerificationCodeRepository stores side-channel codes.
type VerificationCodeRepository interface {
	// ActiveByPurpose returns the single unconsumed code for
	// (principal, purpose). Expiry is the caller's concern so that an
	// expired code can be reported as such.
	ActiveByPurpose(ctx context.Context, principalID string, purpose CodePurpose) (*VerificationCode, error)
	Create(ctx context.Context, code *VerificationCode) error
	// InvalidatePurpose consumes any previous unconsumed codes for
	// the pair.
	InvalidatePurpose(ctx context.Context, principalID string, purpose CodePurpose, at time.Time) error
	// IncrementAttempts bumps the attempt counter and returns the new
	// value.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// Consume marks a code used with a conditional write.
	Consume(ctx context.Context, id string, at time.Time) error
}

// SessionRepository stores device sessions.
type SessionRepository interface {
	ByID(ctx context.Context, id string) (*Session, error)
	ByPrincipal(ctx context.Context, principalID string) ([]*Session, error)
	// ActiveByFingerprint returns the newest unrevoked session with
	// the fingerprint.
	ActiveByFingerprint(ctx context.Context, principalID, fingerprint string) (*Session, error)
	GetForUpdate(ctx context.Context, id string) (*Session, error)
	Create(ctx context.Context, session *Session) error
	Update(ctx context.Context, session *Session) error
	// Touch updates last activity only.
	Touch(ctx context.Context, id string, at time.Time) error
	RevokeAllExcept(ctx context.Context, principalID, keepID, reason string, at time.Time) (int, error)
	// Trusted returns unexpired trust-bearing sessions, oldest trust
	// first.
	Trusted(ctx context.Context, principalID string, now time.Time) ([]*Session, error)
	// SeenFingerprint reports whether the fingerprint appears on any
	// session created since the given instant.
	SeenFingerprint(ctx context.Context, principalID, fingerprint string, since time.Time) (bool, error)
}

// RefreshFamilyRepository stores refresh credential families.
type RefreshFamilyRepository interface {
	ByID(ctx context.Context, id string) (*RefreshFamily, error)
	Create(ctx context.Context, family *RefreshFamily) error
	// Advance bumps the version with a compare-and-set on the expected
	// current version. A failed swap reports ErrConflict.
	Advance(ctx context.Context, id string, fromVersion int) (int, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeByPrincipal(ctx context.Context, principalID string, at time.Time) (int, error)
	RevokeBySession(ctx context.Context, sessionID string, at time.Time) (int, error)
}

// LoginAttemptRepository appends and lists login attempts.
type LoginAttemptRepository interface {
	Create(ctx context.Context, attempt *LoginAttempt) error
	ByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*LoginAttempt, int, error)
	// RecentFailures counts failed attempts for an email since the
	// given instant, for brute-force detection.
	RecentFailures(ctx context.Context, email string, since time.Time) (int, error)
}

// SecurityEventRepository appends and lists security events.
type SecurityEventRepository interface {
	Create(ctx context.Context, event *SecurityEvent) error
	ByPrincipal(ctx context.Context, principalID string, filter SecurityEventFilter) ([]*SecurityEvent, int, error)
	// Acknowledge sets the acknowledgement instant with a conditional
	// write scoped to the owning principal.
	Acknowledge(ctx context.Context, id int64, principalID string, at time.Time) error
}

// AuditRepository appends and lists admin audit entries. There is no
// update or delete path.
type AuditRepository interface {
	Create(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, limit, offset int) ([]*AuditEntry, int, error)
	ByActor(ctx context.Context, actorID string, limit, offset int) ([]*AuditEntry, int, error)
}

// PolicyRepository stores the singleton MFA policy.
type PolicyRepository interface {
	Get(ctx context.Context) (*MFAPolicy, error)
	Update(ctx context.Context, policy *MFAPolicy) error
}
