package castellan

import (
	"context"
	"net/http"
	"time"
)

// PasswordService manages the slow KDF digests of principal passwords.
type PasswordService interface {
	// Hash hashes a password for storage.
	Hash(password string) ([]byte, error)
	// Validate checks a submitted password against a principal's
	// stored digest. The comparison cost does not depend on the
	// submitted value.
	Validate(principal *Principal, password string) error
	// OKForUser checks strength rules for a new password.
	OKForUser(password string) error
	// DummyValidate burns a full digest comparison so that failures
	// for unknown emails take as long as failures for known ones.
	DummyValidate(password string)
	// MatchesHash reports whether a plaintext matches an existing
	// digest.
	MatchesHash(password, digest string) bool
}

// TokenService mints and verifies the signed credential classes.
// Keys are read-only after startup; verification tries the current
// key then the previous one for a bounded grace period.
type TokenService interface {
	MintAccess(ctx context.Context, principal *Principal, sessionID string) (string, *AccessClaims, error)
	MintRefresh(ctx context.Context, principal *Principal, familyID string, version int, sessionID string) (string, *RefreshClaims, error)
	MintChallenge(ctx context.Context, principal *Principal, methods, completed []Method, fingerprint string) (string, error)
	MintSetup(ctx context.Context, principal *Principal) (string, error)

	// VerifyAccess additionally rejects credentials issued before the
	// principal's credential epoch.
	VerifyAccess(ctx context.Context, token string) (*AccessClaims, error)
	VerifyRefresh(ctx context.Context, token string) (*RefreshClaims, error)
	VerifyChallenge(ctx context.Context, token string) (*ChallengeClaims, error)
	VerifySetup(ctx context.Context, token string) (*SetupClaims, error)

	// ConsumeChallenge marks a challenge used. The second caller for
	// the same challenge observes ErrChallengeExhausted.
	ConsumeChallenge(ctx context.Context, claims *ChallengeClaims) error

	// BumpEpoch invalidates all access credentials minted for the
	// principal before now.
	BumpEpoch(ctx context.Context, principalID string) error

	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

// OTPService generates and validates second-factor secrets: TOTP
// enrollments, single-use verification codes and backup codes.
type OTPService interface {
	// TOTPSecret generates a new TOTP secret for a principal and
	// returns it encrypted for storage.
	TOTPSecret(principal *Principal) (string, error)
	// TOTPQRString renders a provisioning URL compatible with
	// authenticator apps. The plaintext secret leaves the service
	// exactly once, here.
	TOTPQRString(principal *Principal, encryptedSecret string) (string, error)
	// TOTPDecrypt recovers the shared secret for display during setup.
	TOTPDecrypt(encryptedSecret string) (string, error)
	// ValidateTOTP accepts the current 30s step plus one step of
	// drift in either direction.
	ValidateTOTP(encryptedSecret, code string) error

	// GenerateCode produces a verification code and its storage hash.
	GenerateCode(format CodeFormat) (code, hash string, err error)
	// ValidateCode compares a submitted code against a stored hash in
	// constant time.
	ValidateCode(code, hash string) error

	// GenerateBackupCodes produces a fresh set of recovery codes and
	// their salted storage hashes.
	GenerateBackupCodes() (codes, hashes []string, err error)
	// MatchBackupCode finds the unconsumed stored code matching the
	// submitted value. The scan is constant-time across the set.
	MatchBackupCode(code string, stored []*BackupCode) (*BackupCode, error)
}

// CodeService is the store of single-use verification codes sent over
// a side channel. Formats and expiry come from the MFA policy.
type CodeService interface {
	// Issue generates and stores a code, invalidating any previous
	// unconsumed code for the same (principal, purpose). The plaintext
	// is returned for delivery and never stored.
	Issue(ctx context.Context, principalID string, purpose CodePurpose) (string, *VerificationCode, error)
	// Verify consumes a code. Each failed attempt counts toward the
	// policy's attempt budget.
	Verify(ctx context.Context, principalID string, purpose CodePurpose, code string) error
}

// SessionService manages device-bound sessions and device trust.
type SessionService interface {
	// Fingerprint derives the deterministic device fingerprint for a
	// request.
	Fingerprint(rc RequestContext) string
	// CreateOrRefresh reuses an active session with an identical
	// fingerprint or creates a new one. The second return reports
	// whether the session is new.
	CreateOrRefresh(ctx context.Context, principal *Principal, rc RequestContext) (*Session, bool, error)
	// Touch updates last activity best-effort; it never fails the
	// surrounding operation.
	Touch(ctx context.Context, sessionID string)
	ListFor(ctx context.Context, principalID string) ([]*Session, error)
	// Revoke revokes a session owned by the principal. Revoking the
	// session currently presented is rejected.
	Revoke(ctx context.Context, principalID, sessionID, currentSessionID string) error
	RevokeAllExcept(ctx context.Context, principalID, keepID string) (int, error)
	RevokeAll(ctx context.Context, principalID, reason string) (int, error)
	// MarkTrusted waives MFA for the fingerprint for the given
	// duration, evicting the oldest trust entries beyond maxTrusted.
	MarkTrusted(ctx context.Context, principalID, fingerprint string, d time.Duration, maxTrusted int) error
	// IsTrusted reports whether an unexpired trust entry exists for
	// the fingerprint.
	IsTrusted(ctx context.Context, principalID, fingerprint string) (bool, error)
	// SeenFingerprint reports whether the fingerprint appeared in any
	// session for the principal since the given instant.
	SeenFingerprint(ctx context.Context, principalID, fingerprint string, since time.Time) (bool, error)
}

// RateScope selects a rate-limit policy row.
type RateScope string

const (
	// ScopeRegister limits account creation per IP.
	ScopeRegister RateScope = "register"
	// ScopeLogin limits authentication attempts per IP.
	ScopeLogin RateScope = "login"
	// ScopePasswordReset limits reset requests per IP.
	ScopePasswordReset RateScope = "password_reset"
	// ScopeEmailVerify limits verification attempts per IP.
	ScopeEmailVerify RateScope = "email_verify"
	// ScopeMFAVerify limits challenge verification per IP.
	ScopeMFAVerify RateScope = "mfa_verify"
	// ScopeEmailCooldown limits resends per principal.
	ScopeEmailCooldown RateScope = "test_email_cooldown"
	// ScopeEmailDaily caps daily outgoing mail per principal.
	ScopeEmailDaily RateScope = "test_email_daily"
)

// RateDecision is the outcome of a rate-limit check.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter gates externally reachable operations with sliding
// window counters keyed by (scope, identity).
type RateLimiter interface {
	Check(ctx context.Context, scope RateScope, identity string) (RateDecision, error)
	// Reset clears the counter, e.g. after a successful login.
	Reset(ctx context.Context, scope RateScope, identity string) error
}

// EventRecorder appends to the tamper-evident trail. Calls are
// fire-and-forget: failures are logged and dropped, never surfaced to
// the triggering operation.
type EventRecorder interface {
	Attempt(ctx context.Context, attempt *LoginAttempt)
	Event(ctx context.Context, event *SecurityEvent)
	Audit(ctx context.Context, entry *AuditEntry)
	// Dropped reports records discarded due to sink saturation.
	Dropped() uint64
}

// MessagingService hands message inputs to the external mail
// subsystem. The service never renders or delivers email itself.
type MessagingService interface {
	Send(ctx context.Context, msg *Message) error
}

// MessageRepository stores outgoing messages for the external
// delivery daemon.
type MessageRepository interface {
	Publish(ctx context.Context, msg *Message) error
	Recent(ctx context.Context) (<-chan *Message, <-chan error)
}

// Message carries everything the mail subsystem needs to render and
// deliver a notification.
type Message struct {
	PrincipalID      string    `json:"principal_id"`
	Address          string    `json:"address"`
	Template         string    `json:"template"`
	Code             string    `json:"code,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	DeliveryAttempts int       `json:"delivery_attempts"`
}

// Message templates recognized by the mail subsystem.
const (
	TemplateEmailVerify    = "email_verify"
	TemplateMFACode        = "mfa_code"
	TemplateMFASetup       = "mfa_setup"
	TemplatePasswordReset  = "password_reset"
	TemplateAlternateEmail = "alternate_email"
	TemplateSecurityAlert  = "security_alert"
)

// JSONAPIHandler is implemented by every externally reachable
// operation.
type JSONAPIHandler func(w http.ResponseWriter, r *http.Request) (interface{}, error)

// SignUpAPI registers principals and verifies their email.
type SignUpAPI interface {
	Register(w http.ResponseWriter, r *http.Request) (interface{}, error)
	VerifyEmail(w http.ResponseWriter, r *http.Request) (interface{}, error)
}

// LoginAPI drives a login attempt from credentials through optional
// MFA to an issued credential pair.
type LoginAPI interface {
	Login(w http.ResponseWriter, r *http.Request) (interface{}, error)
	VerifyTOTP(w http.ResponseWriter, r *http.Request) (interface{}, error)
	VerifyEmailCode(w http.ResponseWriter, r *http.Request) (interface{}, error)
	VerifyBackupCode(w http.ResponseWriter, r *http.Request) (interface{}, error)
	ResendEmailCode(w http.ResponseWriter, r *http.Request) (interface{}, error)
}

// TokenAPI owns the credential lifecycle after issuance.
type TokenAPI interface {
	Refresh(w http.ResponseWriter, r *http.Request) (interface{}, error)
	Logout(w http.ResponseWriter, r *http.Request) (interface{}, error)
	LogoutEverywhere(w http.ResponseWriter, r *http.Request) (interface{}, error)
}

// SessionAPI surfaces device sessions to their owner.
type SessionAPI interface {
	List(w http.ResponseWriter, r *http.Request) (interface{}, error)
	Revoke(w http.ResponseWriter, r *http.Request) (interface{}, error)
	RevokeOthers(w http.ResponseWriter, r *http.Request) (interface{}, error)
}

// SecurityAPI surfaces the event trail to the principal.
type SecurityAPI interface {
	LoginHistory(w http.ResponseWriter, r *http.Request) (interface{}, error)
	Events(w http.ResponseWriter, r *http.Request) (interface{}, error)
	Acknowledge(w http.ResponseWriter, r *http.Request) (interface{}, error)
}

// MFAAPI is the self-service MFA management surface.
type MFAAPI interface {
	BeginTOTP(w http.ResponseWriter, r *http.Request) (interface{}, error)
	ConfirmTOTP(w http.ResponseWriter, r *http.Request) (interface{}, error)
	DisableTOTP(w http.ResponseWriter, r *http.Request) (interface{}, error)
	EnableEmail(w http.ResponseWriter, r *http.Request) (interface{}, error)
	ConfirmEmail(w http.ResponseWriter, r *http.Request) (interface{}, error)
	RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) (interface{}, error)
	SetPreferred(w http.ResponseWriter, r *http.Request) (interface{}, error)
}

// PasswordAPI owns password self-service flows.
type PasswordAPI interface {
	Change(w http.ResponseWriter, r *http.Request) (interface{}, error)
	Forgot(w http.ResponseWriter, r *http.Request) (interface{}, error)
	Reset(w http.ResponseWriter, r *http.Request) (interface{}, error)
}

// AdminAPI is the admin control plane.
type AdminAPI interface {
	ListPrincipals(w http.ResponseWriter, r *http.Request) (interface{}, error)
	GetPrincipal(w http.ResponseWriter, r *http.Request) (interface{}, error)
	CreatePrincipal(w http.ResponseWriter, r *http.Request) (interface{}, error)
	UpdatePrincipal(w http.ResponseWriter, r *http.Request) (interface{}, error)
	Archive(w http.ResponseWriter, r *http.Request) (interface{}, error)
	Restore(w http.ResponseWriter, r *http.Request) (interface{}, error)
	Anonymize(w http.ResponseWriter, r *http.Request) (interface{}, error)
	GetPolicy(w http.ResponseWriter, r *http.Request) (interface{}, error)
	UpdatePolicy(w http.ResponseWriter, r *http.Request) (interface{}, error)
	ResetPolicy(w http.ResponseWriter, r *http.Request) (interface{}, error)
	UnlockMFA(w http.ResponseWriter, r *http.Request) (interface{}, error)
	ExtendGrace(w http.ResponseWriter, r *http.Request) (interface{}, error)
	AuditLog(w http.ResponseWriter, r *http.Request) (interface{}, error)
}
