package castellan

import "time"

// Method is a second-factor verification method.
type Method string

const (
	// MethodTOTP verifies an RFC 6238 time-based code.
	MethodTOTP Method = "totp"
	// MethodEmail verifies a single-use code sent to the principal's
	// email address.
	MethodEmail Method = "email"
	// MethodBackupCode consumes a single-use recovery code.
	MethodBackupCode Method = "backup_code"
)

// MFAMode is the global or per-role MFA requirement.
type MFAMode string

const (
	// MFADisabled requires no second factor.
	MFADisabled MFAMode = "disabled"
	// MFATOTPOnly requires a TOTP code.
	MFATOTPOnly MFAMode = "totp_only"
	// MFAEmailOnly requires an email code.
	MFAEmailOnly MFAMode = "email_only"
	// MFATOTPAndEmail requires both factors, TOTP first.
	MFATOTPAndEmail MFAMode = "totp_and_email_required"
	// MFATOTPPrimaryEmailFallback requires TOTP but accepts email when
	// the principal requests a fallback.
	MFATOTPPrimaryEmailFallback MFAMode = "totp_primary_email_fallback"
)

// Valid reports whether the mode is part of our domain.
func (m MFAMode) Valid() bool {
	switch m {
	case MFADisabled, MFATOTPOnly, MFAEmailOnly, MFATOTPAndEmail, MFATOTPPrimaryEmailFallback:
		return true
	}
	return false
}

// LockoutBehavior describes what happens when a principal exhausts
// their MFA attempts.
type LockoutBehavior string

const (
	// LockoutTemporary locks MFA for a configured duration.
	LockoutTemporary LockoutBehavior = "temporary"
	// LockoutRequirePassword forces a fresh password login.
	LockoutRequirePassword LockoutBehavior = "require_password"
	// LockoutAdminOnly requires an administrator to unlock.
	LockoutAdminOnly LockoutBehavior = "admin_only"
)

// CodeFormat describes the shape of generated verification codes.
type CodeFormat string

const (
	// CodeNumeric6 is a 6 digit numeric code.
	CodeNumeric6 CodeFormat = "numeric_6"
	// CodeNumeric8 is an 8 digit numeric code.
	CodeNumeric8 CodeFormat = "numeric_8"
	// CodeAlphanumeric6 is a 6 character alphanumeric code.
	CodeAlphanumeric6 CodeFormat = "alphanumeric_6"
)

// MFAEnrollment is per-principal MFA state.
type MFAEnrollment struct {
	PrincipalID string `json:"principal_id"`
	// TOTPSecret is encrypted at rest.
	TOTPSecret               string     `json:"-"`
	IsTOTPEnabled            bool       `json:"is_totp_enabled"`
	IsEmailEnabled           bool       `json:"is_email_enabled"`
	AlternateEmail           string     `json:"alternate_email"`
	IsAlternateEmailVerified bool       `json:"is_alternate_email_verified"`
	PreferredMethod          Method     `json:"preferred_method"`
	FailedAttempts           int        `json:"-"`
	LockedUntil              *time.Time `json:"-"`
	// GraceUntil extends the enforcement grace period for this
	// principal beyond the policy default.
	GraceUntil  *time.Time `json:"-"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsEnrolled reports whether at least one second factor is active.
func (e *MFAEnrollment) IsEnrolled() bool {
	return e != nil && (e.IsTOTPEnabled || e.IsEmailEnabled)
}

// IsLocked reports whether MFA verification is locked out at the
// given instant.
func (e *MFAEnrollment) IsLocked(now time.Time) bool {
	return e != nil && e.LockedUntil != nil && now.Before(*e.LockedUntil)
}

// BackupCode is a single-use recovery code. The plaintext is shown to
// the principal exactly once; only a salted hash is stored.
type BackupCode struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principal_id"`
	CodeHash    string     `json:"-"`
	ConsumedAt  *time.Time `json:"consumed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsConsumed reports whether the code has already been used.
func (c *BackupCode) IsConsumed() bool {
	return c.ConsumedAt != nil
}

// CodePurpose scopes a verification code to a single flow.
type CodePurpose string

const (
	// PurposeEmailVerify proves ownership of the primary email.
	PurposeEmailVerify CodePurpose = "email_verify"
	// PurposeMFALogin completes an email second factor during login.
	PurposeMFALogin CodePurpose = "mfa_login"
	// PurposeMFASetup confirms email MFA enrollment.
	PurposeMFASetup CodePurpose = "mfa_setup"
	// PurposePasswordReset authorizes a password reset.
	PurposePasswordReset CodePurpose = "password_reset"
	// PurposeAlternateEmail proves ownership of an alternate email.
	PurposeAlternateEmail CodePurpose = "alternate_email"
)

// VerificationCode is a short-lived secret delivered over a side
// channel. At most one unconsumed code exists per (principal, purpose).
type VerificationCode struct {
	ID          string      `json:"id"`
	PrincipalID string      `json:"principal_id"`
	Purpose     CodePurpose `json:"purpose"`
	CodeHash    string      `json:"-"`
	Attempts    int         `json:"-"`
	ExpiresAt   time.Time   `json:"expires_at"`
	ConsumedAt  *time.Time  `json:"consumed_at"`
	CreatedAt   time.Time   `json:"created_at"`
}

// IsExpired reports whether the code can no longer be consumed due
// to age.
func (c *VerificationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsConsumed reports whether the code has already been used.
func (c *VerificationCode) IsConsumed() bool {
	return c.ConsumedAt != nil
}

// MFAPolicy is the singleton MFA configuration.
type MFAPolicy struct {
	Mode                  MFAMode         `json:"mode"`
	CodeFormat            CodeFormat      `json:"code_format"`
	CodeExpiryMinutes     int             `json:"code_expiry_minutes"`
	ResendLimit           int             `json:"resend_limit"`
	ResendCooldownSeconds int             `json:"resend_cooldown_seconds"`
	MaxFailedAttempts     int             `json:"max_failed_attempts"`
	LockoutBehavior       LockoutBehavior `json:"lockout_behavior"`
	LockoutMinutes        int             `json:"lockout_minutes"`
	IsBackupForTOTP       bool            `json:"backup_codes_for_totp"`
	IsBackupForEmail      bool            `json:"backup_codes_for_email"`
	IsDeviceTrustEnabled  bool            `json:"device_trust_enabled"`
	DeviceTrustDays       int             `json:"device_trust_duration_days"`
	MaxTrustedDevices     int             `json:"max_trusted_devices"`
	IsRoleBasedMFAEnabled bool            `json:"role_based_mfa_enabled"`
	// RoleModes overrides Mode per role when role based MFA is enabled.
	RoleModes            map[Role]MFAMode `json:"role_modes"`
	IsEnforcementEnabled bool             `json:"enforcement_enabled"`
	GracePeriodDays      int              `json:"grace_period_days"`
	// ExemptRoles are excluded from enforcement.
	ExemptRoles map[Role]bool `json:"exempt_roles"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// DefaultMFAPolicy returns the policy applied before an administrator
// has configured one.
func DefaultMFAPolicy() *MFAPolicy {
	return &MFAPolicy{
		Mode:                  MFADisabled,
		CodeFormat:            CodeNumeric6,
		CodeExpiryMinutes:     10,
		ResendLimit:           3,
		ResendCooldownSeconds: 30,
		MaxFailedAttempts:     5,
		LockoutBehavior:       LockoutTemporary,
		LockoutMinutes:        15,
		IsBackupForTOTP:       true,
		IsBackupForEmail:      false,
		IsDeviceTrustEnabled:  true,
		DeviceTrustDays:       30,
		MaxTrustedDevices:     5,
		RoleModes:             map[Role]MFAMode{},
		GracePeriodDays:       7,
		ExemptRoles:           map[Role]bool{},
	}
}

// EffectiveMode resolves the mode applying per-role overrides.
func (p *MFAPolicy) EffectiveMode(role Role) MFAMode {
	if p.IsRoleBasedMFAEnabled {
		if mode, ok := p.RoleModes[role]; ok {
			return mode
		}
	}
	return p.Mode
}

// MFAResolution is the outcome of resolving MFA requirements for a
// login attempt.
type MFAResolution struct {
	IsRequired bool `json:"required"`
	// Methods the principal may use, in order of preference.
	Methods   []Method `json:"methods"`
	Preferred Method   `json:"preferred"`
	// RequireAll means every listed method must verify, in order.
	// Otherwise any single method completes the challenge.
	RequireAll bool `json:"require_all"`
	// IsSetupRequired pivots the login into an enrollment flow.
	IsSetupRequired bool       `json:"setup_required"`
	InGrace         bool       `json:"in_grace"`
	GraceDeadline   *time.Time `json:"grace_deadline,omitempty"`
}
