package castellan

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind discriminates the credential classes the minter signs.
type TokenKind string

const (
	// KindAccess is a short-lived bearer credential.
	KindAccess TokenKind = "access"
	// KindRefresh obtains new access credentials.
	KindRefresh TokenKind = "refresh"
	// KindChallenge represents "password verified, MFA pending".
	KindChallenge TokenKind = "challenge"
	// KindSetup is scoped to MFA enrollment operations only.
	KindSetup TokenKind = "setup"
)

// AccessClaims are the claims carried by an access credential.
type AccessClaims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"kind"`
	Role Role      `json:"role"`
	// SessionID ties the credential to its device session.
	SessionID string `json:"sid,omitempty"`
}

// RefreshClaims are the claims carried by a refresh credential.
// Family and Version implement reuse detection: presenting a
// superseded version revokes the whole family.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Kind      TokenKind `json:"kind"`
	Family    string    `json:"family"`
	Version   int       `json:"version"`
	SessionID string    `json:"sid,omitempty"`
}

// ChallengeClaims are the claims carried by a challenge token.
// Completed tracks methods already verified when a policy requires
// more than one.
type ChallengeClaims struct {
	jwt.RegisteredClaims
	Kind        TokenKind `json:"kind"`
	Methods     []Method  `json:"methods"`
	Completed   []Method  `json:"completed,omitempty"`
	Fingerprint string    `json:"fp,omitempty"`
}

// Remaining returns the methods still to be verified.
func (c *ChallengeClaims) Remaining() []Method {
	done := make(map[Method]bool, len(c.Completed))
	for _, m := range c.Completed {
		done[m] = true
	}
	var out []Method
	for _, m := range c.Methods {
		if !done[m] {
			out = append(out, m)
		}
	}
	return out
}

// Allows reports whether the given method may be used against this
// challenge. Backup codes stand in for any pending method.
func (c *ChallengeClaims) Allows(method Method) bool {
	if method == MethodBackupCode {
		return len(c.Remaining()) > 0
	}
	for _, m := range c.Remaining() {
		if m == method {
			return true
		}
	}
	return false
}

// SetupClaims are the claims carried by an MFA setup token.
type SetupClaims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"kind"`
}

// Credentials is the bearer pair returned on successful
// authentication.
type Credentials struct {
	Access           string    `json:"access"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	Refresh          string    `json:"refresh"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// RefreshFamily tracks the newest version of a rotating refresh
// credential line. Conditional version advances make double
// presentation observable.
type RefreshFamily struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principal_id"`
	SessionID   string     `json:"session_id"`
	Version     int        `json:"version"`
	RevokedAt   *time.Time `json:"revoked_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsRevoked reports whether the family has been revoked.
func (f *RefreshFamily) IsRevoked() bool {
	return f.RevokedAt != nil
}

// LoginOutcomeKind discriminates the heterogeneous results a login
// can produce.
type LoginOutcomeKind string

const (
	// OutcomeCredentials means authentication completed.
	OutcomeCredentials LoginOutcomeKind = "credentials"
	// OutcomeMFARequired means a challenge must be answered.
	OutcomeMFARequired LoginOutcomeKind = "mfa_required"
	// OutcomeMFASetupRequired means enforcement pivoted the login
	// into an enrollment flow.
	OutcomeMFASetupRequired LoginOutcomeKind = "mfa_setup_required"
)

// MFAChallenge describes a pending challenge returned to the caller.
type MFAChallenge struct {
	Challenge        string     `json:"challenge"`
	Methods          []Method   `json:"methods"`
	Preferred        Method     `json:"preferred"`
	IsEmailCodeSent  bool       `json:"email_code_sent"`
	CodeExpiresAt    *time.Time `json:"code_expires_at,omitempty"`
	DeviceTrust      bool       `json:"device_trust_enabled"`
	DeviceTrustDays  int        `json:"device_trust_days"`
	AvailableMethods []Method   `json:"available_methods"`
	BackupMethod     bool       `json:"backup_method"`
}

// LoginResult is the sum of outcomes a login or MFA verification can
// produce. Exactly one of the optional fields is set, matching Outcome.
type LoginResult struct {
	Outcome     LoginOutcomeKind `json:"outcome"`
	Principal   *Principal       `json:"principal,omitempty"`
	Credentials *Credentials     `json:"credentials,omitempty"`
	Challenge   *MFAChallenge    `json:"mfa,omitempty"`
	SetupToken  string           `json:"setup_token,omitempty"`
	InGrace     bool             `json:"mfa_grace_period,omitempty"`
}
