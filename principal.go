package castellan

import (
	"strings"
	"time"
)

// Role describes a principal's capability tier.
type Role string

const (
	// RoleUser is the default role for registered principals.
	RoleUser Role = "user"
	// RoleAdmin may operate the admin control plane.
	RoleAdmin Role = "admin"
	// RoleSuperAdmin may additionally grant admin roles and anonymize
	// principals.
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether the role is part of our domain.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether the role grants access to the admin
// control plane.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Principal is the authenticated subject of the service.
type Principal struct {
	ID              string     `json:"id"`
	Handle          string     `json:"handle"`
	Email           string     `json:"email"`
	IsEmailVerified bool       `json:"is_email_verified"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	// Password is a slow KDF digest, never the plaintext.
	Password string `json:"-"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
	// CredentialEpoch invalidates access credentials minted before it.
	CredentialEpoch int64      `json:"-"`
	ArchivedAt      *time.Time `json:"archived_at"`
	AnonymizedAt    *time.Time `json:"anonymized_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsArchived reports whether the principal has been archived by an
// administrator. Archived principals cannot authenticate.
func (p *Principal) IsArchived() bool {
	return p.ArchivedAt != nil
}

// IsAnonymized reports whether the principal's PII has been irreversibly
// erased.
func (p *Principal) IsAnonymized() bool {
	return p.AnonymizedAt != nil
}

// CanAuthenticate reports whether a login may proceed past the
// credential check.
func (p *Principal) CanAuthenticate() bool {
	return p.IsActive && !p.IsArchived() && !p.IsAnonymized()
}

// NormalizeEmail lowercases and trims an email address for
// case-insensitive storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IdentityProvider is an external social identity source.
type IdentityProvider string

const (
	// ProviderGoogle links a Google account.
	ProviderGoogle IdentityProvider = "google"
	// ProviderGitHub links a GitHub account.
	ProviderGitHub IdentityProvider = "github"
)

// LinkedIdentity is an external identity linked to a principal.
// (provider, subject) pairs are unique across the service.
type LinkedIdentity struct {
	ID          string           `json:"id"`
	PrincipalID string           `json:"principal_id"`
	Provider    IdentityProvider `json:"provider"`
	Subject     string           `json:"subject"`
	Email       string           `json:"email"`
	LinkedAt    time.Time        `json:"linked_at"`
}

// PrincipalFilter narrows admin principal listings.
type PrincipalFilter struct {
	// Search matches against handle and email.
	Search     string
	Role       Role
	IsActive   *bool
	IsArchived *bool
	Limit      int
	Offset     int
}
