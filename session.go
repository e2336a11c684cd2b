package castellan

import "time"

// DeviceType is a coarse device classification derived from the
// user agent.
type DeviceType string

const (
	// DeviceDesktop is a desktop class browser.
	DeviceDesktop DeviceType = "desktop"
	// DeviceMobile is a phone class browser.
	DeviceMobile DeviceType = "mobile"
	// DeviceTablet is a tablet class browser.
	DeviceTablet DeviceType = "tablet"
)

// Session revocation reasons.
const (
	// RevokedByPrincipal marks an explicit revocation.
	RevokedByPrincipal = "revoked"
	// RevokedInactivity marks expiry through the inactivity timeout.
	RevokedInactivity = "inactivity_timeout"
	// RevokedLogout marks a logout.
	RevokedLogout = "logout"
	// RevokedEverywhere marks a logout-everywhere sweep.
	RevokedEverywhere = "logout_everywhere"
	// RevokedByAdmin marks an administrative revocation.
	RevokedByAdmin = "admin"
)

// Session is a device-bound authenticated context. Two logins with
// an identical fingerprint reuse the session rather than create a
// new one.
type Session struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	// Fingerprint is derived from the user agent family, OS and
	// IP class. See session.Fingerprint.
	Fingerprint  string     `json:"-"`
	DeviceName   string     `json:"device_name"`
	DeviceType   DeviceType `json:"device_type"`
	Browser      string     `json:"browser"`
	OS           string     `json:"os"`
	IPAddress    string     `json:"ip_address"`
	Location     string     `json:"location"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at"`
	RevokeReason string     `json:"-"`
	IsTrusted    bool       `json:"is_trusted"`
	TrustedUntil *time.Time `json:"trusted_until"`
}

// IsRevoked reports whether the session has been revoked.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsActive reports whether the session may be presented at the given
// instant under the configured inactivity timeout.
func (s *Session) IsActive(now time.Time, inactivityTimeout time.Duration) bool {
	if s.IsRevoked() {
		return false
	}
	if !now.Before(s.ExpiresAt) {
		return false
	}
	return now.Sub(s.LastActiveAt) < inactivityTimeout
}

// IsTrustedAt reports whether the session's device trust waives MFA
// at the given instant.
func (s *Session) IsTrustedAt(now time.Time) bool {
	return s.IsTrusted && s.TrustedUntil != nil && now.Before(*s.TrustedUntil)
}

// RequestContext carries the caller-facing facts of an HTTP request
// into the core. The core never touches the request itself.
type RequestContext struct {
	IP        string
	UserAgent string
	// ForwardedFor is set when a proxy supplied the client address.
	ForwardedFor string
}
