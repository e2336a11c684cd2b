package otp

import (
	auth "github.com/castellan/castellan"
)

const defaultIssuer = "castellan"

// NewOTP returns a new implementation of auth.OTPService.
func NewOTP(options ...ConfigOption) auth.OTPService {
	s := OTP{
		totpIssuer: defaultIssuer,
	}

	for _, opt := range options {
		opt(&s)
	}

	return &s
}

// ConfigOption configures the service.
type ConfigOption func(*OTP)

// WithIssuer configures the service with a TOTP issuing domain.
func WithIssuer(issuer string) ConfigOption {
	return func(s *OTP) {
		s.totpIssuer = issuer
	}
}

// WithEncryptionSecret derives the at-rest encryption key for TOTP
// secrets from a configured value.
func WithEncryptionSecret(secret string) ConfigOption {
	return func(s *OTP) {
		s.key = deriveKey(secret)
	}
}
