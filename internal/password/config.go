// Package password manages the slow KDF digests of principal
// passwords and the strength rules for new ones.
package password

import (
	"golang.org/x/crypto/bcrypt"

	auth "github.com/castellan/castellan"
)

const (
	defaultMinLength = 8
	defaultMaxLength = 1000
)

// NewPassword returns a new implementation of auth.PasswordService.
func NewPassword(options ...ConfigOption) auth.PasswordService {
	s := Password{
		cost:      bcrypt.DefaultCost,
		minLength: defaultMinLength,
		maxLength: defaultMaxLength,
	}

	for _, opt := range options {
		opt(&s)
	}

	return &s
}

// ConfigOption configures the service.
type ConfigOption func(*Password)

// WithCost configures the bcrypt cost. Tuning targets at least
// 100ms per verification on reference hardware.
func WithCost(cost int) ConfigOption {
	return func(s *Password) {
		s.cost = cost
	}
}

// WithMinLength configures the minimum password length.
func WithMinLength(length int) ConfigOption {
	return func(s *Password) {
		s.minLength = length
	}
}

// WithMaxLength configures the maximum password length.
func WithMaxLength(length int) ConfigOption {
	return func(s *Password) {
		s.maxLength = length
	}
}
