package ratelimit

import (
	"time"

	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

// DefaultPolicies returns the default policy table. Scopes keyed to
// an IP identity throttle anonymous abuse; scopes keyed to a
// principal id throttle outgoing mail.
func DefaultPolicies() map[auth.RateScope]Policy {
	return map[auth.RateScope]Policy{
		auth.ScopeRegister:      {Window: time.Hour, Max: 5},
		auth.ScopeLogin:         {Window: 15 * time.Minute, Max: 10},
		auth.ScopePasswordReset: {Window: time.Hour, Max: 3},
		auth.ScopeEmailVerify:   {Window: time.Hour, Max: 5},
		auth.ScopeMFAVerify:     {Window: 15 * time.Minute, Max: 5},
		auth.ScopeEmailCooldown: {Window: 30 * time.Second, Max: 1},
		auth.ScopeEmailDaily:    {Window: 24 * time.Hour, Max: 25},
	}
}

// NewLimiter returns a new implementation of auth.RateLimiter.
func NewLimiter(options ...ConfigOption) auth.RateLimiter {
	s := Limiter{
		logger:   log.NewNopLogger(),
		policies: DefaultPolicies(),
		fallback: newMemoryWindow(),
	}

	for _, opt := range options {
		opt(&s)
	}

	return &s
}

// ConfigOption configures the service.
type ConfigOption func(*Limiter)

// WithLogger configures the service with a logger.
func WithLogger(l log.Logger) ConfigOption {
	return func(s *Limiter) {
		s.logger = l
	}
}

// WithDB configures the service with a redis DB.
func WithDB(db rediser) ConfigOption {
	return func(s *Limiter) {
		s.db = db
	}
}

// WithPolicy overrides the policy for a scope.
func WithPolicy(scope auth.RateScope, window time.Duration, max int) ConfigOption {
	return func(s *Limiter) {
		s.policies[scope] = Policy{Window: window, Max: max}
	}
}
