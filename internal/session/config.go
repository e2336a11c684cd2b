package session

import (
	"time"

	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

const (
	defaultSessionExpiry     = 30 * 24 * time.Hour
	defaultInactivityTimeout = 14 * 24 * time.Hour
)

// NewService returns a new implementation of auth.SessionService.
func NewService(options ...ConfigOption) auth.SessionService {
	s := service{
		logger:            log.NewNopLogger(),
		sessionExpiry:     defaultSessionExpiry,
		inactivityTimeout: defaultInactivityTimeout,
	}

	for _, opt := range options {
		opt(&s)
	}

	return &s
}

// ConfigOption configures the service.
type ConfigOption func(*service)

// WithLogger configures the service with a logger.
func WithLogger(l log.Logger) ConfigOption {
	return func(s *service) {
		s.logger = l
	}
}

// WithRepoManager configures the service with a repository manager.
func WithRepoManager(repoMngr auth.RepositoryManager) ConfigOption {
	return func(s *service) {
		s.repoMngr = repoMngr
	}
}

// WithSessionExpiry configures the absolute session lifetime.
func WithSessionExpiry(expiry time.Duration) ConfigOption {
	return func(s *service) {
		s.sessionExpiry = expiry
	}
}

// WithInactivityTimeout configures how long a session may sit idle
// before it is treated as expired.
func WithInactivityTimeout(timeout time.Duration) ConfigOption {
	return func(s *service) {
		s.inactivityTimeout = timeout
	}
}
