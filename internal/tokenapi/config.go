package tokenapi

import (
	"time"

	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

// defaultInactivityTimeout matches the session service default.
const defaultInactivityTimeout = 14 * 24 * time.Hour

// NewService returns a new implementation of auth.TokenAPI.
func NewService(options ...ConfigOption) auth.TokenAPI {
	s := service{
		logger:            log.NewNopLogger(),
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

// WithRepoManager configures the service with a new RepositoryManager.
func WithRepoManager(repoMngr auth.RepositoryManager) ConfigOption {
	return func(s *service) {
		s.repoMngr = repoMngr
	}
}

// WithTokenService configures the service with a new TokenService.
func WithTokenService(tokenSvc auth.TokenService) ConfigOption {
	return func(s *service) {
		s.token = tokenSvc
	}
}

// WithSessions configures the service with a session service.
func WithSessions(sessions auth.SessionService) ConfigOption {
	return func(s *service) {
		s.sessions = sessions
	}
}

// WithEvents configures the service with an event recorder.
func WithEvents(e auth.EventRecorder) ConfigOption {
	return func(s *service) {
		s.events = e
	}
}

// WithInactivityTimeout configures how long a session may sit idle
// before a refresh is refused.
func WithInactivityTimeout(timeout time.Duration) ConfigOption {
	return func(s *service) {
		s.inactivityTimeout = timeout
	}
}
