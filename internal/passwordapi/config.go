package passwordapi

import (
	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

// NewService returns a new implementation of auth.PasswordAPI.
func NewService(options ...ConfigOption) auth.PasswordAPI {
	s := service{
		logger: log.NewNopLogger(),
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

// WithPassword configures the service with a password service.
func WithPassword(p auth.PasswordService) ConfigOption {
	return func(s *service) {
		s.password = p
	}
}

// WithCodes configures the service with a verification code service.
func WithCodes(c auth.CodeService) ConfigOption {
	return func(s *service) {
		s.codes = c
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

// WithMessaging configures the service with a MessagingService.
func WithMessaging(m auth.MessagingService) ConfigOption {
	return func(s *service) {
		s.messaging = m
	}
}
