package sessionapi

import (
	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

// NewService returns a new implementation of auth.SessionAPI.
func NewService(options ...ConfigOption) auth.SessionAPI {
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

// WithSessions configures the service with a session service.
func WithSessions(sessions auth.SessionService) ConfigOption {
	return func(s *service) {
		s.sessions = sessions
	}
}
