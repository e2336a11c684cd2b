package codes

import (
	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

// NewService returns a new implementation of auth.CodeService.
func NewService(options ...ConfigOption) auth.CodeService {
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

// WithRepoManager configures the service with a repository manager.
func WithRepoManager(repoMngr auth.RepositoryManager) ConfigOption {
	return func(s *service) {
		s.repoMngr = repoMngr
	}
}

// WithOTP configures the service with an OTP generator.
func WithOTP(otp auth.OTPService) ConfigOption {
	return func(s *service) {
		s.otp = otp
	}
}
