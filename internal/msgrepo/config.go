package msgrepo

import (
	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

// NewService returns a new implementation of auth.MessageRepository.
func NewService(options ...ConfigOption) auth.MessageRepository {
	s := service{
		logger:       log.NewNopLogger(),
		messageQueue: make(chan *auth.Message, 100),
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
