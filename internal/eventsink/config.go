package eventsink

import (
	"time"

	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = time.Second * 5
)

// NewService returns a new implementation of auth.EventRecorder.
func NewService(options ...ConfigOption) Recorder {
	s := service{
		logger:       log.NewNopLogger(),
		queue:        make(chan record, defaultQueueSize),
		writeTimeout: defaultWriteTimeout,
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

// WithQueueSize bounds the number of records buffered in memory.
func WithQueueSize(n int) ConfigOption {
	return func(s *service) {
		s.queue = make(chan record, n)
	}
}

// WithWriteTimeout bounds each storage write.
func WithWriteTimeout(d time.Duration) ConfigOption {
	return func(s *service) {
		s.writeTimeout = d
	}
}
