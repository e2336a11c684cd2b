package token

import (
	"time"

	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

const (
	defaultAccessExpiry    = 15 * time.Minute
	defaultRefreshExpiry   = 30 * 24 * time.Hour
	defaultChallengeExpiry = 10 * time.Minute
	defaultSetupExpiry     = 15 * time.Minute
	defaultKeyGrace        = 30 * 24 * time.Hour
	defaultIssuer          = "castellan"
)

// NewService returns a new implementation of auth.TokenService.
func NewService(options ...ConfigOption) auth.TokenService {
	s := service{
		logger:          log.NewNopLogger(),
		accessExpiry:    defaultAccessExpiry,
		refreshExpiry:   defaultRefreshExpiry,
		challengeExpiry: defaultChallengeExpiry,
		setupExpiry:     defaultSetupExpiry,
		keyGrace:        defaultKeyGrace,
		issuer:          defaultIssuer,
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

// WithIssuer configures the service with a token issuer.
func WithIssuer(issuer string) ConfigOption {
	return func(s *service) {
		s.issuer = issuer
	}
}

// WithAccessExpiry configures the access credential lifetime.
func WithAccessExpiry(expiry time.Duration) ConfigOption {
	return func(s *service) {
		s.accessExpiry = expiry
	}
}

// WithRefreshExpiry configures the refresh credential lifetime.
func WithRefreshExpiry(expiry time.Duration) ConfigOption {
	return func(s *service) {
		s.refreshExpiry = expiry
	}
}

// WithChallengeExpiry configures the MFA challenge lifetime.
func WithChallengeExpiry(expiry time.Duration) ConfigOption {
	return func(s *service) {
		s.challengeExpiry = expiry
	}
}

// WithSetupExpiry configures the MFA setup token lifetime.
func WithSetupExpiry(expiry time.Duration) ConfigOption {
	return func(s *service) {
		s.setupExpiry = expiry
	}
}

// WithKeyGrace bounds how long credentials signed with a superseded
// key remain acceptable.
func WithKeyGrace(grace time.Duration) ConfigOption {
	return func(s *service) {
		s.keyGrace = grace
	}
}

// WithSecret adds a versioned signing key. The last key added signs
// new credentials; earlier keys only verify.
func WithSecret(x Secret) ConfigOption {
	return func(s *service) {
		s.secrets = append(s.secrets, x)
	}
}

// WithDB configures the service with a redis DB.
func WithDB(db Rediser) ConfigOption {
	return func(s *service) {
		s.db = db
	}
}

// WithRepoManager configures the service with a repository manager.
func WithRepoManager(repoMngr auth.RepositoryManager) ConfigOption {
	return func(s *service) {
		s.repoMngr = repoMngr
	}
}
