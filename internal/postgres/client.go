// Package postgres provides implementations of the castellan domain
// repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-kit/kit/log"
	// pq registers itself as being available to the database/sql package.
	_ "github.com/lib/pq"

	auth "github.com/castellan/castellan"
)

// Client represents a client for PostgreSQL.
type Client struct {
	db     *sql.DB
	tx     *sql.Tx
	logger log.Logger

	principalRepository *PrincipalRepository
	principalQ          map[string]string

	linkedIdentityRepository *LinkedIdentityRepository
	linkedIdentityQ          map[string]string

	mfaRepository *MFARepository
	mfaQ          map[string]string

	backupCodeRepository *BackupCodeRepository
	backupCodeQ          map[string]string

	verificationCodeRepository *VerificationCodeRepository
	verificationCodeQ          map[string]string

	sessionRepository *SessionRepository
	sessionQ          map[string]string

	refreshFamilyRepository *RefreshFamilyRepository
	refreshFamilyQ          map[string]string

	loginAttemptRepository *LoginAttemptRepository
	loginAttemptQ          map[string]string

	securityEventRepository *SecurityEventRepository
	securityEventQ          map[string]string

	auditRepository *AuditRepository
	auditQ          map[string]string

	policyRepository *PolicyRepository
	policyQ          map[string]string
}

func (c *Client) createQueries() {
	c.principalQ = principalQueries()
	c.linkedIdentityQ = linkedIdentityQueries()
	c.mfaQ = mfaQueries()
	c.backupCodeQ = backupCodeQueries()
	c.verificationCodeQ = verificationCodeQueries()
	c.sessionQ = sessionQueries()
	c.refreshFamilyQ = refreshFamilyQueries()
	c.loginAttemptQ = loginAttemptQueries()
	c.securityEventQ = securityEventQueries()
	c.auditQ = auditQueries()
	c.policyQ = policyQueries()
}

// NewWithTransaction returns a new client with a transaction. All
// repository operations using the new client will default to the transaction.
func (c *Client) NewWithTransaction(ctx context.Context) (auth.RepositoryManager, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	newClient := *c
	newClient.tx = tx
	newClient.attachRepositories()
	return &newClient, nil
}

// WithAtomic performs an operation within a transaction. If the operation
// is successful it commits it, otherwise the operation will be rolledback.
func (c *Client) WithAtomic(operation func() (interface{}, error)) (interface{}, error) {
	if c.tx == nil {
		return nil, fmt.Errorf("cannot complete operation outside of transaction")
	}

	defer func() {
		c.tx = nil
	}()

	entity, err := operation()

	if err != nil {
		if dbErr := c.tx.Rollback(); dbErr != nil {
			err = fmt.Errorf("%v: %w", dbErr, err)
		}
		return nil, err
	}

	err = c.tx.Commit()
	if err != nil {
		return entity, fmt.Errorf("commit failed: %w", err)
	}

	return entity, nil
}

// attachRepositories points every repository back at this client so
// they share one connection and one transaction.
func (c *Client) attachRepositories() {
	c.principalRepository = &PrincipalRepository{client: c}
	c.linkedIdentityRepository = &LinkedIdentityRepository{client: c}
	c.mfaRepository = &MFARepository{client: c}
	c.backupCodeRepository = &BackupCodeRepository{client: c}
	c.verificationCodeRepository = &VerificationCodeRepository{client: c}
	c.sessionRepository = &SessionRepository{client: c}
	c.refreshFamilyRepository = &RefreshFamilyRepository{client: c}
	c.loginAttemptRepository = &LoginAttemptRepository{client: c}
	c.securityEventRepository = &SecurityEventRepository{client: c}
	c.auditRepository = &AuditRepository{client: c}
	c.policyRepository = &PolicyRepository{client: c}
}

// Principal returns a PrincipalRepository.
func (c *Client) Principal() auth.PrincipalRepository {
	return c.principalRepository
}

// LinkedIdentity returns a LinkedIdentityRepository.
func (c *Client) LinkedIdentity() auth.LinkedIdentityRepository {
	return c.linkedIdentityRepository
}

// MFA returns an MFARepository.
func (c *Client) MFA() auth.MFARepository {
	return c.mfaRepository
}

// BackupCode returns a BackupCodeRepository.
func (c *Client) BackupCode() auth.BackupCodeRepository {
	return c.backupCodeRepository
}

// VerificationCode returns a VerificationCodeRepository.
func (c *Client) VerificationCode() auth.VerificationCodeRepository {
	return c.verificationCodeRepository
}

// Session returns a SessionRepository.
func (c *Client) Session() auth.SessionRepository {
	return c.sessionRepository
}

// RefreshFamily returns a RefreshFamilyRepository.
func (c *Client) RefreshFamily() auth.RefreshFamilyRepository {
	return c.refreshFamilyRepository
}

// LoginAttempt returns a LoginAttemptRepository.
func (c *Client) LoginAttempt() auth.LoginAttemptRepository {
	return c.loginAttemptRepository
}

// SecurityEvent returns a SecurityEventRepository.
func (c *Client) SecurityEvent() auth.SecurityEventRepository {
	return c.securityEventRepository
}

// Audit returns an AuditRepository.
func (c *Client) Audit() auth.AuditRepository {
	return c.auditRepository
}

// Policy returns a PolicyRepository.
func (c *Client) Policy() auth.PolicyRepository {
	return c.policyRepository
}

func (c *Client) queryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if c.tx != nil {
		return c.tx.QueryRowContext(ctx, query, args...)
	}

	return c.db.QueryRowContext(ctx, query, args...)
}

func (c *Client) queryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if c.tx != nil {
		return c.tx.QueryContext(ctx, query, args...)
	}

	return c.db.QueryContext(ctx, query, args...)
}

func (c *Client) execContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if c.tx != nil {
		return c.tx.ExecContext(ctx, query, args...)
	}

	return c.db.ExecContext(ctx, query, args...)
}
