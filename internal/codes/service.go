// Package codes is the store of single-use verification codes sent
// over a side channel. Formats, expiry and attempt budgets come from
// the MFA policy.
package codes

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	auth "github.com/castellan/castellan"
)

// service is an implementation of auth.CodeService.
type service struct {
	logger   log.Logger
	repoMngr auth.RepositoryManager
	otp      auth.OTPService
}

// Issue generates and stores a code, invalidating any previous
// unconsumed code for the same (principal, purpose). The plaintext is
// returned for delivery and never stored.
func (s *service) Issue(ctx context.Context, principalID string, purpose auth.CodePurpose) (string, *auth.VerificationCode, error) {
	policy, err := s.repoMngr.Policy().Get(ctx)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to load MFA policy")
	}

	code, hash, err := s.otp.GenerateCode(policy.CodeFormat)
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	record := &auth.VerificationCode{
		ID:          ulid.Make().String(),
		PrincipalID: principalID,
		Purpose:     purpose,
		CodeHash:    hash,
		ExpiresAt:   now.Add(time.Duration(policy.CodeExpiryMinutes) * time.Minute),
		CreatedAt:   now,
	}

	tx, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("cannot start transaction: %w", err)
	}

	_, err = tx.WithAtomic(func() (interface{}, error) {
		if err := tx.VerificationCode().InvalidatePurpose(ctx, principalID, purpose, now); err != nil {
			return nil, err
		}
		if err := tx.VerificationCode().Create(ctx, record); err != nil {
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to store verification code")
	}

	return code, record, nil
}

// Verify consumes a code. Every submission counts toward the policy's
// attempt budget, successful or not.
func (s *service) Verify(ctx context.Context, principalID string, purpose auth.CodePurpose, code string) error {
	policy, err := s.repoMngr.Policy().Get(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load MFA policy")
	}

	record, err := s.repoMngr.VerificationCode().ActiveByPurpose(ctx, principalID, purpose)
	if err != nil {
		return errors.Wrap(auth.ErrCodeInvalid("no code was requested"), err.Error())
	}

	attempts, err := s.repoMngr.VerificationCode().IncrementAttempts(ctx, record.ID)
	if err != nil {
		return errors.Wrap(err, "failed to count attempt")
	}
	if attempts > policy.MaxFailedAttempts {
		return auth.ErrCodeAttemptsExhausted("too many attempts, request a new code")
	}

	now := time.Now()
	if record.IsExpired(now) {
		return auth.ErrCodeExpired("code is expired, request a new one")
	}

	if err = s.otp.ValidateCode(code, record.CodeHash); err != nil {
		return err
	}

	// Conditional write; a concurrent winner makes this submission fail.
	if err = s.repoMngr.VerificationCode().Consume(ctx, record.ID, now); err != nil {
		return errors.Wrap(auth.ErrCodeInvalid("code was already used"), err.Error())
	}

	return nil
}
