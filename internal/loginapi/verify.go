package loginapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/kit/log/level"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

// VerifyTOTP answers a pending challenge with a TOTP code.
func (s *service) VerifyTOTP(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	rc := httpapi.NewRequestContext(r)

	req, err := decodeVerifyTOTPRequest(r)
	if err != nil {
		return nil, err
	}

	claims, principal, err := s.challengeFor(ctx, req.Challenge, auth.MethodTOTP)
	if err != nil {
		return nil, err
	}

	policy, err := s.repoMngr.Policy().Get(ctx)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollmentFor(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil || !enrollment.IsTOTPEnabled {
		return nil, auth.ErrChallengeInvalid("totp is not enabled for this principal")
	}
	if enrollment.IsLocked(time.Now().UTC()) {
		s.recordAttempt(ctx, principal, principal.Email, rc, false, auth.ReasonMFALocked, true)
		return nil, auth.ErrLocked("mfa verification is locked, try again later")
	}

	if err = s.otp.ValidateTOTP(enrollment.TOTPSecret, req.Token); err != nil {
		if lockErr := s.registerFailure(ctx, principal, policy, claims, rc); lockErr != nil {
			return nil, lockErr
		}
		return nil, auth.ErrCodeInvalid("incorrect code provided")
	}

	s.clearFailures(ctx, enrollment)
	return s.completeChallenge(ctx, principal, policy, claims, auth.MethodTOTP, false, rc)
}

// VerifyEmailCode answers a pending challenge with an emailed code.
// trust_device additionally waives MFA for the device under the
// policy's trust window.
func (s *service) VerifyEmailCode(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	rc := httpapi.NewRequestContext(r)

	req, err := decodeVerifyEmailCodeRequest(r)
	if err != nil {
		return nil, err
	}

	claims, principal, err := s.challengeFor(ctx, req.Challenge, auth.MethodEmail)
	if err != nil {
		return nil, err
	}

	policy, err := s.repoMngr.Policy().Get(ctx)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollmentFor(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	if enrollment.IsLocked(time.Now().UTC()) {
		s.recordAttempt(ctx, principal, principal.Email, rc, false, auth.ReasonMFALocked, true)
		return nil, auth.ErrLocked("mfa verification is locked, try again later")
	}

	// Both-factor policies verify TOTP before the emailed code.
	if requireAll(policy, principal.Role) {
		if remaining := claims.Remaining(); len(remaining) > 0 && remaining[0] != auth.MethodEmail {
			return nil, auth.ErrChallengeInvalid("totp must be verified first")
		}
	}

	if err = s.codes.Verify(ctx, principal.ID, auth.PurposeMFALogin, req.Code); err != nil {
		if auth.ErrorCode(err) == auth.ECodeInvalid {
			if lockErr := s.registerFailure(ctx, principal, policy, claims, rc); lockErr != nil {
				return nil, lockErr
			}
		} else {
			s.recordAttempt(ctx, principal, principal.Email, rc, false, auth.ReasonMFAFailed, true)
		}
		return nil, err
	}

	s.clearFailures(ctx, enrollment)
	return s.completeChallenge(ctx, principal, policy, claims, auth.MethodEmail, req.TrustDevice, rc)
}

// VerifyBackupCode consumes a recovery code. A backup code satisfies
// the challenge outright, whatever methods remain pending.
func (s *service) VerifyBackupCode(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	rc := httpapi.NewRequestContext(r)

	req, err := decodeVerifyBackupCodeRequest(r)
	if err != nil {
		return nil, err
	}

	claims, principal, err := s.challengeFor(ctx, req.Challenge, auth.MethodBackupCode)
	if err != nil {
		return nil, err
	}

	policy, err := s.repoMngr.Policy().Get(ctx)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollmentFor(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	if enrollment.IsLocked(time.Now().UTC()) {
		s.recordAttempt(ctx, principal, principal.Email, rc, false, auth.ReasonMFALocked, true)
		return nil, auth.ErrLocked("mfa verification is locked, try again later")
	}

	stored, err := s.repoMngr.BackupCode().ByPrincipal(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	match, err := s.otp.MatchBackupCode(req.Code, stored)
	if err != nil {
		if lockErr := s.registerFailure(ctx, principal, policy, claims, rc); lockErr != nil {
			return nil, lockErr
		}
		return nil, err
	}

	if err = s.repoMngr.BackupCode().Consume(ctx, match.ID, time.Now().UTC()); err != nil {
		return nil, err
	}

	s.clearFailures(ctx, enrollment)
	return s.completeChallenge(ctx, principal, policy, claims, auth.MethodBackupCode, false, rc)
}

// ResendEmailCode reissues the emailed login code, invalidating the
// previous one. Resends are throttled per principal.
func (s *service) ResendEmailCode(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()

	req, err := decodeResendRequest(r)
	if err != nil {
		return nil, err
	}

	claims, principal, err := s.challengeFor(ctx, req.Challenge, auth.MethodEmail)
	if err != nil {
		return nil, err
	}
	_ = claims

	for _, scope := range []auth.RateScope{auth.ScopeEmailCooldown, auth.ScopeEmailDaily} {
		decision, err := s.limiter.Check(ctx, scope, principal.ID)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, auth.ErrRateLimited{RetryAfter: decision.RetryAfter}
		}
	}

	enrollment, err := s.enrollmentFor(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	expiresAt, err := s.sendLoginCode(ctx, principal, enrollment)
	if err != nil {
		return nil, err
	}

	return &resendResponse{
		SentAt:    time.Now().UTC(),
		ExpiresAt: expiresAt,
	}, nil
}

// challengeFor verifies a challenge token, checks the method is still
// pending on it, and resolves the principal it was minted for.
func (s *service) challengeFor(ctx context.Context, token string, method auth.Method) (*auth.ChallengeClaims, *auth.Principal, error) {
	claims, err := s.token.VerifyChallenge(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	if !claims.Allows(method) {
		return nil, nil, auth.ErrChallengeInvalid("method is not pending for this challenge")
	}

	principal, err := s.repoMngr.Principal().ByID(ctx, claims.Subject)
	if err != nil {
		return nil, nil, auth.ErrChallengeInvalid("challenge does not match a known principal")
	}
	if !principal.CanAuthenticate() {
		return nil, nil, auth.ErrInvalidCredentials("invalid email or password")
	}

	return claims, principal, nil
}

// completeChallenge consumes the presented challenge and either mints
// a follow-up challenge for the next required method or finishes the
// login.
func (s *service) completeChallenge(ctx context.Context, principal *auth.Principal, policy *auth.MFAPolicy, claims *auth.ChallengeClaims, method auth.Method, trustDevice bool, rc auth.RequestContext) (*auth.LoginResult, error) {
	if err := s.token.ConsumeChallenge(ctx, claims); err != nil {
		return nil, err
	}

	if method != auth.MethodBackupCode && requireAll(policy, principal.Role) {
		if remaining := remainingAfter(claims, method); len(remaining) > 0 {
			return s.continueChallenge(ctx, principal, policy, claims, method, remaining)
		}
	}

	if trustDevice && policy.IsDeviceTrustEnabled && claims.Fingerprint != "" {
		d := time.Duration(policy.DeviceTrustDays) * 24 * time.Hour
		if err := s.sessions.MarkTrusted(ctx, principal.ID, claims.Fingerprint, d, policy.MaxTrustedDevices); err != nil {
			level.Error(s.logger).Log(
				"source", "LoginAPI.Verify",
				"message", "failed to mark device trusted",
				"error", err,
			)
		}
	}

	return s.completeLogin(ctx, principal, rc, true)
}

func (s *service) continueChallenge(ctx context.Context, principal *auth.Principal, policy *auth.MFAPolicy, claims *auth.ChallengeClaims, method auth.Method, remaining []auth.Method) (*auth.LoginResult, error) {
	completed := append(append([]auth.Method{}, claims.Completed...), method)
	challenge, err := s.token.MintChallenge(ctx, principal, claims.Methods, completed, claims.Fingerprint)
	if err != nil {
		return nil, err
	}

	mfaChallenge := &auth.MFAChallenge{
		Challenge:        challenge,
		Methods:          remaining,
		Preferred:        remaining[0],
		DeviceTrust:      policy.IsDeviceTrustEnabled,
		DeviceTrustDays:  policy.DeviceTrustDays,
		AvailableMethods: remaining,
	}

	if remaining[0] == auth.MethodEmail {
		enrollment, err := s.enrollmentFor(ctx, principal.ID)
		if err != nil {
			return nil, err
		}
		if expiresAt, err := s.sendLoginCode(ctx, principal, enrollment); err == nil {
			mfaChallenge.IsEmailCodeSent = true
			mfaChallenge.CodeExpiresAt = &expiresAt
		}
	}

	return &auth.LoginResult{
		Outcome:   auth.OutcomeMFARequired,
		Challenge: mfaChallenge,
	}, nil
}

// registerFailure counts a failed verification toward the policy's
// attempt budget, applying the lockout behavior when it is exhausted.
// A non-nil return is the lockout error to surface instead of the
// generic failure.
func (s *service) registerFailure(ctx context.Context, principal *auth.Principal, policy *auth.MFAPolicy, claims *auth.ChallengeClaims, rc auth.RequestContext) error {
	s.recordAttempt(ctx, principal, principal.Email, rc, false, auth.ReasonMFAFailed, true)

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return err
	}

	entity, err := client.WithAtomic(func() (interface{}, error) {
		enrollment, err := client.MFA().GetForUpdate(ctx, principal.ID)
		if err != nil {
			if auth.ErrorCode(err) == auth.ENotFound {
				return nil, nil
			}
			return nil, err
		}

		enrollment.FailedAttempts++
		if enrollment.FailedAttempts >= policy.MaxFailedAttempts {
			applyLockout(enrollment, policy, time.Now().UTC())
		}
		if err = client.MFA().Update(ctx, enrollment); err != nil {
			return nil, err
		}
		return enrollment, nil
	})
	if err != nil {
		return err
	}

	enrollment, ok := entity.(*auth.MFAEnrollment)
	if !ok || enrollment == nil || enrollment.FailedAttempts < policy.MaxFailedAttempts {
		return nil
	}

	s.recordAttempt(ctx, principal, principal.Email, rc, false, auth.ReasonMFALocked, true)

	if policy.LockoutBehavior == auth.LockoutRequirePassword {
		// The challenge dies with the lock; a fresh password login
		// starts over with a clean attempt budget.
		if err := s.token.ConsumeChallenge(ctx, claims); err != nil {
			level.Error(s.logger).Log(
				"source", "LoginAPI.Verify",
				"message", "failed to consume locked challenge",
				"error", err,
			)
		}
		return auth.ErrLocked("too many failed attempts, log in with your password again")
	}
	return auth.ErrLocked("too many failed attempts, mfa verification is locked")
}

// applyLockout mutates the enrollment per the configured behavior.
func applyLockout(enrollment *auth.MFAEnrollment, policy *auth.MFAPolicy, now time.Time) {
	switch policy.LockoutBehavior {
	case auth.LockoutTemporary:
		until := now.Add(time.Duration(policy.LockoutMinutes) * time.Minute)
		enrollment.LockedUntil = &until
	case auth.LockoutAdminOnly:
		// Held until an administrator unlocks.
		until := now.AddDate(100, 0, 0)
		enrollment.LockedUntil = &until
	case auth.LockoutRequirePassword:
		enrollment.FailedAttempts = 0
	}
}

// clearFailures resets the attempt budget after a successful
// verification. Best effort.
func (s *service) clearFailures(ctx context.Context, enrollment *auth.MFAEnrollment) {
	if enrollment == nil || (enrollment.FailedAttempts == 0 && enrollment.LockedUntil == nil) {
		return
	}

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return
	}
	_, err = client.WithAtomic(func() (interface{}, error) {
		locked, err := client.MFA().GetForUpdate(ctx, enrollment.PrincipalID)
		if err != nil {
			return nil, err
		}
		locked.FailedAttempts = 0
		locked.LockedUntil = nil
		return nil, client.MFA().Update(ctx, locked)
	})
	if err != nil {
		level.Error(s.logger).Log(
			"source", "LoginAPI.Verify",
			"message", "failed to reset attempt budget",
			"error", err,
		)
	}
}

// requireAll reports whether the effective mode demands every listed
// method rather than any one of them.
func requireAll(policy *auth.MFAPolicy, role auth.Role) bool {
	return policy.EffectiveMode(role) == auth.MFATOTPAndEmail
}

func remainingAfter(claims *auth.ChallengeClaims, method auth.Method) []auth.Method {
	var out []auth.Method
	for _, m := range claims.Remaining() {
		if m != method {
			out = append(out, m)
		}
	}
	return out
}
