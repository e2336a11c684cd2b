// Package loginapi provides an HTTP API for authentication. A login
// moves from a password check through the MFA requirements resolved
// for the principal to an issued credential pair.
package loginapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
	"github.com/castellan/castellan/internal/mfa"
)

const (
	bruteForceWindow    = 15 * time.Minute
	bruteForceThreshold = 5

	// newDeviceWindow bounds how far back a device fingerprint counts
	// as known. A returning device outside the window alerts again.
	newDeviceWindow = 30 * 24 * time.Hour
)

type service struct {
	logger    log.Logger
	repoMngr  auth.RepositoryManager
	token     auth.TokenService
	password  auth.PasswordService
	otp       auth.OTPService
	codes     auth.CodeService
	sessions  auth.SessionService
	limiter   auth.RateLimiter
	events    auth.EventRecorder
	messaging auth.MessagingService
}

// Login validates a password and either issues credentials, returns a
// pending MFA challenge, or pivots into MFA enrollment. Every failure
// resolves to the same generic error so the response does not reveal
// whether the email is registered.
func (s *service) Login(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	rc := httpapi.NewRequestContext(r)

	req, err := decodeLoginRequest(r)
	if err != nil {
		return nil, err
	}

	email := auth.NormalizeEmail(req.Email)

	principal, err := s.repoMngr.Principal().ByEmail(ctx, email)
	if err != nil {
		if auth.ErrorCode(err) != auth.ENotFound {
			return nil, err
		}
		// Burn a digest comparison so unknown emails fail as slowly
		// as wrong passwords.
		s.password.DummyValidate(req.Password)
		s.recordAttempt(ctx, nil, email, rc, false, auth.ReasonUnknownUser, false)
		return nil, auth.ErrInvalidCredentials("invalid email or password")
	}

	if !principal.CanAuthenticate() {
		// Same latency as the password paths so the response does not
		// reveal account state.
		s.password.DummyValidate(req.Password)
		s.recordAttempt(ctx, principal, email, rc, false, auth.ReasonAccountInactive, false)
		return nil, auth.ErrInvalidCredentials("invalid email or password")
	}

	if err = s.password.Validate(principal, req.Password); err != nil {
		s.recordAttempt(ctx, principal, email, rc, false, auth.ReasonBadPassword, false)
		s.detectBruteForce(ctx, principal, email, rc)
		return nil, auth.ErrInvalidCredentials("invalid email or password")
	}

	policy, err := s.repoMngr.Policy().Get(ctx)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollmentFor(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if enrollment.IsLocked(now) {
		// A fresh password login is exactly what the require_password
		// behavior asks for; the other behaviors hold the lock.
		if policy.LockoutBehavior != auth.LockoutRequirePassword {
			s.recordAttempt(ctx, principal, email, rc, false, auth.ReasonMFALocked, false)
			return nil, auth.ErrLocked("mfa verification is locked, try again later")
		}
		s.clearFailures(ctx, enrollment)
	}

	fingerprint := s.sessions.Fingerprint(rc)
	trusted, err := s.sessions.IsTrusted(ctx, principal.ID, fingerprint)
	if err != nil {
		return nil, err
	}

	resolution := mfa.Resolve(principal, enrollment, policy, trusted, now)

	if resolution.IsSetupRequired {
		setupToken, err := s.token.MintSetup(ctx, principal)
		if err != nil {
			return nil, err
		}
		return &auth.LoginResult{
			Outcome:    auth.OutcomeMFASetupRequired,
			SetupToken: setupToken,
		}, nil
	}

	if resolution.IsRequired {
		return s.beginChallenge(ctx, principal, enrollment, policy, resolution, fingerprint)
	}

	result, err := s.completeLogin(ctx, principal, rc, false)
	if err != nil {
		return nil, err
	}
	result.InGrace = resolution.InGrace
	return result, nil
}

func (s *service) beginChallenge(ctx context.Context, principal *auth.Principal, enrollment *auth.MFAEnrollment, policy *auth.MFAPolicy, resolution auth.MFAResolution, fingerprint string) (*auth.LoginResult, error) {
	challenge, err := s.token.MintChallenge(ctx, principal, resolution.Methods, nil, fingerprint)
	if err != nil {
		return nil, err
	}

	mfaChallenge := &auth.MFAChallenge{
		Challenge:        challenge,
		Methods:          resolution.Methods,
		Preferred:        resolution.Preferred,
		DeviceTrust:      policy.IsDeviceTrustEnabled,
		DeviceTrustDays:  policy.DeviceTrustDays,
		AvailableMethods: resolution.Methods,
		BackupMethod:     s.backupAvailable(ctx, principal.ID, enrollment, policy),
	}

	if resolution.Preferred == auth.MethodEmail {
		expiresAt, err := s.sendLoginCode(ctx, principal, enrollment)
		if err != nil {
			level.Error(s.logger).Log(
				"source", "LoginAPI.Login",
				"message", "failed to deliver login code",
				"error", err,
			)
		} else {
			mfaChallenge.IsEmailCodeSent = true
			mfaChallenge.CodeExpiresAt = &expiresAt
		}
	}

	return &auth.LoginResult{
		Outcome:   auth.OutcomeMFARequired,
		Challenge: mfaChallenge,
	}, nil
}

// completeLogin binds the principal to a device session, issues the
// bearer pair and records the attempt.
func (s *service) completeLogin(ctx context.Context, principal *auth.Principal, rc auth.RequestContext, mfaUsed bool) (*auth.LoginResult, error) {
	// Checked before the session exists so the fresh record cannot
	// mark its own fingerprint as seen.
	fingerprint := s.sessions.Fingerprint(rc)
	since := time.Now().UTC().Add(-newDeviceWindow)
	seenRecently, seenErr := s.sessions.SeenFingerprint(ctx, principal.ID, fingerprint, since)
	if seenErr != nil {
		level.Error(s.logger).Log(
			"source", "LoginAPI.Login",
			"message", "failed to inspect fingerprint history",
			"error", seenErr,
		)
	}

	session, isNew, err := s.sessions.CreateOrRefresh(ctx, principal, rc)
	if err != nil {
		return nil, err
	}

	credentials, err := issueCredentials(ctx, s.repoMngr, s.token, principal, session.ID)
	if err != nil {
		return nil, err
	}

	s.recordAttempt(ctx, principal, principal.Email, rc, true, "", mfaUsed)
	if isNew && seenErr == nil && !seenRecently {
		s.notifyNewSession(ctx, principal, session)
	}

	if err = s.limiter.Reset(ctx, auth.ScopeLogin, rc.IP); err != nil {
		level.Info(s.logger).Log(
			"source", "LoginAPI.Login",
			"message", "failed to reset login counter",
			"error", err,
		)
	}

	return &auth.LoginResult{
		Outcome:     auth.OutcomeCredentials,
		Principal:   principal,
		Credentials: credentials,
	}, nil
}

// notifyNewSession grades a session whose fingerprint was not seen
// within the alert window as a new location when the browser and OS
// were seen before, and as a new device otherwise. The very first
// session of an account raises nothing.
func (s *service) notifyNewSession(ctx context.Context, principal *auth.Principal, session *auth.Session) {
	existing, err := s.repoMngr.Session().ByPrincipal(ctx, principal.ID)
	if err != nil {
		level.Error(s.logger).Log(
			"source", "LoginAPI.Login",
			"message", "failed to inspect session history",
			"error", err,
		)
		return
	}

	var others, sameDevice int
	for _, other := range existing {
		if other.ID == session.ID {
			continue
		}
		others++
		if other.Browser == session.Browser && other.OS == session.OS {
			sameDevice++
		}
	}
	if others == 0 {
		return
	}

	event := &auth.SecurityEvent{
		PrincipalID: principal.ID,
		Type:        auth.EventNewDevice,
		Severity:    auth.SeverityWarning,
		Details: map[string]string{
			"ip_address": session.IPAddress,
			"browser":    session.Browser,
			"os":         session.OS,
		},
	}
	if sameDevice > 0 {
		event.Type = auth.EventNewLocation
		event.Severity = auth.SeverityInfo
	}
	s.events.Event(ctx, event)
}

func (s *service) detectBruteForce(ctx context.Context, principal *auth.Principal, email string, rc auth.RequestContext) {
	since := time.Now().UTC().Add(-bruteForceWindow)
	failures, err := s.repoMngr.LoginAttempt().RecentFailures(ctx, email, since)
	if err != nil {
		level.Error(s.logger).Log(
			"source", "LoginAPI.Login",
			"message", "failed to count recent failures",
			"error", err,
		)
		return
	}

	// The attempt that triggered this check is recorded asynchronously
	// and may not be counted yet.
	if failures+1 < bruteForceThreshold {
		return
	}

	s.events.Event(ctx, &auth.SecurityEvent{
		PrincipalID: principal.ID,
		Type:        auth.EventBruteForce,
		Severity:    auth.SeverityCritical,
		Details: map[string]string{
			"ip_address": rc.IP,
			"email":      email,
		},
	})
}

func (s *service) recordAttempt(ctx context.Context, principal *auth.Principal, email string, rc auth.RequestContext, success bool, reason string, mfaUsed bool) {
	attempt := &auth.LoginAttempt{
		Email:     email,
		IPAddress: rc.IP,
		UserAgent: rc.UserAgent,
		IsSuccess: success,
		Reason:    reason,
		IsMFAUsed: mfaUsed,
	}
	if principal != nil {
		attempt.PrincipalID = principal.ID
	}
	s.events.Attempt(ctx, attempt)
}

// enrollmentFor returns the principal's enrollment, or nil when they
// have never started one.
func (s *service) enrollmentFor(ctx context.Context, principalID string) (*auth.MFAEnrollment, error) {
	enrollment, err := s.repoMngr.MFA().ByPrincipal(ctx, principalID)
	if err != nil {
		if auth.ErrorCode(err) == auth.ENotFound {
			return nil, nil
		}
		return nil, err
	}
	return enrollment, nil
}

func (s *service) backupAvailable(ctx context.Context, principalID string, enrollment *auth.MFAEnrollment, policy *auth.MFAPolicy) bool {
	if enrollment == nil {
		return false
	}
	allowed := (policy.IsBackupForTOTP && enrollment.IsTOTPEnabled) ||
		(policy.IsBackupForEmail && enrollment.IsEmailEnabled)
	if !allowed {
		return false
	}

	stored, err := s.repoMngr.BackupCode().ByPrincipal(ctx, principalID)
	if err != nil {
		return false
	}
	for _, code := range stored {
		if !code.IsConsumed() {
			return true
		}
	}
	return false
}

// sendLoginCode issues a single-use login code and hands it to the
// mail pipeline, preferring a verified alternate address.
func (s *service) sendLoginCode(ctx context.Context, principal *auth.Principal, enrollment *auth.MFAEnrollment) (time.Time, error) {
	code, record, err := s.codes.Issue(ctx, principal.ID, auth.PurposeMFALogin)
	if err != nil {
		return time.Time{}, err
	}

	address := principal.Email
	if enrollment != nil && enrollment.AlternateEmail != "" && enrollment.IsAlternateEmailVerified {
		address = enrollment.AlternateEmail
	}

	err = s.messaging.Send(ctx, &auth.Message{
		PrincipalID: principal.ID,
		Address:     address,
		Template:    auth.TemplateMFACode,
		Code:        code,
		ExpiresAt:   record.ExpiresAt,
	})
	if err != nil {
		return time.Time{}, err
	}

	return record.ExpiresAt, nil
}
