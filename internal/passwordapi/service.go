// Package passwordapi owns password self-service: authenticated
// change, forgot-password and code-based reset. Every successful
// change revokes all sessions and refresh families and bumps the
// credential epoch, so stolen credentials die with the old password.
package passwordapi

import (
	"context"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

type service struct {
	logger    log.Logger
	repoMngr  auth.RepositoryManager
	token     auth.TokenService
	password  auth.PasswordService
	codes     auth.CodeService
	sessions  auth.SessionService
	events    auth.EventRecorder
	messaging auth.MessagingService
}

// Change replaces the password after a fresh check of the current one.
func (s *service) Change(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)

	req, err := decodeChangeRequest(r)
	if err != nil {
		return nil, err
	}

	principal, err := s.repoMngr.Principal().ByID(ctx, principalID)
	if err != nil {
		return nil, err
	}

	if err = s.password.Validate(principal, req.CurrentPassword); err != nil {
		return nil, err
	}
	if err = s.password.OKForUser(req.NewPassword); err != nil {
		return nil, err
	}
	if s.password.MatchesHash(req.NewPassword, principal.Password) {
		return nil, auth.ErrInvalidInput("new password must differ from the current one")
	}

	if err = s.applyPassword(ctx, principalID, req.NewPassword); err != nil {
		return nil, err
	}
	s.sweepCredentials(ctx, principal, "change")

	return &messageResponse{Message: "password changed"}, nil
}

// Forgot issues a reset code for known accounts. The response never
// reveals whether the email is registered.
func (s *service) Forgot(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()

	req, err := decodeForgotRequest(r)
	if err != nil {
		return nil, err
	}

	principal, err := s.repoMngr.Principal().ByEmail(ctx, auth.NormalizeEmail(req.Email))
	if err == nil && principal.CanAuthenticate() {
		if err = s.sendResetCode(ctx, principal); err != nil {
			level.Error(s.logger).Log(
				"source", "PasswordAPI.Forgot",
				"message", "failed to deliver reset code",
				"error", err,
			)
		}
	} else if err != nil && auth.ErrorCode(err) != auth.ENotFound {
		return nil, err
	}

	return &messageResponse{
		Message: "if the account exists, a reset code has been sent",
	}, nil
}

// Reset replaces the password of an account whose owner proves control
// of the email through a reset code.
func (s *service) Reset(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()

	req, err := decodeResetRequest(r)
	if err != nil {
		return nil, err
	}

	principal, err := s.repoMngr.Principal().ByEmail(ctx, auth.NormalizeEmail(req.Email))
	if err != nil {
		if auth.ErrorCode(err) == auth.ENotFound {
			// indistinguishable from a wrong code
			return nil, auth.ErrCodeInvalid("incorrect code provided")
		}
		return nil, err
	}
	if !principal.CanAuthenticate() {
		return nil, auth.ErrCodeInvalid("incorrect code provided")
	}

	if err = s.password.OKForUser(req.NewPassword); err != nil {
		return nil, err
	}

	if err = s.codes.Verify(ctx, principal.ID, auth.PurposePasswordReset, req.Code); err != nil {
		return nil, err
	}

	if err = s.applyPassword(ctx, principal.ID, req.NewPassword); err != nil {
		return nil, err
	}
	s.sweepCredentials(ctx, principal, "reset")

	return &messageResponse{Message: "password reset"}, nil
}

func (s *service) applyPassword(ctx context.Context, principalID, newPassword string) error {
	digest, err := s.password.Hash(newPassword)
	if err != nil {
		return err
	}

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return err
	}
	_, err = client.WithAtomic(func() (interface{}, error) {
		principal, err := client.Principal().GetForUpdate(ctx, principalID)
		if err != nil {
			return nil, err
		}
		principal.Password = string(digest)
		return principal, client.Principal().Update(ctx, principal)
	})
	return err
}

// sweepCredentials ends every authenticated context the old password
// created. Failures are logged; the password change itself stands.
func (s *service) sweepCredentials(ctx context.Context, principal *auth.Principal, method string) {
	if _, err := s.sessions.RevokeAll(ctx, principal.ID, auth.RevokedByPrincipal); err != nil {
		level.Error(s.logger).Log(
			"source", "PasswordAPI",
			"message", "failed to revoke sessions after password change",
			"error", err,
		)
	}
	if err := s.token.BumpEpoch(ctx, principal.ID); err != nil {
		level.Error(s.logger).Log(
			"source", "PasswordAPI",
			"message", "failed to bump credential epoch",
			"error", err,
		)
	}

	s.events.Event(ctx, &auth.SecurityEvent{
		PrincipalID: principal.ID,
		Type:        auth.EventPasswordChanged,
		Severity:    auth.SeverityCritical,
		Details:     map[string]string{"method": method},
	})

	err := s.messaging.Send(ctx, &auth.Message{
		PrincipalID: principal.ID,
		Address:     principal.Email,
		Template:    auth.TemplateSecurityAlert,
	})
	if err != nil {
		level.Error(s.logger).Log(
			"source", "PasswordAPI",
			"message", "failed to deliver password change alert",
			"error", err,
		)
	}
}

func (s *service) sendResetCode(ctx context.Context, principal *auth.Principal) error {
	code, record, err := s.codes.Issue(ctx, principal.ID, auth.PurposePasswordReset)
	if err != nil {
		return err
	}

	return s.messaging.Send(ctx, &auth.Message{
		PrincipalID: principal.ID,
		Address:     principal.Email,
		Template:    auth.TemplatePasswordReset,
		Code:        code,
		ExpiresAt:   record.ExpiresAt,
	})
}
