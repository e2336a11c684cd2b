// Package mfaapi is the self-service MFA management surface. The TOTP
// setup endpoints accept either a regular access credential or the
// setup token minted when enforcement pivots a login into enrollment.
package mfaapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

type service struct {
	logger    log.Logger
	repoMngr  auth.RepositoryManager
	token     auth.TokenService
	password  auth.PasswordService
	otp       auth.OTPService
	codes     auth.CodeService
	events    auth.EventRecorder
	messaging auth.MessagingService
}

// identify resolves the acting principal. Authenticated routes carry
// the identity on the request context; the public TOTP setup routes
// accept a bearer credential or a setup token in the body.
func (s *service) identify(ctx context.Context, r *http.Request, setupToken string) (*auth.Principal, error) {
	principalID := httpapi.GetPrincipalID(r)

	if principalID == "" {
		header := r.Header.Get("Authorization")
		switch {
		case strings.HasPrefix(header, "Bearer "):
			claims, err := s.token.VerifyAccess(ctx, strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				return nil, err
			}
			principalID = claims.Subject
		case setupToken != "":
			claims, err := s.token.VerifySetup(ctx, setupToken)
			if err != nil {
				return nil, err
			}
			principalID = claims.Subject
		default:
			return nil, auth.ErrInvalidToken("user is not authenticated")
		}
	}

	principal, err := s.repoMngr.Principal().ByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAuthenticate() {
		return nil, auth.ErrInvalidToken("principal may no longer authenticate")
	}
	return principal, nil
}

// BeginTOTP generates a TOTP secret and stages it on the enrollment.
// The plaintext secret and provisioning URL leave the service here and
// nowhere else; the factor stays disabled until confirmed.
func (s *service) BeginTOTP(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()

	req, err := decodeBeginTOTPRequest(r)
	if err != nil {
		return nil, err
	}

	principal, err := s.identify(ctx, r, req.SetupToken)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollmentFor(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	if enrollment != nil && enrollment.IsTOTPEnabled {
		return nil, auth.ErrConflict("totp is already enabled")
	}

	encrypted, err := s.otp.TOTPSecret(principal)
	if err != nil {
		return nil, err
	}

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	_, err = client.WithAtomic(func() (interface{}, error) {
		staged, err := client.MFA().GetForUpdate(ctx, principal.ID)
		if err != nil {
			if auth.ErrorCode(err) != auth.ENotFound {
				return nil, err
			}
			staged = &auth.MFAEnrollment{PrincipalID: principal.ID, TOTPSecret: encrypted}
			return staged, client.MFA().Create(ctx, staged)
		}
		staged.TOTPSecret = encrypted
		return staged, client.MFA().Update(ctx, staged)
	})
	if err != nil {
		return nil, err
	}

	qr, err := s.otp.TOTPQRString(principal, encrypted)
	if err != nil {
		return nil, err
	}
	secret, err := s.otp.TOTPDecrypt(encrypted)
	if err != nil {
		return nil, err
	}

	return &beginTOTPResponse{Secret: secret, QRString: qr}, nil
}

// ConfirmTOTP enables the TOTP factor after the principal proves they
// hold the secret. Backup codes are issued alongside when the policy
// provides them.
func (s *service) ConfirmTOTP(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()

	req, err := decodeConfirmTOTPRequest(r)
	if err != nil {
		return nil, err
	}

	principal, err := s.identify(ctx, r, req.SetupToken)
	if err != nil {
		return nil, err
	}

	policy, err := s.repoMngr.Policy().Get(ctx)
	if err != nil {
		return nil, err
	}

	var backupCodes []string

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	entity, err := client.WithAtomic(func() (interface{}, error) {
		enrollment, err := client.MFA().GetForUpdate(ctx, principal.ID)
		if err != nil || enrollment.TOTPSecret == "" {
			return nil, auth.ErrInvalidInput("totp setup has not been started")
		}
		if enrollment.IsTOTPEnabled {
			return nil, auth.ErrConflict("totp is already enabled")
		}

		if err = s.otp.ValidateTOTP(enrollment.TOTPSecret, req.Code); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		enrollment.IsTOTPEnabled = true
		enrollment.FailedAttempts = 0
		enrollment.LockedUntil = nil
		enrollment.CompletedAt = &now
		if enrollment.PreferredMethod == "" {
			enrollment.PreferredMethod = auth.MethodTOTP
		}
		if err = client.MFA().Update(ctx, enrollment); err != nil {
			return nil, err
		}

		if policy.IsBackupForTOTP {
			codes, hashes, err := s.otp.GenerateBackupCodes()
			if err != nil {
				return nil, err
			}
			if err = client.BackupCode().Replace(ctx, principal.ID, hashes); err != nil {
				return nil, err
			}
			backupCodes = codes
		}

		return enrollment, nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Event(ctx, &auth.SecurityEvent{
		PrincipalID: principal.ID,
		Type:        auth.EventMFAEnabled,
		Severity:    auth.SeverityInfo,
		Details:     map[string]string{"method": string(auth.MethodTOTP)},
	})

	return &confirmResponse{
		Enrollment:  entity.(*auth.MFAEnrollment),
		BackupCodes: backupCodes,
	}, nil
}

// DisableTOTP removes the TOTP factor after a fresh password check.
func (s *service) DisableTOTP(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)

	req, err := decodePasswordConfirmRequest(r)
	if err != nil {
		return nil, err
	}

	principal, err := s.repoMngr.Principal().ByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if err = s.password.Validate(principal, req.Password); err != nil {
		return nil, err
	}

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	entity, err := client.WithAtomic(func() (interface{}, error) {
		enrollment, err := client.MFA().GetForUpdate(ctx, principalID)
		if err != nil {
			return nil, err
		}
		if !enrollment.IsTOTPEnabled {
			return nil, auth.ErrInvalidInput("totp is not enabled")
		}

		enrollment.IsTOTPEnabled = false
		enrollment.TOTPSecret = ""
		if enrollment.PreferredMethod == auth.MethodTOTP {
			enrollment.PreferredMethod = ""
			if enrollment.IsEmailEnabled {
				enrollment.PreferredMethod = auth.MethodEmail
			}
		}
		if err = client.MFA().Update(ctx, enrollment); err != nil {
			return nil, err
		}

		// backup codes bound to the removed factor go with it
		if !enrollment.IsEmailEnabled {
			if _, err = client.BackupCode().DeleteByPrincipal(ctx, principalID); err != nil {
				return nil, err
			}
		}

		return enrollment, nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Event(ctx, &auth.SecurityEvent{
		PrincipalID: principalID,
		Type:        auth.EventMFADisabled,
		Severity:    auth.SeverityCritical,
		Details:     map[string]string{"method": string(auth.MethodTOTP)},
	})

	return &confirmResponse{Enrollment: entity.(*auth.MFAEnrollment)}, nil
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
