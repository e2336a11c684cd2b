package mfaapi

import (
	"net/http"
	"time"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

// EnableEmail starts email factor enrollment by delivering a setup
// code. An alternate address may be supplied; it is stored unverified
// and proven by the code sent to it.
func (s *service) EnableEmail(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)

	req, err := decodeEnableEmailRequest(r)
	if err != nil {
		return nil, err
	}

	principal, err := s.repoMngr.Principal().ByID(ctx, principalID)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollmentFor(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if enrollment != nil && enrollment.IsEmailEnabled {
		return nil, auth.ErrConflict("email factor is already enabled")
	}

	if req.AlternateEmail != "" {
		client, err := s.repoMngr.NewWithTransaction(ctx)
		if err != nil {
			return nil, err
		}
		_, err = client.WithAtomic(func() (interface{}, error) {
			staged, err := client.MFA().GetForUpdate(ctx, principalID)
			if err != nil {
				if auth.ErrorCode(err) != auth.ENotFound {
					return nil, err
				}
				staged = &auth.MFAEnrollment{
					PrincipalID:    principalID,
					AlternateEmail: auth.NormalizeEmail(req.AlternateEmail),
				}
				return staged, client.MFA().Create(ctx, staged)
			}
			staged.AlternateEmail = auth.NormalizeEmail(req.AlternateEmail)
			staged.IsAlternateEmailVerified = false
			return staged, client.MFA().Update(ctx, staged)
		})
		if err != nil {
			return nil, err
		}
	}

	code, record, err := s.codes.Issue(ctx, principalID, auth.PurposeMFASetup)
	if err != nil {
		return nil, err
	}

	address := principal.Email
	if req.AlternateEmail != "" {
		address = auth.NormalizeEmail(req.AlternateEmail)
	}
	err = s.messaging.Send(ctx, &auth.Message{
		PrincipalID: principalID,
		Address:     address,
		Template:    auth.TemplateMFASetup,
		Code:        code,
		ExpiresAt:   record.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	return &codeSentResponse{
		SentAt:    time.Now().UTC(),
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// ConfirmEmail enables the email factor once the setup code verifies.
func (s *service) ConfirmEmail(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)

	req, err := decodeConfirmEmailRequest(r)
	if err != nil {
		return nil, err
	}

	if err = s.codes.Verify(ctx, principalID, auth.PurposeMFASetup, req.Code); err != nil {
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
		now := time.Now().UTC()

		enrollment, err := client.MFA().GetForUpdate(ctx, principalID)
		if err != nil {
			if auth.ErrorCode(err) != auth.ENotFound {
				return nil, err
			}
			enrollment = &auth.MFAEnrollment{PrincipalID: principalID}
			if err = client.MFA().Create(ctx, enrollment); err != nil {
				return nil, err
			}
		}

		enrollment.IsEmailEnabled = true
		enrollment.CompletedAt = &now
		if enrollment.AlternateEmail != "" {
			// the setup code was delivered to the alternate address
			enrollment.IsAlternateEmailVerified = true
		}
		if enrollment.PreferredMethod == "" {
			enrollment.PreferredMethod = auth.MethodEmail
		}
		if err = client.MFA().Update(ctx, enrollment); err != nil {
			return nil, err
		}

		if policy.IsBackupForEmail && !enrollment.IsTOTPEnabled {
			codes, hashes, err := s.otp.GenerateBackupCodes()
			if err != nil {
				return nil, err
			}
			if err = client.BackupCode().Replace(ctx, principalID, hashes); err != nil {
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
		PrincipalID: principalID,
		Type:        auth.EventMFAEnabled,
		Severity:    auth.SeverityInfo,
		Details:     map[string]string{"method": string(auth.MethodEmail)},
	})

	return &confirmResponse{
		Enrollment:  entity.(*auth.MFAEnrollment),
		BackupCodes: backupCodes,
	}, nil
}

// RegenerateBackupCodes replaces the full backup code set after a
// fresh password check. The plaintexts are shown exactly once.
func (s *service) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) (interface{}, error) {
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

	enrollment, err := s.enrollmentFor(ctx, principalID)
	if err != nil {
		return nil, err
	}

	policy, err := s.repoMngr.Policy().Get(ctx)
	if err != nil {
		return nil, err
	}

	allowed := enrollment != nil &&
		((policy.IsBackupForTOTP && enrollment.IsTOTPEnabled) ||
			(policy.IsBackupForEmail && enrollment.IsEmailEnabled))
	if !allowed {
		return nil, auth.ErrForbidden("backup codes are not available for this account")
	}

	codes, hashes, err := s.otp.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err = s.repoMngr.BackupCode().Replace(ctx, principalID, hashes); err != nil {
		return nil, err
	}

	return &backupCodesResponse{BackupCodes: codes}, nil
}

// SetPreferred records which enabled factor a login challenge should
// lead with.
func (s *service) SetPreferred(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)

	req, err := decodePreferredRequest(r)
	if err != nil {
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

		enabled := (req.Method == auth.MethodTOTP && enrollment.IsTOTPEnabled) ||
			(req.Method == auth.MethodEmail && enrollment.IsEmailEnabled)
		if !enabled {
			return nil, auth.ErrInvalidInput("method is not enabled for this account")
		}

		enrollment.PreferredMethod = req.Method
		return enrollment, client.MFA().Update(ctx, enrollment)
	})
	if err != nil {
		return nil, err
	}

	return &confirmResponse{Enrollment: entity.(*auth.MFAEnrollment)}, nil
}
