// Package signupapi provides an HTTP API for registration and email
// verification.
package signupapi

import (
	"context"
	"net/http"
	"time"

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
	messaging auth.MessagingService
}

// Register creates a principal, delivers an email verification code
// and signs the caller in.
func (s *service) Register(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()

	req, err := decodeRegisterRequest(r)
	if err != nil {
		return nil, err
	}

	if err = s.password.OKForUser(req.Password); err != nil {
		return nil, err
	}

	if _, err = s.repoMngr.Principal().ByEmail(ctx, req.Email); err == nil {
		return nil, auth.ErrConflict("email is already registered")
	} else if auth.ErrorCode(err) != auth.ENotFound {
		return nil, err
	}

	if _, err = s.repoMngr.Principal().ByHandle(ctx, req.Handle); err == nil {
		return nil, auth.ErrConflict("handle is already taken")
	} else if auth.ErrorCode(err) != auth.ENotFound {
		return nil, err
	}

	digest, err := s.password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	principal := &auth.Principal{
		Handle:   req.Handle,
		Email:    auth.NormalizeEmail(req.Email),
		Password: string(digest),
		Role:     auth.RoleUser,
		IsActive: true,
	}
	if err = s.repoMngr.Principal().Create(ctx, principal); err != nil {
		return nil, err
	}

	// Verification is not a gate on the account, so a delivery
	// failure does not fail the registration.
	if err = s.sendVerification(ctx, principal); err != nil {
		level.Error(s.logger).Log(
			"source", "SignUpAPI.Register",
			"message", "failed to deliver verification code",
			"error", err,
		)
	}

	session, _, err := s.sessions.CreateOrRefresh(ctx, principal, httpapi.NewRequestContext(r))
	if err != nil {
		return nil, err
	}

	credentials, err := issueCredentials(ctx, s.repoMngr, s.token, principal, session.ID)
	if err != nil {
		return nil, err
	}

	return &registerResponse{Principal: principal, Credentials: credentials}, nil
}

// VerifyEmail consumes a verification code and marks the caller's
// primary email verified.
func (s *service) VerifyEmail(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)

	req, err := decodeVerifyEmailRequest(r)
	if err != nil {
		return nil, err
	}

	if err = s.codes.Verify(ctx, principalID, auth.PurposeEmailVerify, req.Code); err != nil {
		return nil, err
	}

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return nil, err
	}

	entity, err := client.WithAtomic(func() (interface{}, error) {
		principal, err := client.Principal().GetForUpdate(ctx, principalID)
		if err != nil {
			return nil, err
		}

		if !principal.IsEmailVerified {
			now := time.Now().UTC()
			principal.IsEmailVerified = true
			principal.EmailVerifiedAt = &now
			if err = client.Principal().Update(ctx, principal); err != nil {
				return nil, err
			}
		}
		return principal, nil
	})
	if err != nil {
		return nil, err
	}

	return entity.(*auth.Principal), nil
}

func (s *service) sendVerification(ctx context.Context, principal *auth.Principal) error {
	code, record, err := s.codes.Issue(ctx, principal.ID, auth.PurposeEmailVerify)
	if err != nil {
		return err
	}

	return s.messaging.Send(ctx, &auth.Message{
		PrincipalID: principal.ID,
		Address:     principal.Email,
		Template:    auth.TemplateEmailVerify,
		Code:        code,
		ExpiresAt:   record.ExpiresAt,
	})
}
