// Package adminapi is the admin control plane: principal management,
// account lifecycle, the MFA policy and the audit log. Every mutation
// leaves an audit entry naming the acting administrator.
package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

type service struct {
	logger   log.Logger
	repoMngr auth.RepositoryManager
	token    auth.TokenService
	password auth.PasswordService
	sessions auth.SessionService
	events   auth.EventRecorder
}

// ListPrincipals returns principals matching the query filters.
func (s *service) ListPrincipals(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	p := httpapi.GetPagination(r)

	filter, err := principalFilter(r, p)
	if err != nil {
		return nil, err
	}

	principals, total, err := s.repoMngr.Principal().List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &principalsResponse{
		Items:    principals,
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    total,
	}, nil
}

// GetPrincipal returns a single principal with their MFA state.
func (s *service) GetPrincipal(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	id, err := targetID(r)
	if err != nil {
		return nil, err
	}

	principal, err := s.repoMngr.Principal().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &principalDetailResponse{Principal: principal}

	enrollment, err := s.repoMngr.MFA().ByPrincipal(ctx, id)
	if err == nil {
		view.MFA = enrollment
	} else if auth.ErrorCode(err) != auth.ENotFound {
		return nil, err
	}

	return view, nil
}

// CreatePrincipal provisions an account directly. Only a super admin
// may grant elevated roles.
func (s *service) CreatePrincipal(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()

	req, err := decodeCreatePrincipalRequest(r)
	if err != nil {
		return nil, err
	}

	if req.Role != auth.RoleUser && httpapi.GetRole(r) != auth.RoleSuperAdmin {
		return nil, auth.ErrForbidden("only a super admin may grant elevated roles")
	}

	if err = s.password.OKForUser(req.Password); err != nil {
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
		Role:     req.Role,
		IsActive: true,
	}
	if err = s.repoMngr.Principal().Create(ctx, principal); err != nil {
		return nil, err
	}

	s.audit(ctx, r, "principal.create", principal.ID, map[string]string{
		"handle": principal.Handle,
		"role":   string(principal.Role),
	})

	return principal, nil
}

// UpdatePrincipal changes a principal's role or active state. A role
// change bumps the credential epoch so outstanding credentials stop
// carrying the old capability; deactivation revokes all sessions.
func (s *service) UpdatePrincipal(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	id, err := targetID(r)
	if err != nil {
		return nil, err
	}

	req, err := decodeUpdatePrincipalRequest(r)
	if err != nil {
		return nil, err
	}

	if req.Role != nil && httpapi.GetRole(r) != auth.RoleSuperAdmin {
		return nil, auth.ErrForbidden("only a super admin may change roles")
	}

	var roleChanged, deactivated bool

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	entity, err := client.WithAtomic(func() (interface{}, error) {
		principal, err := client.Principal().GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if principal.IsAnonymized() {
			return nil, auth.ErrConflict("principal has been anonymized")
		}

		if req.Handle != nil && *req.Handle != principal.Handle {
			if other, err := client.Principal().ByHandle(ctx, *req.Handle); err == nil && other.ID != principal.ID {
				return nil, auth.ErrConflict("handle is already taken")
			} else if err != nil && auth.ErrorCode(err) != auth.ENotFound {
				return nil, err
			}
			principal.Handle = *req.Handle
		}
		if req.Email != nil {
			email := auth.NormalizeEmail(*req.Email)
			if email != principal.Email {
				if other, err := client.Principal().ByEmail(ctx, email); err == nil && other.ID != principal.ID {
					return nil, auth.ErrConflict("email is already registered")
				} else if err != nil && auth.ErrorCode(err) != auth.ENotFound {
					return nil, err
				}
				principal.Email = email
				principal.IsEmailVerified = false
				principal.EmailVerifiedAt = nil
			}
		}
		if req.Role != nil && *req.Role != principal.Role {
			principal.Role = *req.Role
			roleChanged = true
		}
		if req.IsActive != nil && *req.IsActive != principal.IsActive {
			principal.IsActive = *req.IsActive
			deactivated = !*req.IsActive
		}

		return principal, client.Principal().Update(ctx, principal)
	})
	if err != nil {
		return nil, err
	}
	principal := entity.(*auth.Principal)

	if roleChanged {
		if err = s.token.BumpEpoch(ctx, id); err != nil {
			return nil, err
		}
	}
	if deactivated {
		if _, err = s.sessions.RevokeAll(ctx, id, auth.RevokedByAdmin); err != nil {
			return nil, err
		}
	}

	s.audit(ctx, r, "principal.update", id, map[string]string{
		"handle":    principal.Handle,
		"email":     principal.Email,
		"role":      string(principal.Role),
		"is_active": boolString(principal.IsActive),
	})

	return principal, nil
}

// AuditLog lists admin audit entries, optionally for a single actor.
func (s *service) AuditLog(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	p := httpapi.GetPagination(r)

	var (
		entries []*auth.AuditEntry
		total   int
		err     error
	)
	if actor := r.URL.Query().Get("actor"); actor != "" {
		entries, total, err = s.repoMngr.Audit().ByActor(ctx, actor, p.Limit(), p.Offset())
	} else {
		entries, total, err = s.repoMngr.Audit().List(ctx, p.Limit(), p.Offset())
	}
	if err != nil {
		return nil, err
	}

	return &auditResponse{
		Items:    entries,
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    total,
	}, nil
}

// audit records an admin action fire-and-forget, used by ordinary
// mutations after they commit. Destructive mutations write their entry
// synchronously first; see auditNow.
func (s *service) audit(ctx context.Context, r *http.Request, action, targetID string, details map[string]string) {
	s.events.Audit(ctx, &auth.AuditEntry{
		ActorID:    httpapi.GetPrincipalID(r),
		Action:     action,
		TargetType: "principal",
		TargetID:   targetID,
		Details:    details,
		IPAddress:  httpapi.GetIP(r),
		UserAgent:  httpapi.GetUserAgent(r),
	})
}

// auditNow durably records an admin action before it happens. Archive
// and anonymize destroy the evidence of who they targeted, so their
// trail entry cannot be best-effort.
func (s *service) auditNow(ctx context.Context, r *http.Request, action, targetID string, details map[string]string) error {
	return s.repoMngr.Audit().Create(ctx, &auth.AuditEntry{
		ActorID:    httpapi.GetPrincipalID(r),
		Action:     action,
		TargetType: "principal",
		TargetID:   targetID,
		Details:    details,
		IPAddress:  httpapi.GetIP(r),
		UserAgent:  httpapi.GetUserAgent(r),
		CreatedAt:  time.Now().UTC(),
	})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
