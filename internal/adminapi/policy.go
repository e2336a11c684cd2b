package adminapi

import (
	"net/http"
	"time"

	auth "github.com/castellan/castellan"
)

// GetPolicy returns the current MFA policy.
func (s *service) GetPolicy(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	return s.repoMngr.Policy().Get(r.Context())
}

// UpdatePolicy replaces the MFA policy.
func (s *service) UpdatePolicy(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()

	policy, err := decodePolicyRequest(r)
	if err != nil {
		return nil, err
	}

	if err = s.repoMngr.Policy().Update(ctx, policy); err != nil {
		return nil, err
	}

	s.audit(ctx, r, "policy.update", "mfa", map[string]string{
		"mode": string(policy.Mode),
	})

	return policy, nil
}

// ResetPolicy restores the default MFA policy.
func (s *service) ResetPolicy(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()

	policy := auth.DefaultMFAPolicy()
	if err := s.repoMngr.Policy().Update(ctx, policy); err != nil {
		return nil, err
	}

	s.audit(ctx, r, "policy.reset", "mfa", nil)

	return policy, nil
}

// UnlockMFA clears a principal's MFA lockout, the only way out when
// the policy's lockout behavior is admin_only.
func (s *service) UnlockMFA(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	id, err := targetID(r)
	if err != nil {
		return nil, err
	}

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	entity, err := client.WithAtomic(func() (interface{}, error) {
		enrollment, err := client.MFA().GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}

		enrollment.FailedAttempts = 0
		enrollment.LockedUntil = nil
		return enrollment, client.MFA().Update(ctx, enrollment)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, r, "mfa.unlock", id, nil)

	return entity.(*auth.MFAEnrollment), nil
}

// ExtendGrace pushes out the MFA enforcement deadline for a principal
// who cannot enroll in time.
func (s *service) ExtendGrace(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	id, err := targetID(r)
	if err != nil {
		return nil, err
	}

	req, err := decodeExtendGraceRequest(r)
	if err != nil {
		return nil, err
	}

	until := time.Now().UTC().AddDate(0, 0, req.Days)

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	entity, err := client.WithAtomic(func() (interface{}, error) {
		enrollment, err := client.MFA().GetForUpdate(ctx, id)
		if err != nil {
			if auth.ErrorCode(err) != auth.ENotFound {
				return nil, err
			}
			enrollment = &auth.MFAEnrollment{PrincipalID: id, GraceUntil: &until}
			return enrollment, client.MFA().Create(ctx, enrollment)
		}
		enrollment.GraceUntil = &until
		return enrollment, client.MFA().Update(ctx, enrollment)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, r, "mfa.extend_grace", id, map[string]string{
		"until": until.Format(time.RFC3339),
	})

	return entity.(*auth.MFAEnrollment), nil
}
