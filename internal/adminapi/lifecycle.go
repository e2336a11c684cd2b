package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/kit/log/level"

	auth "github.com/castellan/castellan"
)

// Archive retires an account. The principal can no longer
// authenticate but their record, sessions history and event trail
// remain for review, and the action is reversible.
func (s *service) Archive(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	id, err := targetID(r)
	if err != nil {
		return nil, err
	}

	// the trail entry precedes the mutation on its own transaction
	if err = s.auditNow(ctx, r, "principal.archive", id, nil); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	entity, err := client.WithAtomic(func() (interface{}, error) {
		principal, err := client.Principal().GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if principal.IsArchived() {
			return nil, auth.ErrConflict("principal is already archived")
		}

		principal.ArchivedAt = &now
		principal.IsActive = false
		return principal, client.Principal().Update(ctx, principal)
	})
	if err != nil {
		return nil, err
	}

	s.sweepCredentials(ctx, id)

	s.events.Event(ctx, &auth.SecurityEvent{
		PrincipalID: id,
		Type:        auth.EventAccountDeleted,
		Severity:    auth.SeverityWarning,
		Details:     map[string]string{"action": "archive"},
	})

	return entity.(*auth.Principal), nil
}

// Restore reverses an archive.
func (s *service) Restore(w http.ResponseWriter, r *http.Request) (interface{}, error) {
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
		principal, err := client.Principal().GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if principal.IsAnonymized() {
			return nil, auth.ErrConflict("an anonymized principal cannot be restored")
		}
		if !principal.IsArchived() {
			return nil, auth.ErrConflict("principal is not archived")
		}

		principal.ArchivedAt = nil
		principal.IsActive = true
		return principal, client.Principal().Update(ctx, principal)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, r, "principal.restore", id, nil)

	return entity.(*auth.Principal), nil
}

// Anonymize irreversibly erases a principal's PII while keeping the
// anonymous shell so foreign keys and the event trail stay intact.
func (s *service) Anonymize(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	id, err := targetID(r)
	if err != nil {
		return nil, err
	}

	if err = s.auditNow(ctx, r, "principal.anonymize", id, nil); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

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
			return nil, auth.ErrConflict("principal is already anonymized")
		}
		if !principal.IsArchived() {
			return nil, auth.ErrConflict("principal must be archived first")
		}

		principal.Handle = fmt.Sprintf("deleted-%.8s", principal.ID)
		principal.Email = fmt.Sprintf("%s@deleted.invalid", principal.ID)
		principal.Password = ""
		principal.IsEmailVerified = false
		principal.EmailVerifiedAt = nil
		principal.IsActive = false
		principal.AnonymizedAt = &now
		if err = client.Principal().Update(ctx, principal); err != nil {
			return nil, err
		}

		if _, err = client.LinkedIdentity().DeleteByPrincipal(ctx, id); err != nil {
			return nil, err
		}
		if _, err = client.BackupCode().DeleteByPrincipal(ctx, id); err != nil {
			return nil, err
		}

		enrollment, err := client.MFA().GetForUpdate(ctx, id)
		if err == nil {
			enrollment.TOTPSecret = ""
			enrollment.IsTOTPEnabled = false
			enrollment.IsEmailEnabled = false
			enrollment.AlternateEmail = ""
			enrollment.IsAlternateEmailVerified = false
			enrollment.PreferredMethod = ""
			if err = client.MFA().Update(ctx, enrollment); err != nil {
				return nil, err
			}
		} else if auth.ErrorCode(err) != auth.ENotFound {
			return nil, err
		}

		return principal, nil
	})
	if err != nil {
		return nil, err
	}

	s.sweepCredentials(ctx, id)

	s.events.Event(ctx, &auth.SecurityEvent{
		PrincipalID: id,
		Type:        auth.EventAccountDeleted,
		Severity:    auth.SeverityCritical,
		Details:     map[string]string{"action": "anonymize"},
	})

	return entity.(*auth.Principal), nil
}

// sweepCredentials ends every authenticated context for the target.
// The account can no longer authenticate, so failures only delay the
// inevitable and are logged rather than surfaced.
func (s *service) sweepCredentials(ctx context.Context, principalID string) {
	if _, err := s.sessions.RevokeAll(ctx, principalID, auth.RevokedByAdmin); err != nil {
		level.Error(s.logger).Log(
			"source", "AdminAPI",
			"message", "failed to revoke sessions",
			"principal_id", principalID,
			"error", err,
		)
	}
	if err := s.token.BumpEpoch(ctx, principalID); err != nil {
		level.Error(s.logger).Log(
			"source", "AdminAPI",
			"message", "failed to bump credential epoch",
			"principal_id", principalID,
			"error", err,
		)
	}
}
