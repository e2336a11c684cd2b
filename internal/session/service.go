// Package session manages device-bound sessions and device trust.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	auth "github.com/castellan/castellan"
)

// service is an implementation of auth.SessionService.
type service struct {
	logger            log.Logger
	repoMngr          auth.RepositoryManager
	sessionExpiry     time.Duration
	inactivityTimeout time.Duration
}

// Fingerprint derives the deterministic device fingerprint for a
// request.
func (s *service) Fingerprint(rc auth.RequestContext) string {
	return Fingerprint(rc)
}

// CreateOrRefresh reuses an active session with an identical
// fingerprint or creates a new one. The second return reports whether
// the session is new.
func (s *service) CreateOrRefresh(ctx context.Context, principal *auth.Principal, rc auth.RequestContext) (*auth.Session, bool, error) {
	now := time.Now()
	fingerprint := Fingerprint(rc)

	existing, err := s.repoMngr.Session().ActiveByFingerprint(ctx, principal.ID, fingerprint)
	if err == nil && existing.IsActive(now, s.inactivityTimeout) {
		existing.LastActiveAt = now
		existing.IPAddress = rc.IP
		if err = s.repoMngr.Session().Update(ctx, existing); err != nil {
			return nil, false, errors.Wrap(err, "failed to refresh session")
		}

		return existing, false, nil
	}

	info := ParseUserAgent(rc.UserAgent)
	session := &auth.Session{
		ID:           ulid.Make().String(),
		PrincipalID:  principal.ID,
		Fingerprint:  fingerprint,
		DeviceName:   info.Name(),
		DeviceType:   info.DeviceType,
		Browser:      info.Browser,
		OS:           info.OS,
		IPAddress:    rc.IP,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(s.sessionExpiry),
	}

	if err = s.repoMngr.Session().Create(ctx, session); err != nil {
		return nil, false, errors.Wrap(err, "failed to create session")
	}

	return session, true, nil
}

// Touch updates last activity best-effort. It never fails the
// surrounding operation.
func (s *service) Touch(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}

	if err := s.repoMngr.Session().Touch(ctx, sessionID, time.Now()); err != nil {
		level.Info(s.logger).Log(
			"source", "service.Touch",
			"msg", "failed to update session activity",
			"session_id", sessionID,
			"error", err,
		)
	}
}

// ListFor returns the principal's sessions, active and revoked.
func (s *service) ListFor(ctx context.Context, principalID string) ([]*auth.Session, error) {
	return s.repoMngr.Session().ByPrincipal(ctx, principalID)
}

// Revoke revokes a session owned by the principal, together with the
// refresh families bound to it. Revoking the session currently
// presented is rejected.
func (s *service) Revoke(ctx context.Context, principalID, sessionID, currentSessionID string) error {
	if sessionID == currentSessionID {
		return auth.ErrCannotRevokeCurrent("use logout to end the current session")
	}

	tx, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return fmt.Errorf("cannot start transaction: %w", err)
	}

	_, err = tx.WithAtomic(func() (interface{}, error) {
		session, err := tx.Session().GetForUpdate(ctx, sessionID)
		if err != nil {
			return nil, errors.Wrap(auth.ErrNotFound("session does not exist"), err.Error())
		}

		if session.PrincipalID != principalID {
			return nil, auth.ErrSessionForbidden("session belongs to another principal")
		}

		if !session.IsRevoked() {
			now := time.Now()
			session.RevokedAt = &now
			session.RevokeReason = auth.RevokedByPrincipal
			if err = tx.Session().Update(ctx, session); err != nil {
				return nil, err
			}

			if _, err = tx.RefreshFamily().RevokeBySession(ctx, sessionID, now); err != nil {
				return nil, err
			}
		}

		return session, nil
	})

	return err
}

// RevokeAllExcept revokes every session but the kept one and the
// refresh families bound to the revoked sessions.
func (s *service) RevokeAllExcept(ctx context.Context, principalID, keepID string) (int, error) {
	return s.revokeAll(ctx, principalID, keepID, auth.RevokedByPrincipal)
}

// RevokeAll revokes every session for the principal.
func (s *service) RevokeAll(ctx context.Context, principalID, reason string) (int, error) {
	return s.revokeAll(ctx, principalID, "", reason)
}

func (s *service) revokeAll(ctx context.Context, principalID, keepID, reason string) (int, error) {
	tx, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return 0, fmt.Errorf("cannot start transaction: %w", err)
	}

	entity, err := tx.WithAtomic(func() (interface{}, error) {
		now := time.Now()

		sessions, err := tx.Session().ByPrincipal(ctx, principalID)
		if err != nil {
			return nil, err
		}

		count, err := tx.Session().RevokeAllExcept(ctx, principalID, keepID, reason, now)
		if err != nil {
			return nil, err
		}

		for _, session := range sessions {
			if session.ID == keepID || session.IsRevoked() {
				continue
			}
			if _, err = tx.RefreshFamily().RevokeBySession(ctx, session.ID, now); err != nil {
				return nil, err
			}
		}

		return count, nil
	})
	if err != nil {
		return 0, err
	}

	return entity.(int), nil
}

// MarkTrusted waives MFA for the fingerprint for the given duration.
// Trust entries beyond maxTrusted are evicted oldest first.
func (s *service) MarkTrusted(ctx context.Context, principalID, fingerprint string, d time.Duration, maxTrusted int) error {
	tx, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return fmt.Errorf("cannot start transaction: %w", err)
	}

	_, err = tx.WithAtomic(func() (interface{}, error) {
		now := time.Now()

		session, err := tx.Session().ActiveByFingerprint(ctx, principalID, fingerprint)
		if err != nil {
			return nil, errors.Wrap(auth.ErrNotFound("no active session for device"), err.Error())
		}

		until := now.Add(d)
		session.IsTrusted = true
		session.TrustedUntil = &until
		if err = tx.Session().Update(ctx, session); err != nil {
			return nil, err
		}

		trusted, err := tx.Session().Trusted(ctx, principalID, now)
		if err != nil {
			return nil, err
		}

		// the freshly trusted session is never the eviction victim
		others := make([]*auth.Session, 0, len(trusted))
		for _, t := range trusted {
			if t.ID != session.ID {
				others = append(others, t)
			}
		}

		for i := 0; len(others)-i > maxTrusted-1 && i < len(others); i++ {
			evicted := others[i]
			evicted.IsTrusted = false
			evicted.TrustedUntil = nil
			if err = tx.Session().Update(ctx, evicted); err != nil {
				return nil, err
			}
		}

		return session, nil
	})

	return err
}

// IsTrusted reports whether an unexpired trust entry exists for the
// fingerprint.
func (s *service) IsTrusted(ctx context.Context, principalID, fingerprint string) (bool, error) {
	now := time.Now()

	trusted, err := s.repoMngr.Session().Trusted(ctx, principalID, now)
	if err != nil {
		return false, err
	}

	for _, session := range trusted {
		if session.Fingerprint == fingerprint && session.IsTrustedAt(now) {
			return true, nil
		}
	}

	return false, nil
}

// SeenFingerprint reports whether the fingerprint appeared in any
// session for the principal since the given instant.
func (s *service) SeenFingerprint(ctx context.Context, principalID, fingerprint string, since time.Time) (bool, error) {
	return s.repoMngr.Session().SeenFingerprint(ctx, principalID, fingerprint, since)
}
