// Package tokenapi provides an HTTP API for the credential lifecycle
// after issuance: refresh rotation with reuse detection, logout and
// logout-everywhere.
package tokenapi

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
	logger            log.Logger
	repoMngr          auth.RepositoryManager
	token             auth.TokenService
	sessions          auth.SessionService
	events            auth.EventRecorder
	inactivityTimeout time.Duration
}

// Refresh rotates a refresh credential. The family version advances
// with a compare-and-set; a superseded version means the credential
// was presented twice, and the whole family is revoked.
func (s *service) Refresh(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()

	req, err := decodeRefreshRequest(r)
	if err != nil {
		return nil, err
	}

	claims, err := s.token.VerifyRefresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	session, err := s.repoMngr.Session().ByID(ctx, claims.SessionID)
	if err != nil {
		if auth.ErrorCode(err) == auth.ENotFound {
			return nil, auth.ErrInvalidToken("session no longer exists")
		}
		return nil, err
	}
	if session.IsRevoked() {
		return nil, auth.ErrInvalidToken("session has been revoked")
	}
	if !session.IsActive(now, s.inactivityTimeout) {
		s.expireSession(ctx, session.ID, now)
		return nil, auth.ErrSessionExpired("session expired through inactivity")
	}

	family, err := s.repoMngr.RefreshFamily().ByID(ctx, claims.Family)
	if err != nil {
		if auth.ErrorCode(err) == auth.ENotFound {
			return nil, auth.ErrInvalidToken("refresh credential is no longer valid")
		}
		return nil, err
	}
	if family.IsRevoked() {
		return nil, auth.ErrInvalidToken("refresh credential is no longer valid")
	}

	newVersion, err := s.repoMngr.RefreshFamily().Advance(ctx, claims.Family, claims.Version)
	if err != nil {
		if auth.ErrorCode(err) == auth.EConflict {
			return nil, s.onReuse(ctx, claims, session)
		}
		return nil, err
	}

	principal, err := s.repoMngr.Principal().ByID(ctx, claims.Subject)
	if err != nil {
		if auth.ErrorCode(err) == auth.ENotFound {
			return nil, auth.ErrInvalidToken("principal no longer exists")
		}
		return nil, err
	}
	if !principal.CanAuthenticate() {
		return nil, auth.ErrInvalidToken("principal may no longer authenticate")
	}

	access, _, err := s.token.MintAccess(ctx, principal, session.ID)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.token.MintRefresh(ctx, principal, claims.Family, newVersion, session.ID)
	if err != nil {
		return nil, err
	}

	s.sessions.Touch(ctx, session.ID)

	return &auth.Credentials{
		Access:           access,
		AccessExpiresAt:  now.Add(s.token.AccessTTL()),
		Refresh:          refresh,
		RefreshExpiresAt: now.Add(s.token.RefreshTTL()),
		SessionID:        session.ID,
	}, nil
}

// onReuse handles a superseded refresh version. An attacker or the
// legitimate client holds a stale credential; either way the line is
// burned.
func (s *service) onReuse(ctx context.Context, claims *auth.RefreshClaims, session *auth.Session) error {
	now := time.Now().UTC()
	if err := s.repoMngr.RefreshFamily().Revoke(ctx, claims.Family, now); err != nil {
		level.Error(s.logger).Log(
			"source", "TokenAPI.Refresh",
			"message", "failed to revoke refresh family after reuse",
			"error", err,
		)
	}

	s.events.Event(ctx, &auth.SecurityEvent{
		PrincipalID: claims.Subject,
		Type:        auth.EventSuspicious,
		Severity:    auth.SeverityCritical,
		Details: map[string]string{
			"reason":     "refresh_reuse",
			"family_id":  claims.Family,
			"ip_address": session.IPAddress,
		},
	})

	return auth.ErrInvalidToken("refresh credential is no longer valid")
}

// expireSession marks a session revoked through the inactivity
// timeout. Failure is not fatal; the session is unusable either way.
func (s *service) expireSession(ctx context.Context, sessionID string, now time.Time) {
	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		level.Error(s.logger).Log(
			"source", "TokenAPI.Refresh",
			"message", "failed to expire inactive session",
			"error", err,
		)
		return
	}
	_, err = client.WithAtomic(func() (interface{}, error) {
		session, err := client.Session().GetForUpdate(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session.IsRevoked() {
			return session, nil
		}
		session.RevokedAt = &now
		session.RevokeReason = auth.RevokedInactivity
		if err = client.Session().Update(ctx, session); err != nil {
			return nil, err
		}
		return session, nil
	})
	if err != nil {
		level.Error(s.logger).Log(
			"source", "TokenAPI.Refresh",
			"message", "failed to expire inactive session",
			"error", err,
		)
	}
}

// Logout revokes the presented session and its refresh families. The
// access credential stays valid until it expires on its own.
func (s *service) Logout(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	sessionID := httpapi.GetSessionID(r)
	if sessionID == "" {
		return nil, auth.ErrInvalidToken("credential is not bound to a session")
	}

	now := time.Now().UTC()

	client, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	_, err = client.WithAtomic(func() (interface{}, error) {
		session, err := client.Session().GetForUpdate(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !session.IsRevoked() {
			session.RevokedAt = &now
			session.RevokeReason = auth.RevokedLogout
			if err = client.Session().Update(ctx, session); err != nil {
				return nil, err
			}
		}
		if _, err = client.RefreshFamily().RevokeBySession(ctx, sessionID, now); err != nil {
			return nil, err
		}
		return session, nil
	})
	if err != nil {
		return nil, err
	}

	return &logoutResponse{Message: "logged out"}, nil
}

// LogoutEverywhere revokes every session and refresh family for the
// principal and bumps the credential epoch so outstanding access
// credentials die immediately.
func (s *service) LogoutEverywhere(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)

	revoked, err := s.sessions.RevokeAll(ctx, principalID, auth.RevokedEverywhere)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err = s.repoMngr.RefreshFamily().RevokeByPrincipal(ctx, principalID, now); err != nil {
		return nil, err
	}

	if err = s.token.BumpEpoch(ctx, principalID); err != nil {
		return nil, err
	}

	return &revokedResponse{RevokedCount: revoked}, nil
}
