package session

import (
	"context"
	"testing"
	"time"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/test"
)

func TestSessionSvc_CreateNewSession(t *testing.T) {
	sessionRepo := &test.SessionRepository{}
	repoMngr := &test.RepositoryManager{
		SessionFn: func() auth.SessionRepository { return sessionRepo },
	}

	svc := NewService(WithRepoManager(repoMngr))

	principal := &auth.Principal{ID: "principal-id"}
	rc := auth.RequestContext{IP: "192.168.1.10", UserAgent: chromeWindowsUA}

	session, isNew, err := svc.CreateOrRefresh(context.Background(), principal, rc)
	if err != nil {
		t.Fatal("failed to create session:", err)
	}
	if !isNew {
		t.Error("expected a new session")
	}
	if session.Browser != "Chrome" || session.OS != "Windows" {
		t.Errorf("incorrect device classification: %s on %s", session.Browser, session.OS)
	}
	if session.Fingerprint == "" {
		t.Error("session is missing a fingerprint")
	}
	if sessionRepo.Calls.Create != 1 {
		t.Error("expected a session to be persisted")
	}
}

func TestSessionSvc_ReusesSessionByFingerprint(t *testing.T) {
	rc := auth.RequestContext{IP: "192.168.1.10", UserAgent: chromeWindowsUA}

	existing := &auth.Session{
		ID:           "session-id",
		PrincipalID:  "principal-id",
		Fingerprint:  Fingerprint(rc),
		LastActiveAt: time.Now().Add(-time.Hour),
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	sessionRepo := &test.SessionRepository{
		ActiveByFingerprintFn: func() (*auth.Session, error) {
			return existing, nil
		},
	}
	repoMngr := &test.RepositoryManager{
		SessionFn: func() auth.SessionRepository { return sessionRepo },
	}

	svc := NewService(WithRepoManager(repoMngr))

	session, isNew, err := svc.CreateOrRefresh(context.Background(),
		&auth.Principal{ID: "principal-id"}, rc)
	if err != nil {
		t.Fatal("failed to refresh session:", err)
	}
	if isNew {
		t.Error("expected the existing session to be reused")
	}
	if session.ID != "session-id" {
		t.Error("incorrect session, got", session.ID)
	}
	if sessionRepo.Calls.Create != 0 {
		t.Error("no new session should be persisted")
	}
	if sessionRepo.Calls.Update != 1 {
		t.Error("existing session should be updated")
	}
}

func TestSessionSvc_StaleSessionIsReplaced(t *testing.T) {
	rc := auth.RequestContext{IP: "192.168.1.10", UserAgent: chromeWindowsUA}

	stale := &auth.Session{
		ID:           "stale-id",
		PrincipalID:  "principal-id",
		Fingerprint:  Fingerprint(rc),
		LastActiveAt: time.Now().Add(-40 * 24 * time.Hour),
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	sessionRepo := &test.SessionRepository{
		ActiveByFingerprintFn: func() (*auth.Session, error) {
			return stale, nil
		},
	}
	repoMngr := &test.RepositoryManager{
		SessionFn: func() auth.SessionRepository { return sessionRepo },
	}

	svc := NewService(WithRepoManager(repoMngr))

	session, isNew, err := svc.CreateOrRefresh(context.Background(),
		&auth.Principal{ID: "principal-id"}, rc)
	if err != nil {
		t.Fatal("failed to create session:", err)
	}
	if !isNew {
		t.Error("idle-expired session should not be reused")
	}
	if session.ID == "stale-id" {
		t.Error("expected a fresh session")
	}
}

func TestSessionSvc_CannotRevokeCurrent(t *testing.T) {
	svc := NewService(WithRepoManager(&test.RepositoryManager{}))

	err := svc.Revoke(context.Background(), "principal-id", "session-id", "session-id")
	if domainErr := auth.DomainError(err); domainErr == nil {
		t.Error("error is not a domain error")
	} else if domainErr.Code() != auth.ECannotRevokeCurrent {
		t.Errorf("incorrect error code, want %s got %s",
			auth.ECannotRevokeCurrent, domainErr.Code())
	}
}

func TestSessionSvc_CrossPrincipalRevocation(t *testing.T) {
	sessionRepo := &test.SessionRepository{
		GetForUpdateFn: func() (*auth.Session, error) {
			return &auth.Session{ID: "session-id", PrincipalID: "someone-else"}, nil
		},
	}
	repoMngr := &test.RepositoryManager{
		SessionFn: func() auth.SessionRepository { return sessionRepo },
	}

	svc := NewService(WithRepoManager(repoMngr))

	err := svc.Revoke(context.Background(), "principal-id", "session-id", "current-id")
	if domainErr := auth.DomainError(err); domainErr == nil {
		t.Error("error is not a domain error")
	} else if domainErr.Code() != auth.ESessionForbidden {
		t.Errorf("incorrect error code, want %s got %s",
			auth.ESessionForbidden, domainErr.Code())
	}
}

func TestSessionSvc_RevokeCutsRefreshFamilies(t *testing.T) {
	sessionRepo := &test.SessionRepository{
		GetForUpdateFn: func() (*auth.Session, error) {
			return &auth.Session{ID: "session-id", PrincipalID: "principal-id"}, nil
		},
	}
	familyRepo := &test.RefreshFamilyRepository{}
	repoMngr := &test.RepositoryManager{
		SessionFn:       func() auth.SessionRepository { return sessionRepo },
		RefreshFamilyFn: func() auth.RefreshFamilyRepository { return familyRepo },
	}

	svc := NewService(WithRepoManager(repoMngr))

	if err := svc.Revoke(context.Background(), "principal-id", "session-id", "current-id"); err != nil {
		t.Fatal("failed to revoke session:", err)
	}
	if sessionRepo.Calls.Update != 1 {
		t.Error("session should be marked revoked")
	}
	if familyRepo.Calls.RevokeBySession != 1 {
		t.Error("refresh families bound to the session should be revoked")
	}
}

func TestSessionSvc_MarkTrustedEvictsOldest(t *testing.T) {
	now := time.Now()
	until := now.Add(30 * 24 * time.Hour)

	current := &auth.Session{ID: "current", PrincipalID: "principal-id"}
	oldest := &auth.Session{ID: "oldest", IsTrusted: true, TrustedUntil: &until}
	newer := &auth.Session{ID: "newer", IsTrusted: true, TrustedUntil: &until}

	sessionRepo := &test.SessionRepository{
		ActiveByFingerprintFn: func() (*auth.Session, error) {
			return current, nil
		},
		TrustedFn: func() ([]*auth.Session, error) {
			return []*auth.Session{oldest, newer, current}, nil
		},
	}
	repoMngr := &test.RepositoryManager{
		SessionFn: func() auth.SessionRepository { return sessionRepo },
	}

	svc := NewService(WithRepoManager(repoMngr))

	err := svc.MarkTrusted(context.Background(), "principal-id", "fingerprint",
		30*24*time.Hour, 2)
	if err != nil {
		t.Fatal("failed to mark session trusted:", err)
	}

	if !current.IsTrusted || current.TrustedUntil == nil {
		t.Error("current session should carry trust")
	}
	if oldest.IsTrusted {
		t.Error("oldest trust entry should be evicted beyond the cap")
	}
	if !newer.IsTrusted {
		t.Error("newer trust entry should be kept")
	}
}

func TestSessionSvc_IsTrusted(t *testing.T) {
	now := time.Now()
	until := now.Add(time.Hour)

	sessionRepo := &test.SessionRepository{
		TrustedFn: func() ([]*auth.Session, error) {
			return []*auth.Session{
				{Fingerprint: "fingerprint", IsTrusted: true, TrustedUntil: &until},
			}, nil
		},
	}
	repoMngr := &test.RepositoryManager{
		SessionFn: func() auth.SessionRepository { return sessionRepo },
	}

	svc := NewService(WithRepoManager(repoMngr))

	trusted, err := svc.IsTrusted(context.Background(), "principal-id", "fingerprint")
	if err != nil {
		t.Fatal("failed to check trust:", err)
	}
	if !trusted {
		t.Error("expected fingerprint to be trusted")
	}

	trusted, err = svc.IsTrusted(context.Background(), "principal-id", "other-fingerprint")
	if err != nil {
		t.Fatal("failed to check trust:", err)
	}
	if trusted {
		t.Error("expected unknown fingerprint to be untrusted")
	}
}
