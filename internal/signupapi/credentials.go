package signupapi

import (
	"context"
	"time"

	"github.com/google/uuid"

	auth "github.com/castellan/castellan"
)

// issueCredentials opens a fresh refresh family for the session and
// mints the bearer pair.
func issueCredentials(ctx context.Context, repoMngr auth.RepositoryManager, tokenSvc auth.TokenService, principal *auth.Principal, sessionID string) (*auth.Credentials, error) {
	family := &auth.RefreshFamily{
		ID:          uuid.NewString(),
		PrincipalID: principal.ID,
		SessionID:   sessionID,
	}
	if err := repoMngr.RefreshFamily().Create(ctx, family); err != nil {
		return nil, err
	}

	access, _, err := tokenSvc.MintAccess(ctx, principal, sessionID)
	if err != nil {
		return nil, err
	}

	refresh, _, err := tokenSvc.MintRefresh(ctx, principal, family.ID, family.Version, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &auth.Credentials{
		Access:           access,
		AccessExpiresAt:  now.Add(tokenSvc.AccessTTL()),
		Refresh:          refresh,
		RefreshExpiresAt: now.Add(tokenSvc.RefreshTTL()),
		SessionID:        sessionID,
	}, nil
}
