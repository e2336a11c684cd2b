// Package sessionapi surfaces device sessions to their owner.
package sessionapi

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

type service struct {
	logger   log.Logger
	sessions auth.SessionService
}

// sessionView decorates a session with whether it backs the credential
// used for the request.
type sessionView struct {
	*auth.Session
	IsCurrent bool `json:"is_current"`
}

type listResponse struct {
	Sessions []*sessionView `json:"sessions"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type revokedResponse struct {
	RevokedCount int `json:"revoked_count"`
}

// List returns the principal's sessions, flagging the one presented.
func (s *service) List(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)
	currentID := httpapi.GetSessionID(r)

	sessions, err := s.sessions.ListFor(ctx, principalID)
	if err != nil {
		return nil, err
	}

	views := make([]*sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, &sessionView{
			Session:   session,
			IsCurrent: session.ID == currentID,
		})
	}

	return &listResponse{Sessions: views}, nil
}

// Revoke revokes a single session. The session backing the presented
// credential cannot be revoked here; that is what logout is for.
func (s *service) Revoke(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)
	currentID := httpapi.GetSessionID(r)

	sessionID := mux.Vars(r)["id"]
	if sessionID == "" {
		return nil, auth.ErrInvalidInput("session ID is required")
	}

	if err := s.sessions.Revoke(ctx, principalID, sessionID, currentID); err != nil {
		return nil, err
	}

	return &messageResponse{Message: "session revoked"}, nil
}

// RevokeOthers revokes every session except the one presented.
func (s *service) RevokeOthers(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)
	currentID := httpapi.GetSessionID(r)

	revoked, err := s.sessions.RevokeAllExcept(ctx, principalID, currentID)
	if err != nil {
		return nil, err
	}

	return &revokedResponse{RevokedCount: revoked}, nil
}
