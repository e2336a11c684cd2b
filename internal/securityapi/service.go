// Package securityapi surfaces the event trail to the principal:
// login history, security events and acknowledgements.
package securityapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

type service struct {
	logger   log.Logger
	repoMngr auth.RepositoryManager
}

type attemptsResponse struct {
	Items    []*auth.LoginAttempt `json:"items"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	Total    int                  `json:"total"`
}

type eventsResponse struct {
	Items    []*auth.SecurityEvent `json:"items"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Total    int                   `json:"total"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// LoginHistory returns the principal's login attempts, newest first.
func (s *service) LoginHistory(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)
	p := httpapi.GetPagination(r)

	attempts, total, err := s.repoMngr.LoginAttempt().ByPrincipal(ctx, principalID, p.Limit(), p.Offset())
	if err != nil {
		return nil, err
	}

	return &attemptsResponse{
		Items:    attempts,
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    total,
	}, nil
}

// Events returns the principal's security events, optionally filtered
// by severity or restricted to unacknowledged ones.
func (s *service) Events(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)
	p := httpapi.GetPagination(r)

	filter := auth.SecurityEventFilter{
		UnacknowledgedOnly: r.URL.Query().Get("unack") == "true",
		Limit:              p.Limit(),
		Offset:             p.Offset(),
	}
	if severity := r.URL.Query().Get("severity"); severity != "" {
		switch auth.Severity(severity) {
		case auth.SeverityInfo, auth.SeverityWarning, auth.SeverityCritical:
			filter.Severity = auth.Severity(severity)
		default:
			return nil, auth.ErrInvalidInput("invalid severity filter")
		}
	}

	events, total, err := s.repoMngr.SecurityEvent().ByPrincipal(ctx, principalID, filter)
	if err != nil {
		return nil, err
	}

	return &eventsResponse{
		Items:    events,
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    total,
	}, nil
}

// Acknowledge marks a security event as seen. Events of other
// principals are indistinguishable from missing ones.
func (s *service) Acknowledge(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx := r.Context()
	principalID := httpapi.GetPrincipalID(r)

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return nil, auth.ErrInvalidInput("event ID must be numeric")
	}

	if err = s.repoMngr.SecurityEvent().Acknowledge(ctx, id, principalID, time.Now().UTC()); err != nil {
		return nil, err
	}

	return &messageResponse{Message: "event acknowledged"}, nil
}
