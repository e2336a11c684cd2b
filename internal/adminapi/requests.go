package adminapi

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"regexp"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)

type createPrincipalRequest struct {
	Handle   string    `json:"handle"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
}

type updatePrincipalRequest struct {
	Handle   *string    `json:"handle"`
	Email    *string    `json:"email"`
	Role     *auth.Role `json:"role"`
	IsActive *bool      `json:"is_active"`
}

type extendGraceRequest struct {
	Days int `json:"days"`
}

type principalsResponse struct {
	Items    []*auth.Principal `json:"items"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Total    int               `json:"total"`
}

type principalDetailResponse struct {
	Principal *auth.Principal     `json:"principal"`
	MFA       *auth.MFAEnrollment `json:"mfa,omitempty"`
}

type auditResponse struct {
	Items    []*auth.AuditEntry `json:"items"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Total    int                `json:"total"`
}

func targetID(r *http.Request) (string, error) {
	id := mux.Vars(r)["id"]
	if id == "" {
		return "", auth.ErrInvalidInput("principal ID is required")
	}
	return id, nil
}

func principalFilter(r *http.Request, p httpapi.Pagination) (auth.PrincipalFilter, error) {
	q := r.URL.Query()

	filter := auth.PrincipalFilter{
		Search: q.Get("search"),
		Limit:  p.Limit(),
		Offset: p.Offset(),
	}

	if role := q.Get("role"); role != "" {
		if !auth.Role(role).Valid() {
			return filter, auth.ErrInvalidInput("invalid role filter")
		}
		filter.Role = auth.Role(role)
	}
	if active := q.Get("active"); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			return filter, auth.ErrInvalidInput("active filter must be a boolean")
		}
		filter.IsActive = &v
	}
	if archived := q.Get("archived"); archived != "" {
		v, err := strconv.ParseBool(archived)
		if err != nil {
			return filter, auth.ErrInvalidInput("archived filter must be a boolean")
		}
		filter.IsArchived = &v
	}

	return filter, nil
}

func decodeCreatePrincipalRequest(r *http.Request) (*createPrincipalRequest, error) {
	var req createPrincipalRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if !handlePattern.MatchString(req.Handle) {
		return nil, auth.ErrInvalidInput("handle must be 3-30 characters of letters, digits, _ or -")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, auth.ErrInvalidInput("invalid email address")
	}
	if req.Password == "" {
		return nil, auth.ErrInvalidInput("password is required")
	}
	if req.Role == "" {
		req.Role = auth.RoleUser
	}
	if !req.Role.Valid() {
		return nil, auth.ErrInvalidInput("invalid role")
	}

	return &req, nil
}

func decodeUpdatePrincipalRequest(r *http.Request) (*updatePrincipalRequest, error) {
	var req updatePrincipalRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Handle == nil && req.Email == nil && req.Role == nil && req.IsActive == nil {
		return nil, auth.ErrInvalidInput("nothing to update")
	}
	if req.Handle != nil && !handlePattern.MatchString(*req.Handle) {
		return nil, auth.ErrInvalidInput("handle must be 3-30 characters of letters, digits, _ or -")
	}
	if req.Email != nil {
		if _, err := mail.ParseAddress(*req.Email); err != nil {
			return nil, auth.ErrInvalidInput("invalid email address")
		}
	}
	if req.Role != nil && !req.Role.Valid() {
		return nil, auth.ErrInvalidInput("invalid role")
	}

	return &req, nil
}

func decodePolicyRequest(r *http.Request) (*auth.MFAPolicy, error) {
	var policy auth.MFAPolicy

	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if !policy.Mode.Valid() {
		return nil, auth.ErrInvalidInput("invalid mfa mode")
	}
	for role, mode := range policy.RoleModes {
		if !role.Valid() || !mode.Valid() {
			return nil, auth.ErrInvalidInput("invalid role mode override")
		}
	}
	switch policy.CodeFormat {
	case auth.CodeNumeric6, auth.CodeNumeric8, auth.CodeAlphanumeric6:
	default:
		return nil, auth.ErrInvalidInput("invalid code format")
	}
	switch policy.LockoutBehavior {
	case auth.LockoutTemporary, auth.LockoutRequirePassword, auth.LockoutAdminOnly:
	default:
		return nil, auth.ErrInvalidInput("invalid lockout behavior")
	}
	if policy.CodeExpiryMinutes <= 0 || policy.MaxFailedAttempts <= 0 {
		return nil, auth.ErrInvalidInput("expiry and attempt limits must be positive")
	}
	if policy.LockoutBehavior == auth.LockoutTemporary && policy.LockoutMinutes <= 0 {
		return nil, auth.ErrInvalidInput("temporary lockout requires a positive duration")
	}

	return &policy, nil
}

func decodeExtendGraceRequest(r *http.Request) (*extendGraceRequest, error) {
	var req extendGraceRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Days <= 0 || req.Days > 365 {
		return nil, auth.ErrInvalidInput("days must be between 1 and 365")
	}

	return &req, nil
}
