package signupapi

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"regexp"

	"github.com/pkg/errors"

	auth "github.com/castellan/castellan"
)

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)

type registerRequest struct {
	Handle   string `json:"handle"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyEmailRequest struct {
	Code string `json:"code"`
}

type registerResponse struct {
	Principal   *auth.Principal   `json:"principal"`
	Credentials *auth.Credentials `json:"credentials"`
}

func decodeRegisterRequest(r *http.Request) (*registerRequest, error) {
	var req registerRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if !handlePattern.MatchString(req.Handle) {
		return nil, auth.ErrInvalidInput("handle must be 3 to 30 letters, digits, hyphens or underscores")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, auth.ErrInvalidInput("a valid email address is required")
	}
	if req.Password == "" {
		return nil, auth.ErrInvalidInput("password is required")
	}

	return &req, nil
}

func decodeVerifyEmailRequest(r *http.Request) (*verifyEmailRequest, error) {
	var req verifyEmailRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Code == "" {
		return nil, auth.ErrInvalidInput("code is required")
	}

	return &req, nil
}
