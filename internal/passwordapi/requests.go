package passwordapi

import (
	"encoding/json"
	"net/http"
	"net/mail"

	"github.com/pkg/errors"

	auth "github.com/castellan/castellan"
)

type changeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func decodeChangeRequest(r *http.Request) (*changeRequest, error) {
	var req changeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		return nil, auth.ErrInvalidInput("current and new passwords are required")
	}

	return &req, nil
}

func decodeForgotRequest(r *http.Request) (*forgotRequest, error) {
	var req forgotRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, auth.ErrInvalidInput("invalid email address")
	}

	return &req, nil
}

func decodeResetRequest(r *http.Request) (*resetRequest, error) {
	var req resetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Email == "" || req.Code == "" || req.NewPassword == "" {
		return nil, auth.ErrInvalidInput("email, code and new password are required")
	}

	return &req, nil
}
