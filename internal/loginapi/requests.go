package loginapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	auth "github.com/castellan/castellan"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyTOTPRequest struct {
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
}

type verifyEmailCodeRequest struct {
	Challenge   string `json:"challenge"`
	Code        string `json:"code"`
	TrustDevice bool   `json:"trust_device"`
}

type verifyBackupCodeRequest struct {
	Challenge string `json:"challenge"`
	Code      string `json:"code"`
}

type resendRequest struct {
	Challenge string `json:"challenge"`
}

type resendResponse struct {
	SentAt    time.Time `json:"sent_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func decodeLoginRequest(r *http.Request) (*loginRequest, error) {
	var req loginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Email == "" || req.Password == "" {
		return nil, auth.ErrInvalidInput("email and password are required")
	}

	return &req, nil
}

func decodeVerifyTOTPRequest(r *http.Request) (*verifyTOTPRequest, error) {
	var req verifyTOTPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Challenge == "" || req.Token == "" {
		return nil, auth.ErrInvalidInput("challenge and token are required")
	}

	return &req, nil
}

func decodeVerifyEmailCodeRequest(r *http.Request) (*verifyEmailCodeRequest, error) {
	var req verifyEmailCodeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Challenge == "" || req.Code == "" {
		return nil, auth.ErrInvalidInput("challenge and code are required")
	}

	return &req, nil
}

func decodeVerifyBackupCodeRequest(r *http.Request) (*verifyBackupCodeRequest, error) {
	var req verifyBackupCodeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Challenge == "" || req.Code == "" {
		return nil, auth.ErrInvalidInput("challenge and code are required")
	}

	return &req, nil
}

func decodeResendRequest(r *http.Request) (*resendRequest, error) {
	var req resendRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Challenge == "" {
		return nil, auth.ErrInvalidInput("challenge is required")
	}

	return &req, nil
}
