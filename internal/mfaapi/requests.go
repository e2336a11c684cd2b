package mfaapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	auth "github.com/castellan/castellan"
)

type beginTOTPRequest struct {
	SetupToken string `json:"setup_token"`
}

type confirmTOTPRequest struct {
	SetupToken string `json:"setup_token"`
	Code       string `json:"code"`
}

type passwordConfirmRequest struct {
	Password string `json:"password"`
}

type enableEmailRequest struct {
	AlternateEmail string `json:"alternate_email"`
}

type confirmEmailRequest struct {
	Code string `json:"code"`
}

type preferredRequest struct {
	Method auth.Method `json:"method"`
}

type beginTOTPResponse struct {
	Secret   string `json:"secret"`
	QRString string `json:"qr_string"`
}

type confirmResponse struct {
	Enrollment  *auth.MFAEnrollment `json:"enrollment"`
	BackupCodes []string            `json:"backup_codes,omitempty"`
}

type codeSentResponse struct {
	SentAt    time.Time `json:"sent_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func decodeBeginTOTPRequest(r *http.Request) (*beginTOTPRequest, error) {
	var req beginTOTPRequest

	// the body is optional when a bearer credential is presented
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	return &req, nil
}

func decodeConfirmTOTPRequest(r *http.Request) (*confirmTOTPRequest, error) {
	var req confirmTOTPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Code == "" {
		return nil, auth.ErrInvalidInput("code is required")
	}

	return &req, nil
}

func decodePasswordConfirmRequest(r *http.Request) (*passwordConfirmRequest, error) {
	var req passwordConfirmRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Password == "" {
		return nil, auth.ErrInvalidInput("password is required")
	}

	return &req, nil
}

func decodeEnableEmailRequest(r *http.Request) (*enableEmailRequest, error) {
	var req enableEmailRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.AlternateEmail != "" {
		if _, err := mail.ParseAddress(req.AlternateEmail); err != nil {
			return nil, auth.ErrInvalidInput("invalid alternate email address")
		}
	}

	return &req, nil
}

func decodeConfirmEmailRequest(r *http.Request) (*confirmEmailRequest, error) {
	var req confirmEmailRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Code == "" {
		return nil, auth.ErrInvalidInput("code is required")
	}

	return &req, nil
}

func decodePreferredRequest(r *http.Request) (*preferredRequest, error) {
	var req preferredRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.Method != auth.MethodTOTP && req.Method != auth.MethodEmail {
		return nil, auth.ErrInvalidInput("method must be totp or email")
	}

	return &req, nil
}
