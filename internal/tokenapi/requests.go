package tokenapi

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	auth "github.com/castellan/castellan"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutResponse struct {
	Message string `json:"message"`
}

type revokedResponse struct {
	RevokedCount int `json:"revoked_count"`
}

func decodeRefreshRequest(r *http.Request) (*refreshRequest, error) {
	var req refreshRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidInput("invalid JSON request"), err.Error())
	}

	if req.RefreshToken == "" {
		return nil, auth.ErrInvalidInput("refresh_token is required")
	}

	return &req, nil
}
