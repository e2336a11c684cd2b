package mfaapi

import (
	"net/http"

	"github.com/didip/tollbooth/v6"
	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

// SetupHTTPHandler converts a service's public methods
// to http handlers. The TOTP setup routes authenticate inside the
// service so that a setup token can stand in for a bearer credential.
func SetupHTTPHandler(svc auth.MFAAPI, router *mux.Router, tokenSvc auth.TokenService, logger log.Logger) {
	var handler httpapi.JSONAPIHandler
	{
		handler = svc.BeginTOTP
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "MFAAPI.BeginTOTP", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/mfa/totp/begin", httpHandler).Methods("Post")
	}
	{
		handler = svc.ConfirmTOTP
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "MFAAPI.ConfirmTOTP", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/mfa/totp/confirm", httpHandler).Methods("Post")
	}
	{
		handler = svc.DisableTOTP
		handler = httpapi.AuthMiddleware(handler, tokenSvc)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "MFAAPI.DisableTOTP", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/mfa/totp/disable", httpHandler).Methods("Post")
	}
	{
		handler = svc.EnableEmail
		handler = httpapi.AuthMiddleware(handler, tokenSvc)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "MFAAPI.EnableEmail", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/mfa/email/begin", httpHandler).Methods("Post")
	}
	{
		handler = svc.ConfirmEmail
		handler = httpapi.AuthMiddleware(handler, tokenSvc)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "MFAAPI.ConfirmEmail", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/mfa/email/confirm", httpHandler).Methods("Post")
	}
	{
		handler = svc.RegenerateBackupCodes
		handler = httpapi.AuthMiddleware(handler, tokenSvc)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "MFAAPI.RegenerateBackupCodes", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/mfa/backup-codes/regenerate", httpHandler).Methods("Post")
	}
	{
		handler = svc.SetPreferred
		handler = httpapi.AuthMiddleware(handler, tokenSvc)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "MFAAPI.SetPreferred", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/mfa/preferred", httpHandler).Methods("Put")
	}
}
