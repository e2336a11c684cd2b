package loginapi

import (
	"net/http"

	"github.com/didip/tollbooth/v6"
	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

// SetupHTTPHandler converts a service's public methods
// to http handlers.
func SetupHTTPHandler(svc auth.LoginAPI, router *mux.Router, limiter auth.RateLimiter, logger log.Logger) {
	var handler httpapi.JSONAPIHandler
	{
		handler = svc.Login
		handler = httpapi.ScopeLimitMiddleware(handler, limiter, auth.ScopeLogin)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "LoginAPI.Login", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/auth/login", httpHandler).Methods("Post")
	}
	{
		handler = svc.VerifyTOTP
		handler = httpapi.ScopeLimitMiddleware(handler, limiter, auth.ScopeMFAVerify)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "LoginAPI.VerifyTOTP", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/auth/mfa/verify", httpHandler).Methods("Post")
	}
	{
		handler = svc.VerifyEmailCode
		handler = httpapi.ScopeLimitMiddleware(handler, limiter, auth.ScopeMFAVerify)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "LoginAPI.VerifyEmailCode", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/auth/mfa/email/verify", httpHandler).Methods("Post")
	}
	{
		handler = svc.VerifyBackupCode
		handler = httpapi.ScopeLimitMiddleware(handler, limiter, auth.ScopeMFAVerify)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "LoginAPI.VerifyBackupCode", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/auth/mfa/verify-backup", httpHandler).Methods("Post")
	}
	{
		handler = svc.ResendEmailCode
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "LoginAPI.ResendEmailCode", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/auth/mfa/email/resend", httpHandler).Methods("Post")
	}
}
