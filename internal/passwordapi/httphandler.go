package passwordapi

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
func SetupHTTPHandler(svc auth.PasswordAPI, router *mux.Router, tokenSvc auth.TokenService, limiter auth.RateLimiter, logger log.Logger) {
	var handler httpapi.JSONAPIHandler
	{
		handler = svc.Change
		handler = httpapi.AuthMiddleware(handler, tokenSvc)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "PasswordAPI.Change", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/auth/password/change", httpHandler).Methods("Post")
	}
	{
		handler = svc.Forgot
		handler = httpapi.ScopeLimitMiddleware(handler, limiter, auth.ScopePasswordReset)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "PasswordAPI.Forgot", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/auth/password/forgot", httpHandler).Methods("Post")
	}
	{
		handler = svc.Reset
		handler = httpapi.ScopeLimitMiddleware(handler, limiter, auth.ScopePasswordReset)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "PasswordAPI.Reset", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/auth/password/reset", httpHandler).Methods("Post")
	}
}
