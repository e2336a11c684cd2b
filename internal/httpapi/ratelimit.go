package httpapi

import (
	"net/http"
	"time"

	"github.com/didip/tollbooth/v6"
	"github.com/didip/tollbooth/v6/limiter"

	auth "github.com/castellan/castellan"
)

// ThrottleEveryOneSec is a coarse per-instance backstop of one
// request per second, in front of the scoped redis limiter.
const ThrottleEveryOneSec = 1

// RateLimitMiddleware applies basic per-instance rate limiting to an
// HTTP request.
func RateLimitMiddleware(jsonHandler JSONAPIHandler, lmt *limiter.Limiter) JSONAPIHandler {
	return func(w http.ResponseWriter, r *http.Request) (interface{}, error) {
		if httpError := tollbooth.LimitByRequest(lmt, w, r); httpError != nil {
			return nil, auth.ErrRateLimited{RetryAfter: time.Second}
		}
		return jsonHandler(w, r)
	}
}

// ScopeLimitMiddleware applies the shared sliding-window limiter for
// a scope, keyed by client IP.
func ScopeLimitMiddleware(jsonHandler JSONAPIHandler, limiterSvc auth.RateLimiter, scope auth.RateScope) JSONAPIHandler {
	return func(w http.ResponseWriter, r *http.Request) (interface{}, error) {
		decision, err := limiterSvc.Check(r.Context(), scope, GetIP(r))
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, auth.ErrRateLimited{RetryAfter: decision.RetryAfter}
		}
		return jsonHandler(w, r)
	}
}
