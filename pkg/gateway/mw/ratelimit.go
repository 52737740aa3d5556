package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/samwang0723/friday-sub000/pkg/core"
	"github.com/samwang0723/friday-sub000/pkg/gateway/auth"
	"github.com/samwang0723/friday-sub000/pkg/gateway/ratelimit"
)

// RateLimit applies the per-credential request budget. Probes and CORS
// preflights pass through untouched.
func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptFromLimits(r) {
			next.ServeHTTP(w, r)
			return
		}

		p, _ := auth.PrincipalFrom(r.Context())
		dec := limiter.AcquireRequest(p.Fingerprint(), time.Now())
		if !dec.Allowed {
			writeRateLimited(w, r, dec.RetryAfter)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}
		next.ServeHTTP(w, r)
	})
}

func exemptFromLimits(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	return r.URL.Path == "/healthz" || r.URL.Path == "/readyz"
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter int) {
	reqID, _ := RequestIDFrom(r.Context())
	e := &core.Error{
		Type:      core.ErrRateLimit,
		Message:   "rate limit exceeded",
		RequestID: reqID,
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		e.RetryAfter = &retryAfter
	}
	writeJSONError(w, http.StatusTooManyRequests, e)
}
