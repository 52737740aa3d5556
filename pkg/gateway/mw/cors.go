package mw

import (
	"net/http"
	"strings"

	"github.com/samwang0723/friday-sub000/pkg/gateway/config"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsMaxAge  = "600"
)

var corsRequestHeaders = []string{
	"Authorization",
	"Content-Type",
	"X-Request-ID",
	"Last-Event-ID",
}

// corsExposeHeaders covers the summary headers of the non-streaming
// fallback, which browser scripts cannot read without an explicit expose.
var corsExposeHeaders = []string{
	"X-Request-ID",
	"X-Response-Type",
	"X-Transcript",
	"X-Response-Text",
	"X-Duration-Ms",
}

// CORS applies the configured origin allowlist. An empty allowlist disables
// cross-origin access entirely; same-origin and non-browser traffic is
// never affected.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	policy := corsPolicy{allowed: cfg.CORSAllowedOrigins}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))

		if isPreflight(r) {
			policy.answerPreflight(w, origin)
			return
		}
		if policy.permits(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Expose-Headers", strings.Join(corsExposeHeaders, ", "))
			h.Set("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

type corsPolicy struct {
	allowed map[string]struct{}
}

func (p corsPolicy) permits(origin string) bool {
	if origin == "" || len(p.allowed) == 0 {
		return false
	}
	_, ok := p.allowed[origin]
	return ok
}

func (p corsPolicy) answerPreflight(w http.ResponseWriter, origin string) {
	if !p.permits(origin) {
		http.Error(w, "cors preflight not allowed", http.StatusForbidden)
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", corsMethods)
	h.Set("Access-Control-Allow-Headers", strings.Join(corsRequestHeaders, ", "))
	h.Set("Access-Control-Max-Age", corsMaxAge)
	h.Set("Vary", "Origin")
	w.WriteHeader(http.StatusNoContent)
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
}
