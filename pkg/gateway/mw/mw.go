// Package mw holds the HTTP middleware chain for the gateway: request IDs,
// authentication, panic recovery, access logging, CORS, and rate limiting.
package mw

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samwang0723/friday-sub000/pkg/core"
	"github.com/samwang0723/friday-sub000/pkg/gateway/auth"
	"github.com/samwang0723/friday-sub000/pkg/gateway/config"
)

type ctxKeyRequestID struct{}

func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return id, ok && id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

// RequestID adopts the caller's X-Request-ID or mints one, and echoes it on
// the response so clients can correlate logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// Auth enforces the configured bearer-credential policy. A presented key is
// always verified, even in optional mode: a wrong key is an error, not an
// anonymous request.
func Auth(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.AuthMode == config.AuthModeDisabled {
			next.ServeHTTP(w, r)
			return
		}
		if cfg.AuthMode != config.AuthModeOptional && cfg.AuthMode != config.AuthModeRequired {
			rejectRequest(w, r, http.StatusInternalServerError, core.ErrAPI, "invalid auth_mode", "")
			return
		}

		token, presented := auth.ParseBearer(r)
		switch {
		case !presented && cfg.AuthMode == config.AuthModeRequired:
			rejectRequest(w, r, http.StatusUnauthorized, core.ErrAuthentication, "missing bearer token", "Authorization")
		case !presented:
			next.ServeHTTP(w, r)
		default:
			if _, known := cfg.APIKeys[token]; !known {
				rejectRequest(w, r, http.StatusUnauthorized, core.ErrAuthentication, "invalid api key", "")
				return
			}
			ctx := auth.WithPrincipal(r.Context(), &auth.Principal{APIKey: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// Recover converts handler panics into a 500. Panics after the SSE response
// is committed are downgraded inside the stream writer instead; this guard
// covers everything before that point.
func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if logger != nil {
					logger.Error("panic", "panic", v, "path", r.URL.Path)
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusWriter records the committed status for access logging. It forwards
// Flush so streaming responses keep working through the wrapper.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if logger == nil {
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"bytes", sw.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func rejectRequest(w http.ResponseWriter, r *http.Request, status int, typ core.ErrorType, message, param string) {
	reqID, _ := RequestIDFrom(r.Context())
	writeJSONError(w, status, &core.Error{
		Type:      typ,
		Message:   message,
		Param:     param,
		RequestID: reqID,
	})
}

type errorEnvelope struct {
	Error *core.Error `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, err *core.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: err})
}
