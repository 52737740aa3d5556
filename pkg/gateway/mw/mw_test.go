package mw

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/samwang0723/friday-sub000/pkg/core"
	"github.com/samwang0723/friday-sub000/pkg/gateway/auth"
	"github.com/samwang0723/friday-sub000/pkg/gateway/config"
)

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" || !strings.HasPrefix(seen, "req_") {
		t.Fatalf("generated id = %q", seen)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("header id %q != context id %q", rec.Header().Get("X-Request-ID"), seen)
	}
}

func TestRequestIDPreservesCallerValue(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := RequestIDFrom(r.Context())
		if id != "req_caller" {
			t.Fatalf("id = %q", id)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_caller")
	h.ServeHTTP(httptest.NewRecorder(), req)
}

func authConfig(mode config.AuthMode, keys ...string) config.Config {
	cfg := config.Config{AuthMode: mode, APIKeys: map[string]struct{}{}}
	for _, k := range keys {
		cfg.APIKeys[k] = struct{}{}
	}
	return cfg
}

func decodeAuthError(t *testing.T, rec *httptest.ResponseRecorder) *core.Error {
	t.Helper()
	var envelope struct {
		Error *core.Error `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if envelope.Error == nil {
		t.Fatal("missing error envelope")
	}
	return envelope.Error
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	h := Auth(authConfig(config.AuthModeRequired, "sk-good"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if e := decodeAuthError(t, rec); e.Type != core.ErrAuthentication {
		t.Fatalf("type = %q", e.Type)
	}
}

func TestAuthRejectsUnknownKeyInAnyMode(t *testing.T) {
	for _, mode := range []config.AuthMode{config.AuthModeRequired, config.AuthModeOptional} {
		h := Auth(authConfig(mode, "sk-good"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatalf("handler must not run with a bad key in mode %s", mode)
		}))

		req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		req.Header.Set("Authorization", "Bearer sk-bad")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("mode %s: status = %d", mode, rec.Code)
		}
	}
}

func TestAuthOptionalAllowsAnonymous(t *testing.T) {
	ran := false
	h := Auth(authConfig(config.AuthModeOptional, "sk-good"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		if _, ok := auth.PrincipalFrom(r.Context()); ok {
			t.Fatal("anonymous request must not carry a principal")
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/chat", nil))
	if !ran {
		t.Fatal("handler did not run")
	}
}

func TestAuthAttachesPrincipalForValidKey(t *testing.T) {
	h := Auth(authConfig(config.AuthModeRequired, "sk-good"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFrom(r.Context())
		if !ok || p.APIKey != "sk-good" {
			t.Fatalf("principal = %+v, ok = %v", p, ok)
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set("Authorization", "Bearer sk-good")
	h.ServeHTTP(httptest.NewRecorder(), req)
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recover(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
