package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/samwang0723/friday-sub000/pkg/gateway/config"
	"github.com/samwang0723/friday-sub000/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config   config.Config
	Draining *lifecycle.Draining
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK        bool     `json:"ok"`
		AuthMode  string   `json:"auth_mode"`
		AgentMode string   `json:"agent_mode"`
		Draining  bool     `json:"draining,omitempty"`
		Issues    []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Draining.IsDraining() {
		issues = append(issues, "shutting down")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.Agent.Mode == config.AgentModeGemini && h.Config.Agent.APIKey == "" {
		issues = append(issues, "agent mode gemini but no api key configured")
	}

	resp := readyResp{
		OK:        len(issues) == 0,
		AuthMode:  string(h.Config.AuthMode),
		AgentMode: h.Config.Agent.Mode,
		Draining:  h.Draining.IsDraining(),
		Issues:    issues,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if resp.OK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"unknown route"}}` + "\n"))
}
