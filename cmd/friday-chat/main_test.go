package main

import (
	"bytes"
	"strings"
	"testing"

	friday "github.com/samwang0723/friday-sub000/sdk"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func TestParseChatConfig_DefaultsAndEnv(t *testing.T) {
	t.Parallel()

	cfg, err := parseChatConfig(nil, envMap(map[string]string{
		"FRIDAY_API_KEY": "sk-friday-test",
	}))
	if err != nil {
		t.Fatalf("parseChatConfig error: %v", err)
	}

	if cfg.BaseURL != defaultGatewayURL {
		t.Fatalf("BaseURL=%q, want %q", cfg.BaseURL, defaultGatewayURL)
	}
	if cfg.SessionID != defaultSession {
		t.Fatalf("SessionID=%q, want %q", cfg.SessionID, defaultSession)
	}
	if cfg.APIKey != "sk-friday-test" {
		t.Fatalf("APIKey=%q, want %q", cfg.APIKey, "sk-friday-test")
	}
	if cfg.Buffered {
		t.Fatal("Buffered should default to false")
	}
}

func TestParseChatConfig_FlagsOverrideEnv(t *testing.T) {
	t.Parallel()

	cfg, err := parseChatConfig(
		[]string{"-base-url", "http://10.0.0.5:9000", "-api-key", "sk-flag", "-session", "kitchen", "-buffered"},
		envMap(map[string]string{"FRIDAY_API_KEY": "sk-env"}),
	)
	if err != nil {
		t.Fatalf("parseChatConfig error: %v", err)
	}
	if cfg.BaseURL != "http://10.0.0.5:9000" {
		t.Fatalf("BaseURL=%q", cfg.BaseURL)
	}
	if cfg.APIKey != "sk-flag" {
		t.Fatalf("APIKey=%q, want flag value", cfg.APIKey)
	}
	if cfg.SessionID != "kitchen" {
		t.Fatalf("SessionID=%q", cfg.SessionID)
	}
	if !cfg.Buffered {
		t.Fatal("Buffered flag not applied")
	}
}

func TestParseChatConfig_RejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "not a url", "http://user:pw@host:1"} {
		if _, err := parseChatConfig([]string{"-base-url", bad}, envMap(nil)); err == nil {
			t.Fatalf("base-url %q should be rejected", bad)
		}
	}
}

func TestParseChatConfig_RejectsEmptySession(t *testing.T) {
	t.Parallel()

	_, err := parseChatConfig([]string{"-session", "  "}, envMap(nil))
	if err == nil || !strings.Contains(err.Error(), "session") {
		t.Fatalf("err=%v, expected session mention", err)
	}
}

func TestHandleSlashCommand_SessionSwitch(t *testing.T) {
	t.Parallel()

	client := friday.NewClient()
	state := chatRuntime{session: "default"}
	var out bytes.Buffer

	if !handleSlashCommand("/session", &state, client, &out) {
		t.Fatal("/session should be handled")
	}
	if !strings.Contains(out.String(), "default") {
		t.Fatalf("output=%q", out.String())
	}

	out.Reset()
	if !handleSlashCommand("/session: kitchen ", &state, client, &out) {
		t.Fatal("/session: should be handled")
	}
	if state.session != "kitchen" {
		t.Fatalf("session=%q, want kitchen", state.session)
	}

	out.Reset()
	if !handleSlashCommand("/session:", &state, client, &out) {
		t.Fatal("empty /session: should still be handled")
	}
	if state.session != "kitchen" {
		t.Fatalf("session=%q, empty switch must not clear it", state.session)
	}

	if handleSlashCommand("hello there", &state, client, &out) {
		t.Fatal("plain text must not be treated as a command")
	}
}

func TestHandleSlashCommand_Cancel(t *testing.T) {
	t.Parallel()

	// Cancel with nothing in flight is a no-op.
	client := friday.NewClient()
	state := chatRuntime{session: "default"}
	var out bytes.Buffer
	if !handleSlashCommand("/cancel", &state, client, &out) {
		t.Fatal("/cancel should be handled")
	}
	if !strings.Contains(out.String(), "cancelled") {
		t.Fatalf("output=%q", out.String())
	}
}
