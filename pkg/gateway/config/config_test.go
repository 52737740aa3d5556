package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv scrubs FRIDAY_* vars so host environments cannot leak into
// assertions. t.Setenv registers restoration for after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "FRIDAY_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8087" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode = %q", cfg.AuthMode)
	}
	if cfg.AudioChunkBytes != 16<<10 {
		t.Fatalf("AudioChunkBytes = %d", cfg.AudioChunkBytes)
	}
	if cfg.Agent.Mode != AgentModeMock {
		t.Fatalf("Agent.Mode = %q", cfg.Agent.Mode)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("FRIDAY_ADDR", ":9000")
	t.Setenv("FRIDAY_AUTH_MODE", "disabled")
	t.Setenv("FRIDAY_STREAM_IDLE_TIMEOUT", "45s")
	t.Setenv("FRIDAY_API_KEYS", "key-a, key-b")
	t.Setenv("FRIDAY_TTS_DEFAULT_VOICE", "nova")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("AuthMode = %q", cfg.AuthMode)
	}
	if cfg.StreamIdleTimeout != 45*time.Second {
		t.Fatalf("StreamIdleTimeout = %v", cfg.StreamIdleTimeout)
	}
	if _, ok := cfg.APIKeys["key-b"]; !ok {
		t.Fatalf("APIKeys = %v", cfg.APIKeys)
	}
	if cfg.TTS.DefaultVoice != "nova" {
		t.Fatalf("TTS.DefaultVoice = %q", cfg.TTS.DefaultVoice)
	}
}

func TestFileOverlayAndEnvPrecedence(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "friday.yaml")
	content := `
addr: ":7000"
auth_mode: optional
stream_idle_timeout_ms: 10000
tts:
  default_voice: alloy
  voice_by_language:
    ja: kaze
    en: alloy
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("FRIDAY_CONFIG_FILE", path)
	t.Setenv("FRIDAY_ADDR", ":7001") // env beats file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7001" {
		t.Fatalf("Addr = %q, env should win over file", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeOptional {
		t.Fatalf("AuthMode = %q", cfg.AuthMode)
	}
	if cfg.StreamIdleTimeout != 10*time.Second {
		t.Fatalf("StreamIdleTimeout = %v", cfg.StreamIdleTimeout)
	}
	if got := cfg.TTS.VoiceFor("ja"); got != "kaze" {
		t.Fatalf("VoiceFor(ja) = %q", got)
	}
	if got := cfg.TTS.VoiceFor("de"); got != "alloy" {
		t.Fatalf("VoiceFor(de) should fall back to default, got %q", got)
	}
}

func TestValidationRejectsBadModes(t *testing.T) {
	clearEnv(t)
	t.Setenv("FRIDAY_AGENT_MODE", "quantum")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown agent mode")
	}

	t.Setenv("FRIDAY_AGENT_MODE", "gemini")
	// Gemini without a key must not pass validation.
	if _, err := Load(); err == nil {
		t.Fatal("expected error for gemini mode without api key")
	}
}

func TestHTTPProvidersRequireBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("FRIDAY_STT_MODE", "http")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for http stt without base_url")
	}

	t.Setenv("FRIDAY_STT_BASE_URL", "http://stt.internal")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with base_url: %v", err)
	}
}
