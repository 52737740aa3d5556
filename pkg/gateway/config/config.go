// Package config loads gateway configuration from an optional YAML file and
// the environment. Environment variables win over file values, file values
// win over defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

// Provider modes for the external collaborators.
const (
	ModeMock = "mock"
	ModeHTTP = "http"

	AgentModeMock   = "mock"
	AgentModeGemini = "gemini"
)

type AgentConfig struct {
	Mode         string `yaml:"mode"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
}

type STTConfig struct {
	Mode     string `yaml:"mode"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type TTSConfig struct {
	Mode         string `yaml:"mode"`
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	DefaultVoice string `yaml:"default_voice"`
	SampleRate   int    `yaml:"sample_rate"`

	// VoiceByLanguage maps a language code to the default voice used when a
	// request enables audio without naming one.
	VoiceByLanguage map[string]string `yaml:"voice_by_language"`
}

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	MaxBodyBytes  int64
	MaxAudioBytes int64

	// SSE
	SSEPingInterval      time.Duration
	SSEMaxStreamDuration time.Duration
	StreamIdleTimeout    time.Duration

	// AudioChunkBytes bounds per-event overhead on the audio side.
	AudioChunkBytes int

	// Live WebSocket transport.
	LiveWSPingInterval time.Duration
	LiveWSWriteTimeout time.Duration

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	LimitMaxConcurrentStreams  int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	Agent AgentConfig
	STT   STTConfig
	TTS   TTSConfig
}

// fileConfig is the YAML shape; durations are milliseconds, matching the
// operational files this service ships with.
type fileConfig struct {
	Addr string `yaml:"addr"`

	AuthMode string   `yaml:"auth_mode"`
	APIKeys  []string `yaml:"api_keys"`

	CORSOrigins []string `yaml:"cors_origins"`

	MaxBodyBytes  int64 `yaml:"max_body_bytes"`
	MaxAudioBytes int64 `yaml:"max_audio_bytes"`

	SSEPingIntervalMS      int `yaml:"sse_ping_interval_ms"`
	SSEMaxStreamDurationMS int `yaml:"sse_max_stream_duration_ms"`
	StreamIdleTimeoutMS    int `yaml:"stream_idle_timeout_ms"`

	AudioChunkBytes int `yaml:"audio_chunk_bytes"`

	LiveWSPingIntervalMS int `yaml:"live_ws_ping_interval_ms"`
	LiveWSWriteTimeoutMS int `yaml:"live_ws_write_timeout_ms"`

	LimitRPS                   float64 `yaml:"limit_rps"`
	LimitBurst                 int     `yaml:"limit_burst"`
	LimitMaxConcurrentRequests int     `yaml:"limit_max_concurrent_requests"`
	LimitMaxConcurrentStreams  int     `yaml:"limit_max_concurrent_streams"`

	Agent AgentConfig `yaml:"agent"`
	STT   STTConfig   `yaml:"stt"`
	TTS   TTSConfig   `yaml:"tts"`
}

func defaults() Config {
	return Config{
		Addr:                 ":8087",
		AuthMode:             AuthModeRequired,
		APIKeys:              make(map[string]struct{}),
		CORSAllowedOrigins:   make(map[string]struct{}),
		MaxBodyBytes:         8 << 20, // 8 MiB
		MaxAudioBytes:        4 << 20, // 4 MiB decoded
		SSEPingInterval:      15 * time.Second,
		SSEMaxStreamDuration: 5 * time.Minute,
		StreamIdleTimeout:    30 * time.Second,
		AudioChunkBytes:      16 << 10, // 16 KiB
		LiveWSPingInterval:   20 * time.Second,
		LiveWSWriteTimeout:   5 * time.Second,

		LimitRPS:                   2.0,
		LimitBurst:                 4,
		LimitMaxConcurrentRequests: 20,
		LimitMaxConcurrentStreams:  4,

		ReadHeaderTimeout:   10 * time.Second,
		ReadTimeout:         30 * time.Second,
		HandlerTimeout:      2 * time.Minute,
		ShutdownGracePeriod: 30 * time.Second,

		Agent: AgentConfig{Mode: AgentModeMock, Model: "gemini-2.0-flash"},
		STT:   STTConfig{Mode: ModeMock, Model: "whisper-1", Language: "en"},
		TTS: TTSConfig{
			Mode:       ModeMock,
			Model:      "sonic-3",
			SampleRate: 24000,
		},
	}
}

// Load builds the configuration. The YAML file named by FRIDAY_CONFIG_FILE
// (if any) overlays the defaults; FRIDAY_* environment variables overlay
// both.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("FRIDAY_CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q does not exist", path)
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}

	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.AuthMode != "" {
		cfg.AuthMode = AuthMode(fc.AuthMode)
	}
	for _, key := range fc.APIKeys {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range fc.CORSOrigins {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}
	if fc.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = fc.MaxBodyBytes
	}
	if fc.MaxAudioBytes > 0 {
		cfg.MaxAudioBytes = fc.MaxAudioBytes
	}
	if fc.SSEPingIntervalMS > 0 {
		cfg.SSEPingInterval = time.Duration(fc.SSEPingIntervalMS) * time.Millisecond
	}
	if fc.SSEMaxStreamDurationMS > 0 {
		cfg.SSEMaxStreamDuration = time.Duration(fc.SSEMaxStreamDurationMS) * time.Millisecond
	}
	if fc.StreamIdleTimeoutMS > 0 {
		cfg.StreamIdleTimeout = time.Duration(fc.StreamIdleTimeoutMS) * time.Millisecond
	}
	if fc.AudioChunkBytes > 0 {
		cfg.AudioChunkBytes = fc.AudioChunkBytes
	}
	if fc.LiveWSPingIntervalMS > 0 {
		cfg.LiveWSPingInterval = time.Duration(fc.LiveWSPingIntervalMS) * time.Millisecond
	}
	if fc.LiveWSWriteTimeoutMS > 0 {
		cfg.LiveWSWriteTimeout = time.Duration(fc.LiveWSWriteTimeoutMS) * time.Millisecond
	}
	if fc.LimitRPS > 0 {
		cfg.LimitRPS = fc.LimitRPS
	}
	if fc.LimitBurst > 0 {
		cfg.LimitBurst = fc.LimitBurst
	}
	if fc.LimitMaxConcurrentRequests > 0 {
		cfg.LimitMaxConcurrentRequests = fc.LimitMaxConcurrentRequests
	}
	if fc.LimitMaxConcurrentStreams > 0 {
		cfg.LimitMaxConcurrentStreams = fc.LimitMaxConcurrentStreams
	}

	mergeAgent(&cfg.Agent, fc.Agent)
	mergeSTT(&cfg.STT, fc.STT)
	mergeTTS(&cfg.TTS, fc.TTS)
	return nil
}

func mergeAgent(dst *AgentConfig, src AgentConfig) {
	if src.Mode != "" {
		dst.Mode = src.Mode
	}
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.SystemPrompt != "" {
		dst.SystemPrompt = src.SystemPrompt
	}
}

func mergeSTT(dst *STTConfig, src STTConfig) {
	if src.Mode != "" {
		dst.Mode = src.Mode
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Language != "" {
		dst.Language = src.Language
	}
}

func mergeTTS(dst *TTSConfig, src TTSConfig) {
	if src.Mode != "" {
		dst.Mode = src.Mode
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.DefaultVoice != "" {
		dst.DefaultVoice = src.DefaultVoice
	}
	if src.SampleRate > 0 {
		dst.SampleRate = src.SampleRate
	}
	if len(src.VoiceByLanguage) > 0 {
		if dst.VoiceByLanguage == nil {
			dst.VoiceByLanguage = make(map[string]string, len(src.VoiceByLanguage))
		}
		for lang, voice := range src.VoiceByLanguage {
			dst.VoiceByLanguage[lang] = voice
		}
	}
}

func applyEnv(cfg *Config) {
	setString("FRIDAY_ADDR", &cfg.Addr)
	if v, ok := os.LookupEnv("FRIDAY_AUTH_MODE"); ok {
		cfg.AuthMode = AuthMode(strings.TrimSpace(v))
	}
	for _, key := range splitCSV(os.Getenv("FRIDAY_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("FRIDAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}
	setInt64("FRIDAY_MAX_BODY_BYTES", &cfg.MaxBodyBytes)
	setInt64("FRIDAY_MAX_AUDIO_BYTES", &cfg.MaxAudioBytes)
	setDuration("FRIDAY_SSE_PING_INTERVAL", &cfg.SSEPingInterval)
	setDuration("FRIDAY_SSE_MAX_DURATION", &cfg.SSEMaxStreamDuration)
	setDuration("FRIDAY_STREAM_IDLE_TIMEOUT", &cfg.StreamIdleTimeout)
	setInt("FRIDAY_AUDIO_CHUNK_BYTES", &cfg.AudioChunkBytes)
	setDuration("FRIDAY_LIVE_WS_PING_INTERVAL", &cfg.LiveWSPingInterval)
	setDuration("FRIDAY_LIVE_WS_WRITE_TIMEOUT", &cfg.LiveWSWriteTimeout)
	setFloat64("FRIDAY_RATE_LIMIT_RPS", &cfg.LimitRPS)
	setInt("FRIDAY_RATE_LIMIT_BURST", &cfg.LimitBurst)
	setInt("FRIDAY_MAX_CONCURRENT_REQUESTS", &cfg.LimitMaxConcurrentRequests)
	setInt("FRIDAY_MAX_STREAMS_PER_PRINCIPAL", &cfg.LimitMaxConcurrentStreams)
	setDuration("FRIDAY_READ_HEADER_TIMEOUT", &cfg.ReadHeaderTimeout)
	setDuration("FRIDAY_READ_TIMEOUT", &cfg.ReadTimeout)
	setDuration("FRIDAY_TOTAL_REQUEST_TIMEOUT", &cfg.HandlerTimeout)
	setDuration("FRIDAY_SHUTDOWN_GRACE_PERIOD", &cfg.ShutdownGracePeriod)

	setString("FRIDAY_AGENT_MODE", &cfg.Agent.Mode)
	setString("FRIDAY_AGENT_API_KEY", &cfg.Agent.APIKey)
	setString("FRIDAY_AGENT_MODEL", &cfg.Agent.Model)
	setString("FRIDAY_AGENT_SYSTEM_PROMPT", &cfg.Agent.SystemPrompt)

	setString("FRIDAY_STT_MODE", &cfg.STT.Mode)
	setString("FRIDAY_STT_BASE_URL", &cfg.STT.BaseURL)
	setString("FRIDAY_STT_API_KEY", &cfg.STT.APIKey)
	setString("FRIDAY_STT_MODEL", &cfg.STT.Model)
	setString("FRIDAY_STT_LANGUAGE", &cfg.STT.Language)

	setString("FRIDAY_TTS_MODE", &cfg.TTS.Mode)
	setString("FRIDAY_TTS_BASE_URL", &cfg.TTS.BaseURL)
	setString("FRIDAY_TTS_API_KEY", &cfg.TTS.APIKey)
	setString("FRIDAY_TTS_MODEL", &cfg.TTS.Model)
	setString("FRIDAY_TTS_DEFAULT_VOICE", &cfg.TTS.DefaultVoice)
	setInt("FRIDAY_TTS_SAMPLE_RATE", &cfg.TTS.SampleRate)
}

func validate(cfg Config) error {
	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return fmt.Errorf("auth_mode must be one of required|optional|disabled")
	}
	if cfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be > 0")
	}
	if cfg.MaxAudioBytes <= 0 {
		return fmt.Errorf("max_audio_bytes must be > 0")
	}
	if cfg.SSEPingInterval <= 0 {
		return fmt.Errorf("sse_ping_interval must be > 0")
	}
	if cfg.SSEMaxStreamDuration <= 0 {
		return fmt.Errorf("sse_max_stream_duration must be > 0")
	}
	if cfg.StreamIdleTimeout <= 0 {
		return fmt.Errorf("stream_idle_timeout must be > 0")
	}
	if cfg.AudioChunkBytes <= 0 {
		return fmt.Errorf("audio_chunk_bytes must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 || cfg.ReadTimeout <= 0 || cfg.HandlerTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0")
	}
	switch cfg.Agent.Mode {
	case AgentModeMock:
	case AgentModeGemini:
		if cfg.Agent.APIKey == "" {
			return fmt.Errorf("agent api_key is required for agent mode %q", cfg.Agent.Mode)
		}
	default:
		return fmt.Errorf("agent mode must be one of mock|gemini")
	}
	if err := validateProviderMode("stt", cfg.STT.Mode, cfg.STT.BaseURL); err != nil {
		return err
	}
	if err := validateProviderMode("tts", cfg.TTS.Mode, cfg.TTS.BaseURL); err != nil {
		return err
	}
	return nil
}

func validateProviderMode(name, mode, baseURL string) error {
	switch mode {
	case ModeMock:
		return nil
	case ModeHTTP:
		if baseURL == "" {
			return fmt.Errorf("%s base_url is required for %s mode %q", name, name, mode)
		}
		return nil
	default:
		return fmt.Errorf("%s mode must be one of mock|http", name)
	}
}

// VoiceFor resolves the default voice for a language, falling back to the
// global default.
func (c TTSConfig) VoiceFor(language string) string {
	if voice, ok := c.VoiceByLanguage[strings.ToLower(strings.TrimSpace(language))]; ok {
		return voice
	}
	return c.DefaultVoice
}

func setString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = parsed
		}
	}
}

func setInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*dst = parsed
		}
	}
}

func setFloat64(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			*dst = parsed
		}
	}
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
