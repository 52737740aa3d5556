// Package server assembles the gateway: collaborator construction from
// config, route table, and the middleware chain.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/samwang0723/friday-sub000/pkg/gateway/config"
	"github.com/samwang0723/friday-sub000/pkg/gateway/handlers"
	"github.com/samwang0723/friday-sub000/pkg/gateway/lifecycle"
	"github.com/samwang0723/friday-sub000/pkg/gateway/live"
	"github.com/samwang0723/friday-sub000/pkg/gateway/mw"
	"github.com/samwang0723/friday-sub000/pkg/gateway/ratelimit"
	"github.com/samwang0723/friday-sub000/pkg/voice"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	voiceAdapter *voice.Adapter
	stt          voice.Transcriber
	limiter      *ratelimit.Limiter
	lifecycle    *lifecycle.Manager
	draining     *lifecycle.Draining
}

// Deps allows tests and embedders to substitute collaborators. Zero-value
// fields fall back to config-driven construction.
type Deps struct {
	Agent voice.ChatStreamer
	TTS   voice.Synthesizer
	STT   voice.Transcriber
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	agent := deps.Agent
	if agent == nil {
		var err error
		agent, err = buildAgent(ctx, cfg.Agent)
		if err != nil {
			return nil, err
		}
	}
	tts := deps.TTS
	if tts == nil {
		tts = buildTTS(cfg.TTS, httpClient)
	}
	stt := deps.STT
	if stt == nil {
		stt = buildSTT(cfg.STT, httpClient)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		voiceAdapter: &voice.Adapter{
			Agent:       agent,
			TTS:         tts,
			IdleTimeout: cfg.StreamIdleTimeout,
			Logger:      logger,
		},
		stt: stt,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxConcurrentStreams:  cfg.LimitMaxConcurrentStreams,
		}),
		lifecycle: lifecycle.NewManager(),
		draining:  &lifecycle.Draining{},
	}

	s.routes()
	return s, nil
}

func buildAgent(ctx context.Context, cfg config.AgentConfig) (voice.ChatStreamer, error) {
	switch cfg.Mode {
	case config.AgentModeGemini:
		return voice.NewGeminiAgent(ctx, cfg.APIKey, cfg.Model, cfg.SystemPrompt)
	case config.AgentModeMock:
		return &voice.MockAgent{}, nil
	default:
		return nil, fmt.Errorf("unknown agent mode %q", cfg.Mode)
	}
}

func buildTTS(cfg config.TTSConfig, client *http.Client) voice.Synthesizer {
	if cfg.Mode == config.ModeHTTP {
		return voice.NewHTTPSynthesizer(cfg.BaseURL, cfg.APIKey, cfg.Model, client)
	}
	return &voice.MockSynthesizer{}
}

func buildSTT(cfg config.STTConfig, client *http.Client) voice.Transcriber {
	if cfg.Mode == config.ModeHTTP {
		return voice.NewHTTPTranscriber(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Language, client)
	}
	return &voice.MockTranscriber{}
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Draining: s.draining})

	s.mux.Handle("/v1/chat", &handlers.Chat{
		Cfg:       s.cfg,
		Logger:    s.logger,
		Voice:     s.voiceAdapter,
		STT:       s.stt,
		Lifecycle: s.lifecycle,
		Limiter:   s.limiter,
	})
	s.mux.Handle("/v1/chat/cancel", &handlers.Cancel{Lifecycle: s.lifecycle})

	s.mux.Handle("/v1/live", &live.Handler{
		Cfg:       s.cfg,
		Logger:    s.logger,
		Voice:     s.voiceAdapter,
		STT:       s.stt,
		Lifecycle: s.lifecycle,
		Draining:  s.draining,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Handler returns the complete middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Lifecycle exposes the request registry for shutdown coordination.
func (s *Server) Lifecycle() *lifecycle.Manager { return s.lifecycle }

// Draining exposes the readiness drain flag.
func (s *Server) Draining() *lifecycle.Draining { return s.draining }
