package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/samwang0723/friday-sub000/pkg/core"
)

// GeminiAgent implements ChatStreamer against the Gemini API.
type GeminiAgent struct {
	client *genai.Client
	model  string
	system string
}

// NewGeminiAgent creates a Gemini-backed agent. model defaults to
// gemini-2.0-flash when empty.
func NewGeminiAgent(ctx context.Context, apiKey, model, systemPrompt string) (*GeminiAgent, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiAgent{client: client, model: model, system: systemPrompt}, nil
}

func (g *GeminiAgent) Name() string { return "gemini" }

func (g *GeminiAgent) config() *genai.GenerateContentConfig {
	if strings.TrimSpace(g.system) == "" {
		return nil
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.system, genai.RoleUser),
	}
}

func (g *GeminiAgent) ChatStream(ctx context.Context, message string, consume func(string) error) error {
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(message), g.config()) {
		if err != nil {
			return mapGeminiError(err)
		}
		if text := resp.Text(); text != "" {
			if err := consume(text); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *GeminiAgent) Chat(ctx context.Context, message string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(message), g.config())
	if err != nil {
		return "", mapGeminiError(err)
	}
	return resp.Text(), nil
}

// mapGeminiError folds provider status codes into the canonical taxonomy so
// 401s invalidate the session and 429s surface as rate limits.
func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return core.NewAuthenticationError("agent rejected credentials")
		case http.StatusTooManyRequests:
			return core.NewRateLimitError("agent rate limit exceeded", 1)
		}
	}
	return core.NewProviderError("gemini", err)
}
