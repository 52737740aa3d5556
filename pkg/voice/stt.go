package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/samwang0723/friday-sub000/pkg/core"
)

// Transcriber is the speech-to-text boundary. An empty transcript with a nil
// error means the audio held no usable speech; callers map that to a
// no-transcript condition rather than a failure.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// HTTPTranscriber talks to a Whisper-compatible transcription endpoint via
// multipart upload.
type HTTPTranscriber struct {
	baseURL    string
	apiKey     string
	model      string
	language   string
	httpClient *http.Client
}

func NewHTTPTranscriber(baseURL, apiKey, model, language string, client *http.Client) *HTTPTranscriber {
	if client == nil {
		client = &http.Client{}
	}
	if model == "" {
		model = "whisper-1"
	}
	return &HTTPTranscriber{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		language:   language,
		httpClient: client,
	}
}

func (t *HTTPTranscriber) Name() string { return "http-stt" }

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if format == "" {
		format = "webm"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "audio."+format)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if t.language != "" {
		if err := mw.WriteField("language", t.language); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", core.NewAuthenticationError("transcription provider rejected credentials")
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", core.NewRateLimitError("transcription provider rate limit exceeded", 1)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", core.NewProviderError(t.Name(), fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", core.NewProviderError(t.Name(), fmt.Errorf("decode response: %w", err))
	}
	return strings.TrimSpace(out.Text), nil
}

// MockTranscriber returns a fixed transcript; an empty Transcript models
// unusable audio.
type MockTranscriber struct {
	Transcript string
	Err        error
}

func (m *MockTranscriber) Name() string { return "mock-stt" }

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Transcript, nil
}
