package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samwang0723/friday-sub000/pkg/core"
)

// SynthesizeOptions configures TTS output.
type SynthesizeOptions struct {
	Voice      string
	Language   string
	SampleRate int
}

func (o SynthesizeOptions) withDefaults() SynthesizeOptions {
	if o.SampleRate <= 0 {
		o.SampleRate = 24000
	}
	return o
}

// Synthesizer is the text-to-speech boundary.
type Synthesizer interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts one complete string to PCM bytes.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) ([]byte, error)

	// NewStreamingContext opens an incremental session: text is sent in
	// chunks and audio is streamed back as it is generated.
	NewStreamingContext(ctx context.Context, opts SynthesizeOptions) (*StreamingContext, error)
}

// StreamingContext manages one incremental TTS session. Providers implement
// it by installing SendFunc/CloseFunc and pushing audio as it arrives.
type StreamingContext struct {
	audio     chan []byte
	err       error
	errMu     sync.Mutex
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	SendFunc  func(text string, isFinal bool) error
	CloseFunc func() error
}

// NewStreamingContext creates an empty streaming context for providers.
func NewStreamingContext() *StreamingContext {
	return &StreamingContext{
		audio: make(chan []byte, 100),
		done:  make(chan struct{}),
	}
}

// ErrContextClosed is returned when sending to a closed context.
var ErrContextClosed = &contextClosedError{}

type contextClosedError struct{}

func (e *contextClosedError) Error() string { return "streaming tts context closed" }

// SendText sends a text chunk to be synthesized. Set isFinal for the last
// chunk to signal completion.
func (sc *StreamingContext) SendText(text string, isFinal bool) error {
	if sc.closed.Load() {
		return ErrContextClosed
	}
	if sc.SendFunc != nil {
		return sc.SendFunc(text, isFinal)
	}
	return nil
}

// Flush signals that all text has been sent.
func (sc *StreamingContext) Flush() error {
	return sc.SendText("", true)
}

// Audio returns the channel of synthesized audio chunks. The channel closes
// when generation completes or the context is closed.
func (sc *StreamingContext) Audio() <-chan []byte {
	return sc.audio
}

// Done returns a channel closed when the context ends.
func (sc *StreamingContext) Done() <-chan struct{} {
	return sc.done
}

// Err returns any synthesis error.
func (sc *StreamingContext) Err() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

// Close tears the session down. Safe to call more than once.
func (sc *StreamingContext) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		sc.closed.Store(true)
		if sc.CloseFunc != nil {
			err = sc.CloseFunc()
		}
		close(sc.done)
	})
	return err
}

// PushAudio delivers a chunk to the consumer. Returns false once closed.
func (sc *StreamingContext) PushAudio(chunk []byte) bool {
	select {
	case sc.audio <- chunk:
		return true
	case <-sc.done:
		return false
	}
}

// SetError records a synthesis error. The first error wins.
func (sc *StreamingContext) SetError(err error) {
	if err == nil {
		return
	}
	sc.errMu.Lock()
	if sc.err == nil {
		sc.err = err
	}
	sc.errMu.Unlock()
}

// FinishAudio closes the audio channel after the last chunk.
func (sc *StreamingContext) FinishAudio() {
	close(sc.audio)
}

// HTTPSynthesizer talks to a bytes-in/bytes-out TTS endpoint. Incremental
// sessions are built on per-sentence sub-requests, so no provider-side
// streaming protocol is required.
type HTTPSynthesizer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewHTTPSynthesizer(baseURL, apiKey, model string, client *http.Client) *HTTPSynthesizer {
	if client == nil {
		client = &http.Client{}
	}
	if model == "" {
		model = "sonic-3"
	}
	return &HTTPSynthesizer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: client,
	}
}

func (s *HTTPSynthesizer) Name() string { return "http-tts" }

type ttsRequest struct {
	Model      string `json:"model"`
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) ([]byte, error) {
	opts = opts.withDefaults()
	body, err := json.Marshal(ttsRequest{
		Model:      s.model,
		Text:       text,
		Voice:      opts.Voice,
		Language:   opts.Language,
		SampleRate: opts.SampleRate,
		Format:     "pcm",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, core.NewAuthenticationError("tts provider rejected credentials")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, core.NewRateLimitError("tts provider rate limit exceeded", 1)
	case resp.StatusCode == http.StatusNoContent:
		return []byte{}, nil
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, core.NewProviderError(s.Name(), fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(msg))))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderError(s.Name(), fmt.Errorf("read audio: %w", err))
	}
	return audio, nil
}

// newSerializedStreamingContext builds an incremental session on sequential
// synthesize calls from one worker goroutine, preserving send order. Both
// real and mock providers share this wiring; only the synthesize step
// differs.
func newSerializedStreamingContext(ctx context.Context, synthesize func(ctx context.Context, text string) ([]byte, error)) *StreamingContext {
	sc := NewStreamingContext()
	texts := make(chan string, 16)
	var sendMu sync.Mutex
	finished := false

	go func() {
		defer sc.FinishAudio()
		for text := range texts {
			audio, err := synthesize(ctx, text)
			if err != nil {
				sc.SetError(err)
				return
			}
			if len(audio) > 0 && !sc.PushAudio(audio) {
				return
			}
		}
	}()

	sc.SendFunc = func(text string, isFinal bool) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		if finished {
			return ErrContextClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.TrimSpace(text) != "" {
			select {
			case texts <- text:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if isFinal {
			finished = true
			close(texts)
		}
		return nil
	}
	sc.CloseFunc = func() error {
		sendMu.Lock()
		defer sendMu.Unlock()
		if !finished {
			finished = true
			close(texts)
		}
		return nil
	}
	return sc
}

// NewStreamingContext serializes incremental text through per-chunk
// Synthesize calls.
func (s *HTTPSynthesizer) NewStreamingContext(ctx context.Context, opts SynthesizeOptions) (*StreamingContext, error) {
	return newSerializedStreamingContext(ctx, func(ctx context.Context, text string) ([]byte, error) {
		return s.Synthesize(ctx, text, opts)
	}), nil
}

// MockSynthesizer produces deterministic bytes derived from the input text.
type MockSynthesizer struct {
	// BytesPerChar scales the fake PCM payload; defaults to 4.
	BytesPerChar int
	Err          error
}

func (m *MockSynthesizer) Name() string { return "mock-tts" }

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	per := m.BytesPerChar
	if per <= 0 {
		per = 4
	}
	out := make([]byte, 0, len(text)*per)
	for i := range text {
		for range per {
			out = append(out, text[i])
		}
	}
	return out, nil
}

func (m *MockSynthesizer) NewStreamingContext(ctx context.Context, opts SynthesizeOptions) (*StreamingContext, error) {
	return newSerializedStreamingContext(ctx, func(ctx context.Context, text string) ([]byte, error) {
		return m.Synthesize(ctx, text, opts)
	}), nil
}
