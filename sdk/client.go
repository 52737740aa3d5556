// Package friday is the Go client for the friday gateway. It submits chat
// turns, decodes the event stream, restores audio order, and animates text
// for display. At most one turn is in flight per session: submitting a new
// turn cancels the previous one silently.
package friday

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/samwang0723/friday-sub000/pkg/core"
	"github.com/samwang0723/friday-sub000/pkg/core/types"
)

const defaultBaseURL = "http://127.0.0.1:8087"

// Client talks to one gateway.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	logger         *slog.Logger
	tracer         trace.Tracer
	typingInterval time.Duration
	newTicker      TickerFactory

	mu     sync.Mutex
	active map[string]*Turn
}

// NewClient builds a client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        defaultBaseURL,
		httpClient:     &http.Client{},
		logger:         slog.Default(),
		tracer:         otel.Tracer("github.com/samwang0723/friday-sub000/sdk"),
		typingInterval: DefaultTypingInterval,
		newTicker:      newWallTicker,
		active:         make(map[string]*Turn),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c
}

// ChatParams describes one turn. Exactly one of Text or Audio must be set.
type ChatParams struct {
	SessionID   string
	Text        string
	Audio       []byte
	AudioFormat string
	Voice       *types.VoiceConfig

	// Buffered requests the single-response fallback instead of a stream.
	// The returned Turn behaves identically; only the wire differs.
	Buffered bool
}

// Chat submits a turn and returns immediately. Events flow on the Turn's
// channels. Any turn already in flight for the same session is cancelled
// before this one is sent.
func (c *Client) Chat(ctx context.Context, params ChatParams) (*Turn, error) {
	if strings.TrimSpace(params.Text) == "" && len(params.Audio) == 0 {
		return nil, core.NewInvalidRequestError("exactly one of text or audio is required")
	}

	sessionID := strings.TrimSpace(params.SessionID)
	if sessionID == "" {
		sessionID = "default"
	}

	turnCtx, cancel := context.WithCancel(ctx)
	turn := newTurn(sessionID, cancel)
	c.preempt(sessionID, turn)

	resp, err := c.submit(turnCtx, params, sessionID)
	if err != nil {
		c.release(sessionID, turn)
		cancel()
		return nil, err
	}

	ticker := c.newTicker(c.typingInterval)
	go func() {
		defer c.release(sessionID, turn)
		c.consume(turnCtx, turn, resp, ticker)
	}()
	return turn, nil
}

// Cancel aborts the in-flight turn for a session, if any.
func (c *Client) Cancel(sessionID string) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = "default"
	}
	c.mu.Lock()
	turn := c.active[sessionID]
	c.mu.Unlock()
	if turn != nil {
		turn.Cancel()
	}
}

// preempt registers turn as the session's current one, displacing and
// cancelling its predecessor.
func (c *Client) preempt(sessionID string, turn *Turn) {
	c.mu.Lock()
	old := c.active[sessionID]
	c.active[sessionID] = turn
	c.mu.Unlock()

	if old != nil {
		old.superseded.Store(true)
		old.cancel()
	}
}

func (c *Client) release(sessionID string, turn *Turn) {
	c.mu.Lock()
	if c.active[sessionID] == turn {
		delete(c.active, sessionID)
	}
	c.mu.Unlock()
}

func (c *Client) submit(ctx context.Context, params ChatParams, sessionID string) (*http.Response, error) {
	ctx, span := c.tracer.Start(ctx, "chat submit")
	defer span.End()

	body := types.ChatRequest{
		SessionID:   sessionID,
		Text:        params.Text,
		AudioFormat: params.AudioFormat,
		Stream:      !params.Buffered,
		Voice:       params.Voice,
	}
	if len(params.Audio) > 0 {
		body.Audio = base64.StdEncoding.EncodeToString(params.Audio)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "chat", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeHTTPError(resp)
	}
	return resp, nil
}

// consume routes the response through the streaming or buffered pipeline
// based on what the server actually sent, not what was requested.
func (c *Client) consume(ctx context.Context, turn *Turn, resp *http.Response, ticker Ticker) {
	if isEventStream(resp) {
		reader := newSSEReader(resp.Body)
		defer reader.Close()

		events := make(chan pumpMsg, 16)
		go c.readEvents(ctx, reader, events)
		c.drive(ctx, turn, events, ticker)
		return
	}

	defer resp.Body.Close()
	buffered, err := decodeBufferedResponse(resp)
	if err != nil {
		ticker.Stop()
		turn.settle(PhaseFailed, "", err)
		return
	}
	c.pumpBuffered(ctx, turn, buffered, ticker)
}

func isEventStream(resp *http.Response) bool {
	if resp.Header.Get("X-Response-Type") == types.ResponseTypeSSEStream {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/event-stream"
}

func decodeBufferedResponse(resp *http.Response) (bufferedResponse, error) {
	var body types.ChatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&body); err != nil {
		return bufferedResponse{}, &TransportError{Op: "decode response", Err: err}
	}

	out := bufferedResponse{
		Transcript: body.Transcript,
		Text:       body.Text,
		Latency:    time.Duration(body.LatencyMS) * time.Millisecond,
	}
	// Headers carry the same summary; the body wins, headers fill gaps.
	if out.Transcript == "" {
		if v, err := url.QueryUnescape(resp.Header.Get("X-Transcript")); err == nil {
			out.Transcript = v
		}
	}
	if out.Text == "" {
		if v, err := url.QueryUnescape(resp.Header.Get("X-Response-Text")); err == nil {
			out.Text = v
		}
	}
	if body.Audio != "" {
		raw, err := base64.StdEncoding.DecodeString(body.Audio)
		if err != nil {
			return bufferedResponse{}, &TransportError{Op: "decode response audio", Err: err}
		}
		out.Audio = raw
	}
	return out, nil
}

func decodeHTTPError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var envelope struct {
		Error *core.Error `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error
	}
	return &TransportError{Op: "chat", StatusCode: resp.StatusCode}
}
