// Package handlers implements the gateway's HTTP surface. The chat handler
// is the streaming multiplexer: it interleaves transcript, text, audio, and
// status events onto one SSE response and guarantees at most one terminal
// event per stream.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samwang0723/friday-sub000/pkg/core"
	"github.com/samwang0723/friday-sub000/pkg/core/types"
	"github.com/samwang0723/friday-sub000/pkg/gateway/apierror"
	"github.com/samwang0723/friday-sub000/pkg/gateway/auth"
	"github.com/samwang0723/friday-sub000/pkg/gateway/config"
	"github.com/samwang0723/friday-sub000/pkg/gateway/lifecycle"
	"github.com/samwang0723/friday-sub000/pkg/gateway/mw"
	"github.com/samwang0723/friday-sub000/pkg/gateway/ratelimit"
	"github.com/samwang0723/friday-sub000/pkg/gateway/sse"
	"github.com/samwang0723/friday-sub000/pkg/voice"
)

const defaultSessionID = "default"

// Chat serves POST /v1/chat.
type Chat struct {
	Cfg       config.Config
	Logger    *slog.Logger
	Voice     *voice.Adapter
	STT       voice.Transcriber
	Lifecycle *lifecycle.Manager
	Limiter   *ratelimit.Limiter
}

func (h *Chat) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Chat) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, r, core.NewInvalidRequestError("method not allowed"))
		return
	}

	req, err := decodeChatRequest(r, h.Cfg.MaxBodyBytes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	audioIn, err := req.Validate(h.Cfg.MaxAudioBytes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = defaultSessionID
	}
	identity := auth.IdentityFrom(r.Context(), sessionID)

	// Registering the turn synchronously cancels any in-flight predecessor
	// for the same identity.
	token := h.Lifecycle.Begin(r.Context(), identity)
	defer token.Detach()

	turn := &chatTurn{
		h:       h,
		req:     req,
		audioIn: audioIn,
		token:   token,
		turnID:  "turn_" + uuid.NewString(),
		started: time.Now(),
	}
	turn.log = h.logger().With("turn_id", turn.turnID, "session_id", sessionID)

	if req.Stream {
		turn.serveStream(w, r)
		return
	}
	turn.serveBuffered(w, r)
}

func decodeChatRequest(r *http.Request, maxBodyBytes int64) (*types.ChatRequest, error) {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()

	var req types.ChatRequest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, core.NewInvalidRequestError("request body too large")
		}
		return nil, core.NewInvalidRequestError("request body is not valid JSON")
	}
	if dec.More() {
		return nil, core.NewInvalidRequestError("request body has trailing data")
	}
	return &req, nil
}

func (h *Chat) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: coreErr})
}

// chatTurn carries one request through transcription, generation, and
// synthesis.
type chatTurn struct {
	h       *Chat
	req     *types.ChatRequest
	audioIn []byte
	token   *lifecycle.Token
	turnID  string
	started time.Time
	log     *slog.Logger
}

// resolveInput produces the user message for the agent, transcribing audio
// when needed. The transcript echoes the utterance back: the request text
// verbatim, or the STT result once it is available.
func (t *chatTurn) resolveInput(r *http.Request) (message, transcript string, err error) {
	if len(t.audioIn) == 0 {
		return t.req.Text, t.req.Text, nil
	}
	transcript, err = t.h.Voice.Transcribe(t.token.Context(), t.h.STT, t.audioIn, t.req.AudioFormat)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(transcript) == "" {
		return "", "", core.NewNoTranscriptError()
	}
	return transcript, transcript, nil
}

func (t *chatTurn) synthesizeOptions() voice.SynthesizeOptions {
	opts := voice.SynthesizeOptions{}
	if v := t.req.Voice; v != nil {
		opts.Voice = v.Voice
		opts.Language = v.Language
		opts.SampleRate = v.SampleRate
	}
	if opts.Voice == "" {
		opts.Voice = t.h.Cfg.TTS.VoiceFor(opts.Language)
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = t.h.Cfg.TTS.SampleRate
	}
	return opts
}

// silent reports whether this turn must end without a terminal event: a
// newer request displaced it, or the caller went away.
func (t *chatTurn) silent(r *http.Request) bool {
	return t.token.Superseded() || r.Context().Err() != nil
}

// serveStream runs the SSE path. The response is committed with status 200
// before any upstream work, so every subsequent failure is delivered as an
// error event rather than an HTTP status.
func (t *chatTurn) serveStream(w http.ResponseWriter, r *http.Request) {
	if t.h.Limiter != nil {
		p, _ := auth.PrincipalFrom(r.Context())
		dec := t.h.Limiter.AcquireStream(p.Fingerprint(), time.Now())
		if !dec.Allowed {
			t.h.writeError(w, r, core.NewRateLimitError("too many open streams", dec.RetryAfter))
			return
		}
		defer dec.Permit.Release()
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Response-Type", types.ResponseTypeSSEStream)

	sw, err := sse.New(w, r.Context(), t.log)
	if err != nil {
		t.h.writeError(w, r, core.NewAPIError("streaming unsupported by this connection"))
		return
	}
	w.WriteHeader(http.StatusOK)

	// Bound the whole stream; keepalive pings cover quiet stretches.
	ctx, cancel := contextWithOptionalTimeout(t.token.Context(), t.h.Cfg.SSEMaxStreamDuration)
	defer cancel()

	stopPings := startKeepalive(sw, t.h.Cfg.SSEPingInterval)
	defer stopPings()

	message, transcript, err := t.resolveInput(r)
	if err != nil {
		t.finishStream(sw, r, "", err)
		return
	}
	if transcript != "" {
		if err := sw.Send(string(types.EventTranscript), types.TranscriptEvent{Data: transcript}); err != nil {
			return
		}
	}
	_ = sw.Send(string(types.EventStatus), types.StatusEvent{Message: "generating"})

	fullText, err := t.pump(ctx, sw, message)
	t.finishStream(sw, r, fullText, err)
}

// pump fans the agent's deltas out to the SSE stream and, when voice is
// requested, into the synthesis pipeline, then drains synthesized audio back
// onto the same stream. Text and audio interleave; both goroutines write
// through the writer's lock.
func (t *chatTurn) pump(ctx context.Context, sw *sse.Writer, message string) (string, error) {
	text := t.h.Voice.StreamText(ctx, message)

	var ttsSource chan string
	var audio *voice.AudioStream
	if t.req.WantsVoice() {
		ttsSource = make(chan string, 16)
		var err error
		audio, err = t.h.Voice.StreamSpeechFrom(ctx, ttsSource, t.synthesizeOptions())
		if err != nil {
			// Synthesis could not start; the turn still streams text.
			t.log.Warn("tts unavailable for turn", "error", err)
			_ = sw.Send(string(types.EventStatus), types.StatusEvent{Message: "voice unavailable"})
			audio = nil
			ttsSource = nil
		}
	}

	var fullText strings.Builder
	var wg sync.WaitGroup
	var audioErr error

	if audio != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendAudio(sw, audio.Chunks(), t.h.Cfg.AudioChunkBytes)
			audioErr = audio.Err()
		}()
	}

	for delta := range text.Chunks() {
		fullText.WriteString(delta)
		if err := sw.Send(string(types.EventText), types.TextEvent{Data: delta}); err != nil {
			break
		}
		if ttsSource != nil {
			select {
			case ttsSource <- delta:
			case <-ctx.Done():
			}
		}
	}
	if ttsSource != nil {
		close(ttsSource)
	}
	// Audio for the final sentences arrives after the last text delta.
	wg.Wait()

	err := text.Err()
	if err == nil {
		err = audioErr
	}
	return fullText.String(), err
}

// sendAudio re-slices raw chunks to batchBytes-sized events and stamps each
// with its zero-based emission index. Only the final event may carry less
// than batchBytes.
func sendAudio(sw *sse.Writer, chunks <-chan []byte, batchBytes int) {
	batches := voice.RebatchAudio(chunks, batchBytes)
	index := 0
	for batch := range batches {
		err := sw.Send(string(types.EventAudio), types.AudioEvent{
			Data:  base64.StdEncoding.EncodeToString(batch),
			Index: index,
		})
		if err != nil {
			// Stream is gone; drain the producer so it can finish.
			for range batches {
			}
			return
		}
		index++
	}
}

// finishStream emits the turn's single terminal event. Superseded and
// abandoned turns end silently; everything else resolves to exactly one
// complete or error event.
func (t *chatTurn) finishStream(sw *sse.Writer, r *http.Request, fullText string, err error) {
	if t.silent(r) || core.IsInterruption(err) {
		sw.MarkClosed()
		t.log.Debug("turn ended silently", "superseded", t.token.Superseded())
		return
	}

	if err != nil {
		t.log.Warn("turn failed", "error", err)
		_ = sw.Send(string(types.EventError), types.ErrorEvent{Message: userMessage(err)})
		sw.MarkClosed()
		return
	}

	_ = sw.Send(string(types.EventComplete), types.CompleteEvent{FullText: fullText})
	sw.MarkClosed()
	t.log.Info("turn complete",
		"chars", len(fullText),
		"duration_ms", time.Since(t.started).Milliseconds(),
	)
}

func contextWithOptionalTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

// startKeepalive writes comment frames on a fixed cadence until the returned
// stop function is called or the stream closes under it.
func startKeepalive(sw *sse.Writer, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sw.Ping(); err != nil {
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// userMessage maps an internal error to the string carried by an error
// event. Canonical errors surface their message; anything else is masked.
func userMessage(err error) string {
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "stream exceeded the maximum duration"
	}
	return "internal error"
}

// serveBuffered runs the non-streaming fallback: one JSON body with the
// complete text, optional synthesized audio, and summary headers for
// clients that cannot read the body before inspecting the response kind.
func (t *chatTurn) serveBuffered(w http.ResponseWriter, r *http.Request) {
	message, transcript, err := t.resolveInput(r)
	if err != nil {
		t.h.writeError(w, r, err)
		return
	}

	text, err := t.h.Voice.Agent.Chat(t.token.Context(), message)
	if err != nil {
		if t.silent(r) || core.IsInterruption(err) {
			// The replacement request owns the connection's attention now.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		t.h.writeError(w, r, err)
		return
	}

	resp := types.ChatResponse{
		Transcript: transcript,
		Text:       text,
		LatencyMS:  time.Since(t.started).Milliseconds(),
	}
	responseType := types.ResponseTypeTextOnly

	if t.req.WantsVoice() {
		pcm, err := t.h.Voice.TTS.Synthesize(t.token.Context(), text, t.synthesizeOptions())
		if err != nil {
			t.log.Warn("fallback synthesis failed", "error", err)
		} else {
			resp.Audio = base64.StdEncoding.EncodeToString(pcm)
			responseType = types.ResponseTypeSingle
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Response-Type", responseType)
	if transcript != "" {
		w.Header().Set("X-Transcript", url.QueryEscape(transcript))
	}
	w.Header().Set("X-Response-Text", url.QueryEscape(text))
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Cancel serves POST /v1/chat/cancel: abort the caller's in-flight turn for
// a session without starting a new one.
type Cancel struct {
	Lifecycle *lifecycle.Manager
}

type cancelRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

func (h *Cancel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err == nil && len(body) > 0 {
			_ = json.Unmarshal(body, &req)
		}
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = defaultSessionID
	}

	h.Lifecycle.CancelCurrent(auth.IdentityFrom(r.Context(), sessionID))
	w.WriteHeader(http.StatusNoContent)
}
