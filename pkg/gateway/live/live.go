// Package live serves the WebSocket transport. It carries the same event
// vocabulary as the SSE stream, framed as JSON text messages, over one
// long-lived connection that accepts many turns.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/samwang0723/friday-sub000/pkg/core"
	"github.com/samwang0723/friday-sub000/pkg/core/types"
	"github.com/samwang0723/friday-sub000/pkg/gateway/auth"
	"github.com/samwang0723/friday-sub000/pkg/gateway/config"
	"github.com/samwang0723/friday-sub000/pkg/gateway/lifecycle"
	"github.com/samwang0723/friday-sub000/pkg/voice"
)

// clientFrame is one inbound message. "chat" starts a turn (displacing any
// turn already running on this connection's identity); "cancel" aborts the
// running turn without starting a new one.
type clientFrame struct {
	Type        string             `json:"type"`
	SessionID   string             `json:"session_id,omitempty"`
	Text        string             `json:"text,omitempty"`
	Audio       string             `json:"audio,omitempty"`
	AudioFormat string             `json:"audio_format,omitempty"`
	Voice       *types.VoiceConfig `json:"voice,omitempty"`
}

// serverFrame is one outbound event. Type carries the event name; the
// remaining fields mirror the SSE payloads.
type serverFrame struct {
	Type     string `json:"type"`
	TurnID   string `json:"turn_id,omitempty"`
	Data     string `json:"data,omitempty"`
	Index    *int   `json:"index,omitempty"`
	Message  string `json:"message,omitempty"`
	FullText string `json:"fullText,omitempty"`
}

// Handler serves GET /v1/live.
type Handler struct {
	Cfg       config.Config
	Logger    *slog.Logger
	Voice     *voice.Adapter
	STT       voice.Transcriber
	Lifecycle *lifecycle.Manager
	Draining  *lifecycle.Draining
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Draining.IsDraining() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		// Origin policy is enforced by the CORS middleware ahead of this
		// handler for browser callers; native clients send no Origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.Cfg.MaxBodyBytes)

	sess := &liveSession{
		h:    h,
		conn: conn,
		ctx:  r.Context(),
		log:  h.logger().With("conn_id", "ws_"+uuid.NewString()),
		principal: func() *auth.Principal {
			p, _ := auth.PrincipalFrom(r.Context())
			return p
		}(),
	}
	sess.run()
}

// liveSession owns one WebSocket connection. All writes go through writeJSON
// so turn goroutines and the ping loop never interleave frames.
type liveSession struct {
	h         *Handler
	conn      *websocket.Conn
	ctx       context.Context
	log       *slog.Logger
	principal *auth.Principal

	writeMu sync.Mutex

	turnMu   sync.Mutex
	turnDone chan struct{} // closed when the current turn's goroutine exits
}

func (s *liveSession) run() {
	stopPings := s.startPings()
	defer stopPings()

	for {
		messageType, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.waitForTurn()
			return
		}
		if messageType != websocket.TextMessage {
			s.sendError("", "frames must be JSON text messages")
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendError("", "frame is not valid JSON")
			continue
		}

		switch frame.Type {
		case "chat":
			s.startTurn(frame)
		case "cancel":
			s.h.Lifecycle.CancelCurrent(s.identity(frame.SessionID))
		default:
			s.sendError("", "unknown frame type "+frame.Type)
		}
	}
}

func (s *liveSession) identity(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = "default"
	}
	return s.principal.Identity(sessionID)
}

// startTurn launches the turn on its own goroutine so the read loop stays
// responsive to cancel frames. Lifecycle.Begin displaces a running turn for
// the same identity; its goroutine winds down silently.
func (s *liveSession) startTurn(frame clientFrame) {
	token := s.h.Lifecycle.Begin(s.ctx, s.identity(frame.SessionID))
	done := make(chan struct{})

	s.turnMu.Lock()
	s.turnDone = done
	s.turnMu.Unlock()

	go func() {
		defer close(done)
		defer token.Detach()
		s.serveTurn(frame, token)
	}()
}

func (s *liveSession) waitForTurn() {
	s.turnMu.Lock()
	done := s.turnDone
	s.turnMu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *liveSession) serveTurn(frame clientFrame, token *lifecycle.Token) {
	turnID := "turn_" + uuid.NewString()
	log := s.log.With("turn_id", turnID)

	req := types.ChatRequest{
		Text:        frame.Text,
		Audio:       frame.Audio,
		AudioFormat: frame.AudioFormat,
		Voice:       frame.Voice,
	}
	audioIn, err := req.Validate(s.h.Cfg.MaxAudioBytes)
	if err != nil {
		s.sendError(turnID, userMessage(err))
		return
	}

	ctx, cancel := context.WithTimeout(token.Context(), s.h.Cfg.SSEMaxStreamDuration)
	defer cancel()

	message := req.Text
	if len(audioIn) > 0 {
		transcript, err := s.h.Voice.Transcribe(ctx, s.h.STT, audioIn, req.AudioFormat)
		if err != nil {
			s.finishTurn(turnID, token, "", err, log)
			return
		}
		if strings.TrimSpace(transcript) == "" {
			s.finishTurn(turnID, token, "", core.NewNoTranscriptError(), log)
			return
		}
		message = transcript
	}
	// Echo the utterance back before any generated output.
	if !s.send(serverFrame{Type: string(types.EventTranscript), TurnID: turnID, Data: message}) {
		return
	}

	text := s.h.Voice.StreamText(ctx, message)

	var ttsSource chan string
	var audio *voice.AudioStream
	if req.WantsVoice() {
		opts := voice.SynthesizeOptions{SampleRate: s.h.Cfg.TTS.SampleRate}
		if frame.Voice != nil {
			if frame.Voice.Voice != "" {
				opts.Voice = frame.Voice.Voice
			}
			opts.Language = frame.Voice.Language
			if frame.Voice.SampleRate > 0 {
				opts.SampleRate = frame.Voice.SampleRate
			}
		}
		if opts.Voice == "" {
			opts.Voice = s.h.Cfg.TTS.VoiceFor(opts.Language)
		}
		ttsSource = make(chan string, 16)
		audio, err = s.h.Voice.StreamSpeechFrom(ctx, ttsSource, opts)
		if err != nil {
			log.Warn("tts unavailable for turn", "error", err)
			ttsSource = nil
			audio = nil
		}
	}

	var wg sync.WaitGroup
	var audioErr error
	if audio != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batches := voice.RebatchAudio(audio.Chunks(), s.h.Cfg.AudioChunkBytes)
			index := 0
			for batch := range batches {
				i := index
				ok := s.send(serverFrame{
					Type:   string(types.EventAudio),
					TurnID: turnID,
					Data:   base64.StdEncoding.EncodeToString(batch),
					Index:  &i,
				})
				if !ok {
					for range batches {
					}
					break
				}
				index++
			}
			audioErr = audio.Err()
		}()
	}

	var fullText strings.Builder
	for delta := range text.Chunks() {
		fullText.WriteString(delta)
		if !s.send(serverFrame{Type: string(types.EventText), TurnID: turnID, Data: delta}) {
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
	wg.Wait()

	err = text.Err()
	if err == nil {
		err = audioErr
	}
	s.finishTurn(turnID, token, fullText.String(), err, log)
}

func (s *liveSession) finishTurn(turnID string, token *lifecycle.Token, fullText string, err error, log *slog.Logger) {
	if token.Superseded() || core.IsInterruption(err) {
		log.Debug("turn ended silently", "superseded", token.Superseded())
		return
	}
	if err != nil {
		log.Warn("turn failed", "error", err)
		s.sendError(turnID, userMessage(err))
		return
	}
	s.send(serverFrame{Type: string(types.EventComplete), TurnID: turnID, FullText: fullText})
}

func (s *liveSession) sendError(turnID, message string) {
	s.send(serverFrame{Type: string(types.EventError), TurnID: turnID, Message: message})
}

func (s *liveSession) send(frame serverFrame) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.h.Cfg.LiveWSWriteTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		return false
	}
	return true
}

func (s *liveSession) startPings() (stop func()) {
	interval := s.h.Cfg.LiveWSPingInterval
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
				s.writeMu.Lock()
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.h.Cfg.LiveWSWriteTimeout))
				err := s.conn.WriteMessage(websocket.PingMessage, nil)
				s.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func userMessage(err error) string {
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr.Message
	}
	return "internal error"
}
