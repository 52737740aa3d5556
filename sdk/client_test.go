package friday

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samwang0723/friday-sub000/pkg/core"
	"github.com/samwang0723/friday-sub000/pkg/core/types"
)

func newTestClient(baseURL string) *Client {
	return NewClient(
		WithBaseURL(baseURL),
		WithTypingInterval(time.Millisecond),
	)
}

type sseSink struct {
	w http.ResponseWriter
	f http.Flusher
}

func startSSE(t *testing.T, w http.ResponseWriter) *sseSink {
	t.Helper()
	f, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("test server does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("X-Response-Type", types.ResponseTypeSSEStream)
	w.WriteHeader(http.StatusOK)
	return &sseSink{w: w, f: f}
}

func (s *sseSink) event(name string, payload any) {
	b, _ := json.Marshal(payload)
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, b)
	s.f.Flush()
}

func (s *sseSink) raw(frame string) {
	fmt.Fprint(s.w, frame)
	s.f.Flush()
}

func waitDone(t *testing.T, turn *Turn) {
	t.Helper()
	select {
	case <-turn.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("turn did not settle; phase %s", turn.Phase())
	}
}

func TestChatStreamDelivery(t *testing.T) {
	audioPayload := func(index int, b string) types.AudioEvent {
		return types.AudioEvent{Data: base64.StdEncoding.EncodeToString([]byte(b)), Index: index}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := startSSE(t, w)
		s.event("transcript", types.TranscriptEvent{Data: "say hello"})
		s.event("text", types.TextEvent{Data: "Hel"})
		s.event("text", types.TextEvent{Data: "lo"})
		// Audio arrives shuffled; the client restores producer order.
		s.event("audio", audioPayload(2, "c"))
		s.event("audio", audioPayload(0, "a"))
		s.event("audio", audioPayload(1, "b"))
		s.event("complete", types.CompleteEvent{FullText: "Hello"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	turn, err := c.Chat(context.Background(), ChatParams{Text: "say hello"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	var audio []types.AudioChunk
	audioDone := make(chan struct{})
	go func() {
		defer close(audioDone)
		for chunk := range turn.Audio() {
			audio = append(audio, chunk)
		}
	}()

	var lastDisplay string
	for snapshot := range turn.Display() {
		lastDisplay = snapshot
	}
	waitDone(t, turn)
	<-audioDone

	if turn.Phase() != PhaseComplete {
		t.Fatalf("phase = %s", turn.Phase())
	}
	if err := turn.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if turn.FullText() != "Hello" {
		t.Fatalf("FullText = %q", turn.FullText())
	}
	if lastDisplay != "Hello" {
		t.Fatalf("final display = %q", lastDisplay)
	}
	if turn.TranscriptText() != "say hello" {
		t.Fatalf("transcript = %q", turn.TranscriptText())
	}

	if len(audio) != 3 {
		t.Fatalf("audio chunks = %d", len(audio))
	}
	for i, chunk := range audio {
		if chunk.Index != i {
			t.Fatalf("audio[%d].Index = %d", i, chunk.Index)
		}
	}
	if string(audio[0].Bytes)+string(audio[1].Bytes)+string(audio[2].Bytes) != "abc" {
		t.Fatal("audio bytes out of order")
	}

	if _, ok := turn.TimeToFirstEvent(); !ok {
		t.Fatal("first-event latency not recorded")
	}
}

func TestChatImplicitCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := startSSE(t, w)
		s.event("text", types.TextEvent{Data: "partial answer"})
		// Stream ends with no terminal event.
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	turn, err := c.Chat(context.Background(), ChatParams{Text: "hi"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	waitDone(t, turn)

	if turn.Phase() != PhaseComplete {
		t.Fatalf("phase = %s, want complete on silent stream end", turn.Phase())
	}
	if turn.FullText() != "partial answer" {
		t.Fatalf("FullText = %q", turn.FullText())
	}
}

func TestChatSkipsMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := startSSE(t, w)
		s.raw("event: text\ndata: {not json\n\n")
		s.raw("event: wobble\ndata: {}\n\n")
		s.event("text", types.TextEvent{Data: "survived"})
		s.event("complete", types.CompleteEvent{FullText: "survived"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	turn, err := c.Chat(context.Background(), ChatParams{Text: "hi"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	waitDone(t, turn)

	if turn.Phase() != PhaseComplete {
		t.Fatalf("phase = %s", turn.Phase())
	}
	if turn.FullText() != "survived" {
		t.Fatalf("FullText = %q", turn.FullText())
	}
}

func TestChatErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := startSSE(t, w)
		s.event("text", types.TextEvent{Data: "some"})
		s.event("error", types.ErrorEvent{Message: "upstream exploded"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	turn, err := c.Chat(context.Background(), ChatParams{Text: "hi"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	waitDone(t, turn)

	if turn.Phase() != PhaseFailed {
		t.Fatalf("phase = %s", turn.Phase())
	}
	var coreErr *core.Error
	if !errors.As(turn.Err(), &coreErr) {
		t.Fatalf("Err = %v, want *core.Error", turn.Err())
	}
	if coreErr.Message != "upstream exploded" {
		t.Fatalf("message = %q", coreErr.Message)
	}
	// Everything streamed so far stays visible.
	if turn.DisplayedText() != "some" {
		t.Fatalf("displayed = %q", turn.DisplayedText())
	}
}

func TestChatHTTPErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"rate limit exceeded"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Chat(context.Background(), ChatParams{Text: "hi"})

	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		t.Fatalf("err = %v, want *core.Error", err)
	}
	if coreErr.Type != core.ErrRateLimit {
		t.Fatalf("type = %q", coreErr.Type)
	}
}

func TestChatTransportError(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1") // nothing listens here

	_, err := c.Chat(context.Background(), ChatParams{Text: "hi"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
}

func TestChatPreemptsSameSession(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := startSSE(t, w)
		if calls.Add(1) == 1 {
			s.event("text", types.TextEvent{Data: "first"})
			<-r.Context().Done()
			return
		}
		s.event("text", types.TextEvent{Data: "second"})
		s.event("complete", types.CompleteEvent{FullText: "second"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	first, err := c.Chat(context.Background(), ChatParams{SessionID: "s", Text: "one"})
	if err != nil {
		t.Fatalf("first Chat: %v", err)
	}

	// Let the first turn receive something before displacing it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := first.TimeToFirstEvent(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first turn never saw an event")
		}
		time.Sleep(time.Millisecond)
	}

	second, err := c.Chat(context.Background(), ChatParams{SessionID: "s", Text: "two"})
	if err != nil {
		t.Fatalf("second Chat: %v", err)
	}

	waitDone(t, first)
	waitDone(t, second)

	if first.Phase() != PhaseCancelled {
		t.Fatalf("first phase = %s, want cancelled", first.Phase())
	}
	if err := first.Err(); err != nil {
		t.Fatalf("displaced turn must end without error, got %v", err)
	}
	if second.Phase() != PhaseComplete {
		t.Fatalf("second phase = %s", second.Phase())
	}
	if second.FullText() != "second" {
		t.Fatalf("second FullText = %q", second.FullText())
	}
}

func TestChatDistinctSessionsRunConcurrently(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := startSSE(t, w)
		s.event("complete", types.CompleteEvent{FullText: "done"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	a, err := c.Chat(context.Background(), ChatParams{SessionID: "a", Text: "x"})
	if err != nil {
		t.Fatalf("Chat a: %v", err)
	}
	b, err := c.Chat(context.Background(), ChatParams{SessionID: "b", Text: "y"})
	if err != nil {
		t.Fatalf("Chat b: %v", err)
	}

	waitDone(t, a)
	waitDone(t, b)
	if a.Phase() != PhaseComplete || b.Phase() != PhaseComplete {
		t.Fatalf("phases = %s, %s", a.Phase(), b.Phase())
	}
}

func TestChatBufferedFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Response-Type", types.ResponseTypeSingle)
		_ = json.NewEncoder(w).Encode(types.ChatResponse{
			Transcript: "spoken words",
			Text:       "a full reply",
			Audio:      base64.StdEncoding.EncodeToString([]byte("pcm")),
			LatencyMS:  12,
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	turn, err := c.Chat(context.Background(), ChatParams{Text: "hi", Buffered: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	var audio []types.AudioChunk
	audioDone := make(chan struct{})
	go func() {
		defer close(audioDone)
		for chunk := range turn.Audio() {
			audio = append(audio, chunk)
		}
	}()

	waitDone(t, turn)
	<-audioDone

	if turn.Phase() != PhaseComplete {
		t.Fatalf("phase = %s", turn.Phase())
	}
	if turn.FullText() != "a full reply" {
		t.Fatalf("FullText = %q", turn.FullText())
	}
	if turn.TranscriptText() != "spoken words" {
		t.Fatalf("transcript = %q", turn.TranscriptText())
	}
	if len(audio) != 1 || string(audio[0].Bytes) != "pcm" {
		t.Fatalf("audio = %v", audio)
	}
}

func TestClientCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := startSSE(t, w)
		s.event("text", types.TextEvent{Data: "running"})
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	turn, err := c.Chat(context.Background(), ChatParams{SessionID: "s", Text: "x"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	c.Cancel("s")
	waitDone(t, turn)

	if turn.Phase() != PhaseCancelled {
		t.Fatalf("phase = %s", turn.Phase())
	}
	if turn.Err() != nil {
		t.Fatalf("cancelled turn must end without error, got %v", turn.Err())
	}
}

func TestChatRequiresInput(t *testing.T) {
	c := newTestClient("http://unused")
	if _, err := c.Chat(context.Background(), ChatParams{}); err == nil {
		t.Fatal("empty params should be rejected before any request is sent")
	}
}
