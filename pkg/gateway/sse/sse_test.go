package sse

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendFramesEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := New(rec, context.Background(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sw.Send("text", map[string]string{"data": "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	body := rec.Body.String()
	want := "event: text\ndata: {\"data\":\"hello\"}\n\n"
	if body != want {
		t.Fatalf("frame mismatch:\n got %q\nwant %q", body, want)
	}
}

func TestSendAfterMarkClosed(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := New(rec, context.Background(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sw.MarkClosed()
	if err := sw.Send("text", map[string]string{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("closed writer wrote %q", rec.Body.String())
	}
}

func TestSendAfterContextCancel(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	sw, err := New(rec, ctx, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cancel()
	if err := sw.Send("text", map[string]string{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after cancellation, got %v", err)
	}
	if !sw.Closed() {
		t.Fatal("writer should self-mark closed on cancelled context")
	}
}

// panicWriter simulates a torn-down response sink.
type panicWriter struct {
	*httptest.ResponseRecorder
}

func (p panicWriter) Write([]byte) (int, error) { panic("connection gone") }
func (p panicWriter) Flush()                    {}

func TestSinkPanicDowngradesToClosed(t *testing.T) {
	sw, err := New(panicWriter{httptest.NewRecorder()}, context.Background(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sw.Send("text", map[string]string{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from panicking sink, got %v", err)
	}
	if !sw.Closed() {
		t.Fatal("panic should mark the stream closed")
	}
	// Subsequent writes stay no-ops rather than re-panicking.
	if err := sw.Send("text", map[string]string{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on retry, got %v", err)
	}
}

func TestPingWritesComment(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := New(rec, context.Background(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sw.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !strings.HasPrefix(rec.Body.String(), ": ") {
		t.Fatalf("keepalive should be a comment frame, got %q", rec.Body.String())
	}
}
