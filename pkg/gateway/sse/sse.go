// Package sse frames events onto an HTTP response in the Server-Sent-Events
// wire format.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// ErrClosed is returned for every write attempted after the stream is
// closed. Callers treat it as "stop producing", never as a failure to
// propagate.
var ErrClosed = errors.New("sse: stream closed")

// Writer serializes events onto one HTTP response. Every write checks the
// closed flag and the request's cancellation signal before touching the
// sink; a failed write marks the stream closed instead of propagating, so a
// torn-down client connection can never crash the request handler.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New prepares w for event streaming. ctx is the request's cancellation
// signal; once it fires all writes become no-ops.
func New(w http.ResponseWriter, ctx context.Context, logger *slog.Logger) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{w: w, flusher: f, ctx: ctx, logger: logger}, nil
}

// Send frames one event. Returns ErrClosed if the stream is unusable.
func (sw *Writer) Send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrClosed
	}
	if sw.ctx != nil && sw.ctx.Err() != nil {
		sw.closed = true
		return ErrClosed
	}

	if err := sw.write(event, b); err != nil {
		sw.closed = true
		sw.logger.Debug("sse write failed, marking stream closed", "event", event, "error", err)
		return ErrClosed
	}
	sw.flusher.Flush()
	return nil
}

// write performs the raw frame write with a panic guard: a sink that is
// already torn down must downgrade to a closed stream, not a crash.
func (sw *Writer) write(event string, payload []byte) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("sink panicked: %v", recovered)
		}
	}()

	if _, err := fmt.Fprintf(sw.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return nil
}

// Ping writes an SSE comment frame. Proxies and browsers drop idle
// connections; a periodic comment keeps the stream alive without emitting a
// decodable event.
func (sw *Writer) Ping() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrClosed
	}
	if sw.ctx != nil && sw.ctx.Err() != nil {
		sw.closed = true
		return ErrClosed
	}
	if err := sw.writeComment("keepalive"); err != nil {
		sw.closed = true
		return ErrClosed
	}
	sw.flusher.Flush()
	return nil
}

func (sw *Writer) writeComment(text string) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("sink panicked: %v", recovered)
		}
	}()
	_, err = fmt.Fprintf(sw.w, ": %s\n\n", text)
	return err
}

// Closed reports whether the stream has been marked unusable.
func (sw *Writer) Closed() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.closed
}

// MarkClosed makes every subsequent write a no-op.
func (sw *Writer) MarkClosed() {
	sw.mu.Lock()
	sw.closed = true
	sw.mu.Unlock()
}
