package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/samwang0723/friday-sub000/pkg/core"
)

var tracer = otel.Tracer("github.com/samwang0723/friday-sub000/pkg/voice")

// DefaultStreamIdleTimeout bounds how long either upstream may go quiet.
const DefaultStreamIdleTimeout = 30 * time.Second

// Adapter wraps the agent and TTS collaborators behind cancellable streams.
// Both stream kinds observe their context: a context cancelled before start
// yields an already-closed channel and no error; a context cancelled
// mid-stream stops delivery within one read cycle and reports
// ErrStreamInterrupted, which callers that requested the cancellation
// themselves treat as a clean end. An idle upstream is aborted after
// IdleTimeout and reported distinctly as ErrStreamTimeout.
type Adapter struct {
	Agent       ChatStreamer
	TTS         Synthesizer
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

func (a *Adapter) idleTimeout() time.Duration {
	if a.IdleTimeout > 0 {
		return a.IdleTimeout
	}
	return DefaultStreamIdleTimeout
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// TextStream delivers agent text deltas. Err is meaningful once Chunks has
// closed.
type TextStream struct {
	ch   chan string
	done chan struct{}

	errMu sync.Mutex
	err   error
}

// Chunks returns the delta channel.
func (s *TextStream) Chunks() <-chan string { return s.ch }

// Err reports how the stream ended. It blocks until the stream settles.
func (s *TextStream) Err() error {
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *TextStream) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// StreamText opens the agent token stream for message.
func (a *Adapter) StreamText(ctx context.Context, message string) *TextStream {
	s := &TextStream{
		ch:   make(chan string, 16),
		done: make(chan struct{}),
	}

	if ctx.Err() != nil {
		close(s.ch)
		close(s.done)
		return s
	}

	go func() {
		defer close(s.done)

		ctx, span := tracer.Start(ctx, "agent text stream")
		defer span.End()

		inner, cancel := context.WithCancel(ctx)
		defer cancel()

		var timedOut atomic.Bool
		idle := a.idleTimeout()
		watchdog := time.AfterFunc(idle, func() {
			timedOut.Store(true)
			cancel()
		})

		err := a.Agent.ChatStream(inner, message, func(delta string) error {
			watchdog.Reset(idle)
			select {
			case s.ch <- delta:
				return nil
			case <-inner.Done():
				return inner.Err()
			}
		})
		watchdog.Stop()
		close(s.ch)

		switch {
		case err == nil:
		case timedOut.Load():
			err = core.NewStreamTimeoutError("agent produced no data within the idle window")
			span.SetStatus(codes.Error, err.Error())
		case errors.Is(err, context.Canceled):
			err = core.NewStreamInterruptedError()
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.setErr(err)
	}()

	return s
}

// AudioStream delivers synthesized PCM chunks. Err is meaningful once
// Chunks has closed.
type AudioStream struct {
	ch   chan []byte
	done chan struct{}

	errMu sync.Mutex
	err   error
}

// Chunks returns the audio channel.
func (s *AudioStream) Chunks() <-chan []byte { return s.ch }

// Err reports how the stream ended. It blocks until the stream settles.
func (s *AudioStream) Err() error {
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *AudioStream) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// StreamSpeechFrom synthesizes incrementally from a live text sequence,
// buffering to sentence boundaries before each TTS sub-request.
func (a *Adapter) StreamSpeechFrom(ctx context.Context, source <-chan string, opts SynthesizeOptions) (*AudioStream, error) {
	s := &AudioStream{
		ch:   make(chan []byte, 16),
		done: make(chan struct{}),
	}

	if ctx.Err() != nil {
		close(s.ch)
		close(s.done)
		return s, nil
	}

	ttsCtx, err := a.TTS.NewStreamingContext(ctx, opts)
	if err != nil {
		return nil, err
	}
	stream := NewStreamingTTS(ttsCtx)

	// Feed stage: text in, sentence-chunked synthesis requests out.
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = stream.Close()
				return
			case delta, ok := <-source:
				if !ok {
					if err := stream.Flush(); err != nil {
						a.logger().Debug("tts flush failed", "error", err)
					}
					_ = ttsCtx.Close()
					return
				}
				if err := stream.OnTextDelta(delta); err != nil {
					a.logger().Debug("tts delta rejected", "error", err)
					return
				}
			}
		}
	}()

	// Forward stage: audio out, with the same cancellation semantics as text.
	go func() {
		defer close(s.done)

		_, span := tracer.Start(ctx, "tts audio stream")
		defer span.End()

		for chunk := range stream.Audio() {
			select {
			case s.ch <- chunk:
			case <-ctx.Done():
				close(s.ch)
				s.setErr(core.NewStreamInterruptedError())
				// Unblock the producer so the session can tear down.
				for range stream.Audio() {
				}
				return
			}
		}
		close(s.ch)

		err := stream.Err()
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, ErrContextClosed):
			err = core.NewStreamInterruptedError()
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.setErr(err)
	}()

	return s, nil
}

// RebatchAudio re-slices a PCM chunk stream into batches of exactly size
// bytes, accumulating small chunks and splitting large ones. Only the final
// batch may be shorter. A size of zero or less passes chunks through
// unchanged.
func RebatchAudio(in <-chan []byte, size int) <-chan []byte {
	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		if size <= 0 {
			for chunk := range in {
				out <- chunk
			}
			return
		}
		var pending []byte
		for chunk := range in {
			pending = append(pending, chunk...)
			for len(pending) >= size {
				batch := make([]byte, size)
				copy(batch, pending)
				pending = pending[size:]
				out <- batch
			}
		}
		if len(pending) > 0 {
			out <- append([]byte(nil), pending...)
		}
	}()
	return out
}

// StreamSpeech synthesizes one complete string.
func (a *Adapter) StreamSpeech(ctx context.Context, text string, opts SynthesizeOptions) (*AudioStream, error) {
	source := make(chan string, 1)
	source <- text
	close(source)
	return a.StreamSpeechFrom(ctx, source, opts)
}

// Transcribe runs speech-to-text within a span. An empty transcript maps to
// ErrNoTranscript at the caller, not here.
func (a *Adapter) Transcribe(ctx context.Context, stt Transcriber, audio []byte, format string) (string, error) {
	ctx, span := tracer.Start(ctx, "transcribe")
	defer span.End()

	text, err := stt.Transcribe(ctx, audio, format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}
