package voice

import (
	"errors"
	"strings"
	"sync"
)

var errNoTTSContext = errors.New("streaming tts is not initialized")

// StreamingTTS turns streamed text deltas into a streaming audio sequence,
// chunking text with a SentenceBuffer before each synthesis sub-request.
type StreamingTTS struct {
	session *StreamingContext
	buf     *SentenceBuffer

	audioCh chan []byte
	doneCh  chan struct{}

	mu  sync.Mutex
	err error
}

// NewStreamingTTS wires a sentence-chunked text feed into session and starts
// forwarding audio.
func NewStreamingTTS(session *StreamingContext) *StreamingTTS {
	s := &StreamingTTS{
		session: session,
		buf:     NewSentenceBuffer(),
		audioCh: make(chan []byte, 100),
		doneCh:  make(chan struct{}),
	}
	go s.forward()
	return s
}

// forward pumps synthesized audio from the session to consumers until the
// session finishes or is torn down.
func (s *StreamingTTS) forward() {
	defer close(s.doneCh)
	defer close(s.audioCh)

	if s.session == nil {
		s.recordErr(errNoTTSContext)
		return
	}

	for {
		select {
		case chunk, ok := <-s.session.Audio():
			if !ok {
				s.recordErr(s.session.Err())
				return
			}
			s.emit(chunk)
		case <-s.session.Done():
			s.drainRemaining()
			s.recordErr(s.session.Err())
			return
		}
	}
}

// drainRemaining forwards whatever the session already produced before it
// closed, without blocking on further production.
func (s *StreamingTTS) drainRemaining() {
	for {
		select {
		case chunk, ok := <-s.session.Audio():
			if !ok {
				return
			}
			s.emit(chunk)
		default:
			return
		}
	}
}

func (s *StreamingTTS) emit(chunk []byte) {
	if len(chunk) > 0 {
		s.audioCh <- chunk
	}
}

// OnTextDelta consumes incremental text and dispatches completed chunks to
// the synthesis session.
func (s *StreamingTTS) OnTextDelta(text string) error {
	if s == nil || s.session == nil {
		return errNoTTSContext
	}
	if err := s.Err(); err != nil {
		return err
	}
	for _, chunk := range s.buf.Add(text) {
		if err := s.session.SendText(chunk, false); err != nil {
			s.recordErr(err)
			_ = s.session.Close()
			return err
		}
	}
	return nil
}

// Flush sends any remaining buffered text and signals completion.
func (s *StreamingTTS) Flush() error {
	if s == nil || s.session == nil {
		return errNoTTSContext
	}
	if err := s.Err(); err != nil {
		return err
	}

	var err error
	if tail := strings.TrimSpace(s.buf.Flush()); tail != "" {
		err = s.session.SendText(tail, true)
	} else {
		err = s.session.Flush()
	}
	if err != nil {
		s.recordErr(err)
	}
	return err
}

// Close tears down the synthesis session and waits for forwarding to stop.
func (s *StreamingTTS) Close() error {
	if s == nil || s.session == nil {
		return nil
	}
	_ = s.session.Close()
	<-s.doneCh
	return s.Err()
}

// Audio returns the forwarded audio channel. It closes when synthesis is
// complete or the session is torn down.
func (s *StreamingTTS) Audio() <-chan []byte {
	if s == nil {
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	return s.audioCh
}

// Err returns the first synthesis error, if any.
func (s *StreamingTTS) Err() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *StreamingTTS) recordErr(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}
