package friday

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samwang0723/friday-sub000/pkg/core/types"
)

// Phase tracks a turn through its life. Phases only move forward.
type Phase int32

const (
	// PhasePending: submitted, no event received yet.
	PhasePending Phase = iota
	// PhaseStreaming: events are arriving.
	PhaseStreaming
	// PhaseAnimating: the stream is done but revealed text still trails it.
	PhaseAnimating
	// PhaseComplete: terminal success, animation drained.
	PhaseComplete
	// PhaseFailed: terminal error.
	PhaseFailed
	// PhaseCancelled: ended by Cancel or by a newer turn on the same session.
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseStreaming:
		return "streaming"
	case PhaseAnimating:
		return "animating"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Turn is one submitted chat exchange. Consumers read the channels; all of
// them close when the turn settles. A turn displaced by a newer submission
// on the same session ends in PhaseCancelled with a nil error.
type Turn struct {
	SessionID string

	cancel     context.CancelFunc
	superseded atomic.Bool
	phase      atomic.Int32

	transcriptCh chan string
	displayCh    chan string
	audioCh      chan types.AudioChunk
	statusCh     chan string
	done         chan struct{}

	mu          sync.Mutex
	err         error
	fullText    string
	transcript  string
	startedAt   time.Time
	firstEvent  time.Duration
	sawAnyEvent bool

	tw *typewriter
}

func newTurn(sessionID string, cancel context.CancelFunc) *Turn {
	return &Turn{
		SessionID:    sessionID,
		cancel:       cancel,
		transcriptCh: make(chan string, 1),
		displayCh:    make(chan string, 64),
		audioCh:      make(chan types.AudioChunk, 32),
		statusCh:     make(chan string, 8),
		done:         make(chan struct{}),
		startedAt:    time.Now(),
		tw:           &typewriter{},
	}
}

// Transcript delivers the server's echo of the utterance, at most once: the
// submitted text verbatim, or the speech-to-text result for audio input.
func (t *Turn) Transcript() <-chan string { return t.transcriptCh }

// Display delivers animated text snapshots. Each value is the complete text
// to render, always extending the previous one.
func (t *Turn) Display() <-chan string { return t.displayCh }

// Audio delivers playback-ordered audio chunks.
func (t *Turn) Audio() <-chan types.AudioChunk { return t.audioCh }

// Status delivers informational messages. Safe to ignore entirely.
func (t *Turn) Status() <-chan string { return t.statusCh }

// OnAudio invokes fn once per audio chunk, strictly in playback order, from
// a dedicated goroutine. Call it instead of reading Audio directly; the two
// compete for the same chunks.
func (t *Turn) OnAudio(fn func(index int, pcm []byte)) {
	go func() {
		for chunk := range t.audioCh {
			fn(chunk.Index, chunk.Bytes)
		}
	}()
}

// Done closes when the turn settles.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Err reports how the turn ended. Nil for completion and for cancellation.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// FullText returns the authoritative response text once the turn is done.
func (t *Turn) FullText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fullText
}

// DisplayedText returns the currently revealed text.
func (t *Turn) DisplayedText() string { return t.tw.Shown() }

// TranscriptText returns the echoed utterance once it has arrived.
func (t *Turn) TranscriptText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transcript
}

// Phase returns the turn's current phase.
func (t *Turn) Phase() Phase { return Phase(t.phase.Load()) }

// TimeToFirstEvent reports submission-to-first-event latency. ok is false
// until an event has arrived.
func (t *Turn) TimeToFirstEvent() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstEvent, t.sawAnyEvent
}

// Cancel aborts the turn. Idempotent; the turn settles in PhaseCancelled.
func (t *Turn) Cancel() {
	t.superseded.Store(true)
	t.cancel()
}

func (t *Turn) advance(p Phase) {
	for {
		cur := t.phase.Load()
		if cur >= int32(p) {
			return
		}
		if t.phase.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}

func (t *Turn) markFirstEvent() {
	t.mu.Lock()
	if !t.sawAnyEvent {
		t.sawAnyEvent = true
		t.firstEvent = time.Since(t.startedAt)
	}
	t.mu.Unlock()
	t.advance(PhaseStreaming)
}

// settle finalizes the turn exactly once: records the outcome, closes every
// channel, and releases the context.
func (t *Turn) settle(p Phase, fullText string, err error) {
	select {
	case <-t.done:
		return
	default:
	}

	t.mu.Lock()
	t.fullText = fullText
	t.err = err
	t.mu.Unlock()

	// settle phases override the forward-only ladder.
	t.phase.Store(int32(p))

	close(t.transcriptCh)
	close(t.displayCh)
	close(t.audioCh)
	close(t.statusCh)
	close(t.done)
	t.cancel()
}

// pushDisplay publishes a snapshot, dropping the oldest queued snapshot when
// the consumer lags. Later snapshots strictly contain earlier ones, so a
// drop loses no information.
func (t *Turn) pushDisplay(snapshot string) {
	for {
		select {
		case t.displayCh <- snapshot:
			return
		default:
		}
		select {
		case <-t.displayCh:
		default:
		}
	}
}
