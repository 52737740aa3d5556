package friday

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/samwang0723/friday-sub000/pkg/core/types"
)

// pumpMsg carries one decoded event or a transport failure from the read
// goroutine to the turn driver.
type pumpMsg struct {
	ev  types.Event
	err error
}

// readEvents decodes frames until the stream ends. Malformed frames are
// skipped: one corrupt event must not kill a stream that is otherwise
// delivering. Delivery stops after the first terminal event even if the
// server keeps talking.
func (c *Client) readEvents(ctx context.Context, r *sseReader, out chan<- pumpMsg) {
	defer close(out)

	for {
		name, payload, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			select {
			case out <- pumpMsg{err: &TransportError{Op: "read stream", Err: err}}:
			case <-ctx.Done():
			}
			return
		}

		ev, err := types.DecodeEvent(name, payload)
		if err != nil {
			c.logger.Debug("skipping undecodable event", "event", name, "error", err)
			continue
		}

		select {
		case out <- pumpMsg{ev: ev}:
		case <-ctx.Done():
			return
		}
		if ev.Type.IsTerminal() {
			return
		}
	}
}

// drive owns a turn from first event to settlement. It multiplexes decoded
// events with the animation clock, reorders audio, and guarantees the turn
// settles exactly once. Completion waits for the animation to drain so the
// displayed text never jumps.
func (c *Client) drive(ctx context.Context, turn *Turn, events <-chan pumpMsg, ticker Ticker) {
	defer ticker.Stop()

	reorder := newAudioReorderBuffer()
	var accumulated []byte

	finished := false // stream has ended
	var streamErr error
	fullText := ""

	settleNow := func() {
		switch {
		case streamErr != nil:
			turn.pushDisplay(turn.tw.RevealAll())
			turn.settle(PhaseFailed, string(accumulated), streamErr)
		default:
			if fullText == "" {
				fullText = string(accumulated)
			}
			turn.settle(PhaseComplete, fullText, nil)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if turn.superseded.Load() {
				turn.settle(PhaseCancelled, string(accumulated), nil)
			} else {
				turn.settle(PhaseFailed, string(accumulated), ctx.Err())
			}
			return

		case <-ticker.C():
			if snapshot, changed := turn.tw.Tick(tickStep(turn.tw.runeBacklog())); changed {
				turn.pushDisplay(snapshot)
			}
			if finished && turn.tw.Done() {
				settleNow()
				return
			}

		case msg, ok := <-events:
			if !ok {
				// The read goroutine also exits on cancellation; that must
				// not masquerade as implicit completion.
				if ctx.Err() != nil {
					if turn.superseded.Load() {
						turn.settle(PhaseCancelled, string(accumulated), nil)
					} else {
						turn.settle(PhaseFailed, string(accumulated), ctx.Err())
					}
					return
				}
				if finished {
					continue
				}
				// Stream closed without a terminal event: implicit success
				// with whatever text accumulated.
				finished = true
				turn.tw.Finish()
				turn.advance(PhaseAnimating)
				if turn.tw.Done() {
					settleNow()
					return
				}
				continue
			}
			if msg.err != nil {
				turn.pushDisplay(turn.tw.RevealAll())
				turn.settle(PhaseFailed, string(accumulated), msg.err)
				return
			}

			turn.markFirstEvent()
			switch msg.ev.Type {
			case types.EventTranscript:
				turn.mu.Lock()
				turn.transcript = msg.ev.Transcript
				turn.mu.Unlock()
				select {
				case turn.transcriptCh <- msg.ev.Transcript:
				default:
				}

			case types.EventText:
				accumulated = append(accumulated, msg.ev.Text...)
				turn.tw.Append(msg.ev.Text)

			case types.EventAudio:
				for _, chunk := range reorder.Add(msg.ev.Audio) {
					select {
					case turn.audioCh <- chunk:
					case <-ctx.Done():
					}
				}

			case types.EventStatus:
				select {
				case turn.statusCh <- msg.ev.Status:
				default:
				}

			case types.EventComplete:
				finished = true
				fullText = msg.ev.FullText
				turn.tw.Reconcile(fullText)
				turn.advance(PhaseAnimating)
				if turn.tw.Done() {
					settleNow()
					return
				}

			case types.EventError:
				finished = true
				streamErr = errorFromEvent(msg.ev.Message)
				turn.tw.Finish()
				settleNow()
				return
			}
		}
	}
}

// pumpBuffered feeds a non-streaming fallback response through the same
// animation path, so callers observe identical behavior either way.
func (c *Client) pumpBuffered(ctx context.Context, turn *Turn, resp bufferedResponse, ticker Ticker) {
	events := make(chan pumpMsg, 4)
	if resp.Transcript != "" {
		events <- pumpMsg{ev: types.Event{Type: types.EventTranscript, Transcript: resp.Transcript}}
	}
	if resp.Text != "" {
		events <- pumpMsg{ev: types.Event{Type: types.EventText, Text: resp.Text}}
	}
	if len(resp.Audio) > 0 {
		events <- pumpMsg{ev: types.Event{
			Type:  types.EventAudio,
			Audio: types.AudioChunk{Index: 0, Bytes: resp.Audio},
		}}
	}
	events <- pumpMsg{ev: types.Event{Type: types.EventComplete, FullText: resp.Text}}
	close(events)

	c.drive(ctx, turn, events, ticker)
}

type bufferedResponse struct {
	Transcript string
	Text       string
	Audio      []byte
	Latency    time.Duration
}
