package friday

import (
	"strings"
	"sync"
	"time"
)

// DefaultTypingInterval is the reveal cadence for animated text.
const DefaultTypingInterval = 25 * time.Millisecond

// Ticker abstracts the animation clock so tests can drive reveals manually.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds the animation clock for one turn.
type TickerFactory func(interval time.Duration) Ticker

type wallTicker struct {
	t *time.Ticker
}

func newWallTicker(interval time.Duration) Ticker {
	return &wallTicker{t: time.NewTicker(interval)}
}

func (w *wallTicker) C() <-chan time.Time { return w.t.C }
func (w *wallTicker) Stop()               { w.t.Stop() }

// typewriter reveals streamed text one rune per tick, holding the invariant
// that the revealed text only ever grows. A reconcile that contradicts
// already-revealed text keeps what is on screen and continues with the
// authoritative tail.
type typewriter struct {
	mu     sync.Mutex
	target []rune
	shown  int
	final  bool
}

// Append extends the target with a streamed delta.
func (t *typewriter) Append(delta string) {
	if delta == "" {
		return
	}
	t.mu.Lock()
	t.target = append(t.target, []rune(delta)...)
	t.mu.Unlock()
}

// Reconcile aligns the target with the authoritative full text from the
// terminal event. Streamed deltas normally concatenate to exactly this
// string; when they do not, the full text wins from the first divergent rune
// onward.
func (t *typewriter) Reconcile(full string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := string(t.target)
	if full == current {
		t.final = true
		return
	}
	if strings.HasPrefix(full, current) {
		t.target = append(t.target, []rune(full[len(current):])...)
		t.final = true
		return
	}

	fullRunes := []rune(full)
	common := 0
	for common < len(fullRunes) && common < len(t.target) && fullRunes[common] == t.target[common] {
		common++
	}
	switch {
	case t.shown <= common:
		// The disagreement is still unrevealed; the authoritative text
		// simply replaces the tail.
		t.target = fullRunes
	case len(fullRunes) > t.shown:
		// Revealed runes already disagree. Keep them on screen and append
		// the authoritative remainder rather than unrevealing anything.
		t.target = append(t.target[:t.shown], fullRunes[t.shown:]...)
	default:
		// Authoritative text is shorter than the display; freeze as shown.
		t.target = t.target[:t.shown]
	}
	t.final = true
}

// Finish marks the target complete without changing it. Used when a stream
// ends with no terminal event.
func (t *typewriter) Finish() {
	t.mu.Lock()
	t.final = true
	t.mu.Unlock()
}

// Tick reveals up to n more runes and returns the new display snapshot.
// ok is false when nothing changed.
func (t *typewriter) Tick(n int) (string, bool) {
	if n < 1 {
		n = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shown >= len(t.target) {
		return string(t.target[:t.shown]), false
	}
	t.shown += n
	if t.shown > len(t.target) {
		t.shown = len(t.target)
	}
	return string(t.target[:t.shown]), true
}

// RevealAll skips the remaining animation, returning the full display.
func (t *typewriter) RevealAll() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shown = len(t.target)
	return string(t.target)
}

// Done reports whether the animation has drained: target is final and every
// rune is revealed.
func (t *typewriter) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.final && t.shown >= len(t.target)
}

// Shown returns the current display snapshot.
func (t *typewriter) Shown() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.target[:t.shown])
}

// tickStep sizes the per-tick reveal so long responses do not lag minutes
// behind the stream: roughly 1/40th of the backlog, at least one rune.
func tickStep(backlog int) int {
	step := backlog / 40
	if step < 1 {
		step = 1
	}
	return step
}

// runeBacklog measures how far the display trails the target.
func (t *typewriter) runeBacklog() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.target) - t.shown
}
