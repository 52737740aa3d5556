package friday

import "github.com/samwang0723/friday-sub000/pkg/core/types"

// audioReorderBuffer restores producer order for audio chunks that may
// arrive shuffled. Indices are zero-based and gap-free at the producer, so
// the buffer only ever waits for exactly one index: the next one.
type audioReorderBuffer struct {
	next    int
	pending map[int]types.AudioChunk
}

func newAudioReorderBuffer() *audioReorderBuffer {
	return &audioReorderBuffer{pending: make(map[int]types.AudioChunk)}
}

// Add accepts one chunk and returns every chunk that is now deliverable in
// order. A chunk at an index already delivered is dropped as a duplicate.
func (b *audioReorderBuffer) Add(chunk types.AudioChunk) []types.AudioChunk {
	if chunk.Index < b.next {
		return nil
	}
	b.pending[chunk.Index] = chunk

	var ready []types.AudioChunk
	for {
		c, ok := b.pending[b.next]
		if !ok {
			return ready
		}
		delete(b.pending, b.next)
		b.next++
		ready = append(ready, c)
	}
}

// Pending reports how many chunks are stuck behind a missing index.
func (b *audioReorderBuffer) Pending() int {
	return len(b.pending)
}

// Delivered reports how many chunks have been released in order.
func (b *audioReorderBuffer) Delivered() int {
	return b.next
}
