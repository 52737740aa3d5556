package voice

import (
	"strings"
	"testing"
)

func TestSentenceBufferDispatchesAtBoundary(t *testing.T) {
	b := NewSentenceBuffer()

	chunks := b.Add("This is a complete sentence that is long enough. And more")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != "This is a complete sentence that is long enough." {
		t.Fatalf("unexpected chunk: %q", chunks[0])
	}
	if got := b.Pending(); strings.TrimSpace(got) != "And more" {
		t.Fatalf("unexpected pending text: %q", got)
	}
}

func TestSentenceBufferHoldsShortSentences(t *testing.T) {
	b := NewSentenceBuffer()

	if chunks := b.Add("Hi. "); len(chunks) != 0 {
		t.Fatalf("short sentence should accumulate, got %q", chunks)
	}
	if chunks := b.Add("Ok. "); len(chunks) != 0 {
		t.Fatalf("short sentences should keep accumulating, got %q", chunks)
	}

	// The next boundary past the minimum releases everything held so far.
	chunks := b.Add("Now this adds up to enough text. ")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %q", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[0], "Hi. Ok.") {
		t.Fatalf("held text should lead the chunk: %q", chunks[0])
	}
}

func TestSentenceBufferForcesOversizeDispatch(t *testing.T) {
	b := NewSentenceBuffer()

	long := strings.Repeat("word ", 30) // 150 chars, no terminator
	chunks := b.Add(long)
	if len(chunks) == 0 {
		t.Fatal("oversize pending text should dispatch without a boundary")
	}
	for _, c := range chunks {
		if len(c) > maxDispatchChars {
			t.Fatalf("chunk exceeds max dispatch size: %d chars", len(c))
		}
	}
}

func TestSentenceBufferIgnoresAbbreviations(t *testing.T) {
	b := NewSentenceBuffer()

	chunks := b.Add("Dr. Smith arrived at the clinic early today. ")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != "Dr. Smith arrived at the clinic early today." {
		t.Fatalf("abbreviation split the sentence: %q", chunks[0])
	}
}

func TestSentenceBufferFlush(t *testing.T) {
	b := NewSentenceBuffer()
	b.Add("trailing fragment without a terminator")

	if got := b.Flush(); got != "trailing fragment without a terminator" {
		t.Fatalf("unexpected flush result: %q", got)
	}
	if got := b.Flush(); got != "" {
		t.Fatalf("second flush should be empty, got %q", got)
	}
}
