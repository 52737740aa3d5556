package voice

import (
	"strings"
)

const (
	// Dispatch thresholds: completed sentences shorter than minDispatchChars
	// keep accumulating so the TTS provider is not flooded with tiny
	// requests; pending text longer than maxDispatchChars is dispatched even
	// without a sentence boundary to bound latency.
	minDispatchChars = 20
	maxDispatchChars = 100
)

// SentenceBuffer accumulates streamed text and releases it in chunks aligned
// to sentence boundaries, subject to the dispatch thresholds above.
type SentenceBuffer struct {
	buffer strings.Builder
}

// NewSentenceBuffer creates a new sentence buffer.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{}
}

// Add appends text and returns any chunks ready for synthesis.
func (b *SentenceBuffer) Add(text string) []string {
	b.buffer.WriteString(text)

	content := b.buffer.String()
	var chunks []string

	lastEnd := 0
	for i := 0; i < len(content); i++ {
		boundary := isSentenceEnd(content, i)
		oversize := i-lastEnd+1 >= maxDispatchChars
		if !boundary && !oversize {
			continue
		}
		if boundary && i-lastEnd+1 < minDispatchChars {
			// Too small on its own; let it ride with the next sentence.
			continue
		}
		chunk := strings.TrimSpace(content[lastEnd : i+1])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		lastEnd = i + 1
	}

	if lastEnd > 0 {
		b.buffer.Reset()
		b.buffer.WriteString(content[lastEnd:])
	}

	return chunks
}

// Flush returns any remaining text and clears the buffer.
func (b *SentenceBuffer) Flush() string {
	result := strings.TrimSpace(b.buffer.String())
	b.buffer.Reset()
	return result
}

// Pending returns the current pending text without clearing.
func (b *SentenceBuffer) Pending() string {
	return b.buffer.String()
}

// isSentenceEnd checks if position i is a sentence boundary.
func isSentenceEnd(s string, i int) bool {
	if i >= len(s) {
		return false
	}

	c := s[i]
	if c != '.' && c != '!' && c != '?' {
		return false
	}

	if c == '.' && isAbbreviation(s, i) {
		return false
	}

	// Needs whitespace or end of input after the terminator.
	if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\n' && s[i+1] != '\r' && s[i+1] != '\t' {
		return false
	}

	return true
}

// isAbbreviation checks if the period at position i is likely an abbreviation.
func isAbbreviation(s string, i int) bool {
	if i < 1 {
		return false
	}

	commonAbbreviations := []string{
		"Dr.", "Mr.", "Mrs.", "Ms.", "Jr.", "Sr.",
		"Prof.", "Rev.", "Gen.", "Col.", "Lt.", "Sgt.",
		"Inc.", "Ltd.", "Corp.", "Co.", "vs.", "etc.",
		"i.e.", "e.g.", "a.m.", "p.m.", "U.S.", "U.K.",
	}

	start := i
	for start > 0 && s[start-1] != ' ' && s[start-1] != '\n' {
		start--
	}
	word := s[start : i+1]

	for _, abbr := range commonAbbreviations {
		if strings.EqualFold(word, abbr) {
			return true
		}
	}

	// Single uppercase letter before the period reads as an initial.
	if i >= 1 && s[i-1] >= 'A' && s[i-1] <= 'Z' {
		if i < 2 || s[i-2] == ' ' || s[i-2] == '\n' {
			return true
		}
	}

	return false
}
