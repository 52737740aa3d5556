package friday

import (
	"io"
	"strings"
	"testing"
)

func TestSSEReaderFramesEvents(t *testing.T) {
	stream := "event: text\ndata: {\"data\":\"a\"}\n\n" +
		": keepalive\n\n" +
		"event: complete\ndata: {\"fullText\":\"a\"}\n\n"
	r := newSSEReader(io.NopCloser(strings.NewReader(stream)))

	name, payload, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if name != "text" || string(payload) != `{"data":"a"}` {
		t.Fatalf("frame 1 = (%q, %q)", name, payload)
	}

	name, payload, err = r.Next()
	if err != nil {
		t.Fatalf("Next past keepalive: %v", err)
	}
	if name != "complete" || string(payload) != `{"fullText":"a"}` {
		t.Fatalf("frame 2 = (%q, %q)", name, payload)
	}

	if _, _, err = r.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestSSEReaderMultilineData(t *testing.T) {
	stream := "event: text\ndata: line one\ndata: line two\n\n"
	r := newSSEReader(io.NopCloser(strings.NewReader(stream)))

	_, payload, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(payload) != "line one\nline two" {
		t.Fatalf("payload = %q", payload)
	}
}

func TestSSEReaderCRLFAndTruncatedTail(t *testing.T) {
	stream := "event: text\r\ndata: {\"data\":\"x\"}\r\n\r\nevent: text\ndata: {\"data\":\"tail\"}"
	r := newSSEReader(io.NopCloser(strings.NewReader(stream)))

	name, _, err := r.Next()
	if err != nil || name != "text" {
		t.Fatalf("CRLF frame = (%q, %v)", name, err)
	}

	// A final frame cut off before its blank line still delivers.
	name, payload, err := r.Next()
	if err != nil {
		t.Fatalf("tail frame: %v", err)
	}
	if name != "text" || string(payload) != `{"data":"tail"}` {
		t.Fatalf("tail frame = (%q, %q)", name, payload)
	}
}
