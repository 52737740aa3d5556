package voice

import (
	"context"
	"strings"
	"testing"
)

func TestStreamingContextSerializesSendOrder(t *testing.T) {
	m := &MockSynthesizer{BytesPerChar: 1}
	sc, err := m.NewStreamingContext(context.Background(), SynthesizeOptions{})
	if err != nil {
		t.Fatalf("open streaming context: %v", err)
	}

	for _, text := range []string{"first. ", "second. ", "third."} {
		if err := sc.SendText(text, false); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}
	if err := sc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var got strings.Builder
	for chunk := range sc.Audio() {
		got.Write(chunk)
	}
	if got.String() != "first. second. third." {
		t.Fatalf("audio order = %q", got.String())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("context error: %v", err)
	}
}

func TestStreamingContextRejectsSendAfterFinal(t *testing.T) {
	m := &MockSynthesizer{BytesPerChar: 1}
	sc, err := m.NewStreamingContext(context.Background(), SynthesizeOptions{})
	if err != nil {
		t.Fatalf("open streaming context: %v", err)
	}

	if err := sc.SendText("done.", true); err != nil {
		t.Fatalf("final send: %v", err)
	}
	if err := sc.SendText("late", false); err != ErrContextClosed {
		t.Fatalf("send after final = %v, want ErrContextClosed", err)
	}
	for range sc.Audio() {
	}
}

func TestStreamingContextCloseIsIdempotent(t *testing.T) {
	m := &MockSynthesizer{}
	sc, err := m.NewStreamingContext(context.Background(), SynthesizeOptions{})
	if err != nil {
		t.Fatalf("open streaming context: %v", err)
	}

	if err := sc.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := sc.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := sc.SendText("x", false); err != ErrContextClosed {
		t.Fatalf("send after close = %v, want ErrContextClosed", err)
	}
	for range sc.Audio() {
	}
}
