// Package types holds the wire-level event and request shapes shared by the
// gateway and the SDK.
package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EventType names one SSE event variant.
type EventType string

const (
	EventTranscript EventType = "transcript"
	EventText       EventType = "text"
	EventAudio      EventType = "audio"
	EventStatus     EventType = "status"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// TranscriptEvent carries the user's utterance once it is known.
type TranscriptEvent struct {
	Data string `json:"data"`
}

// TextEvent carries one assistant text delta.
type TextEvent struct {
	Data string `json:"data"`
}

// AudioEvent carries one base64 PCM chunk with its emission-order index.
// Indices start at zero and have no gaps; arrival order is not guaranteed.
type AudioEvent struct {
	Data  string `json:"data"`
	Index int    `json:"index"`
}

// StatusEvent is informational only; clients may ignore it.
type StatusEvent struct {
	Message string `json:"message"`
}

// CompleteEvent terminates a successful stream with the full accumulated text.
type CompleteEvent struct {
	FullText string `json:"fullText"`
}

// ErrorEvent terminates a failed stream.
type ErrorEvent struct {
	Message string `json:"message"`
}

// AudioChunk is a decoded audio event: raw bytes plus the producer-assigned
// sequence index used to restore playback order.
type AudioChunk struct {
	Index int
	Bytes []byte
}

// Event is the canonical decoded variant. Exactly the fields relevant to
// Type are populated.
type Event struct {
	Type       EventType
	Transcript string
	Text       string
	Audio      AudioChunk
	Status     string
	FullText   string
	Message    string
}

// transcriptPayload tolerates both historic field names for transcripts.
type transcriptPayload struct {
	Data    string `json:"data"`
	Content string `json:"content"`
}

type typedPayload struct {
	Type string `json:"type"`
}

// DecodeEvent turns a framed SSE event into the canonical variant. The
// explicit event name wins; when it is absent the payload's "type" field is
// consulted. All format leniency lives here so consumers see one shape.
func DecodeEvent(name string, payload []byte) (Event, error) {
	if name == "" {
		var tp typedPayload
		if err := json.Unmarshal(payload, &tp); err != nil {
			return Event{}, fmt.Errorf("event has no name and payload is not JSON: %w", err)
		}
		name = tp.Type
	}

	switch EventType(strings.TrimSpace(name)) {
	case EventTranscript:
		var p transcriptPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode transcript payload: %w", err)
		}
		text := p.Data
		if text == "" {
			text = p.Content
		}
		return Event{Type: EventTranscript, Transcript: text}, nil

	case EventText:
		var p TextEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode text payload: %w", err)
		}
		return Event{Type: EventText, Text: p.Data}, nil

	case EventAudio:
		var p AudioEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode audio payload: %w", err)
		}
		if p.Index < 0 {
			return Event{}, fmt.Errorf("audio index %d is negative", p.Index)
		}
		raw, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return Event{}, fmt.Errorf("decode audio base64: %w", err)
		}
		return Event{Type: EventAudio, Audio: AudioChunk{Index: p.Index, Bytes: raw}}, nil

	case EventStatus:
		var p StatusEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode status payload: %w", err)
		}
		return Event{Type: EventStatus, Status: p.Message}, nil

	case EventComplete:
		var p CompleteEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode complete payload: %w", err)
		}
		return Event{Type: EventComplete, FullText: p.FullText}, nil

	case EventError:
		var p ErrorEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode error payload: %w", err)
		}
		return Event{Type: EventError, Message: p.Message}, nil
	}

	return Event{}, fmt.Errorf("unknown event type %q", name)
}

// IsTerminal reports whether t ends a stream.
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}
