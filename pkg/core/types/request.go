package types

import (
	"encoding/base64"
	"strings"

	"github.com/samwang0723/friday-sub000/pkg/core"
)

// Response-type header values for the non-streaming fallback path.
const (
	ResponseTypeSingle    = "single"
	ResponseTypeTextOnly  = "text-only"
	ResponseTypeSSEStream = "sse-stream"
)

// VoiceConfig selects TTS output for a turn.
type VoiceConfig struct {
	Enabled    bool   `json:"enabled"`
	Voice      string `json:"voice,omitempty"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// ChatRequest is one turn submission. Exactly one of Text or Audio must be
// set; Audio is base64-encoded capture bytes transcribed server-side.
type ChatRequest struct {
	SessionID   string       `json:"session_id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Audio       string       `json:"audio,omitempty"`
	AudioFormat string       `json:"audio_format,omitempty"`
	Stream      bool         `json:"stream"`
	Voice       *VoiceConfig `json:"voice,omitempty"`
}

// Validate checks the request shape and returns the decoded audio bytes,
// if any.
func (r *ChatRequest) Validate(maxAudioBytes int64) ([]byte, error) {
	hasText := strings.TrimSpace(r.Text) != ""
	hasAudio := strings.TrimSpace(r.Audio) != ""

	if hasText == hasAudio {
		return nil, core.NewInvalidRequestError("exactly one of text or audio is required")
	}
	if !hasAudio {
		return nil, nil
	}

	if maxAudioBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(r.Audio))) > maxAudioBytes {
		return nil, core.NewInvalidRequestErrorWithParam("audio exceeds the allowed size", "audio")
	}
	raw, err := base64.StdEncoding.DecodeString(r.Audio)
	if err != nil {
		return nil, core.NewInvalidRequestErrorWithParam("audio is not valid base64", "audio")
	}
	if len(raw) == 0 {
		return nil, core.NewInvalidRequestErrorWithParam("audio is empty", "audio")
	}
	return raw, nil
}

// WantsVoice reports whether the turn requested synthesized audio output.
func (r *ChatRequest) WantsVoice() bool {
	return r.Voice != nil && r.Voice.Enabled
}

// ChatResponse is the non-streaming fallback body.
type ChatResponse struct {
	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text"`
	Audio      string `json:"audio,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
}
