// Package voice wraps the external conversational agent, speech-to-text and
// text-to-speech collaborators behind cancellable streaming adapters.
package voice

import (
	"context"
	"strings"
)

// ChatStreamer is the upstream conversational agent boundary.
type ChatStreamer interface {
	// Name returns the agent identifier.
	Name() string

	// ChatStream generates a reply for message, invoking consume once per
	// text delta. A consume error stops generation and is returned as-is.
	ChatStream(ctx context.Context, message string, consume func(delta string) error) error

	// Chat generates a complete reply in one call.
	Chat(ctx context.Context, message string) (string, error)
}

// MockAgent replays a scripted reply in fixed-size deltas. Used by tests and
// by the gateway's mock mode.
type MockAgent struct {
	Reply     string
	DeltaSize int
}

func (m *MockAgent) Name() string { return "mock" }

func (m *MockAgent) ChatStream(ctx context.Context, message string, consume func(string) error) error {
	reply := m.reply(message)
	size := m.DeltaSize
	if size <= 0 {
		size = 8
	}
	for start := 0; start < len(reply); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + size
		if end > len(reply) {
			end = len(reply)
		}
		if err := consume(reply[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockAgent) Chat(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.reply(message), nil
}

func (m *MockAgent) reply(message string) string {
	if m.Reply != "" {
		return m.Reply
	}
	return "You said: " + strings.TrimSpace(message)
}
