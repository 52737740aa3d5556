package friday

import (
	"fmt"

	"github.com/samwang0723/friday-sub000/pkg/core"
)

// TransportError wraps failures that happened before or between events:
// dialing, TLS, unexpected HTTP statuses. Stream-level failures arrive as
// *core.Error instead.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// errorFromEvent maps a wire error event's message onto the canonical type.
// The gateway already masked internal detail, so the message is trusted.
func errorFromEvent(message string) *core.Error {
	return &core.Error{Type: core.ErrAPI, Message: message}
}
