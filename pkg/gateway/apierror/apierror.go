// Package apierror maps internal errors onto the canonical error envelope
// and an HTTP status. Handlers call FromError exactly once per failed
// request so every non-stream error leaves the gateway in the same shape.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/samwang0723/friday-sub000/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// statusByType holds the response status for each canonical error type.
// ErrStreamInterrupted appears only defensively: interruptions end streams
// silently and should never reach a response body.
var statusByType = map[core.ErrorType]int{
	core.ErrInvalidRequest:    http.StatusBadRequest,
	core.ErrNoTranscript:      http.StatusBadRequest,
	core.ErrAuthentication:    http.StatusUnauthorized,
	core.ErrRateLimit:         http.StatusTooManyRequests,
	core.ErrStreamTimeout:     http.StatusGatewayTimeout,
	core.ErrStreamInterrupted: http.StatusConflict,
	core.ErrProvider:          http.StatusBadGateway,
	core.ErrAPI:               http.StatusBadGateway,
}

// FromError resolves any error to a wire envelope and status. Canonical
// errors pass through with the request id stamped on; bare context errors
// get a canonical shape; everything else is masked as an internal error so
// upstream detail never leaks to callers.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		stamped := *coreErr
		stamped.RequestID = requestID
		return &stamped, StatusFromType(coreErr.Type)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &core.Error{
			Type:      core.ErrStreamTimeout,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return &core.Error{
			Type:      core.ErrAPI,
			Code:      "cancelled",
			Message:   "request cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromType(t core.ErrorType) int {
	if status, ok := statusByType[t]; ok {
		return status
	}
	return http.StatusInternalServerError
}
