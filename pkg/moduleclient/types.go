package moduleclient

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrNotConnected = errors.New("module client: not connected")
	ErrClosed       = errors.New("module client: closed")
)

// Message is an outbound telemetry message or an inbound input message.
type Message struct {
	Body       []byte
	Properties map[string]string
}

// MessageResponse is a handler's verdict on an input message.
type MessageResponse int

const (
	MessageCompleted MessageResponse = iota
	MessageAbandoned
)

func (r MessageResponse) String() string {
	if r == MessageAbandoned {
		return "abandoned"
	}
	return "completed"
}

// MethodRequest is a direct method invocation.
type MethodRequest struct {
	Name      string
	RequestID string
	Payload   []byte
}

// MethodResponse is returned to the caller of a direct method.
type MethodResponse struct {
	Status  int
	Payload []byte
}

// OK builds a 200 response with an optional payload.
func OK(payload []byte) MethodResponse {
	return MethodResponse{Status: http.StatusOK, Payload: payload}
}

type (
	// DesiredPropertyHandler receives desired property patches.
	DesiredPropertyHandler func(ctx context.Context, patch []byte)
	// MethodHandler serves one direct method.
	MethodHandler func(ctx context.Context, req MethodRequest) MethodResponse
	// InputHandler consumes messages arriving on a named input.
	InputHandler func(ctx context.Context, msg Message) MessageResponse
)
