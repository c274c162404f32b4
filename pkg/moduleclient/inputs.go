package moduleclient

import (
	"context"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
)

// SetInputMessageHandler registers h for messages arriving on input.
func (c *Client) SetInputMessageHandler(input string, h InputHandler) {
	c.mu.Lock()
	_, existed := c.inputs[input]
	if h == nil {
		delete(c.inputs, input)
	} else {
		c.inputs[input] = h
	}
	c.mu.Unlock()

	if h != nil && !existed {
		c.subscribeNow(c.topics.Input(input), c.inputCallback(input))
	}
}

func (c *Client) inputCallback(input string) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		c.mu.Lock()
		h := c.inputs[input]
		c.mu.Unlock()
		if h == nil {
			return
		}

		ec := logging.ErrorContext{Component: "module-client", Operation: "input-message"}.
			With(slog.String("input", input))
		msg := Message{Body: m.Payload(), Properties: map[string]string{"input": input}}

		c.dispatch(c.inputQueue(input), ec, func(ctx context.Context) {
			// MQTT acknowledges on return; an abandoned message is only logged.
			if res := h(ctx, msg); res == MessageAbandoned {
				c.l.Warn("input message abandoned", slog.String("input", input))
			}
		})
	}
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
