package moduleclient

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
)

var notFoundPayload = []byte(`{"message":"method not found"}`)

const responseTimeout = 5 * time.Second

// SetMethodHandler registers h for the direct method name. A nil handler
// removes it; unknown methods answer 404.
func (c *Client) SetMethodHandler(name string, h MethodHandler) {
	c.mu.Lock()
	if h == nil {
		delete(c.methods, name)
		c.mu.Unlock()
		return
	}
	c.methods[name] = h
	first := len(c.methods) == 1
	c.mu.Unlock()

	if first {
		c.subscribeNow(c.topics.MethodRequestFilter(), c.onMethod)
	}
}

func (c *Client) onMethod(_ mqtt.Client, m mqtt.Message) {
	name, rid, ok := c.topics.ParseMethodRequest(m.Topic())
	if !ok {
		c.l.Debug("ignoring message on method topic", slog.String("topic", m.Topic()))
		return
	}
	// QoS 1 may redeliver the same invocation.
	if !c.methodSeen.ShouldProcess(rid) {
		c.l.Debug("duplicate method request", slog.String("method", name), slog.String("requestId", rid))
		return
	}

	c.mu.Lock()
	h := c.methods[name]
	c.mu.Unlock()

	ec := logging.ErrorContext{Component: "module-client", Operation: "direct-method"}.
		With(slog.String("method", name), slog.String("requestId", rid))
	req := MethodRequest{Name: name, RequestID: rid, Payload: m.Payload()}

	c.dispatch(nil, ec, func(ctx context.Context) {
		resp := MethodResponse{Status: http.StatusNotFound, Payload: notFoundPayload}
		if h != nil {
			resp = c.invokeMethod(ctx, ec, h, req)
		} else {
			c.l.Warn("unknown method", slog.String("method", name), slog.String("requestId", rid))
		}

		pctx, cancel := context.WithTimeout(ctx, responseTimeout)
		defer cancel()
		if err := c.publish(pctx, c.topics.MethodResponse(resp.Status, rid), false, resp.Payload); err != nil {
			ec.Log(c.l, "failed to publish method response", err)
		}
	})
}

// invokeMethod runs h and turns a panic into a 500 response so the caller
// always gets an answer.
func (c *Client) invokeMethod(ctx context.Context, ec logging.ErrorContext, h MethodHandler, req MethodRequest) (resp MethodResponse) {
	defer func() {
		if r := recover(); r != nil {
			ec.Log(c.l, "method handler panicked", panicError(r))
			resp = MethodResponse{Status: http.StatusInternalServerError}
		}
	}()
	return h(ctx, req)
}
