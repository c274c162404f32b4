package moduleclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
)

var emptyDocument = []byte("{}")

// GetTwin returns the retained desired-properties document, or an empty
// document when none arrives within TwinTimeout.
func (c *Client) GetTwin(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	topic := c.topics.TwinDesired()
	docs := make(chan []byte, 1)

	tok := c.client.Subscribe(topic, qosAtLeastOnce, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case docs <- m.Payload():
		default:
		}
	})
	if err := waitToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	defer c.client.Unsubscribe(topic)

	timer := time.NewTimer(c.opts.TwinTimeout)
	defer timer.Stop()

	select {
	case doc := <-docs:
		if len(doc) == 0 {
			return emptyDocument, nil
		}
		return doc, nil
	case <-timer.C:
		c.l.Info("no desired properties published, starting from defaults", slog.String("topic", topic))
		return emptyDocument, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UpdateReportedProperties merges patch into the reported document and
// publishes the whole document retained. A null value removes its key.
func (c *Client) UpdateReportedProperties(ctx context.Context, patch []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	var fields map[string]any
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("reported patch must be a JSON object: %w", err)
	}

	c.reportedMu.Lock()
	for k, v := range fields {
		if v == nil {
			delete(c.reported, k)
			continue
		}
		c.reported[k] = v
	}
	doc, err := json.Marshal(c.reported)
	c.reportedMu.Unlock()
	if err != nil {
		return fmt.Errorf("encode reported properties: %w", err)
	}

	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return c.publish(ctx, c.topics.TwinReported(), true, doc)
}

// SetDesiredPropertyUpdateCallback registers the handler for desired
// property patches.
func (c *Client) SetDesiredPropertyUpdateCallback(h DesiredPropertyHandler) {
	c.mu.Lock()
	first := c.desired == nil
	c.desired = h
	c.mu.Unlock()

	if first && h != nil {
		c.subscribeNow(c.topics.TwinDesiredPatch(), c.onDesired)
	}
}

func (c *Client) onDesired(_ mqtt.Client, m mqtt.Message) {
	c.mu.Lock()
	h := c.desired
	c.mu.Unlock()
	if h == nil {
		return
	}

	ec := logging.ErrorContext{Component: "module-client", Operation: "desired-properties"}.
		With(slog.String("topic", m.Topic()))
	payload := m.Payload()
	c.dispatch(c.desiredQ, ec, func(ctx context.Context) { h(ctx, payload) })
}
