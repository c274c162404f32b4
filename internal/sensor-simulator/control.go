package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeonardoBeccarini/edge-simulators/internal/model"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/moduleclient"
)

const (
	// ResetMethod is the direct method that requests a temperature reset.
	ResetMethod = "reset"
	// ControlInput is the input carrying control commands.
	ControlInput = "control"

	reportTimeout = 5 * time.Second
)

// Reporter publishes reported properties. *moduleclient.Client satisfies it.
type Reporter interface {
	UpdateReportedProperties(ctx context.Context, patch []byte) error
}

// Controller applies remote configuration and commands to a RuntimeState.
type Controller struct {
	variant  Variant
	state    *RuntimeState
	reporter Reporter
	metrics  *Metrics
	log      *slog.Logger
}

func NewController(v Variant, state *RuntimeState, reporter Reporter, m *Metrics, l *slog.Logger) *Controller {
	if l == nil {
		l = slog.Default()
	}
	return &Controller{
		variant:  v,
		state:    state,
		reporter: reporter,
		metrics:  m,
		log:      l.With(slog.String("component", "controller"), slog.String("module", v.Name)),
	}
}

// ApplyDesired overlays the recognized keys of a desired document onto the
// state. Unusable keys are logged and skipped.
func (c *Controller) ApplyDesired(doc []byte) error {
	upd, keyErrs, err := model.ParseDesired(doc, c.variant.IntervalUnit, c.variant.WithEventCount())
	if err != nil {
		return err
	}
	for _, kerr := range keyErrs {
		c.log.Warn("ignoring desired property", logging.ErrAttr(kerr))
	}
	if upd.Empty() {
		c.log.Debug("no applicable desired properties")
		return nil
	}

	if upd.SendInterval != nil {
		c.state.SetInterval(*upd.SendInterval)
		c.log.Info("desired property applied", slog.String("key", model.PropSendInterval), slog.Duration("value", *upd.SendInterval))
	}
	if upd.EventCount != nil {
		c.state.SetEventCount(*upd.EventCount)
		c.log.Info("desired property applied", slog.String("key", model.PropEventCount), slog.Int("value", *upd.EventCount))
	}
	if upd.SendData != nil {
		prev := c.state.SetSendEnabled(*upd.SendData)
		c.log.Info("desired property applied", slog.String("key", model.PropSendData), slog.Bool("value", *upd.SendData))
		if prev && !*upd.SendData {
			c.log.Info("sending data disabled, change desired property SendData to true to resume")
		}
	}
	return nil
}

// Report publishes the effective configuration.
func (c *Controller) Report(ctx context.Context) error {
	if c.reporter == nil {
		return nil
	}
	doc, err := json.Marshal(c.state.Reported(c.variant))
	if err != nil {
		return fmt.Errorf("encode reported properties: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	return c.reporter.UpdateReportedProperties(ctx, doc)
}

// OnDesiredPropertiesUpdated applies a desired patch and reports the result.
// Errors never leave the handler.
func (c *Controller) OnDesiredPropertiesUpdated(ctx context.Context, patch []byte) {
	ec := logging.ErrorContext{Component: "controller", Operation: "desired-properties"}.
		With(slog.String("module", c.variant.Name))

	if err := c.ApplyDesired(patch); err != nil {
		ec.Log(c.log, "failed to apply desired properties", err)
		return
	}
	c.metrics.twinUpdate()

	if err := c.Report(ctx); err != nil {
		ec.Log(c.log, "failed to update reported properties", err)
	}
}

// OnResetMethod serves the reset direct method.
func (c *Controller) OnResetMethod(_ context.Context, req moduleclient.MethodRequest) moduleclient.MethodResponse {
	c.state.RequestReset()
	c.metrics.reset(ResetFromMethod)
	c.log.Info("reset requested", slog.String("source", ResetFromMethod), slog.String("requestId", req.RequestID))
	return moduleclient.OK(nil)
}

// OnControlMessage handles the control input. Messages are always completed,
// including undecodable ones.
func (c *Controller) OnControlMessage(_ context.Context, msg moduleclient.Message) moduleclient.MessageResponse {
	cmds, err := model.DecodeControlCommands(msg.Body)
	if err != nil {
		ec := logging.ErrorContext{Component: "controller", Operation: "control-message"}.
			With(slog.String("module", c.variant.Name), slog.Int("size", len(msg.Body)))
		ec.Log(c.log, "invalid control message", err)
		return moduleclient.MessageCompleted
	}

	for _, cmd := range cmds {
		c.log.Info("control command received", slog.String("command", cmd.Command.String()))
		if cmd.Command == model.CommandReset {
			c.state.RequestReset()
			c.metrics.reset(ResetFromControl)
		}
	}
	return moduleclient.MessageCompleted
}
