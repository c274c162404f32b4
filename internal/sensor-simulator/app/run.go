// Package app wires a simulator variant to its transport, admin endpoints and
// optional historian.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/LeonardoBeccarini/edge-simulators/internal/health"
	"github.com/LeonardoBeccarini/edge-simulators/internal/historian"
	sim "github.com/LeonardoBeccarini/edge-simulators/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/moduleclient"
)

const grpcProbeInterval = 5 * time.Second

// Main runs variant v as a process and returns its exit code.
func Main(v sim.Variant) int {
	if err := LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := LoadConfig(v)
	l := logging.New(os.Stdout, cfg.LogLevel).With(slog.String("module", v.Name))
	if err != nil {
		logging.ErrorContext{Component: v.Name, Operation: "load config"}.Log(l, "invalid configuration", err)
		return 1
	}
	for _, w := range cfg.Warnings {
		l.Warn("configuration fallback", slog.String("detail", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, cfg, l); err != nil {
		logging.ErrorContext{Component: v.Name, Operation: "run"}.Log(l, "module failed", err)
		return 1
	}
	l.Info("module stopped")
	return 0
}

// Run connects the module, applies the desired twin snapshot and sends
// telemetry until the budget is exhausted or ctx is cancelled.
func Run(ctx context.Context, cfg Config, l *slog.Logger) error {
	v := cfg.Variant

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := sim.NewMetrics(reg, v.Name)

	client, err := moduleclient.Connect(ctx, cfg.Module, l)
	if err != nil {
		return fmt.Errorf("connect module client: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownGrace)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			l.Warn("module client close", logging.ErrAttr(err))
		}
	}()

	var recorder *historian.Writer
	if cfg.Historian.Enabled() {
		w, closeHistorian := historian.Open(cfg.Historian, l)
		defer closeHistorian()
		recorder = w
		l.Info("historian enabled", slog.String("url", cfg.Historian.URL), slog.String("bucket", cfg.Historian.Bucket))
	}

	state := sim.NewRuntimeState(cfg.MessageDelay, 1, cfg.Params.TempMin)
	controller := sim.NewController(v, state, client, metrics, l)
	client.SetMethodHandler(sim.ResetMethod, controller.OnResetMethod)

	doc, err := client.GetTwin(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("get twin: %w", err)
	}
	if err := controller.ApplyDesired(doc); err != nil {
		l.Warn("desired snapshot ignored", logging.ErrAttr(err))
	}
	if err := controller.Report(ctx); err != nil {
		l.Warn("initial reported properties", logging.ErrAttr(err))
	}

	client.SetDesiredPropertyUpdateCallback(controller.OnDesiredPropertiesUpdated)
	client.SetInputMessageHandler(sim.ControlInput, controller.OnControlMessage)

	if cfg.MetricsAddr != "" {
		checks := health.Checks{Transport: client.IsConnected}
		if recorder != nil {
			checks.Historian = recorder.LastErrorAge
			checks.MinErrorAge = historianMinErrorAge
		}
		stopAdmin, err := serveAdmin(cfg.MetricsAddr, health.NewRouter(checks, reg), l)
		if err != nil {
			return err
		}
		defer stopAdmin()
	}

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("listen grpc health %s: %w", cfg.GRPCHealthAddr, err)
		}
		gs := health.NewGRPCServer(v.Name, l)
		go func() {
			if err := gs.Serve(lis); err != nil {
				l.Warn("grpc health stopped", logging.ErrAttr(err))
			}
		}()
		watchCtx, cancelWatch := context.WithCancel(ctx)
		go gs.Watch(watchCtx, client.IsConnected, grpcProbeInterval)
		defer func() {
			cancelWatch()
			gs.Stop()
		}()
	}

	opts := []sim.Option{sim.WithLogger(l), sim.WithMetrics(metrics)}
	if recorder != nil {
		opts = append(opts, sim.WithRecorder(recorder))
	}
	simulator := sim.NewSensorSimulator(sim.Config{
		Variant:         v,
		Identity:        cfg.Identity,
		Params:          cfg.Params,
		MessageCount:    cfg.MessageCount,
		MaxMessageBytes: cfg.MaxMessageBytes,
		BatchID:         uuid.NewString(),
	}, state, sim.NewDataGenerator(cfg.Params, nil, cfg.Schema, v.StatusCode, v.FlowMisc), client, opts...)

	err = simulator.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case err != nil:
		return err
	case cfg.ExitWhenDone:
		return nil
	}

	l.Info("message budget exhausted, serving remote callbacks until shutdown")
	<-ctx.Done()
	return nil
}

func serveAdmin(addr string, h http.Handler, l *slog.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen admin %s: %w", addr, err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		l.Info("admin listening", slog.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Warn("admin server stopped", logging.ErrAttr(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
