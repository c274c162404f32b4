package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/LeonardoBeccarini/edge-simulators/internal/services/reverse-proxy/app"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	cfg, err := loadConfig(os.Args[1:], os.LookupEnv)
	l := logging.New(os.Stdout, cfg.LogLevel).With(slog.String("module", "reverse-proxy"))
	if err != nil {
		logging.ErrorContext{Component: "reverse-proxy", Operation: "load config"}.Log(l, "invalid configuration", err)
		return 1
	}

	target, err := app.ParseTarget(cfg.TargetSocketURL)
	if err != nil {
		logging.ErrorContext{Component: "reverse-proxy", Operation: "parse target"}.Log(l, "invalid target", err)
		return 1
	}
	addrs, err := app.ListenAddrs(cfg.SourceURL)
	if err != nil {
		logging.ErrorContext{Component: "reverse-proxy", Operation: "parse source"}.Log(l, "invalid source", err)
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	proxy := app.NewProxy(app.Config{
		Target:          target,
		DialTimeout:     cfg.DialTimeout,
		BreakerFailures: cfg.BreakerFailures,
		BreakerOpenFor:  cfg.BreakerOpenFor,
		Logger:          l,
		Registerer:      reg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var servers []*http.Server
	serveErr := make(chan error, len(addrs)+1)
	serve := func(addr string, h http.Handler) error {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
		servers = append(servers, srv)
		l.Info("listening", slog.String("addr", lis.Addr().String()))
		go func() {
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		return nil
	}

	for _, addr := range addrs {
		if err := serve(addr, proxy.Handler()); err != nil {
			logging.ErrorContext{Component: "reverse-proxy", Operation: "listen"}.Log(l, "cannot listen", err)
			return 1
		}
	}
	if cfg.AdminAddr != "" {
		if err := serve(cfg.AdminAddr, proxy.AdminHandler(reg)); err != nil {
			logging.ErrorContext{Component: "reverse-proxy", Operation: "listen admin"}.Log(l, "cannot listen", err)
			return 1
		}
	}
	l.Info("proxying", slog.String("source", cfg.SourceURL), slog.String("target", target.String()))

	code := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logging.ErrorContext{Component: "reverse-proxy", Operation: "serve"}.Log(l, "server failed", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Warn("shutdown", logging.ErrAttr(err))
		}
	}
	l.Info("reverse proxy stopped")
	return code
}
