package main

import (
	"errors"
	"flag"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
)

const (
	proxySourceURLKey       = "ProxySourceUrl"
	proxyTargetSocketURLKey = "ProxyTargetSocketUrl"
)

type Config struct {
	SourceURL       string
	TargetSocketURL string

	AdminAddr       string
	BreakerFailures int
	BreakerOpenFor  time.Duration
	DialTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
}

type lookupFunc func(string) (string, bool)

func getenv(lookup lookupFunc, k, d string) string {
	if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return d
}

func getenvInt(lookup lookupFunc, k string, d int) int {
	if n, err := strconv.Atoi(getenv(lookup, k, "")); err == nil {
		return n
	}
	return d
}

func getenvDuration(lookup lookupFunc, k string, d time.Duration) time.Duration {
	if v, err := time.ParseDuration(getenv(lookup, k, "")); err == nil && v > 0 {
		return v
	}
	return d
}

// loadConfig reads the environment, then lets command line flags override it.
// Both proxy URLs are required.
func loadConfig(args []string, lookup lookupFunc) (Config, error) {
	cfg := Config{
		SourceURL:       getenv(lookup, proxySourceURLKey, ""),
		TargetSocketURL: getenv(lookup, proxyTargetSocketURLKey, ""),
		AdminAddr:       getenv(lookup, "PROXY_ADMIN_ADDR", ""),
		BreakerFailures: getenvInt(lookup, "BREAKER_FAILURES", 5),
		BreakerOpenFor:  getenvDuration(lookup, "BREAKER_OPEN_FOR", 10*time.Second),
		DialTimeout:     getenvDuration(lookup, "DIAL_TIMEOUT", 5*time.Second),
		ShutdownTimeout: getenvDuration(lookup, "SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        logging.ParseLevel(getenv(lookup, "LOG_LEVEL", ""), slog.LevelInfo),
	}

	fs := flag.NewFlagSet("reverse-proxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.SourceURL, proxySourceURLKey, cfg.SourceURL, "URL(s) to listen on, ';' separated")
	fs.StringVar(&cfg.TargetSocketURL, proxyTargetSocketURLKey, cfg.TargetSocketURL, "upstream URL, unix:///path.sock or http(s)://host")
	fs.StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "address for /healthz and /metrics, empty disables")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	var errs []error
	if strings.TrimSpace(cfg.SourceURL) == "" {
		errs = append(errs, errors.New("environment variable "+proxySourceURLKey+" is required"))
	}
	if strings.TrimSpace(cfg.TargetSocketURL) == "" {
		errs = append(errs, errors.New("environment variable "+proxyTargetSocketURLKey+" is required"))
	}
	return cfg, errors.Join(errs...)
}
