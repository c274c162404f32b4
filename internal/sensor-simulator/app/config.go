package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/edge-simulators/internal/historian"
	sim "github.com/LeonardoBeccarini/edge-simulators/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/moduleclient"
)

const (
	defaultMessageCount  = 500
	defaultSettingsFile  = "settings.yaml"
	defaultMetricsAddr   = ":9600"
	defaultShutdownGrace = 5 * time.Second
	historianMinErrorAge = 30 * time.Second
)

type Config struct {
	Variant  sim.Variant
	LogLevel slog.Level

	// MessageCount is the message budget; negative means unlimited.
	MessageCount    int
	MessageDelay    time.Duration
	MaxMessageBytes int
	Params          sim.Parameters
	Schema          sim.Schema
	Identity        sim.Identity
	ExitWhenDone    bool

	MetricsAddr    string
	GRPCHealthAddr string
	ShutdownGrace  time.Duration

	Module    moduleclient.Options
	Historian historian.Config

	// Warnings collects settings that were rejected in favour of defaults.
	Warnings []string
}

// LookupFunc resolves one environment variable.
type LookupFunc func(key string) (string, bool)

// settings resolves a key from the environment first, then the settings file.
type settings struct {
	lookup LookupFunc
	file   map[string]string
	warn   func(string)
}

func (s settings) raw(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := s.lookup(k); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	for _, k := range keys {
		if v, ok := s.file[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func (s settings) getenv(d string, keys ...string) string {
	if v, ok := s.raw(keys...); ok {
		return v
	}
	return d
}

func (s settings) getenvInt(d int, keys ...string) int {
	v, ok := s.raw(keys...)
	if !ok {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.warn(fmt.Sprintf("%s=%q is not an integer, using %d", keys[0], v, d))
		return d
	}
	return n
}

func (s settings) getenvFloat(d float64, keys ...string) float64 {
	v, ok := s.raw(keys...)
	if !ok {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		s.warn(fmt.Sprintf("%s=%q is not a number, using %g", keys[0], v, d))
		return d
	}
	return f
}

func (s settings) getenvBool(d bool, keys ...string) bool {
	v, ok := s.raw(keys...)
	if !ok {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		s.warn(fmt.Sprintf("%s=%q is not a bool, using %t", keys[0], v, d))
		return d
	}
	return b
}

func (s settings) getenvDuration(d time.Duration, keys ...string) time.Duration {
	v, ok := s.raw(keys...)
	if !ok {
		return d
	}
	dur, err := ParseDelay(v)
	if err != nil {
		s.warn(fmt.Sprintf("%s=%q: %v, using %s", keys[0], v, err, d))
		return d
	}
	return dur
}

// ParseDelay accepts a Go duration ("5s", "250ms") or a [d.]hh:mm:ss[.fff]
// time span. The result must be positive.
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	d, err := time.ParseDuration(s)
	if err != nil {
		d, err = parseTimeSpan(s)
		if err != nil {
			return 0, err
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("delay must be positive")
	}
	return d, nil
}

func parseTimeSpan(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid delay %q", s)
	}

	var days int
	hoursPart := parts[0]
	if d, h, ok := strings.Cut(hoursPart, "."); ok {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid days in %q", s)
		}
		days, hoursPart = n, h
	}
	hours, err := strconv.Atoi(hoursPart)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hours in %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", s)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, fmt.Errorf("invalid seconds in %q", s)
	}

	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, nil
}

// readSettingsFile loads a flat key/value YAML document. A missing file is
// only an error when it was named explicitly.
func readSettingsFile(path string, explicit bool) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	out := map[string]string{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return out, nil
}

// LoadDotEnv loads a .env file into the process environment, if present.
// Variables already set are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// LoadConfig builds the configuration of variant v from the process
// environment and the optional settings file.
func LoadConfig(v sim.Variant) (Config, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return loadConfig(v, os.LookupEnv, host)
}

func loadConfig(v sim.Variant, lookup LookupFunc, host string) (Config, error) {
	cfg := Config{Variant: v}
	warn := func(msg string) { cfg.Warnings = append(cfg.Warnings, msg) }

	path, explicit := lookup("SETTINGS_FILE")
	if strings.TrimSpace(path) == "" {
		path, explicit = defaultSettingsFile, false
	}
	file, err := readSettingsFile(path, explicit)
	if err != nil {
		return cfg, err
	}
	s := settings{lookup: lookup, file: file, warn: warn}

	cfg.LogLevel = logging.ParseLevel(s.getenv("info", "LOG_LEVEL"), slog.LevelInfo)
	cfg.MessageCount = s.getenvInt(defaultMessageCount, "MessageCount", "MESSAGE_COUNT")
	cfg.MessageDelay = s.getenvDuration(v.DefaultDelay, "MessageDelay", "MESSAGE_DELAY")
	cfg.MaxMessageBytes = s.getenvInt(sim.DefaultMaxMessageBytes, "MAX_MESSAGE_BYTES")
	if cfg.MaxMessageBytes <= 0 {
		warn(fmt.Sprintf("MAX_MESSAGE_BYTES=%d must be positive, using %d", cfg.MaxMessageBytes, sim.DefaultMaxMessageBytes))
		cfg.MaxMessageBytes = sim.DefaultMaxMessageBytes
	}

	def := sim.DefaultParameters()
	cfg.Params = sim.Parameters{
		TempMin:         s.getenvFloat(def.TempMin, "machineTempMin"),
		TempMax:         s.getenvFloat(def.TempMax, "machineTempMax"),
		PressureMin:     s.getenvFloat(def.PressureMin, "machinePressureMin"),
		PressureMax:     s.getenvFloat(def.PressureMax, "machinePressureMax"),
		AmbientTemp:     s.getenvFloat(def.AmbientTemp, "ambientTemp"),
		HumidityPercent: float64(s.getenvInt(int(def.HumidityPercent), "ambientHumidity")),
	}
	if err := cfg.Params.Validate(); err != nil {
		warn(fmt.Sprintf("simulation parameters rejected (%v), using defaults", err))
		cfg.Params = def
	}

	cfg.Schema = sim.ParseSchema(s.getenv(string(sim.SchemaPump), "SCHEMA"))
	cfg.Identity = v.ResolveIdentity(s.getenv("", "DEVICE"), s.getenv("", "ASSET"), host)
	cfg.ExitWhenDone = s.getenvBool(false, "EXIT_WHEN_DONE")

	cfg.MetricsAddr = s.getenv(defaultMetricsAddr, "METRICS_ADDR")
	if addr, ok := lookup("METRICS_ADDR"); ok && strings.TrimSpace(addr) == "" {
		cfg.MetricsAddr = ""
	}
	cfg.GRPCHealthAddr = s.getenv("", "GRPC_HEALTH_ADDR")
	cfg.ShutdownGrace = s.getenvDuration(defaultShutdownGrace, "SHUTDOWN_GRACE")

	cfg.Module = moduleclient.Options{
		BrokerURL:   s.getenv("tcp://localhost:1883", "MQTT_BROKER_URL"),
		ClientID:    s.getenv("", "MQTT_CLIENT_ID"),
		Username:    s.getenv("", "MQTT_USERNAME"),
		Password:    s.getenv("", "MQTT_PASSWORD"),
		TopicPrefix: s.getenv("modules", "TOPIC_PREFIX"),
		ModuleID:    s.getenv(v.Name, "MODULE_ID"),
	}

	cfg.Historian = historian.Config{
		URL:         s.getenv("", "INFLUX_URL"),
		Token:       s.getenv("", "INFLUX_TOKEN"),
		Org:         s.getenv("", "INFLUX_ORG"),
		Bucket:      s.getenv("", "INFLUX_BUCKET"),
		Measurement: s.getenv(historian.DefaultMeasurement, "INFLUX_MEASUREMENT"),
		BatchSize:   uint(max(s.getenvInt(0, "INFLUX_BATCH_SIZE"), 0)),
		FlushEvery:  s.getenvDuration(time.Second, "INFLUX_FLUSH_INTERVAL"),
	}

	return cfg, nil
}
