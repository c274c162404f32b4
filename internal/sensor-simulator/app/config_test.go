package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sim "github.com/LeonardoBeccarini/edge-simulators/internal/sensor-simulator"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeSettings(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(sim.TemperatureSensor(), envMap(nil), "edge-host")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.MessageCount != 500 || cfg.MessageDelay != 5*time.Second {
		t.Errorf("budget = %d every %s, want 500 every 5s", cfg.MessageCount, cfg.MessageDelay)
	}
	if cfg.Params != sim.DefaultParameters() {
		t.Errorf("params = %+v", cfg.Params)
	}
	want := sim.Identity{Device: "edge-host", Host: "edge-host", Asset: "PoC", Source: "Simulator"}
	if cfg.Identity != want {
		t.Errorf("identity = %+v, want %+v", cfg.Identity, want)
	}
	if cfg.MetricsAddr != ":9600" || cfg.GRPCHealthAddr != "" {
		t.Errorf("admin addrs = %q %q", cfg.MetricsAddr, cfg.GRPCHealthAddr)
	}
	if cfg.Module.ModuleID != "temperature-sensor" || cfg.Module.TopicPrefix != "modules" {
		t.Errorf("module options = %+v", cfg.Module)
	}
	if cfg.Schema != sim.SchemaPump || cfg.ExitWhenDone || cfg.Historian.Enabled() {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("warnings = %v", cfg.Warnings)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	t.Parallel()

	path := writeSettings(t, strings.Join([]string{
		`MessageDelay: "00:00:02"`,
		`MessageCount: 10`,
		`machineTempMin: "30"`,
		`ambientHumidity: "40"`,
	}, "\n"))

	cfg, err := loadConfig(sim.PumpSimulator(), envMap(map[string]string{
		"SETTINGS_FILE": path,
		"MessageCount":  "7",
		"DEVICE":        "pump",
		"SCHEMA":        "machine",
		"METRICS_ADDR":  "",
		"INFLUX_URL":    "http://influx:8086",
		"INFLUX_BUCKET": "edge",
	}), "edge-host")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.MessageCount != 7 {
		t.Errorf("MessageCount = %d, environment should win", cfg.MessageCount)
	}
	if cfg.MessageDelay != 2*time.Second {
		t.Errorf("MessageDelay = %s, want 2s from settings", cfg.MessageDelay)
	}
	if cfg.Params.TempMin != 30 || cfg.Params.TempMax != 100 || cfg.Params.HumidityPercent != 40 {
		t.Errorf("params = %+v", cfg.Params)
	}
	want := sim.Identity{Device: "pump", Host: "edge-host", Asset: "whidbey", Source: "edge-host"}
	if cfg.Identity != want {
		t.Errorf("identity = %+v, want %+v", cfg.Identity, want)
	}
	if cfg.Schema != sim.SchemaMachine {
		t.Errorf("schema = %q", cfg.Schema)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("empty METRICS_ADDR should disable admin, got %q", cfg.MetricsAddr)
	}
	if !cfg.Historian.Enabled() || cfg.Historian.Measurement == "" {
		t.Errorf("historian = %+v", cfg.Historian)
	}
}

func TestLoadConfigFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "unparseable count",
			env:  map[string]string{"MessageCount": "lots"},
			check: func(t *testing.T, cfg Config) {
				if cfg.MessageCount != 500 {
					t.Errorf("MessageCount = %d", cfg.MessageCount)
				}
			},
		},
		{
			name: "empty temperature range",
			env:  map[string]string{"machineTempMax": "5"},
			check: func(t *testing.T, cfg Config) {
				if cfg.Params != sim.DefaultParameters() {
					t.Errorf("params = %+v", cfg.Params)
				}
			},
		},
		{
			name: "non positive delay",
			env:  map[string]string{"MessageDelay": "00:00:00"},
			check: func(t *testing.T, cfg Config) {
				if cfg.MessageDelay != 5*time.Second {
					t.Errorf("MessageDelay = %s", cfg.MessageDelay)
				}
			},
		},
		{
			name: "bad message size",
			env:  map[string]string{"MAX_MESSAGE_BYTES": "-1"},
			check: func(t *testing.T, cfg Config) {
				if cfg.MaxMessageBytes != sim.DefaultMaxMessageBytes {
					t.Errorf("MaxMessageBytes = %d", cfg.MaxMessageBytes)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := loadConfig(sim.TemperatureSensor(), envMap(tt.env), "h")
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			if len(cfg.Warnings) != 1 {
				t.Errorf("warnings = %v, want exactly one", cfg.Warnings)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfigSettingsFileErrors(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := loadConfig(sim.TemperatureSensor(), envMap(map[string]string{"SETTINGS_FILE": missing}), "h"); err == nil {
		t.Errorf("explicit missing settings file accepted")
	}

	broken := writeSettings(t, "MessageCount: [1, 2")
	if _, err := loadConfig(sim.TemperatureSensor(), envMap(map[string]string{"SETTINGS_FILE": broken}), "h"); err == nil {
		t.Errorf("malformed settings file accepted")
	}
}

func TestParseDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "5s", want: 5 * time.Second},
		{in: "250ms", want: 250 * time.Millisecond},
		{in: "00:00:05", want: 5 * time.Second},
		{in: "00:01:30", want: 90 * time.Second},
		{in: "00:00:00.5", want: 500 * time.Millisecond},
		{in: "1.02:00:00", want: 26 * time.Hour},
		{in: "0s", wantErr: true},
		{in: "-1s", wantErr: true},
		{in: "00:61:00", wantErr: true},
		{in: "5", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseDelay(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDelay(%q) = %s, want error", tt.in, got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseDelay(%q) = %s, %v; want %s", tt.in, got, err, tt.want)
			}
		})
	}
}
