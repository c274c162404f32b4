package main

import (
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		args       []string
		env        map[string]string
		wantSource string
		wantTarget string
		wantErr    string
	}{
		{
			name:       "environment",
			env:        map[string]string{"ProxySourceUrl": "http://0.0.0.0:8080", "ProxyTargetSocketUrl": "unix:///var/run/iotedge/workload.sock"},
			wantSource: "http://0.0.0.0:8080",
			wantTarget: "unix:///var/run/iotedge/workload.sock",
		},
		{
			name:       "flags override environment",
			args:       []string{"--ProxySourceUrl=http://*:9000"},
			env:        map[string]string{"ProxySourceUrl": "http://0.0.0.0:8080", "ProxyTargetSocketUrl": "unix:///s.sock"},
			wantSource: "http://*:9000",
			wantTarget: "unix:///s.sock",
		},
		{
			name:    "missing target",
			env:     map[string]string{"ProxySourceUrl": "http://0.0.0.0:8080"},
			wantErr: "ProxyTargetSocketUrl is required",
		},
		{
			name:    "missing both",
			wantErr: "ProxySourceUrl is required",
		},
		{
			name:    "unknown flag",
			args:    []string{"--nope"},
			wantErr: "nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := loadConfig(tt.args, lookupMap(tt.env))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			if cfg.SourceURL != tt.wantSource || cfg.TargetSocketURL != tt.wantTarget {
				t.Fatalf("cfg = %+v", cfg)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(nil, lookupMap(map[string]string{
		"ProxySourceUrl":       "http://0.0.0.0:8080",
		"ProxyTargetSocketUrl": "unix:///s.sock",
		"BREAKER_OPEN_FOR":     "bogus",
		"BREAKER_FAILURES":     "3",
	}))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.BreakerFailures != 3 || cfg.BreakerOpenFor != 10*time.Second || cfg.ShutdownTimeout != 30*time.Second || cfg.AdminAddr != "" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
